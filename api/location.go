package api

import "regexp"

// LocationKind is the detected format of a location string
type LocationKind int

const (
	LocationName         LocationKind = iota // free text such as a city name
	LocationBRPostalCode                     // Brazilian CEP, 12345-678 or 12345678
	LocationUSZip                            // US ZIP, 12345 or 12345-6789
)

func (k LocationKind) String() string {
	switch k {
	case LocationBRPostalCode:
		return "br_postal_code"
	case LocationUSZip:
		return "us_zip"
	default:
		return "name"
	}
}

var (
	brPostalCodePattern = regexp.MustCompile(`^\d{5}-?\d{3}$`)
	usZipPattern        = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
)

// LocationQuery is a location string paired with the q parameter sent upstream
type LocationQuery struct {
	Raw   string
	Query string
	Kind  LocationKind
}

// IsBrazilianPostalCode reports whether location is a CEP
func IsBrazilianPostalCode(location string) bool {
	return brPostalCodePattern.MatchString(location)
}

// IsUSZipCode reports whether location is a 5 or 5+4 digit ZIP code
func IsUSZipCode(location string) bool {
	return usZipPattern.MatchString(location)
}

// BuildQuery classifies location and derives the upstream query. A CEP gets a
// ",BR" suffix because OpenWeather does not infer Brazil from the digits alone.
// The input is used as given; callers trim it first.
func BuildQuery(location string) LocationQuery {
	q := LocationQuery{Raw: location, Query: location, Kind: LocationName}

	switch {
	case IsBrazilianPostalCode(location):
		q.Kind = LocationBRPostalCode
		q.Query = location + ",BR"
	case IsUSZipCode(location):
		q.Kind = LocationUSZip
	}

	return q
}
