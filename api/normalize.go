package api

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	// summarySlots is how many 3-hour slots feed high_temp/low_temp (roughly 24h)
	summarySlots = 8
	// maxForecastDays caps the daily breakdown
	maxForecastDays = 5

	dtTxtLayout = "2006-01-02 15:04:05"
)

// DailyForecast is one calendar day of the forecast breakdown
type DailyForecast struct {
	Date        string `json:"date"`     // dd/mm
	DayName     string `json:"day_name"` // Mon, Tue, ...
	High        int    `json:"high"`
	Low         int    `json:"low"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// NormalizedForecast is the stable shape returned to callers and stored in the cache
type NormalizedForecast struct {
	CurrentTemp int             `json:"current_temp"`
	HighTemp    int             `json:"high_temp"`
	LowTemp     int             `json:"low_temp"`
	Forecast    []DailyForecast `json:"forecast"`
	Location    string          `json:"location"`
	Description string          `json:"description"`
	FeelsLike   int             `json:"feels_like"`
	Humidity    int             `json:"humidity"`
	WindSpeed   *float64        `json:"wind_speed,omitempty"`
	Icon        string          `json:"icon"`
	FromCache   bool            `json:"from_cache"`
}

// Normalize converts the raw provider payloads into a NormalizedForecast.
// Missing required fields produce a *NormalizationError.
func Normalize(conditions *UpstreamConditions) (*NormalizedForecast, error) {
	if conditions == nil || conditions.Current == nil {
		return nil, missingField("current weather")
	}
	if conditions.Forecast == nil {
		return nil, missingField("forecast")
	}

	current := conditions.Current
	if current.Main.Temp == nil {
		return nil, missingField("main.temp")
	}
	if current.Main.FeelsLike == nil {
		return nil, missingField("main.feels_like")
	}
	if current.Main.Humidity == nil {
		return nil, missingField("main.humidity")
	}
	if len(current.Weather) == 0 || current.Weather[0].Description == nil {
		return nil, missingField("weather[0].description")
	}

	high, low, err := summaryRange(conditions.Forecast.List)
	if err != nil {
		return nil, err
	}

	daily, err := dailyForecast(conditions.Forecast.List)
	if err != nil {
		return nil, err
	}

	result := &NormalizedForecast{
		CurrentTemp: roundTemp(*current.Main.Temp),
		HighTemp:    roundTemp(high),
		LowTemp:     roundTemp(low),
		Forecast:    daily,
		Location:    fmt.Sprintf("%s, %s", current.Name, current.Sys.Country),
		Description: capitalize(*current.Weather[0].Description),
		FeelsLike:   roundTemp(*current.Main.FeelsLike),
		Humidity:    *current.Main.Humidity,
		Icon:        current.Weather[0].Icon,
	}

	if current.Wind != nil && current.Wind.Speed != nil {
		speed := math.Round(*current.Wind.Speed*10) / 10
		result.WindSpeed = &speed
	}

	return result, nil
}

// summaryRange returns the max and min temperature over the first summarySlots entries
func summaryRange(items []ForecastItem) (high, low float64, err error) {
	if len(items) == 0 {
		return 0, 0, missingField("forecast list")
	}

	n := min(len(items), summarySlots)
	high, low = math.Inf(-1), math.Inf(1)
	for i := 0; i < n; i++ {
		temp := items[i].Main.Temp
		if temp == nil {
			return 0, 0, missingField(fmt.Sprintf("list[%d].main.temp", i))
		}
		high = math.Max(high, *temp)
		low = math.Min(low, *temp)
	}
	return high, low, nil
}

// dayBucket accumulates the slots of one calendar date
type dayBucket struct {
	date  time.Time
	first ForecastItem
	high  float64
	low   float64
}

// dailyForecast groups slots by calendar date in first-seen order. Only the first
// maxForecastDays dates are kept, but every slot of a kept date contributes to it.
func dailyForecast(items []ForecastItem) ([]DailyForecast, error) {
	buckets := orderedmap.New[string, *dayBucket]()

	for i, item := range items {
		date, err := slotDate(item)
		if err != nil {
			return nil, &NormalizationError{Field: fmt.Sprintf("list[%d].dt_txt", i), Err: err}
		}
		key := date.Format("2006-01-02")

		bucket, seen := buckets.Get(key)
		if !seen && buckets.Len() >= maxForecastDays {
			continue
		}

		if item.Main.Temp == nil {
			return nil, missingField(fmt.Sprintf("list[%d].main.temp", i))
		}
		temp := *item.Main.Temp

		if !seen {
			if len(item.Weather) == 0 || item.Weather[0].Description == nil {
				return nil, missingField(fmt.Sprintf("list[%d].weather[0].description", i))
			}
			buckets.Set(key, &dayBucket{date: date, first: item, high: temp, low: temp})
			continue
		}

		bucket.high = math.Max(bucket.high, temp)
		bucket.low = math.Min(bucket.low, temp)
	}

	daily := make([]DailyForecast, 0, buckets.Len())
	for pair := buckets.Oldest(); pair != nil; pair = pair.Next() {
		b := pair.Value
		daily = append(daily, DailyForecast{
			Date:        b.date.Format("02/01"),
			DayName:     b.date.Format("Mon"),
			High:        roundTemp(b.high),
			Low:         roundTemp(b.low),
			Description: capitalize(*b.first.Weather[0].Description),
			Icon:        b.first.Weather[0].Icon,
		})
	}
	return daily, nil
}

// slotDate returns the calendar date of a forecast slot, preferring dt_txt
func slotDate(item ForecastItem) (time.Time, error) {
	if item.DtTxt != "" {
		t, err := time.Parse(dtTxtLayout, item.DtTxt)
		if err == nil {
			return t, nil
		}
		if item.Dt == 0 {
			return time.Time{}, err
		}
	}
	if item.Dt == 0 {
		return time.Time{}, fmt.Errorf("slot has neither dt_txt nor dt")
	}
	return time.Unix(item.Dt, 0).UTC(), nil
}

// roundTemp rounds half away from zero, so 30.5 becomes 31 and -0.5 becomes -1
func roundTemp(v float64) int {
	return int(math.Round(v))
}

// capitalize upper-cases the first letter and lower-cases the rest
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
