package logger

import (
	"fmt"
	"runtime"
	"strings"
)

// FilenameValidationError reports characters in a log filename pattern that the
// current platform cannot store.
type FilenameValidationError struct {
	Pattern      string
	InvalidChars []rune
	Platform     string
	Suggestion   string
}

func (e *FilenameValidationError) Error() string {
	quoted := make([]string, len(e.InvalidChars))
	for i, r := range e.InvalidChars {
		quoted[i] = fmt.Sprintf("'%s'", describeRune(r))
	}
	msg := fmt.Sprintf("invalid filename pattern %q: contains %s not allowed on %s",
		e.Pattern, strings.Join(quoted, ", "), e.Platform)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (try %q)", e.Suggestion)
	}
	return msg
}

func describeRune(r rune) string {
	if r == 0 {
		return `\x00`
	}
	return string(r)
}

// ValidateFilenamePattern checks that pattern names a single file. Path separators
// and NUL are rejected everywhere; Windows additionally rejects <>:"|?*.
func ValidateFilenamePattern(pattern string) error {
	if pattern == "" {
		return nil
	}

	invalid := findInvalidChars(pattern)
	if len(invalid) == 0 {
		return nil
	}

	platform := "all platforms"
	for _, r := range invalid {
		if strings.ContainsRune(windowsOnlyChars, r) {
			platform = "Windows"
			break
		}
	}

	return &FilenameValidationError{
		Pattern:      pattern,
		InvalidChars: invalid,
		Platform:     platform,
		Suggestion:   suggestFilename(pattern, invalid),
	}
}

const windowsOnlyChars = `<>:"|?*`

// findInvalidChars returns each disallowed rune in name once, in order of appearance
func findInvalidChars(name string) []rune {
	disallowed := "/\\\x00"
	if runtime.GOOS == "windows" {
		disallowed += windowsOnlyChars
	}

	var found []rune
	seen := map[rune]bool{}
	for _, r := range name {
		if strings.ContainsRune(disallowed, r) && !seen[r] {
			seen[r] = true
			found = append(found, r)
		}
	}
	return found
}

// suggestFilename replaces every invalid rune with a dash
func suggestFilename(pattern string, invalid []rune) string {
	return strings.Map(func(r rune) rune {
		for _, bad := range invalid {
			if r == bad {
				return '-'
			}
		}
		return r
	}, pattern)
}
