package device

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultPlatePattern matches Vietnamese plates: 2 or 3 digits, a letter,
// then 4 or 5 digits (29A12345, 123A1234).
const DefaultPlatePattern = `^\d{2,3}[A-Z]\d{4,5}$`

// NormalizePlate removes every whitespace rune and upper-cases the rest.
// Two plates are the same vehicle iff their normalized forms are equal.
func NormalizePlate(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, s)
}

// CleanOCR normalizes raw recognizer text and drops the separators plates
// are printed with.
func CleanOCR(s string) string {
	return strings.NewReplacer("-", "", ".", "").Replace(NormalizePlate(s))
}

// PlateValidator checks cleaned plate text against a format.
type PlateValidator struct {
	re *regexp.Regexp
}

// NewPlateValidator compiles pattern; an empty pattern uses
// DefaultPlatePattern.
func NewPlateValidator(pattern string) (*PlateValidator, error) {
	if pattern == "" {
		pattern = DefaultPlatePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &PlateValidator{re: re}, nil
}

func (v *PlateValidator) Valid(plate string) bool {
	if v == nil || v.re == nil {
		return plate != ""
	}
	return plate != "" && v.re.MatchString(plate)
}

// ValidCardID reports whether id looks like a card number: 4 to 20 ASCII
// digits after trimming.
func ValidCardID(id string) bool {
	id = strings.TrimSpace(id)
	if len(id) < 4 || len(id) > 20 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}
