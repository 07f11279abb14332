package deal

import (
	"strings"
	"unicode"
)

// conditionNeutral is assigned when a condition label is missing or not in the
// known set. Never nil: a nil here would silently split cohorts.
const conditionNeutral = 3.0

// conditionScale maps known condition labels to an ordinal 1..5 scale.
// Lookup keys are normalized with normalizeLabel first.
var conditionScale = map[string]float64{
	"neu":       5,
	"neuwertig": 5,
	"sehr gut":  4,
	"gut":       3,
	"ok":        2,
	"gebraucht": 2,
	"maengel":   1,
	"defekt":    1,
}

// conditionValue resolves a raw condition label to its ordinal value.
func conditionValue(label *string) float64 {
	if label == nil {
		return conditionNeutral
	}
	if v, ok := conditionScale[normalizeLabel(*label)]; ok {
		return v
	}
	return conditionNeutral
}

// normalizeLabel lower-cases a label and collapses any punctuation or
// whitespace runs to single spaces, so "Sehr_Gut" and " sehr  gut " compare
// equal.
func normalizeLabel(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

// unknownCategory is the explicit bucket for missing secondary attributes.
// Listings without a fuel type still form a valid "unknown fuel" cohort
// instead of dropping out of overlay comparisons.
const unknownCategory = "unknown"

// normalizeText trims and lower-cases a free-text secondary attribute.
func normalizeText(s *string) string {
	if s == nil {
		return unknownCategory
	}
	t := strings.ToLower(strings.TrimSpace(*s))
	if t == "" {
		return unknownCategory
	}
	return t
}

// kmBin buckets a mileage into floor(km/width)*width.
func kmBin(km, width int) int {
	if width <= 0 {
		return km
	}
	return (km / width) * width
}
