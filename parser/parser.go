// Package parser normalizes raw field text extracted from catalog pages.
// Every function substitutes a documented default instead of failing, so a
// malformed field never discards the entry it belongs to.
package parser

import (
	"strconv"
	"strings"

	"github.com/nirajkumaryadav/books-scraper-crud-api/models"
)

var ratingWords = map[string]int{
	"Zero":  0,
	"One":   1,
	"Two":   2,
	"Three": 3,
	"Four":  4,
	"Five":  5,
}

// ParsePrice extracts a numeric price from a currency-prefixed string such
// as "£51.77". Returns 0.0 when no usable number remains.
func ParsePrice(text string) float64 {
	var digits strings.Builder
	for _, r := range text {
		if (r >= '0' && r <= '9') || r == '.' {
			digits.WriteRune(r)
		}
	}
	value, err := strconv.ParseFloat(digits.String(), 64)
	if err != nil || value < 0 {
		return 0.0
	}
	return value
}

// RatingToNumeric maps the class-attribute rating encoding to an integer.
// "star-rating Three" yields 3; an unmapped encoding yields 0.
func RatingToNumeric(classes string) int {
	for _, word := range strings.Fields(classes) {
		if v, ok := ratingWords[word]; ok {
			return v
		}
	}
	return 0
}

// ClampRating forces a rating into the 0-5 scale.
func ClampRating(v int) int {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}

// NormalizeAvailability collapses whitespace and maps the catalog's stock
// phrases onto the enumerated values. Unrecognized free text is preserved;
// an empty field becomes models.AvailabilityUnknown.
func NormalizeAvailability(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" {
		return models.AvailabilityUnknown
	}

	lower := strings.ToLower(cleaned)
	switch {
	case strings.Contains(lower, "out of stock"):
		return models.AvailabilityOutOfStock
	case strings.Contains(lower, "in stock"):
		return models.AvailabilityInStock
	case strings.Contains(lower, "limited"):
		return models.AvailabilityLimitedStock
	}
	return cleaned
}

// NormalizeTitle trims a title and substitutes the default when empty.
func NormalizeTitle(text string) string {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return models.DefaultTitle
	}
	return cleaned
}
