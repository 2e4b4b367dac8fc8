package domain

import "strings"

// Category is one of the three fixed model classes a resolution request
// can target.
type Category string

const (
	// CategoryHaiku is the fast/cheap tier.
	CategoryHaiku Category = "haiku"
	// CategorySonnet is the balanced tier.
	CategorySonnet Category = "sonnet"
	// CategoryOpus is the most-capable tier.
	CategoryOpus Category = "opus"
)

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{CategoryHaiku, CategorySonnet, CategoryOpus}
}

// Valid reports whether c is one of the three fixed categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryHaiku, CategorySonnet, CategoryOpus:
		return true
	}
	return false
}

func (c Category) String() string {
	return string(c)
}

// ParseCategory normalizes and validates a category value from a request.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// CategoryFromModelID derives a category from an upstream model id by
// case-insensitive substring match against the category keywords. Returns
// false when no keyword matches; such ids are skipped by the reconciler.
func CategoryFromModelID(id string) (Category, bool) {
	lower := strings.ToLower(id)
	for _, c := range Categories() {
		if strings.Contains(lower, string(c)) {
			return c, true
		}
	}
	return "", false
}

// ErrorStreakThreshold is the number of consecutive failures a model may
// accumulate before its working flag is cleared. The flag flips back on the
// next successful event.
const ErrorStreakThreshold = 10

// EmergencyModels maps each category to the hardcoded model id returned when
// the registry has no usable record, or when resolution cannot complete for
// any internal reason.
var EmergencyModels = map[Category]string{
	CategoryHaiku:  "claude-3-5-haiku-20241022",
	CategorySonnet: "claude-sonnet-4-20250514",
	CategoryOpus:   "claude-opus-4-1-20250805",
}
