package core

import (
	"errors"
	"strings"
)

// Category is one of the fixed spending categories.
type Category string

const (
	Food          Category = "Food"
	Transport     Category = "Transport"
	Shopping      Category = "Shopping"
	Entertainment Category = "Entertainment"
	Utilities     Category = "Utilities"
	Other         Category = "Other"

	// DefaultCategory preselected in the expense form.
	DefaultCategory = Food
)

// CategoryStyle is the display metadata of a category.
type CategoryStyle struct {
	Color string
	Glyph string
}

var ErrUnknownCategory = errors.New("unknown category")

var (
	categoryOrder = []Category{Food, Transport, Shopping, Entertainment, Utilities, Other}

	categoryStyles = map[Category]CategoryStyle{
		Food:          {Color: "#FF6B6B", Glyph: "🍽️"},
		Transport:     {Color: "#4ECDC4", Glyph: "🚗"},
		Shopping:      {Color: "#FFE66D", Glyph: "🛍️"},
		Entertainment: {Color: "#95E1D3", Glyph: "🎬"},
		Utilities:     {Color: "#C7CEEA", Glyph: "💡"},
		Other:         {Color: "#B19CD9", Glyph: "📌"},
	}

	fallbackStyle = CategoryStyle{Color: "#95E1D3", Glyph: "📌"}
)

// Categories returns the catalog in display order.
func Categories() []Category {
	return append([]Category(nil), categoryOrder...)
}

// ParseCategory resolves user input to a catalog entry, ignoring case and
// surrounding whitespace.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	for _, c := range categoryOrder {
		if strings.EqualFold(string(c), s) {
			return c, nil
		}
	}
	return "", ErrUnknownCategory
}

// Validate reports whether c is part of the catalog.
func (c Category) Validate() error {
	if _, ok := categoryStyles[c]; !ok {
		return ErrUnknownCategory
	}
	return nil
}

// Style returns the color and glyph of c. Rows written by other clients may
// carry categories outside the catalog; those get the fallback style.
func (c Category) Style() CategoryStyle {
	if s, ok := categoryStyles[c]; ok {
		return s
	}
	return fallbackStyle
}

func (c Category) String() string { return string(c) }
