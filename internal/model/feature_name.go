package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ParseFeatureName decomposes an indicator name of the form
// "Category (Indicator)" into its category and indicator parts.
// A name without a trailing parenthesized segment has no category.
// Surrounding whitespace on both parts is trimmed.
//
//	"По линии ОБЭП (Взятки)" → ("По линии ОБЭП", "Взятки")
//	"Кражи"                  → ("", "Кражи")
func ParseFeatureName(name string) (category, indicator string) {
	name = NormalizeName(name)

	if !strings.HasSuffix(name, ")") {
		return "", name
	}
	open := strings.LastIndex(name, "(")
	if open <= 0 {
		return "", name
	}

	category = strings.TrimSpace(name[:open])
	indicator = strings.TrimSpace(name[open+1 : len(name)-1])
	if category == "" || indicator == "" {
		return "", name
	}
	return category, indicator
}

// NormalizeName trims whitespace and applies NFC normalization so that
// visually identical Cyrillic names from different workbooks compare equal.
func NormalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
