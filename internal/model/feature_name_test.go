package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFeatureName(t *testing.T) {
	tests := []struct {
		name          string
		in            string
		wantCategory  string
		wantIndicator string
	}{
		{"category with indicator", "По линии ОБЭП (Взятки)", "По линии ОБЭП", "Взятки"},
		{"another indicator same line", "По линии ОБЭП (Мошенничество)", "По линии ОБЭП", "Мошенничество"},
		{"plain name", "Кражи", "", "Кражи"},
		{"plain name 2", "Грабежи", "", "Грабежи"},
		{"short category", "Убийства (Умышленные)", "Убийства", "Умышленные"},
		{"surrounding whitespace", "  По линии ОБЭП  (  Взятки  )  ", "По линии ОБЭП", "Взятки"},
		{"empty parens", "Кражи ()", "", "Кражи ()"},
		{"leading paren only", "(Взятки)", "", "(Взятки)"},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, ind := ParseFeatureName(tt.in)
			assert.Equal(t, tt.wantCategory, cat)
			assert.Equal(t, tt.wantIndicator, ind)
		})
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Кражи", NormalizeName("  Кражи \t"))
	// NFC folds a combining-diacritic form to the composed code point.
	assert.Equal(t, "Ёлкино", NormalizeName("Ёлкино"))
}
