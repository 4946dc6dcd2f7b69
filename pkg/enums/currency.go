package enums

import (
	"fmt"
	"strings"
)

// Currency represents supported monetary denominations for cart totals.
type Currency string

const (
	CurrencyCAD Currency = "CAD"
	CurrencyUSD Currency = "USD"

	DefaultCurrency = CurrencyCAD
)

var validCurrencies = []Currency{
	CurrencyCAD,
	CurrencyUSD,
}

// String implements fmt.Stringer.
func (c Currency) String() string {
	return string(c)
}

// IsValid reports whether the currency is recognized.
func (c Currency) IsValid() bool {
	for _, candidate := range validCurrencies {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCurrency converts a raw string into a Currency. Matching ignores case and
// surrounding whitespace; an empty value yields DefaultCurrency.
func ParseCurrency(value string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	if normalized == "" {
		return DefaultCurrency, nil
	}
	for _, candidate := range validCurrencies {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid currency %q", value)
}
