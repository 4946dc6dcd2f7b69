package enums

import "fmt"

// StockStatus describes per-size availability reported by the inventory API.
type StockStatus string

const (
	StockStatusInStock  StockStatus = "in_stock"
	StockStatusLowStock StockStatus = "low_stock"
	StockStatusSoldOut  StockStatus = "sold_out"
)

var validStockStatuses = []StockStatus{
	StockStatusInStock,
	StockStatusLowStock,
	StockStatusSoldOut,
}

// String implements fmt.Stringer.
func (s StockStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known StockStatus.
func (s StockStatus) IsValid() bool {
	for _, candidate := range validStockStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Purchasable reports whether a size in this status can still be added to a cart.
func (s StockStatus) Purchasable() bool {
	return s == StockStatusInStock || s == StockStatusLowStock
}

// ParseStockStatus converts raw input into a StockStatus.
func ParseStockStatus(value string) (StockStatus, error) {
	for _, candidate := range validStockStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid stock status %q", value)
}
