package enums

import "fmt"

// Collection is the storefront line a product belongs to.
type Collection string

const (
	CollectionLibation   Collection = "Libation"
	CollectionMoney      Collection = "Money"
	CollectionTransport  Collection = "Transport"
	CollectionSanitation Collection = "Sanitation"
)

var validCollections = []Collection{
	CollectionLibation,
	CollectionMoney,
	CollectionTransport,
	CollectionSanitation,
}

// String implements fmt.Stringer.
func (c Collection) String() string {
	return string(c)
}

// IsValid reports whether the value is a known Collection.
func (c Collection) IsValid() bool {
	for _, candidate := range validCollections {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCollection converts raw input into a Collection.
func ParseCollection(value string) (Collection, error) {
	for _, candidate := range validCollections {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid collection %q", value)
}

// Collections returns every collection in declaration order.
func Collections() []Collection {
	out := make([]Collection, len(validCollections))
	copy(out, validCollections)
	return out
}
