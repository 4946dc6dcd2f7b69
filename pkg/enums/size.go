package enums

import "fmt"

// Size is a garment size. The declaration order below is the canonical display order.
type Size string

const (
	SizeXS  Size = "XS"
	SizeS   Size = "S"
	SizeM   Size = "M"
	SizeL   Size = "L"
	SizeXL  Size = "XL"
	SizeXXL Size = "XXL"
)

var validSizes = []Size{
	SizeXS,
	SizeS,
	SizeM,
	SizeL,
	SizeXL,
	SizeXXL,
}

// Sizes returns every size in canonical order.
func Sizes() []Size {
	out := make([]Size, len(validSizes))
	copy(out, validSizes)
	return out
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return string(s)
}

// IsValid reports whether the value is a known Size.
func (s Size) IsValid() bool {
	for _, candidate := range validSizes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSize converts raw input into a Size.
func ParseSize(value string) (Size, error) {
	for _, candidate := range validSizes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid size %q", value)
}
