package cart

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hogansalley/storefront/pkg/enums"
	"github.com/shopspring/decimal"
)

// LineItem is one cart entry, unique by (ProductID, Size).
type LineItem struct {
	ProductID  string           `json:"productId"`
	Collection enums.Collection `json:"collection"`
	Name       string           `json:"name"`
	Size       enums.Size       `json:"size"`
	Quantity   int              `json:"quantity"`
	Price      decimal.Decimal  `json:"price"`
	Currency   string           `json:"currency"`
	Image      string           `json:"image"`
}

// LineTotal is price times quantity.
func (i LineItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i LineItem) matches(productID string, size enums.Size) bool {
	return i.ProductID == productID && i.Size == size
}

// Candidate is the input to AddItem. Price is a pointer so a missing price is
// distinguishable from zero.
type Candidate struct {
	ProductID  string           `json:"productId" validate:"required"`
	Collection enums.Collection `json:"collection" validate:"required,collection"`
	Name       string           `json:"name" validate:"required"`
	Size       enums.Size       `json:"size" validate:"required,size"`
	Price      *decimal.Decimal `json:"price" validate:"required"`
	Currency   string           `json:"currency"`
	Image      string           `json:"image"`
}

// storedItem is a persisted line item before re-validation.
type storedItem struct {
	Candidate
	Quantity int `json:"quantity"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("collection", func(fl validator.FieldLevel) bool {
		return enums.Collection(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("size", func(fl validator.FieldLevel) bool {
		return enums.Size(fl.Field().String()).IsValid()
	})
	return v
}

func (c Candidate) normalized() Candidate {
	c.ProductID = strings.TrimSpace(c.ProductID)
	c.Name = strings.TrimSpace(c.Name)
	c.Currency = normalizeCurrency(c.Currency)
	c.Image = strings.TrimSpace(c.Image)
	return c
}

// check returns a user-facing message describing the first invalid field, or "".
func (c Candidate) check() string {
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 {
			return invalidMessage(errs[0])
		}
		return "Invalid item"
	}
	if c.Price.IsNegative() {
		return "Invalid item: price must be zero or greater"
	}
	return ""
}

func (c Candidate) lineItem(quantity int) LineItem {
	return LineItem{
		ProductID:  c.ProductID,
		Collection: c.Collection,
		Name:       c.Name,
		Size:       c.Size,
		Quantity:   quantity,
		Price:      *c.Price,
		Currency:   c.Currency,
		Image:      c.Image,
	}
}

func invalidMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Invalid item: %s is required", fe.Field())
	case "collection":
		return fmt.Sprintf("Invalid item: collection must be one of %s", joinValues(enums.Collections()))
	case "size":
		return fmt.Sprintf("Invalid item: size must be one of %s", joinValues(enums.Sizes()))
	}
	return fmt.Sprintf("Invalid item: %s is invalid", fe.Field())
}

func joinValues[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func normalizeCurrency(value string) string {
	if c, err := enums.ParseCurrency(value); err == nil {
		return c.String()
	}
	return strings.ToUpper(strings.TrimSpace(value))
}
