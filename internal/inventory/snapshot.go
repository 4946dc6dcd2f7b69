package inventory

import (
	"time"

	"github.com/hogansalley/storefront/pkg/enums"
	"github.com/shopspring/decimal"
)

// SizeRecord is the availability of one size.
type SizeRecord struct {
	Quantity int               `json:"quantity"`
	Status   enums.StockStatus `json:"status"`
}

// Purchasable reports whether the size can still be bought.
func (r SizeRecord) Purchasable() bool {
	return r.Quantity > 0 && r.Status.Purchasable()
}

// Snapshot is the availability of one product as reported by the inventory API.
type Snapshot struct {
	ProductID      string                    `json:"productId"`
	Name           string                    `json:"name"`
	Collection     enums.Collection          `json:"collection"`
	Price          decimal.Decimal           `json:"price"`
	Currency       string                    `json:"currency"`
	Inventory      map[enums.Size]SizeRecord `json:"inventory"`
	TotalAvailable int                       `json:"totalAvailable"`
	UpdatedAt      time.Time                 `json:"updatedAt"`
}

// Size returns the record for size, if the product reports one.
func (s *Snapshot) Size(size enums.Size) (SizeRecord, bool) {
	if s == nil {
		return SizeRecord{}, false
	}
	rec, ok := s.Inventory[size]
	return rec, ok
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Inventory != nil {
		out.Inventory = make(map[enums.Size]SizeRecord, len(s.Inventory))
		for k, v := range s.Inventory {
			out.Inventory[k] = v
		}
	}
	return &out
}
