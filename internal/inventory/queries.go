package inventory

import (
	"context"

	"github.com/hogansalley/storefront/pkg/enums"
)

// IsInStock reports whether size can be bought. Fetch failures read as false.
func (s *Service) IsInStock(ctx context.Context, productID string, size enums.Size) bool {
	snap, ok := s.readSnapshot(ctx, productID)
	if !ok {
		return false
	}
	rec, found := snap.Size(size)
	return found && rec.Purchasable()
}

// SizeStatus returns the status for size, sold_out when unknown or unreachable.
func (s *Service) SizeStatus(ctx context.Context, productID string, size enums.Size) enums.StockStatus {
	snap, ok := s.readSnapshot(ctx, productID)
	if !ok {
		return enums.StockStatusSoldOut
	}
	rec, found := snap.Size(size)
	if !found || !rec.Status.IsValid() {
		return enums.StockStatusSoldOut
	}
	return rec.Status
}

// AvailableSizes lists purchasable sizes in canonical order.
func (s *Service) AvailableSizes(ctx context.Context, productID string) []enums.Size {
	sizes := []enums.Size{}
	snap, ok := s.readSnapshot(ctx, productID)
	if !ok {
		return sizes
	}
	for _, size := range enums.Sizes() {
		if rec, found := snap.Size(size); found && rec.Purchasable() {
			sizes = append(sizes, size)
		}
	}
	return sizes
}

func (s *Service) readSnapshot(ctx context.Context, productID string) (*Snapshot, bool) {
	snap, err := s.FetchInventory(ctx, productID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(s.logCtx(ctx, productID), "error", err.Error()), "inventory lookup failed")
		return nil, false
	}
	return snap, true
}
