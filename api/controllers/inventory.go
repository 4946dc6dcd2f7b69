package controllers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hogansalley/storefront/api/responses"
	"github.com/hogansalley/storefront/api/validators"
	"github.com/hogansalley/storefront/internal/inventory"
	"github.com/hogansalley/storefront/pkg/enums"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/logger"
)

// InventoryService is the inventory surface the HTTP layer depends on.
type InventoryService interface {
	FetchInventory(ctx context.Context, productID string, opts ...inventory.FetchOption) (*inventory.Snapshot, error)
	AvailableSizes(ctx context.Context, productID string) []enums.Size
	SizeStatus(ctx context.Context, productID string, size enums.Size) enums.StockStatus
	IsInStock(ctx context.Context, productID string, size enums.Size) bool
	SubscribeToUpdates(ctx context.Context, productID string, cb inventory.Callback) (func(), error)
}

type availableSizesResponse struct {
	ProductID      string       `json:"productId"`
	AvailableSizes []enums.Size `json:"availableSizes"`
}

type sizeStatusResponse struct {
	ProductID string            `json:"productId"`
	Size      enums.Size        `json:"size"`
	Status    enums.StockStatus `json:"status"`
	InStock   bool              `json:"inStock"`
}

func inventoryUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnavailable, "inventory unavailable"))
}

// InventoryFetch returns the snapshot for a product; ?fresh=true bypasses the cache.
func InventoryFetch(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			inventoryUnavailable(w, r, logg)
			return
		}
		productID, err := validators.PathProductID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		fresh, err := validators.ParseQueryBool(r, "fresh", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var opts []inventory.FetchOption
		if fresh {
			opts = append(opts, inventory.SkipCache())
		}
		snap, err := svc.FetchInventory(r.Context(), productID, opts...)
		if err != nil {
			responses.WriteError(logg.WithProductID(r.Context(), productID), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snap)
	}
}

func InventoryAvailableSizes(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			inventoryUnavailable(w, r, logg)
			return
		}
		productID, err := validators.PathProductID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, availableSizesResponse{
			ProductID:      productID,
			AvailableSizes: svc.AvailableSizes(r.Context(), productID),
		})
	}
}

func InventorySizeStatus(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			inventoryUnavailable(w, r, logg)
			return
		}
		productID, size, err := lineParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sizeStatusResponse{
			ProductID: productID,
			Size:      size,
			Status:    svc.SizeStatus(r.Context(), productID, size),
			InStock:   svc.IsInStock(r.Context(), productID, size),
		})
	}
}

// InventoryEvents streams an "inventory" event with the current snapshot, then
// one per change pushed for the product. Without a live transport the stream
// carries the initial snapshot and heartbeats only.
func InventoryEvents(svc InventoryService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			inventoryUnavailable(w, r, logg)
			return
		}
		productID, err := validators.PathProductID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := logg.WithProductID(r.Context(), productID)

		initial, err := svc.FetchInventory(ctx, productID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		updates := make(chan *inventory.Snapshot, 1)
		unsubscribe, err := svc.SubscribeToUpdates(ctx, productID, func(snap *inventory.Snapshot) {
			select {
			case updates <- snap:
			default:
				// keep only the newest snapshot
				select {
				case <-updates:
				default:
				}
				select {
				case updates <- snap:
				default:
				}
			}
		})
		live := true
		switch {
		case errors.Is(err, inventory.ErrLiveUpdatesUnavailable):
			live = false
		case err != nil:
			responses.WriteError(ctx, logg, w, err)
			return
		}
		defer unsubscribe()

		stream := openEventStream(w)
		if !live {
			_ = stream.send("status", map[string]bool{"live": false})
		}
		if err := stream.send("inventory", initial); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-updates:
				if err := stream.send("inventory", snap); err != nil {
					logg.Debug(ctx, "inventory stream closed")
					return
				}
			case <-ticker.C:
				if err := stream.heartbeat(); err != nil {
					return
				}
			}
		}
	}
}
