package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hogansalley/storefront/api/responses"
	"github.com/hogansalley/storefront/api/validators"
	"github.com/hogansalley/storefront/internal/cart"
	"github.com/hogansalley/storefront/pkg/enums"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/logger"
)

// CartService is the cart surface the HTTP layer depends on.
type CartService interface {
	Summary() cart.Summary
	AddItem(ctx context.Context, candidate cart.Candidate) cart.Result
	RemoveItem(ctx context.Context, productID string, size enums.Size) cart.Result
	UpdateQuantity(ctx context.Context, productID string, size enums.Size, quantity int) cart.Result
	Clear(ctx context.Context)
	Subscribe(fn cart.Listener) func()
}

// AddItemRequest is decoded leniently; the cart applies its own item rules.
type AddItemRequest struct {
	ProductID  string           `json:"productId" validate:"max=128"`
	Collection string           `json:"collection" validate:"max=64"`
	Name       string           `json:"name" validate:"max=256"`
	Size       string           `json:"size" validate:"max=8"`
	Price      *decimal.Decimal `json:"price"`
	Currency   string           `json:"currency" validate:"max=8"`
	Image      string           `json:"image" validate:"max=2048"`
}

func (r AddItemRequest) candidate() cart.Candidate {
	return cart.Candidate{
		ProductID:  r.ProductID,
		Collection: enums.Collection(r.Collection),
		Name:       r.Name,
		Size:       enums.Size(r.Size),
		Price:      r.Price,
		Currency:   r.Currency,
		Image:      r.Image,
	}
}

type UpdateQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}

type mutationResponse struct {
	cart.Result
	Cart cart.Summary `json:"cart"`
}

func resultStatus(res cart.Result) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Reason == cart.ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeResult(w http.ResponseWriter, svc CartService, res cart.Result) {
	responses.WriteSuccessStatus(w, resultStatus(res), mutationResponse{Result: res, Cart: svc.Summary()})
}

func cartUnavailable(w http.ResponseWriter, r *http.Request, logg *logger.Logger) {
	responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnavailable, "cart unavailable"))
}

// CartFetch returns items, item count and subtotal.
func CartFetch(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			cartUnavailable(w, r, logg)
			return
		}
		responses.WriteSuccess(w, svc.Summary())
	}
}

func CartAddItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			cartUnavailable(w, r, logg)
			return
		}
		var body AddItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeResult(w, svc, svc.AddItem(r.Context(), body.candidate()))
	}
}

func CartUpdateQuantity(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			cartUnavailable(w, r, logg)
			return
		}
		productID, size, err := lineParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body UpdateQuantityRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeResult(w, svc, svc.UpdateQuantity(r.Context(), productID, size, *body.Quantity))
	}
}

func CartRemoveItem(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			cartUnavailable(w, r, logg)
			return
		}
		productID, size, err := lineParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeResult(w, svc, svc.RemoveItem(r.Context(), productID, size))
	}
}

func CartClear(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			cartUnavailable(w, r, logg)
			return
		}
		svc.Clear(r.Context())
		responses.WriteSuccess(w, svc.Summary())
	}
}

// CartEvents streams a "cart" event with the current summary on connect and
// after every mutation.
func CartEvents(svc CartService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			cartUnavailable(w, r, logg)
			return
		}
		ctx := r.Context()

		changed := make(chan struct{}, 1)
		unsubscribe := svc.Subscribe(func(*cart.Store) {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
		defer unsubscribe()

		stream := openEventStream(w)
		if err := stream.send("cart", svc.Summary()); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-changed:
				if err := stream.send("cart", svc.Summary()); err != nil {
					logg.Debug(ctx, "cart stream closed")
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

func lineParams(r *http.Request) (string, enums.Size, error) {
	productID, err := validators.PathProductID(r)
	if err != nil {
		return "", "", err
	}
	size, err := validators.PathSize(r)
	if err != nil {
		return "", "", err
	}
	return productID, size, nil
}
