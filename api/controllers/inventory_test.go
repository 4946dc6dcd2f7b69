package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/hogansalley/storefront/internal/inventory"
	"github.com/hogansalley/storefront/pkg/enums"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/realtime"
)

type fetcherFunc func(ctx context.Context, productID string) (*inventory.Snapshot, error)

func (f fetcherFunc) Fetch(ctx context.Context, productID string) (*inventory.Snapshot, error) {
	return f(ctx, productID)
}

// stockFetcher serves a snapshot whose M quantity can be changed between calls.
type stockFetcher struct {
	calls atomic.Int32
	qtyM  atomic.Int32
}

func newStockFetcher(qtyM int32) *stockFetcher {
	f := &stockFetcher{}
	f.qtyM.Store(qtyM)
	return f
}

func (f *stockFetcher) Fetch(_ context.Context, productID string) (*inventory.Snapshot, error) {
	f.calls.Add(1)
	if productID == "ghost" {
		return nil, pkgerrors.New("PRODUCT_NOT_FOUND", "Product ghost not found").WithStatus(http.StatusNotFound)
	}
	qty := int(f.qtyM.Load())
	status := enums.StockStatusInStock
	if qty == 0 {
		status = enums.StockStatusSoldOut
	}
	return &inventory.Snapshot{
		ProductID:  productID,
		Name:       "Money Jacket",
		Collection: enums.CollectionMoney,
		Price:      decimal.NewFromInt(325),
		Currency:   "CAD",
		Inventory: map[enums.Size]inventory.SizeRecord{
			enums.SizeS:  {Quantity: 0, Status: enums.StockStatusSoldOut},
			enums.SizeM:  {Quantity: qty, Status: status},
			enums.SizeXL: {Quantity: 2, Status: enums.StockStatusLowStock},
		},
		TotalAvailable: qty + 2,
	}, nil
}

func inventoryRouter(svc InventoryService) http.Handler {
	logg := logger.Nop()
	r := chi.NewRouter()
	r.Route("/api/v1/inventory/{productId}", func(r chi.Router) {
		r.Get("/", InventoryFetch(svc, logg))
		r.Get("/sizes", InventoryAvailableSizes(svc, logg))
		r.Get("/sizes/{size}", InventorySizeStatus(svc, logg))
		r.Get("/events", InventoryEvents(svc, logg))
	})
	return r
}

func TestInventoryFetchCachesUnlessFresh(t *testing.T) {
	fetcher := newStockFetcher(5)
	svc := inventory.NewService(fetcher, nil, inventory.Options{})
	h := inventoryRouter(svc)

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/v1/inventory/money-jacket/", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
		}
	}
	if fetcher.calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", fetcher.calls.Load())
	}

	rec := do(t, h, http.MethodGet, "/api/v1/inventory/money-jacket/?fresh=true", "")
	var env struct {
		Success bool               `json:"success"`
		Data    inventory.Snapshot `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fetcher.calls.Load() != 2 {
		t.Fatalf("fresh fetch should bypass the cache, calls=%d", fetcher.calls.Load())
	}
	if !env.Success || env.Data.TotalAvailable != 7 || env.Data.Inventory[enums.SizeM].Quantity != 5 {
		t.Fatalf("unexpected snapshot %+v", env.Data)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/inventory/money-jacket/?fresh=maybe", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad fresh flag to be a 400, got %d", rec.Code)
	}
}

func TestInventoryFetchRelaysUpstreamError(t *testing.T) {
	svc := inventory.NewService(newStockFetcher(1), nil, inventory.Options{})
	rec := do(t, inventoryRouter(svc), http.MethodGet, "/api/v1/inventory/ghost/", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected upstream status, got %d", rec.Code)
	}
	var env struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || env.Error.Code != "PRODUCT_NOT_FOUND" || env.Error.Message != "Product ghost not found" {
		t.Fatalf("unexpected error envelope %+v", env)
	}
}

func TestInventorySizeQueries(t *testing.T) {
	svc := inventory.NewService(newStockFetcher(4), nil, inventory.Options{})
	h := inventoryRouter(svc)

	rec := do(t, h, http.MethodGet, "/api/v1/inventory/money-jacket/sizes", "")
	var sizes struct {
		Data availableSizesResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&sizes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := sizes.Data.AvailableSizes; len(got) != 2 || got[0] != enums.SizeM || got[1] != enums.SizeXL {
		t.Fatalf("unexpected available sizes %v", got)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/inventory/money-jacket/sizes/s", "")
	var status struct {
		Data sizeStatusResponse `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Data.Size != enums.SizeS || status.Data.Status != enums.StockStatusSoldOut || status.Data.InStock {
		t.Fatalf("unexpected size status %+v", status.Data)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/inventory/ghost/sizes", "")
	if err := json.NewDecoder(rec.Body).Decode(&sizes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusOK || sizes.Data.AvailableSizes == nil || len(sizes.Data.AvailableSizes) != 0 {
		t.Fatalf("failed lookups should answer an empty list, got %d %v", rec.Code, sizes.Data.AvailableSizes)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/inventory/money-jacket/sizes/XXXL", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid size to be a 400, got %d", rec.Code)
	}
}

func TestInventoryEventsPushesRefreshedSnapshots(t *testing.T) {
	fetcher := newStockFetcher(5)
	broker := realtime.NewMemory()
	svc := inventory.NewService(fetcher, broker, inventory.Options{})
	defer svc.Destroy()

	srv := httptest.NewServer(inventoryRouter(svc))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/inventory/money-jacket/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	events := readEvents(resp)
	first := <-events
	if first.name != "inventory" || !strings.Contains(first.data, `"totalAvailable":7`) {
		t.Fatalf("unexpected initial event %+v", first)
	}
	if svc.SubscriptionCount("money-jacket") != 1 {
		t.Fatalf("expected one subscription, got %d", svc.SubscriptionCount("money-jacket"))
	}

	fetcher.qtyM.Store(1)
	broker.Publish(context.Background(), realtime.Event{Table: inventory.DefaultTable, ProductID: "money-jacket", Type: realtime.EventUpdate})

	select {
	case evt := <-events:
		if evt.name != "inventory" || !strings.Contains(evt.data, `"totalAvailable":3`) {
			t.Fatalf("unexpected update event %+v", evt)
		}
	case <-ctx.Done():
		t.Fatalf("no update event received")
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for broker.ChannelCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if broker.ChannelCount() != 0 {
		t.Fatalf("channel should close once the last stream leaves")
	}
}

func TestInventoryEventsWithoutTransport(t *testing.T) {
	svc := inventory.NewService(newStockFetcher(2), nil, inventory.Options{})
	srv := httptest.NewServer(inventoryRouter(svc))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/inventory/money-jacket/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	events := readEvents(resp)
	status := <-events
	if status.name != "status" || status.data != `{"live":false}` {
		t.Fatalf("expected degraded status event, got %+v", status)
	}
	if evt := <-events; evt.name != "inventory" {
		t.Fatalf("expected initial snapshot, got %+v", evt)
	}
}

type refusingTransport struct{ *realtime.Memory }

func (refusingTransport) Open(context.Context, string, realtime.Filter, realtime.Handler) (realtime.Channel, error) {
	return nil, errors.New("subscribe refused")
}

func TestInventoryEventsReportsFailedOpen(t *testing.T) {
	svc := inventory.NewService(newStockFetcher(2), refusingTransport{realtime.NewMemory()}, inventory.Options{})
	srv := httptest.NewServer(inventoryRouter(svc))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/inventory/money-jacket/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("a failed channel open should still stream, got %d", resp.StatusCode)
	}

	events := readEvents(resp)
	status := <-events
	if status.name != "status" || status.data != `{"live":false}` {
		t.Fatalf("expected degraded status event, got %+v", status)
	}
	if evt := <-events; evt.name != "inventory" || !strings.Contains(evt.data, `"totalAvailable":4`) {
		t.Fatalf("expected initial snapshot, got %+v", evt)
	}
}

func TestInventoryEventsFailsBeforeStreaming(t *testing.T) {
	svc := inventory.NewService(fetcherFunc(func(context.Context, string) (*inventory.Snapshot, error) {
		return nil, pkgerrors.New(pkgerrors.CodeNetwork, "inventory api unreachable")
	}), nil, inventory.Options{})

	rec := do(t, inventoryRouter(svc), http.MethodGet, "/api/v1/inventory/money-jacket/events", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); strings.Contains(ct, "event-stream") {
		t.Fatalf("stream should not open on a failed initial fetch")
	}
}

func TestInventoryHandlersWithoutService(t *testing.T) {
	rec := do(t, inventoryRouter(nil), http.MethodGet, "/api/v1/inventory/money-jacket/", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}
