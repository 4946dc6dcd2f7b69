package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hogansalley/storefront/api/controllers"
	"github.com/hogansalley/storefront/api/middleware"
	"github.com/hogansalley/storefront/pkg/config"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/realtime"
	"github.com/hogansalley/storefront/pkg/redis"
)

// Deps are the collaborators the router hands to controllers. Nil members
// disable the routes or middleware that need them.
type Deps struct {
	Cart      controllers.CartService
	Inventory controllers.InventoryService
	Publisher realtime.Publisher
	Redis     *redis.Client
	Registry  *prometheus.Registry
	Pingers   map[string]controllers.Pinger
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idemStore  middleware.IdempotencyStore
		limitStore middleware.RateLimitStore
	)
	if deps.Redis != nil {
		idemStore = deps.Redis
		limitStore = deps.Redis
	}
	cartPolicy := middleware.NewRateLimitPolicy("cart", cfg.Cart.RateLimitWindow, cfg.Cart.RateLimitPerIP)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Pingers))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Get("/", controllers.CartFetch(deps.Cart, logg))
		r.Get("/events", controllers.CartEvents(deps.Cart, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cartPolicy, limitStore, logg))
			r.With(middleware.Idempotency(idemStore, cfg.Cart.IdempotencyTTL, logg)).
				Post("/items", controllers.CartAddItem(deps.Cart, logg))
			r.Patch("/items/{productId}/{size}", controllers.CartUpdateQuantity(deps.Cart, logg))
			r.Delete("/items/{productId}/{size}", controllers.CartRemoveItem(deps.Cart, logg))
			r.Delete("/", controllers.CartClear(deps.Cart, logg))
		})
	})

	r.Route("/api/v1/inventory/{productId}", func(r chi.Router) {
		r.Get("/", controllers.InventoryFetch(deps.Inventory, logg))
		r.Get("/sizes", controllers.InventoryAvailableSizes(deps.Inventory, logg))
		r.Get("/sizes/{size}", controllers.InventorySizeStatus(deps.Inventory, logg))
		r.Get("/events", controllers.InventoryEvents(deps.Inventory, logg))
	})

	if !cfg.App.IsProd() {
		r.Route("/api/v1/admin", func(r chi.Router) {
			r.Post("/inventory/events", controllers.InventoryPublishEvent(deps.Publisher, cfg.Inventory.Table, logg))
		})
	}

	return r
}
