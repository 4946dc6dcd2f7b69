package inventory

import (
	"context"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/metrics"
	"github.com/hogansalley/storefront/pkg/realtime"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCacheTTL    = 30 * time.Second
	DefaultOpenTimeout = 10 * time.Second
	DefaultTable       = "inventory"
)

type Options struct {
	CacheTTL time.Duration
	// OpenTimeout bounds opening an upstream channel, which is shared by
	// every subscriber waiting on that product.
	OpenTimeout time.Duration
	Table       string
	Logger      *logger.Logger
	Clock       func() time.Time
	Metrics     *metrics.InventoryMetrics
}

func (o Options) withDefaults() Options {
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if strings.TrimSpace(o.Table) == "" {
		o.Table = DefaultTable
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type cacheEntry struct {
	data      *Snapshot
	timestamp time.Time
}

// Service caches inventory snapshots and multiplexes push channels so each
// product id holds at most one upstream subscription.
type Service struct {
	fetcher Fetcher
	opts    Options
	logg    *logger.Logger

	cmu   sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group

	smu       sync.Mutex
	transport realtime.Transport
	subs      map[string]*subscription
	nextToken uint64
}

func NewService(fetcher Fetcher, transport realtime.Transport, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		fetcher:   fetcher,
		opts:      opts,
		logg:      opts.Logger,
		cache:     make(map[string]cacheEntry),
		transport: transport,
		subs:      make(map[string]*subscription),
	}
}

type fetchOptions struct {
	skipCache bool
}

type FetchOption func(*fetchOptions)

// SkipCache forces an upstream request even when a fresh entry exists.
func SkipCache() FetchOption {
	return func(o *fetchOptions) { o.skipCache = true }
}

func (s *Service) logCtx(ctx context.Context, productID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithComponent(ctx, "inventory")
	if productID != "" {
		ctx = s.logg.WithProductID(ctx, productID)
	}
	return ctx
}

// FetchInventory returns the snapshot for productID, from cache while it is
// younger than the TTL. Concurrent misses for the same id share one request,
// bounded by the fetcher's own timeout rather than by the first caller.
func (s *Service) FetchInventory(ctx context.Context, productID string, opts ...FetchOption) (*Snapshot, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "productId is required")
	}
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.skipCache {
		return s.fetchAndStore(ctx, id)
	}

	if snap, ok := s.cached(id); ok {
		s.opts.Metrics.CacheHit()
		return snap.clone(), nil
	}
	s.opts.Metrics.CacheMiss()

	// The shared fetch outlives any single caller; each caller only stops
	// waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(id, func() (any, error) {
		return s.fetchAndStore(shared, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot).clone(), nil
	}
}

func (s *Service) cached(id string) (*Snapshot, bool) {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	entry, ok := s.cache[id]
	if !ok {
		return nil, false
	}
	if s.opts.Clock().Sub(entry.timestamp) >= s.opts.CacheTTL {
		return nil, false
	}
	return entry.data, true
}

func (s *Service) fetchAndStore(ctx context.Context, id string) (*Snapshot, error) {
	if s.fetcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "inventory fetcher not configured")
	}
	start := time.Now()
	snap, err := s.fetcher.Fetch(ctx, id)
	s.opts.Metrics.ObserveFetch(time.Since(start), err)
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeNetwork, err, "inventory fetch failed")
		}
		return nil, err
	}
	if snap == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNetwork, "inventory fetch returned no data")
	}
	if snap.ProductID == "" {
		snap.ProductID = id
	}

	stored := snap.clone()
	s.cmu.Lock()
	s.cache[id] = cacheEntry{data: stored, timestamp: s.opts.Clock()}
	s.cmu.Unlock()
	return stored.clone(), nil
}

// InvalidateCache drops the entry for productID. Subscriptions are untouched.
func (s *Service) InvalidateCache(productID string) {
	id := strings.TrimSpace(productID)
	s.cmu.Lock()
	delete(s.cache, id)
	s.cmu.Unlock()
}

// ClearCache drops every entry.
func (s *Service) ClearCache() {
	s.cmu.Lock()
	s.cache = make(map[string]cacheEntry)
	s.cmu.Unlock()
}
