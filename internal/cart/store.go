package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hogansalley/storefront/pkg/enums"
	"github.com/hogansalley/storefront/pkg/kvstore"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/metrics"
	"github.com/shopspring/decimal"
)

const (
	DefaultStorageKey    = "hogans-alley-cart"
	CurrentSchemaVersion = 1
	DefaultMaxQuantity   = 3
	MinQuantity          = 1
)

const (
	ReasonInvalid     = "invalid"
	ReasonNotFound    = "not_found"
	ReasonMaxQuantity = "max_quantity"
)

const msgNotFound = "Item not found in cart"

// Result reports the outcome of a mutation. Failures are values, never errors.
type Result struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Item    *LineItem `json:"item,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func succeeded(message string, item *LineItem) Result {
	return Result{Success: true, Message: message, Item: item}
}

func failed(reason, message string) Result {
	return Result{Success: false, Message: message, Reason: reason}
}

// Listener receives the store after every persisted mutation.
type Listener func(*Store)

type Options struct {
	StorageKey    string
	SchemaVersion int
	MaxQuantity   int
	Logger        *logger.Logger
	Clock         func() time.Time
	Metrics       *metrics.CartMetrics
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.StorageKey) == "" {
		o.StorageKey = DefaultStorageKey
	}
	if o.SchemaVersion == 0 {
		o.SchemaVersion = CurrentSchemaVersion
	}
	if o.MaxQuantity < MinQuantity {
		o.MaxQuantity = DefaultMaxQuantity
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type listenerEntry struct {
	id uint64
	fn Listener
}

// Store is the single source of truth for the cart. Mutators are serialized;
// listeners run after the mutation lock is released.
type Store struct {
	kv   kvstore.Store
	opts Options
	logg *logger.Logger

	mu        sync.Mutex
	items     []LineItem
	createdAt time.Time
	updatedAt time.Time

	lmu       sync.Mutex
	listeners []listenerEntry
	nextID    uint64
}

// NewStore builds a store over kv and loads any persisted snapshot.
func NewStore(ctx context.Context, kv kvstore.Store, opts Options) (*Store, error) {
	if kv == nil {
		return nil, fmt.Errorf("cart storage required")
	}
	opts = opts.withDefaults()
	s := &Store{
		kv:   kv,
		opts: opts,
		logg: opts.Logger,
	}
	s.load(s.logCtx(ctx))
	return s, nil
}

func (s *Store) logCtx(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.logg.WithComponent(ctx, "cart")
}

// MaxQuantity is the per-line quantity ceiling.
func (s *Store) MaxQuantity() int {
	return s.opts.MaxQuantity
}

// AddItem merges candidate into the cart: an existing (productId, size) line
// gains one unit, otherwise a new line with quantity 1 is appended.
func (s *Store) AddItem(ctx context.Context, candidate Candidate) Result {
	ctx = s.logCtx(ctx)
	candidate = candidate.normalized()
	if msg := candidate.check(); msg != "" {
		return s.record("add_item", failed(ReasonInvalid, msg))
	}

	s.mu.Lock()
	var (
		res  Result
		item LineItem
	)
	if idx := s.indexOf(candidate.ProductID, candidate.Size); idx >= 0 {
		if s.items[idx].Quantity >= s.opts.MaxQuantity {
			s.mu.Unlock()
			return s.record("add_item", failed(ReasonMaxQuantity,
				fmt.Sprintf("Maximum quantity (%d) reached for this item", s.opts.MaxQuantity)))
		}
		s.items[idx].Quantity++
		item = s.items[idx]
		res = succeeded(fmt.Sprintf("Quantity updated to %d", item.Quantity), &item)
	} else {
		item = candidate.lineItem(MinQuantity)
		s.items = append(s.items, item)
		res = succeeded("Item added to cart", &item)
	}
	s.saveLocked(ctx)
	s.mu.Unlock()

	s.notify(ctx)
	return s.record("add_item", res)
}

// RemoveItem deletes the line matching productID and size.
func (s *Store) RemoveItem(ctx context.Context, productID string, size enums.Size) Result {
	ctx = s.logCtx(ctx)
	productID = strings.TrimSpace(productID)

	s.mu.Lock()
	idx := s.indexOf(productID, size)
	if idx < 0 {
		s.mu.Unlock()
		return s.record("remove_item", failed(ReasonNotFound, msgNotFound))
	}
	removed := s.items[idx]
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	s.saveLocked(ctx)
	s.mu.Unlock()

	s.notify(ctx)
	return s.record("remove_item", succeeded("Item removed from cart", &removed))
}

// UpdateQuantity overwrites the quantity of an existing line. Bounds are
// checked before existence.
func (s *Store) UpdateQuantity(ctx context.Context, productID string, size enums.Size, quantity int) Result {
	ctx = s.logCtx(ctx)
	productID = strings.TrimSpace(productID)

	if quantity < MinQuantity {
		return s.record("update_quantity", failed(ReasonInvalid, fmt.Sprintf("Minimum quantity is %d", MinQuantity)))
	}
	if quantity > s.opts.MaxQuantity {
		return s.record("update_quantity", failed(ReasonMaxQuantity,
			fmt.Sprintf("Maximum quantity (%d) exceeded", s.opts.MaxQuantity)))
	}

	s.mu.Lock()
	idx := s.indexOf(productID, size)
	if idx < 0 {
		s.mu.Unlock()
		return s.record("update_quantity", failed(ReasonNotFound, msgNotFound))
	}
	s.items[idx].Quantity = quantity
	item := s.items[idx]
	s.saveLocked(ctx)
	s.mu.Unlock()

	s.notify(ctx)
	return s.record("update_quantity", succeeded(fmt.Sprintf("Quantity updated to %d", quantity), &item))
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context) {
	ctx = s.logCtx(ctx)

	s.mu.Lock()
	s.items = nil
	s.saveLocked(ctx)
	s.mu.Unlock()

	s.notify(ctx)
	s.opts.Metrics.Mutation("clear", true)
}

func (s *Store) record(op string, res Result) Result {
	s.opts.Metrics.Mutation(op, res.Success)
	return res
}

// indexOf requires s.mu.
func (s *Store) indexOf(productID string, size enums.Size) int {
	for i, item := range s.items {
		if item.matches(productID, size) {
			return i
		}
	}
	return -1
}

// ItemCount is the sum of quantities.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, item := range s.items {
		count += item.Quantity
	}
	return count
}

// Subtotal is the sum of price times quantity across lines.
func (s *Store) Subtotal() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.LineTotal())
	}
	return total
}

func (s *Store) FindItem(productID string, size enums.Size) (LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexOf(strings.TrimSpace(productID), size); idx >= 0 {
		return s.items[idx], true
	}
	return LineItem{}, false
}

func (s *Store) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items) == 0
}

// Items returns a copy of the current lines in insertion order.
func (s *Store) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

func (s *Store) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createdAt
}

func (s *Store) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Summary is a consistent read of the cart for consumers that render it.
type Summary struct {
	Items     []LineItem      `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func (s *Store) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{Items: cloneItems(s.items), Subtotal: decimal.Zero, UpdatedAt: s.updatedAt}
	for _, item := range s.items {
		sum.ItemCount += item.Quantity
		sum.Subtotal = sum.Subtotal.Add(item.LineTotal())
	}
	return sum
}

func cloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// Subscribe registers fn and returns a closure that removes it. The closure is idempotent.
func (s *Store) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.lmu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.lmu.Lock()
			defer s.lmu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (s *Store) ListenerCount() int {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	return len(s.listeners)
}

// notify calls every listener in registration order. A panicking listener is
// logged and skipped.
func (s *Store) notify(ctx context.Context) {
	s.lmu.Lock()
	snapshot := make([]listenerEntry, len(s.listeners))
	copy(snapshot, s.listeners)
	s.lmu.Unlock()

	for _, l := range snapshot {
		s.invoke(ctx, l)
	}
}

func (s *Store) invoke(ctx context.Context, l listenerEntry) {
	defer func() {
		if r := recover(); r != nil {
			s.logg.Error(ctx, "cart listener panicked", fmt.Errorf("listener %d: %v", l.id, r))
		}
	}()
	l.fn(s)
}
