package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hogansalley/storefront/pkg/enums"
	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/metrics"
	"github.com/hogansalley/storefront/pkg/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubFetcher serves a mutable snapshot per product and counts calls.
type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	stock map[string]map[enums.Size]SizeRecord
	err   error
	gate  chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		calls: map[string]int{},
		stock: map[string]map[enums.Size]SizeRecord{},
	}
}

func (f *stubFetcher) set(id string, size enums.Size, qty int, status enums.StockStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stock[id] == nil {
		f.stock[id] = map[enums.Size]SizeRecord{}
	}
	f.stock[id][size] = SizeRecord{Quantity: qty, Status: status}
}

func (f *stubFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *stubFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *stubFetcher) Fetch(ctx context.Context, id string) (*Snapshot, error) {
	f.mu.Lock()
	f.calls[id]++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	inv := map[enums.Size]SizeRecord{}
	total := 0
	for size, rec := range f.stock[id] {
		inv[size] = rec
		total += rec.Quantity
	}
	return &Snapshot{
		ProductID:      id,
		Name:           "Product " + id,
		Collection:     enums.CollectionMoney,
		Price:          decimal.NewFromInt(100),
		Currency:       "CAD",
		Inventory:      inv,
		TotalAvailable: total,
	}, nil
}

// countingTransport wraps the memory broker and counts opens.
type countingTransport struct {
	*realtime.Memory
	opens    atomic.Int32
	openErr  error
	closeErr error
	filters  []realtime.Filter
	mu       sync.Mutex
}

func newCountingTransport() *countingTransport {
	return &countingTransport{Memory: realtime.NewMemory()}
}

func (c *countingTransport) Open(ctx context.Context, name string, f realtime.Filter, h realtime.Handler) (realtime.Channel, error) {
	c.opens.Add(1)
	if c.openErr != nil {
		return nil, c.openErr
	}
	c.mu.Lock()
	c.filters = append(c.filters, f)
	c.mu.Unlock()
	ch, err := c.Memory.Open(ctx, name, f, h)
	if err != nil {
		return nil, err
	}
	if c.closeErr != nil {
		return failingChannel{Channel: ch, err: c.closeErr}, nil
	}
	return ch, nil
}

type failingChannel struct {
	realtime.Channel
	err error
}

func (f failingChannel) Close() error {
	_ = f.Channel.Close()
	return f.err
}

type unavailableTransport struct{ realtime.Transport }

func (unavailableTransport) Available() bool { return false }

func newTestService(f Fetcher, tr realtime.Transport, clock *fakeClock) *Service {
	return NewService(f, tr, Options{CacheTTL: 30 * time.Second, Clock: clock.Now})
}

func push(tr *countingTransport, id string) int {
	return tr.Publish(context.Background(), realtime.Event{Table: DefaultTable, ProductID: id, Type: realtime.EventUpdate})
}

func TestFetchInventoryServesFromCacheWithinTTL(t *testing.T) {
	clock := newFakeClock()
	f := newStubFetcher()
	f.set("p1", enums.SizeM, 3, enums.StockStatusInStock)
	svc := newTestService(f, nil, clock)
	ctx := context.Background()

	first, err := svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	clock.Advance(29 * time.Second)
	second, err := svc.FetchInventory(ctx, " p1 ")
	require.NoError(t, err)

	assert.Equal(t, 1, f.count("p1"))
	assert.Equal(t, first, second)

	clock.Advance(time.Second)
	_, err = svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("p1"))
}

func TestFetchInventorySkipCacheAlwaysFetches(t *testing.T) {
	clock := newFakeClock()
	f := newStubFetcher()
	svc := newTestService(f, nil, clock)
	ctx := context.Background()

	_, err := svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	_, err = svc.FetchInventory(ctx, "p1", SkipCache())
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("p1"))

	_, err = svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("p1"), "skip-cache result refreshes the entry")
}

func TestFetchInventoryRejectsEmptyID(t *testing.T) {
	svc := newTestService(newStubFetcher(), nil, newFakeClock())
	_, err := svc.FetchInventory(context.Background(), "   ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestFetchInventoryErrorsAreNotCached(t *testing.T) {
	f := newStubFetcher()
	f.fail(pkgerrors.New("PRODUCT_NOT_FOUND", "gone").WithStatus(404))
	svc := newTestService(f, nil, newFakeClock())
	ctx := context.Background()

	_, err := svc.FetchInventory(ctx, "p1")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.Code("PRODUCT_NOT_FOUND"), typed.Code())
	assert.Equal(t, 404, typed.Status())

	f.fail(nil)
	_, err = svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("p1"))
}

func TestFetchInventoryWrapsUntypedErrorsAsNetwork(t *testing.T) {
	f := newStubFetcher()
	f.fail(errors.New("connection reset"))
	svc := newTestService(f, nil, newFakeClock())

	_, err := svc.FetchInventory(context.Background(), "p1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNetwork))
}

func TestFetchInventoryReturnsIsolatedCopies(t *testing.T) {
	f := newStubFetcher()
	f.set("p1", enums.SizeM, 3, enums.StockStatusInStock)
	svc := newTestService(f, nil, newFakeClock())
	ctx := context.Background()

	snap, err := svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	snap.Inventory[enums.SizeM] = SizeRecord{Quantity: 0, Status: enums.StockStatusSoldOut}

	again, err := svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Inventory[enums.SizeM].Quantity)
}

func TestConcurrentMissesShareOneRequest(t *testing.T) {
	f := newStubFetcher()
	f.gate = make(chan struct{})
	svc := newTestService(f, nil, newFakeClock())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.FetchInventory(context.Background(), "p1")
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return f.count("p1") >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.count("p1"))
}

func TestCancelledCallerLeavesSharedFetchRunning(t *testing.T) {
	f := newStubFetcher()
	f.set("p1", enums.SizeM, 4, enums.StockStatusInStock)
	f.gate = make(chan struct{})
	svc := newTestService(f, nil, newFakeClock())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.FetchInventory(leaderCtx, "p1")
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return f.count("p1") == 1 }, time.Second, time.Millisecond)

	type result struct {
		snap *Snapshot
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		snap, err := svc.FetchInventory(context.Background(), "p1")
		follower <- result{snap, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		require.ErrorIs(t, err, context.Canceled)
		assert.False(t, pkgerrors.IsCode(err, pkgerrors.CodeNetwork))
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(f.gate)
	select {
	case res := <-follower:
		require.NoError(t, res.err)
		assert.Equal(t, 4, res.snap.Inventory[enums.SizeM].Quantity)
	case <-time.After(time.Second):
		t.Fatal("follower never received the shared snapshot")
	}
	assert.Equal(t, 1, f.count("p1"))

	snap, err := svc.FetchInventory(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.TotalAvailable)
	assert.Equal(t, 1, f.count("p1"), "shared fetch should have populated the cache")
}

func TestInvalidateAndClearCache(t *testing.T) {
	f := newStubFetcher()
	svc := newTestService(f, nil, newFakeClock())
	ctx := context.Background()

	_, _ = svc.FetchInventory(ctx, "p1")
	_, _ = svc.FetchInventory(ctx, "p2")
	svc.InvalidateCache("p1")
	_, _ = svc.FetchInventory(ctx, "p1")
	_, _ = svc.FetchInventory(ctx, "p2")
	assert.Equal(t, 2, f.count("p1"))
	assert.Equal(t, 1, f.count("p2"))

	svc.ClearCache()
	_, _ = svc.FetchInventory(ctx, "p2")
	assert.Equal(t, 2, f.count("p2"))
}

func TestSubscriptionsShareOneChannel(t *testing.T) {
	f := newStubFetcher()
	f.set("p1", enums.SizeM, 3, enums.StockStatusInStock)
	tr := newCountingTransport()
	svc := newTestService(f, tr, newFakeClock())
	ctx := context.Background()

	var a, b []*Snapshot
	unsubA, err := svc.SubscribeToUpdates(ctx, "p1", func(s *Snapshot) { a = append(a, s) })
	require.NoError(t, err)
	unsubB, err := svc.SubscribeToUpdates(ctx, "p1", func(s *Snapshot) { b = append(b, s) })
	require.NoError(t, err)

	assert.EqualValues(t, 1, tr.opens.Load())
	assert.Equal(t, 2, svc.SubscriptionCount("p1"))
	assert.Equal(t, 1, svc.ActiveChannels())
	require.Len(t, tr.filters, 1)
	assert.Equal(t, realtime.ProductFilter(DefaultTable, "p1"), tr.filters[0])

	f.set("p1", enums.SizeM, 1, enums.StockStatusLowStock)
	push(tr, "p1")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, 1, a[0].Inventory[enums.SizeM].Quantity)
	assert.Equal(t, enums.StockStatusLowStock, b[0].Inventory[enums.SizeM].Status)

	unsubA()
	unsubA()
	assert.Equal(t, 1, svc.SubscriptionCount("p1"))
	assert.Equal(t, 1, tr.ChannelCount(), "channel stays open while a subscriber remains")

	push(tr, "p1")
	assert.Len(t, a, 1)
	assert.Len(t, b, 2)

	unsubB()
	assert.Equal(t, 0, tr.ChannelCount())
	assert.Equal(t, 0, svc.ActiveChannels())
	assert.Zero(t, push(tr, "p1"))
}

func TestPushRefreshesCacheBeforeFanOut(t *testing.T) {
	clock := newFakeClock()
	f := newStubFetcher()
	f.set("p1", enums.SizeL, 5, enums.StockStatusInStock)
	tr := newCountingTransport()
	svc := newTestService(f, tr, clock)
	ctx := context.Background()

	_, err := svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	_, err = svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) {})
	require.NoError(t, err)

	f.set("p1", enums.SizeL, 0, enums.StockStatusSoldOut)
	push(tr, "p1")
	assert.Equal(t, 2, f.count("p1"))

	snap, err := svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, enums.StockStatusSoldOut, snap.Inventory[enums.SizeL].Status)
	assert.Equal(t, 2, f.count("p1"), "cached refresh is served without a new request")
}

func TestPushIgnoresOtherProducts(t *testing.T) {
	f := newStubFetcher()
	tr := newCountingTransport()
	svc := newTestService(f, tr, newFakeClock())

	calls := 0
	_, err := svc.SubscribeToUpdates(context.Background(), "p1", func(*Snapshot) { calls++ })
	require.NoError(t, err)
	push(tr, "p2")
	assert.Zero(t, calls)
	assert.Zero(t, f.count("p2"))
}

func TestPanickingCallbackDoesNotStopFanOut(t *testing.T) {
	f := newStubFetcher()
	tr := newCountingTransport()
	svc := newTestService(f, tr, newFakeClock())
	ctx := context.Background()

	_, err := svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) { panic("boom") })
	require.NoError(t, err)
	delivered := 0
	_, err = svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) { delivered++ })
	require.NoError(t, err)

	require.NotPanics(t, func() { push(tr, "p1") })
	assert.Equal(t, 1, delivered)
}

func TestRefetchFailureIsNotDelivered(t *testing.T) {
	f := newStubFetcher()
	tr := newCountingTransport()
	svc := newTestService(f, tr, newFakeClock())

	calls := 0
	_, err := svc.SubscribeToUpdates(context.Background(), "p1", func(*Snapshot) { calls++ })
	require.NoError(t, err)

	f.fail(errors.New("down"))
	push(tr, "p1")
	assert.Zero(t, calls)
	assert.Equal(t, 1, svc.SubscriptionCount("p1"))
}

func TestCallbackMayUnsubscribeItself(t *testing.T) {
	f := newStubFetcher()
	tr := newCountingTransport()
	svc := newTestService(f, tr, newFakeClock())

	var unsub func()
	calls := 0
	unsub, err := svc.SubscribeToUpdates(context.Background(), "p1", func(*Snapshot) {
		calls++
		unsub()
	})
	require.NoError(t, err)

	push(tr, "p1")
	push(tr, "p1")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, svc.ActiveChannels())
}

func TestSubscribeValidation(t *testing.T) {
	svc := newTestService(newStubFetcher(), newCountingTransport(), newFakeClock())
	ctx := context.Background()

	_, err := svc.SubscribeToUpdates(ctx, "", func(*Snapshot) {})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = svc.SubscribeToUpdates(ctx, "p1", nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDegradedModeSubscribeIsNoop(t *testing.T) {
	for name, tr := range map[string]realtime.Transport{
		"nil":         nil,
		"unavailable": unavailableTransport{},
	} {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(newStubFetcher(), tr, newFakeClock())
			unsub, err := svc.SubscribeToUpdates(context.Background(), "p1", func(*Snapshot) {})
			require.ErrorIs(t, err, ErrLiveUpdatesUnavailable)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnavailable))
			require.NotNil(t, unsub)
			unsub()
			assert.Equal(t, 0, svc.ActiveChannels())
			assert.False(t, svc.RealtimeAvailable())
		})
	}
}

func TestOpenFailureIsNonFatal(t *testing.T) {
	tr := newCountingTransport()
	tr.openErr = errors.New("subscribe refused")
	svc := newTestService(newStubFetcher(), tr, newFakeClock())

	unsub, err := svc.SubscribeToUpdates(context.Background(), "p1", func(*Snapshot) {})
	require.ErrorIs(t, err, ErrLiveUpdatesUnavailable)
	require.NotNil(t, unsub)
	unsub()
	assert.Equal(t, 0, svc.ActiveChannels())
	assert.Equal(t, 0, svc.SubscriptionCount("p1"))
	assert.True(t, svc.RealtimeAvailable(), "transport itself is still up")

	tr.openErr = nil
	_, err = svc.SubscribeToUpdates(context.Background(), "p1", func(*Snapshot) {})
	require.NoError(t, err)
	assert.EqualValues(t, 2, tr.opens.Load())
	assert.Equal(t, 1, svc.ActiveChannels())
}

// gatedTransport holds Open for the products listed in slow until release
// is closed.
type gatedTransport struct {
	*countingTransport
	slow    map[string]bool
	release chan struct{}
	entered chan string
}

func (g *gatedTransport) Open(ctx context.Context, name string, f realtime.Filter, h realtime.Handler) (realtime.Channel, error) {
	if g.slow[f.Value] {
		g.entered <- f.Value
		<-g.release
	}
	return g.countingTransport.Open(ctx, name, f, h)
}

func TestSlowOpenDoesNotStallOtherProducts(t *testing.T) {
	f := newStubFetcher()
	f.set("fast", enums.SizeM, 2, enums.StockStatusInStock)
	tr := &gatedTransport{
		countingTransport: newCountingTransport(),
		slow:              map[string]bool{"slow": true},
		release:           make(chan struct{}),
		entered:           make(chan string, 1),
	}
	svc := newTestService(f, tr, newFakeClock())
	ctx := context.Background()

	slowDone := make(chan error, 2)
	slowCalls := 0
	var slowMu sync.Mutex
	go func() {
		_, err := svc.SubscribeToUpdates(ctx, "slow", func(*Snapshot) {
			slowMu.Lock()
			slowCalls++
			slowMu.Unlock()
		})
		slowDone <- err
	}()
	require.Equal(t, "slow", <-tr.entered)

	// a second subscriber for the same product waits on the pending open
	go func() {
		_, err := svc.SubscribeToUpdates(ctx, "slow", func(*Snapshot) {})
		slowDone <- err
	}()

	delivered := make(chan *Snapshot, 1)
	subscribed := make(chan error, 1)
	go func() {
		_, err := svc.SubscribeToUpdates(ctx, "fast", func(s *Snapshot) { delivered <- s })
		subscribed <- err
	}()
	select {
	case err := <-subscribed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe for another product blocked behind a pending open")
	}
	push(tr.countingTransport, "fast")
	select {
	case snap := <-delivered:
		assert.Equal(t, 2, snap.TotalAvailable)
	case <-time.After(time.Second):
		t.Fatal("push for another product not delivered during a pending open")
	}
	assert.Equal(t, 1, svc.ActiveChannels())
	require.Eventually(t, func() bool { return svc.SubscriptionCount("slow") == 2 }, time.Second, time.Millisecond)

	close(tr.release)
	for i := 0; i < 2; i++ {
		select {
		case err := <-slowDone:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("pending subscriber never released")
		}
	}
	assert.EqualValues(t, 2, tr.opens.Load())
	assert.Equal(t, 2, svc.SubscriptionCount("slow"))
	assert.Equal(t, 2, svc.ActiveChannels())

	push(tr.countingTransport, "slow")
	slowMu.Lock()
	defer slowMu.Unlock()
	assert.Equal(t, 1, slowCalls)
}

func TestFailedOpenReleasesWaiters(t *testing.T) {
	tr := &gatedTransport{
		countingTransport: newCountingTransport(),
		slow:              map[string]bool{"p1": true},
		release:           make(chan struct{}),
		entered:           make(chan string, 1),
	}
	tr.openErr = errors.New("subscribe refused")
	svc := newTestService(newStubFetcher(), tr, newFakeClock())
	ctx := context.Background()

	errs := make(chan error, 2)
	go func() {
		_, err := svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) {})
		errs <- err
	}()
	<-tr.entered
	go func() {
		_, err := svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) {})
		errs <- err
	}()
	require.Eventually(t, func() bool { return svc.SubscriptionCount("p1") == 2 }, time.Second, time.Millisecond)

	close(tr.release)
	for i := 0; i < 2; i++ {
		require.ErrorIs(t, <-errs, ErrLiveUpdatesUnavailable)
	}
	assert.Equal(t, 0, svc.SubscriptionCount("p1"))
	assert.Equal(t, 0, svc.ActiveChannels())
	assert.EqualValues(t, 1, tr.opens.Load())
}

func TestUnsubscribeDuringOpenClosesChannel(t *testing.T) {
	tr := &gatedTransport{
		countingTransport: newCountingTransport(),
		slow:              map[string]bool{"p1": true},
		release:           make(chan struct{}),
		entered:           make(chan string, 1),
	}
	svc := newTestService(newStubFetcher(), tr, newFakeClock())

	done := make(chan error, 1)
	go func() {
		_, err := svc.SubscribeToUpdates(context.Background(), "p1", func(*Snapshot) {})
		done <- err
	}()
	<-tr.entered
	svc.Unsubscribe("p1")
	close(tr.release)

	require.NoError(t, <-done)
	assert.Equal(t, 0, svc.ActiveChannels())
	assert.Equal(t, 0, tr.ChannelCount())
}

func TestUnsubscribeDropsAllCallbacks(t *testing.T) {
	f := newStubFetcher()
	tr := newCountingTransport()
	svc := newTestService(f, tr, newFakeClock())
	ctx := context.Background()

	calls := 0
	unsubA, _ := svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) { calls++ })
	_, _ = svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) { calls++ })

	svc.Unsubscribe("p1")
	assert.Equal(t, 0, tr.ChannelCount())
	assert.Equal(t, 0, svc.SubscriptionCount("p1"))
	push(tr, "p1")
	assert.Zero(t, calls)

	unsubA()
	svc.Unsubscribe("p1")

	_, _ = svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) { calls++ })
	push(tr, "p1")
	assert.Equal(t, 1, calls)
}

func TestConvenienceReads(t *testing.T) {
	f := newStubFetcher()
	f.set("p1", enums.SizeXL, 2, enums.StockStatusLowStock)
	f.set("p1", enums.SizeS, 4, enums.StockStatusInStock)
	f.set("p1", enums.SizeM, 0, enums.StockStatusSoldOut)
	f.set("p1", enums.SizeL, 0, enums.StockStatusInStock)
	svc := newTestService(f, nil, newFakeClock())
	ctx := context.Background()

	assert.True(t, svc.IsInStock(ctx, "p1", enums.SizeS))
	assert.False(t, svc.IsInStock(ctx, "p1", enums.SizeM))
	assert.False(t, svc.IsInStock(ctx, "p1", enums.SizeL))
	assert.False(t, svc.IsInStock(ctx, "p1", enums.SizeXS))

	assert.Equal(t, enums.StockStatusLowStock, svc.SizeStatus(ctx, "p1", enums.SizeXL))
	assert.Equal(t, enums.StockStatusSoldOut, svc.SizeStatus(ctx, "p1", enums.SizeXXL))

	assert.Equal(t, []enums.Size{enums.SizeS, enums.SizeXL}, svc.AvailableSizes(ctx, "p1"))
	assert.Equal(t, 1, f.count("p1"))
}

func TestConvenienceReadsDefaultOnError(t *testing.T) {
	f := newStubFetcher()
	f.fail(errors.New("down"))
	svc := newTestService(f, nil, newFakeClock())
	ctx := context.Background()

	assert.False(t, svc.IsInStock(ctx, "p1", enums.SizeM))
	assert.Equal(t, enums.StockStatusSoldOut, svc.SizeStatus(ctx, "p1", enums.SizeM))
	sizes := svc.AvailableSizes(ctx, "p1")
	assert.NotNil(t, sizes)
	assert.Empty(t, sizes)
}

func TestDestroyClosesEverything(t *testing.T) {
	f := newStubFetcher()
	tr := newCountingTransport()
	svc := newTestService(f, tr, newFakeClock())
	ctx := context.Background()

	_, _ = svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) {})
	_, _ = svc.SubscribeToUpdates(ctx, "p2", func(*Snapshot) {})
	_, _ = svc.FetchInventory(ctx, "p1")
	require.Equal(t, 2, tr.ChannelCount())

	require.NoError(t, svc.Destroy())
	assert.Equal(t, 0, tr.ChannelCount())
	assert.Equal(t, 0, svc.ActiveChannels())
	assert.False(t, svc.RealtimeAvailable())

	_, err := svc.FetchInventory(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("p1"), "cache was cleared")

	unsub, err := svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) {})
	require.ErrorIs(t, err, ErrLiveUpdatesUnavailable)
	unsub()
	assert.EqualValues(t, 2, tr.opens.Load())
}

func TestDestroyCombinesCloseErrors(t *testing.T) {
	tr := newCountingTransport()
	tr.closeErr = errors.New("close failed")
	svc := newTestService(newStubFetcher(), tr, newFakeClock())
	ctx := context.Background()

	_, _ = svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) {})
	_, _ = svc.SubscribeToUpdates(ctx, "p2", func(*Snapshot) {})

	err := svc.Destroy()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close p1")
	assert.Contains(t, err.Error(), "close p2")
}

func TestServiceRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewInventoryMetrics(reg)
	clock := newFakeClock()
	tr := newCountingTransport()
	svc := NewService(newStubFetcher(), tr, Options{Clock: clock.Now, Metrics: m})
	ctx := context.Background()

	_, _ = svc.FetchInventory(ctx, "p1")
	_, _ = svc.FetchInventory(ctx, "p1")
	unsub, _ := svc.SubscribeToUpdates(ctx, "p1", func(*Snapshot) {})
	push(tr, "p1")

	assert.Equal(t, float64(1), gatheredValue(t, reg, "inventory_cache_hits_total"))
	assert.Equal(t, float64(1), gatheredValue(t, reg, "inventory_cache_misses_total"))
	assert.Equal(t, float64(1), gatheredValue(t, reg, "inventory_channels_open"))
	assert.Equal(t, float64(1), gatheredValue(t, reg, "inventory_push_events_total"))
	count, err := testutil.GatherAndCount(reg, "inventory_fetch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	unsub()
	assert.Equal(t, float64(0), gatheredValue(t, reg, "inventory_channels_open"))
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}
