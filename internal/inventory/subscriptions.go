package inventory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pkgerrors "github.com/hogansalley/storefront/pkg/errors"
	"github.com/hogansalley/storefront/pkg/realtime"
	"go.uber.org/multierr"
)

// Callback receives a fresh snapshot after each change event for its product.
type Callback func(*Snapshot)

type callbackEntry struct {
	token uint64
	fn    Callback
}

// ErrLiveUpdatesUnavailable is returned with a no-op unsubscribe when no
// channel could be opened. Reads keep working; callers should treat the
// subscription as degraded rather than failed.
var ErrLiveUpdatesUnavailable = pkgerrors.New(pkgerrors.CodeUnavailable, "live inventory updates unavailable")

// subscription is the shared record for one product id. channel, callbacks
// and closed are guarded by Service.smu. ready is closed once the upstream
// open has finished, after which openErr is immutable.
type subscription struct {
	productID string
	channel   realtime.Channel
	callbacks []callbackEntry
	closed    bool

	ready   chan struct{}
	openErr error

	events sync.Mutex
}

func noop() {}

// SubscribeToUpdates registers cb for change events on productID. The first
// subscriber for an id opens the upstream channel; later ones wait for that
// open and share it. When no transport is available, or the open fails, cb
// is never called and a no-op unsubscribe is returned together with
// ErrLiveUpdatesUnavailable.
func (s *Service) SubscribeToUpdates(ctx context.Context, productID string, cb Callback) (func(), error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return noop, pkgerrors.New(pkgerrors.CodeValidation, "productId is required")
	}
	if cb == nil {
		return noop, pkgerrors.New(pkgerrors.CodeValidation, "callback is required")
	}
	ctx = s.logCtx(ctx, id)

	s.smu.Lock()
	transport := s.transport
	if transport == nil || !transport.Available() {
		s.smu.Unlock()
		s.logg.Warn(ctx, "realtime transport unavailable; live inventory updates disabled")
		return noop, ErrLiveUpdatesUnavailable
	}
	rec, ok := s.subs[id]
	if !ok {
		rec = &subscription{productID: id, ready: make(chan struct{})}
		s.subs[id] = rec
	}
	s.nextToken++
	token := s.nextToken
	rec.callbacks = append(rec.callbacks, callbackEntry{token: token, fn: cb})
	s.smu.Unlock()

	if !ok {
		s.open(ctx, transport, rec)
	}

	select {
	case <-rec.ready:
	case <-ctx.Done():
		s.removeCallback(rec, token)
		return noop, ctx.Err()
	}
	if rec.openErr != nil {
		return noop, ErrLiveUpdatesUnavailable
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.removeCallback(rec, token) })
	}, nil
}

// open runs outside s.smu so a slow upstream only stalls subscribers of the
// same product.
func (s *Service) open(ctx context.Context, transport realtime.Transport, rec *subscription) {
	openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OpenTimeout)
	defer cancel()
	filter := realtime.ProductFilter(s.opts.Table, rec.productID)
	ch, err := transport.Open(openCtx, "inventory:"+rec.productID, filter, s.eventHandler(rec))

	s.smu.Lock()
	if err != nil {
		rec.openErr = err
		s.detachLocked(rec)
		s.smu.Unlock()
		close(rec.ready)
		s.logg.Error(ctx, "failed to open inventory channel", err)
		return
	}
	abandoned := rec.closed
	if !abandoned {
		rec.channel = ch
		s.opts.Metrics.ChannelOpened()
	}
	s.smu.Unlock()
	close(rec.ready)

	if abandoned {
		// every subscriber left, or the service was destroyed, while opening
		if err := ch.Close(); err != nil {
			s.logg.Error(ctx, "failed to close abandoned inventory channel", err)
		}
		return
	}
	s.logg.Debug(ctx, "inventory channel opened")
}

func (s *Service) removeCallback(rec *subscription, token uint64) {
	s.smu.Lock()
	for i, entry := range rec.callbacks {
		if entry.token == token {
			rec.callbacks = append(rec.callbacks[:i:i], rec.callbacks[i+1:]...)
			break
		}
	}
	if rec.closed || len(rec.callbacks) > 0 {
		s.smu.Unlock()
		return
	}
	s.detachLocked(rec)
	s.smu.Unlock()

	s.closeChannel(rec)
}

// Unsubscribe drops every callback for productID and closes its channel.
func (s *Service) Unsubscribe(productID string) {
	id := strings.TrimSpace(productID)
	s.smu.Lock()
	rec, ok := s.subs[id]
	if !ok {
		s.smu.Unlock()
		return
	}
	s.detachLocked(rec)
	s.smu.Unlock()

	s.closeChannel(rec)
}

// detachLocked requires s.smu.
func (s *Service) detachLocked(rec *subscription) {
	rec.closed = true
	rec.callbacks = nil
	if s.subs[rec.productID] == rec {
		delete(s.subs, rec.productID)
	}
}

// closeChannel closes rec's channel if it was ever opened. A record still
// opening has no channel yet; open closes it once it sees rec.closed.
func (s *Service) closeChannel(rec *subscription) error {
	s.smu.Lock()
	ch := rec.channel
	rec.channel = nil
	s.smu.Unlock()
	if ch == nil {
		return nil
	}

	ctx := s.logCtx(context.Background(), rec.productID)
	s.opts.Metrics.ChannelClosed()
	if err := ch.Close(); err != nil {
		s.logg.Error(ctx, "failed to close inventory channel", err)
		return fmt.Errorf("close %s: %w", rec.productID, err)
	}
	s.logg.Debug(ctx, "inventory channel closed")
	return nil
}

func (s *Service) eventHandler(rec *subscription) realtime.Handler {
	return func(ctx context.Context, evt realtime.Event) {
		s.handleEvent(ctx, rec, evt)
	}
}

// handleEvent invalidates, refetches and fans out. Events for one product
// are handled one at a time.
func (s *Service) handleEvent(ctx context.Context, rec *subscription, evt realtime.Event) {
	ctx = s.logg.WithField(s.logCtx(ctx, rec.productID), "event_type", evt.Type)
	s.opts.Metrics.PushEvent()

	<-rec.ready
	rec.events.Lock()
	defer rec.events.Unlock()

	if _, live := s.callbacksOf(rec); !live {
		return
	}

	s.InvalidateCache(rec.productID)
	snap, err := s.FetchInventory(ctx, rec.productID, SkipCache())
	if err != nil {
		s.logg.Error(ctx, "failed to refresh inventory after change event", err)
		return
	}

	callbacks, _ := s.callbacksOf(rec)
	for _, entry := range callbacks {
		s.dispatch(ctx, entry, snap.clone())
	}
}

func (s *Service) callbacksOf(rec *subscription) ([]callbackEntry, bool) {
	s.smu.Lock()
	defer s.smu.Unlock()
	if rec.closed {
		return nil, false
	}
	out := make([]callbackEntry, len(rec.callbacks))
	copy(out, rec.callbacks)
	return out, true
}

func (s *Service) dispatch(ctx context.Context, entry callbackEntry, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			s.logg.Error(ctx, "inventory callback panicked", fmt.Errorf("callback %d: %v", entry.token, r))
		}
	}()
	entry.fn(snap)
}

// SubscriptionCount is the number of callbacks registered for productID.
func (s *Service) SubscriptionCount(productID string) int {
	s.smu.Lock()
	defer s.smu.Unlock()
	if rec, ok := s.subs[strings.TrimSpace(productID)]; ok {
		return len(rec.callbacks)
	}
	return 0
}

// ActiveChannels is the number of open upstream channels. Channels still
// being opened are not counted.
func (s *Service) ActiveChannels() int {
	s.smu.Lock()
	defer s.smu.Unlock()
	n := 0
	for _, rec := range s.subs {
		if rec.channel != nil {
			n++
		}
	}
	return n
}

// RealtimeAvailable reports whether subscriptions will receive pushes.
func (s *Service) RealtimeAvailable() bool {
	s.smu.Lock()
	defer s.smu.Unlock()
	return s.transport != nil && s.transport.Available()
}

// Destroy closes every channel, clears the cache and drops the transport.
// Reads keep working afterwards; new subscriptions run degraded.
func (s *Service) Destroy() error {
	s.smu.Lock()
	recs := make([]*subscription, 0, len(s.subs))
	for _, rec := range s.subs {
		recs = append(recs, rec)
	}
	for _, rec := range recs {
		s.detachLocked(rec)
	}
	s.transport = nil
	s.smu.Unlock()

	var err error
	for _, rec := range recs {
		err = multierr.Append(err, s.closeChannel(rec))
	}
	s.ClearCache()
	return err
}
