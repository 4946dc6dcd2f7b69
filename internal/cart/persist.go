package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hogansalley/storefront/pkg/enums"
)

// Snapshot is the persisted unit, stored as JSON under the storage key.
type Snapshot struct {
	Version   int        `json:"version"`
	Items     []LineItem `json:"items"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type lineKey struct {
	productID string
	size      enums.Size
}

// load restores the persisted snapshot. Anything unusable resets to an empty
// cart which is written back immediately. A failed read starts empty without
// overwriting what may still be stored.
func (s *Store) load(ctx context.Context) {
	now := s.opts.Clock()
	s.createdAt, s.updatedAt = now, now

	raw, ok, err := s.kv.Get(ctx, s.opts.StorageKey)
	if err != nil {
		s.logg.Error(ctx, "failed to read persisted cart", err)
		return
	}
	if !ok {
		return
	}

	items, createdAt, updatedAt, reason := s.decode(raw)
	if reason != "" {
		s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "discarding persisted cart")
		s.items = nil
		s.saveLocked(ctx)
		return
	}

	kept, dropped := s.sanitize(items)
	s.items = kept
	if !createdAt.IsZero() {
		s.createdAt = createdAt
	}
	if !updatedAt.IsZero() {
		s.updatedAt = updatedAt
	}
	if dropped > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "dropped_items", dropped), "pruned invalid cart items")
		s.saveLocked(ctx)
	}
}

// decode returns a non-empty reason when raw cannot be used at all.
func (s *Store) decode(raw string) ([]json.RawMessage, time.Time, time.Time, string) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return nil, time.Time{}, time.Time{}, "payload is not an object"
	}

	var version int
	if v, ok := obj["version"]; !ok || json.Unmarshal(v, &version) != nil {
		return nil, time.Time{}, time.Time{}, "version missing"
	}
	if version != s.opts.SchemaVersion {
		return nil, time.Time{}, time.Time{}, fmt.Sprintf("version %d does not match %d", version, s.opts.SchemaVersion)
	}

	var items []json.RawMessage
	if v, ok := obj["items"]; !ok || json.Unmarshal(v, &items) != nil || items == nil {
		return nil, time.Time{}, time.Time{}, "items is not an array"
	}

	return items, decodeTime(obj["createdAt"]), decodeTime(obj["updatedAt"]), ""
}

func decodeTime(raw json.RawMessage) time.Time {
	var t time.Time
	if len(raw) == 0 || json.Unmarshal(raw, &t) != nil {
		return time.Time{}
	}
	return t
}

// sanitize re-validates each stored line with the AddItem rules plus the
// quantity bounds. Invalid lines and repeated (productId, size) pairs are dropped.
func (s *Store) sanitize(raw []json.RawMessage) ([]LineItem, int) {
	kept := make([]LineItem, 0, len(raw))
	seen := make(map[lineKey]struct{}, len(raw))
	dropped := 0
	for _, r := range raw {
		var stored storedItem
		if err := json.Unmarshal(r, &stored); err != nil {
			dropped++
			continue
		}
		candidate := stored.Candidate.normalized()
		if candidate.check() != "" || stored.Quantity < MinQuantity || stored.Quantity > s.opts.MaxQuantity {
			dropped++
			continue
		}
		key := lineKey{productID: candidate.ProductID, size: candidate.Size}
		if _, dup := seen[key]; dup {
			dropped++
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, candidate.lineItem(stored.Quantity))
	}
	return kept, dropped
}

// saveLocked writes the current items. createdAt comes from the stored blob
// when readable. Write failures are logged and counted; callers notify
// listeners regardless. Requires s.mu.
//
// The in-memory cart has already changed by the time this runs, so the write
// is detached from ctx cancellation to keep storage in step with it.
func (s *Store) saveLocked(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	now := s.opts.Clock()
	createdAt := s.persistedCreatedAt(ctx)
	if createdAt.IsZero() {
		createdAt = s.createdAt
	}
	if createdAt.IsZero() {
		createdAt = now
	}

	snap := Snapshot{
		Version:   s.opts.SchemaVersion,
		Items:     cloneItems(s.items),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	s.createdAt, s.updatedAt = createdAt, now

	body, err := json.Marshal(snap)
	if err == nil {
		err = s.kv.Set(ctx, s.opts.StorageKey, string(body))
	}
	if err != nil {
		s.opts.Metrics.PersistFailure()
		s.logg.Error(ctx, "failed to persist cart", err)
	}
}

func (s *Store) persistedCreatedAt(ctx context.Context) time.Time {
	raw, ok, err := s.kv.Get(ctx, s.opts.StorageKey)
	if err != nil || !ok {
		return time.Time{}
	}
	var partial struct {
		CreatedAt json.RawMessage `json:"createdAt"`
	}
	if json.Unmarshal([]byte(raw), &partial) != nil {
		return time.Time{}
	}
	return decodeTime(partial.CreatedAt)
}
