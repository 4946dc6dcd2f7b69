// Package realtime defines the push-notification contract the inventory layer
// subscribes through, plus an in-process broker.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const ColumnProductID = "product_id"

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Event is a row change delivered to a channel handler.
type Event struct {
	Table     string          `json:"table"`
	ProductID string          `json:"productId"`
	Type      string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ValidType reports whether t is one of the known event types.
func ValidType(t string) bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

// Filter scopes a channel to rows of Table whose Column equals Value.
type Filter struct {
	Table  string
	Column string
	Value  string
}

// ProductFilter builds the filter used for per-product inventory channels.
func ProductFilter(table, productID string) Filter {
	return Filter{Table: table, Column: ColumnProductID, Value: productID}
}

// String renders the filter in column=eq.value form.
func (f Filter) String() string {
	return fmt.Sprintf("%s=eq.%s", f.Column, f.Value)
}

// Matches reports whether evt falls inside the filter. Only product_id is
// carried on events, so other columns never match.
func (f Filter) Matches(evt Event) bool {
	if f.Table != "" && !strings.EqualFold(f.Table, evt.Table) {
		return false
	}
	switch f.Column {
	case "":
		return true
	case ColumnProductID:
		return f.Value == evt.ProductID
	default:
		return false
	}
}

// ChannelName derives a stable broker channel name from a prefix and filter.
func ChannelName(prefix string, f Filter) string {
	parts := make([]string, 0, 4)
	if p := strings.TrimSpace(prefix); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, f.Table, f.Column, f.Value)
	return strings.Join(parts, ":")
}

type Handler func(ctx context.Context, evt Event)

// Channel is an open subscription. Close stops delivery and is safe to call more than once.
type Channel interface {
	Close() error
}

// Transport opens filtered channels. Available reports false when the
// transport is not configured, in which case callers run without push updates.
type Transport interface {
	Available() bool
	Open(ctx context.Context, name string, f Filter, h Handler) (Channel, error)
}

// Publisher emits change events onto a transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Publisher returns a Publisher that delivers through the broker.
func (m *Memory) Publisher() Publisher {
	return PublisherFunc(func(ctx context.Context, evt Event) error {
		if !m.Available() {
			return ErrTransportClosed
		}
		m.Publish(ctx, evt)
		return nil
	})
}
