package realtime

import (
	"context"
	"errors"
	"sync"
)

var ErrTransportClosed = errors.New("realtime transport closed")

// Memory is an in-process broker. Publish delivers synchronously on the caller's goroutine.
type Memory struct {
	mu       sync.RWMutex
	channels map[uint64]*memoryChannel
	nextID   uint64
	closed   bool
}

func NewMemory() *Memory {
	return &Memory{channels: map[uint64]*memoryChannel{}}
}

func (m *Memory) Available() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

func (m *Memory) Open(ctx context.Context, name string, f Filter, h Handler) (Channel, error) {
	if h == nil {
		return nil, errors.New("realtime handler is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrTransportClosed
	}
	m.nextID++
	ch := &memoryChannel{id: m.nextID, name: name, filter: f, handler: h, broker: m}
	m.channels[ch.id] = ch
	return ch, nil
}

// Publish hands evt to every open channel whose filter matches and returns the
// number of channels that received it.
func (m *Memory) Publish(ctx context.Context, evt Event) int {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.RLock()
	targets := make([]*memoryChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.filter.Matches(evt) {
			targets = append(targets, ch)
		}
	}
	m.mu.RUnlock()

	for _, ch := range targets {
		ch.handler(ctx, evt)
	}
	return len(targets)
}

// ChannelCount returns the number of open channels.
func (m *Memory) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Close drops every channel and rejects further opens.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.channels = map[uint64]*memoryChannel{}
	return nil
}

func (m *Memory) remove(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, id)
}

type memoryChannel struct {
	id      uint64
	name    string
	filter  Filter
	handler Handler
	broker  *Memory
	once    sync.Once
}

func (c *memoryChannel) Close() error {
	c.once.Do(func() {
		c.broker.remove(c.id)
	})
	return nil
}
