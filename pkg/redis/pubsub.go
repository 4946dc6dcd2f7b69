package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/realtime"
	"github.com/redis/go-redis/v9"
)

// Available reports whether the client can open pub/sub channels.
func (c *Client) Available() bool {
	return c != nil && c.sub != nil
}

// ChannelName returns the pub/sub channel a filter maps onto.
func (c *Client) ChannelName(f realtime.Filter) string {
	return realtime.ChannelName(c.channelPrefix, f)
}

// Publish broadcasts evt on the channel of its product.
func (c *Client) Publish(ctx context.Context, evt realtime.Event) error {
	if c == nil || c.store == nil {
		return errNotInitialized
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode realtime event: %w", err)
	}
	channel := c.ChannelName(realtime.ProductFilter(evt.Table, evt.ProductID))
	return c.store.Publish(ctx, channel, body).Err()
}

// Open subscribes to the channel for f and delivers decoded events to h on a
// dedicated goroutine until the returned channel is closed.
func (c *Client) Open(ctx context.Context, name string, f realtime.Filter, h realtime.Handler) (realtime.Channel, error) {
	if !c.Available() {
		return nil, errNotInitialized
	}
	if h == nil {
		return nil, errors.New("realtime handler is required")
	}

	channel := c.ChannelName(f)
	ps := c.sub.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := &pubsubChannel{
		name:    name,
		channel: channel,
		filter:  f,
		ps:      ps,
		logg:    c.logg,
	}
	go ch.run(context.WithoutCancel(ctx), ps.Channel(), h)
	return ch, nil
}

type pubsubChannel struct {
	name    string
	channel string
	filter  realtime.Filter
	ps      *redis.PubSub
	logg    *logger.Logger

	once sync.Once
	err  error
}

func (ch *pubsubChannel) run(ctx context.Context, msgs <-chan *redis.Message, h realtime.Handler) {
	for msg := range msgs {
		var evt realtime.Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			if ch.logg != nil {
				ch.logg.Warn(ch.logg.WithFields(ctx, map[string]any{
					"channel": ch.channel,
					"error":   err.Error(),
				}), "dropping undecodable realtime message")
			}
			continue
		}
		if !ch.filter.Matches(evt) {
			continue
		}
		h(ctx, evt)
	}
}

// Close unsubscribes. It does not wait for an in-flight handler, so a handler
// may close its own channel.
func (ch *pubsubChannel) Close() error {
	ch.once.Do(func() {
		ch.err = ch.ps.Close()
	})
	return ch.err
}
