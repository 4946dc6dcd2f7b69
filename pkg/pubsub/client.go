package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/hogansalley/storefront/pkg/config"
	"github.com/hogansalley/storefront/pkg/logger"
	"github.com/hogansalley/storefront/pkg/realtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	attrProductID = "product_id"
	attrTable     = "table"
	attrEventType = "event_type"

	defaultDeleteTimeout  = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	maxSubscriptionIDLen  = 255
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub inventory topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type subscriptionAdmin interface {
	create(ctx context.Context, name, topic, filter string) error
	delete(ctx context.Context, name string) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Client is a realtime transport over one Pub/Sub topic. Each open channel
// owns a filtered subscription that is deleted when the channel closes.
type Client struct {
	client        *pubsub.Client
	projectID     string
	cfg           config.PubSubConfig
	admin         subscriptionAdmin
	subscriber    func(fullName string) receiver
	logg          *logger.Logger
	deleteTimeout time.Duration

	pubOnce   sync.Once
	publisher *pubsub.Publisher
}

// NewClient creates a Pub/Sub v2 client and ensures the inventory topic exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.InventoryTopic) == "" {
		return nil, errTopicRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:        psClient,
		projectID:     gcp.ProjectID,
		cfg:           cfg,
		admin:         gcpAdmin{client: psClient},
		subscriber:    func(name string) receiver { return psClient.Subscriber(name) },
		logg:          logg,
		deleteTimeout: defaultDeleteTimeout,
	}

	if err := c.ensureTopicExists(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.InventoryTopic), "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) ensureTopicExists(ctx context.Context) error {
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
		Topic: c.topicResourceName(c.cfg.InventoryTopic),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", c.cfg.InventoryTopic)
		}
		return fmt.Errorf("checking topic %q: %w", c.cfg.InventoryTopic, err)
	}
	return nil
}

// Available reports whether channels can be opened.
func (c *Client) Available() bool {
	return c != nil && c.admin != nil && c.subscriber != nil
}

// Open creates a subscription filtered to f and streams its messages to h.
func (c *Client) Open(ctx context.Context, name string, f realtime.Filter, h realtime.Handler) (realtime.Channel, error) {
	if !c.Available() {
		return nil, errNotInitialized
	}
	if h == nil {
		return nil, errors.New("realtime handler is required")
	}

	fullName := c.subscriptionResourceName(subscriptionID(c.cfg.SubscriptionPrefix, f.Value))
	if err := c.admin.create(ctx, fullName, c.topicResourceName(c.cfg.InventoryTopic), FilterExpression(f)); err != nil {
		return nil, fmt.Errorf("creating subscription for %s: %w", name, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := &subscriptionChannel{
		name:         name,
		subscription: fullName,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go c.run(runCtx, ch, c.subscriber(fullName), f, h)
	return ch, nil
}

func (c *Client) run(ctx context.Context, ch *subscriptionChannel, recv receiver, f realtime.Filter, h realtime.Handler) {
	defer close(ch.done)

	err := recv.Receive(ctx, func(mctx context.Context, msg *pubsub.Message) {
		c.deliver(mctx, f, h, msg.Data, msg.Attributes)
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) && c.logg != nil {
		c.logg.Error(c.logg.WithField(ctx, "subscription", ch.subscription), "pubsub receive stopped", err)
	}

	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.deleteTimeout)
	defer cancel()
	if err := c.admin.delete(deleteCtx, ch.subscription); err != nil && c.logg != nil {
		c.logg.Warn(c.logg.WithFields(ctx, map[string]any{
			"subscription": ch.subscription,
			"error":        err.Error(),
		}), "failed to delete realtime subscription")
	}
}

// deliver decodes a message body into an Event, falling back to attributes
// for fields the body leaves empty.
func (c *Client) deliver(ctx context.Context, f realtime.Filter, h realtime.Handler, data []byte, attrs map[string]string) {
	evt, err := decodeEvent(data, attrs)
	if err != nil {
		if c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "dropping undecodable pubsub message")
		}
		return
	}
	if !f.Matches(evt) {
		return
	}
	h(ctx, evt)
}

func decodeEvent(data []byte, attrs map[string]string) (realtime.Event, error) {
	var evt realtime.Event
	if len(data) > 0 {
		if err := json.Unmarshal(data, &evt); err != nil {
			return realtime.Event{}, fmt.Errorf("decode event: %w", err)
		}
	}
	if evt.ProductID == "" {
		evt.ProductID = attrs[attrProductID]
	}
	if evt.Table == "" {
		evt.Table = attrs[attrTable]
	}
	if evt.Type == "" {
		evt.Type = attrs[attrEventType]
	}
	if evt.ProductID == "" {
		return realtime.Event{}, errors.New("event carries no product id")
	}
	return evt, nil
}

// Publish sends evt to the inventory topic with filterable attributes.
func (c *Client) Publish(ctx context.Context, evt realtime.Event) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	c.pubOnce.Do(func() {
		c.publisher = c.client.Publisher(c.topicResourceName(c.cfg.InventoryTopic))
	})

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode realtime event: %w", err)
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := c.publisher.Publish(publishCtx, &pubsub.Message{
		Data: body,
		Attributes: map[string]string{
			attrProductID: evt.ProductID,
			attrTable:     evt.Table,
			attrEventType: evt.Type,
		},
	})
	if _, err := result.Get(publishCtx); err != nil {
		return fmt.Errorf("publish inventory event: %w", err)
	}
	return nil
}

// Ping verifies Pub/Sub connectivity by checking the topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.ensureTopicExists(ctx)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.client.Close()
}

// FilterExpression renders f as a Pub/Sub subscription filter on message attributes.
func FilterExpression(f realtime.Filter) string {
	expr := fmt.Sprintf("attributes.%s = %s", f.Column, quote(f.Value))
	if f.Table != "" {
		expr += fmt.Sprintf(" AND attributes.%s = %s", attrTable, quote(f.Table))
	}
	return expr
}

func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// subscriptionID builds a unique, valid subscription id for one channel.
func subscriptionID(prefix, value string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "storefront"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	id := fmt.Sprintf("%s-%s-%s", prefix, sanitizeID(value), suffix)
	if len(id) > maxSubscriptionIDLen {
		id = id[:maxSubscriptionIDLen-len(suffix)-1] + "-" + suffix
	}
	return id
}

func sanitizeID(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("-_.~+", r):
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	return b.String()
}

func (c *Client) subscriptionResourceName(name string) string {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/subscriptions/") {
		return n
	}
	return fmt.Sprintf("projects/%s/subscriptions/%s", strings.TrimSpace(c.projectID), n)
}

func (c *Client) topicResourceName(name string) string {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	return fmt.Sprintf("projects/%s/topics/%s", strings.TrimSpace(c.projectID), n)
}

type subscriptionChannel struct {
	name         string
	subscription string
	cancel       context.CancelFunc
	done         chan struct{}
	once         sync.Once
}

// Close stops receiving. The subscription is deleted once the receive loop exits.
func (ch *subscriptionChannel) Close() error {
	ch.once.Do(ch.cancel)
	return nil
}

type gcpAdmin struct {
	client *pubsub.Client
}

func (a gcpAdmin) create(ctx context.Context, name, topic, filter string) error {
	_, err := a.client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:   name,
		Topic:  topic,
		Filter: filter,
	})
	return err
}

func (a gcpAdmin) delete(ctx context.Context, name string) error {
	err := a.client.SubscriptionAdminClient.DeleteSubscription(ctx, &pubsubpb.DeleteSubscriptionRequest{
		Subscription: name,
	})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}
