package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/joshu-sajeev/migrateq/common"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultReconnectMax   = 10
)

// QueueInfo is a read-only snapshot of a queue's depth and consumer count.
type QueueInfo struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// inspectChannel is the slice of the inspection channel QueueInfo needs.
type inspectChannel interface {
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Close() error
}

// PublishOptions carries per-message publish properties.
type PublishOptions struct {
	CorrelationID string
	Priority      uint8
	Persistent    bool
	Headers       amqp.Table
	Expiration    time.Duration
}

// Client owns one primary connection/channel for publish and consume, plus a
// second isolated connection used only for queue inspection so a management
// query can never stall the delivery channel.
type Client struct {
	url    string
	log    *zap.Logger
	events func(Event)

	reconnectDelay time.Duration
	reconnectMax   int

	mu          sync.Mutex
	conn        *amqp.Connection
	ch          *amqp.Channel
	inspectConn *amqp.Connection
	inspectCh   inspectChannel
	connected   bool
	closing     bool
	flowPaused  bool

	// Registered consumers, replayed after a reconnect.
	consumers map[string]consumerEntry

	// Queues this client has declared, for ListKnownQueues.
	declared map[string]struct{}
}

type consumerEntry struct {
	queue   string
	handler Handler
	opts    ConsumeOptions
	cancel  context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithEventHook registers a callback invoked for every observable broker
// event (retries, dead-letters, reconnects).
func WithEventHook(hook func(Event)) Option {
	return func(c *Client) { c.events = hook }
}

// WithReconnectPolicy overrides the reconnection attempt ceiling and the
// fixed interval between attempts.
func WithReconnectPolicy(maxAttempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.reconnectMax = maxAttempts
		c.reconnectDelay = delay
	}
}

func NewClient(url string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:            url,
		log:            log.Named("broker"),
		reconnectDelay: defaultReconnectDelay,
		reconnectMax:   defaultReconnectMax,
		consumers:      make(map[string]consumerEntry),
		declared:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes both connections and registers close handlers that
// drive the reconnection protocol. Calling Connect on a connected client is
// a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if err := c.dialLocked(); err != nil {
		return common.BrokerUnavailableErrf("connect to broker: %v", err)
	}
	c.emit(Event{Type: EventConnected})
	return nil
}

// dialLocked opens both connections and wires close notifications. Caller
// must hold c.mu.
func (c *Client) dialLocked() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial primary connection: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open primary channel: %w", err)
	}

	inspectConn, err := amqp.Dial(c.url)
	if err != nil {
		conn.Close()
		return fmt.Errorf("dial inspection connection: %w", err)
	}

	inspectCh, err := inspectConn.Channel()
	if err != nil {
		conn.Close()
		inspectConn.Close()
		return fmt.Errorf("open inspection channel: %w", err)
	}

	c.conn = conn
	c.ch = ch
	c.inspectConn = inspectConn
	c.inspectCh = inspectCh
	c.connected = true
	c.flowPaused = false

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watchConnection(closeCh)

	flowCh := ch.NotifyFlow(make(chan bool, 1))
	go c.watchFlow(flowCh)

	return nil
}

func (c *Client) watchFlow(flow <-chan bool) {
	for active := range flow {
		c.mu.Lock()
		c.flowPaused = !active
		c.mu.Unlock()
		if !active {
			c.log.Warn("broker paused publish flow")
		}
	}
}

// watchConnection reacts to an unexpected connection close by running the
// reconnect loop and replaying registered consumers.
func (c *Client) watchConnection(closeCh <-chan *amqp.Error) {
	amqpErr, ok := <-closeCh
	if !ok {
		// Channel closed without error: deliberate shutdown.
		return
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	c.log.Warn("broker connection lost", zap.Error(amqpErr))
	c.emit(Event{Type: EventConnectionLost, Err: amqpErr})

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.reconnectDelay),
		uint64(c.reconnectMax),
	)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closing {
			return nil
		}
		c.log.Info("attempting broker reconnect", zap.Int("attempt", attempt))
		return c.dialLocked()
	}, policy)

	if err != nil {
		c.log.Error("broker reconnect attempts exhausted", zap.Int("attempts", attempt), zap.Error(err))
		c.emit(Event{Type: EventReconnectExhausted, Attempt: attempt, Err: err})
		return
	}

	c.mu.Lock()
	closing := c.closing
	entries := make([]consumerEntry, 0, len(c.consumers))
	for _, e := range c.consumers {
		entries = append(entries, e)
	}
	c.mu.Unlock()
	if closing {
		return
	}

	// Replay every registered consumer so in-flight processing resumes
	// without operator intervention.
	for _, e := range entries {
		if err := c.startConsumer(e.queue, e.handler, e.opts); err != nil {
			c.log.Error("failed to restore consumer after reconnect",
				zap.String("queue", e.queue), zap.Error(err))
		}
	}

	c.log.Info("broker reconnected", zap.Int("consumers_restored", len(entries)))
	c.emit(Event{Type: EventReconnected, Attempt: attempt})
}

// DeclareTopicExchange declares a durable topic exchange.
func (c *Client) DeclareTopicExchange(desc ExchangeDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return common.BrokerUnavailableErrf("declare exchange %s: not connected", desc.Name)
	}

	kind := desc.Kind
	if kind == "" {
		kind = "topic"
	}
	if err := c.ch.ExchangeDeclare(desc.Name, kind, desc.Durable, false, false, false, nil); err != nil {
		return declareError("exchange", desc.Name, err)
	}
	return nil
}

// DeclareQueue declares a queue with the descriptor's dead-letter and
// priority arguments.
func (c *Client) DeclareQueue(desc QueueDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return common.BrokerUnavailableErrf("declare queue %s: not connected", desc.Name)
	}

	args := amqp.Table{}
	if desc.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = desc.DeadLetterExchange
	}
	if desc.DeadLetterRoutingKey != "" {
		args["x-dead-letter-routing-key"] = desc.DeadLetterRoutingKey
	}
	if desc.MaxPriority > 0 {
		args["x-max-priority"] = int32(desc.MaxPriority)
	}
	if len(args) == 0 {
		args = nil
	}

	if _, err := c.ch.QueueDeclare(desc.Name, desc.Durable, false, false, false, args); err != nil {
		return declareError("queue", desc.Name, err)
	}
	c.declared[desc.Name] = struct{}{}
	return nil
}

// BindQueue binds a queue to an exchange under a topic pattern.
func (c *Client) BindQueue(b Binding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return common.BrokerUnavailableErrf("bind queue %s: not connected", b.Queue)
	}
	if err := c.ch.QueueBind(b.Queue, b.Pattern, b.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s to %s (%s): %w", b.Queue, b.Exchange, b.Pattern, err)
	}
	return nil
}

// SetupTopology declares every registered exchange, queue, and binding. Any
// failure here is fatal at startup: infrastructure must exist before traffic
// flows.
func (c *Client) SetupTopology() error {
	for _, ex := range AllExchanges() {
		if err := c.DeclareTopicExchange(ex); err != nil {
			return err
		}
	}
	for _, q := range AllQueues() {
		if err := c.DeclareQueue(q); err != nil {
			return err
		}
	}
	for _, b := range AllBindings() {
		if err := c.BindQueue(b); err != nil {
			return err
		}
	}
	c.log.Info("queue topology declared",
		zap.Int("exchanges", len(AllExchanges())),
		zap.Int("queues", len(AllQueues())))
	return nil
}

// Publish serializes payload as JSON and publishes it. A correlation id and
// message id are generated when the caller did not supply one: unidentifiable
// messages are never published. The returned bool is a back-pressure signal;
// false means the broker paused flow and the caller should retry later.
func (c *Client) Publish(ctx context.Context, exchange, routingKey string, payload any, opts PublishOptions) (bool, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("marshal payload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false, common.BrokerUnavailableErrf("publish to %s: not connected", exchange)
	}
	if c.flowPaused {
		return false, nil
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	headers := amqp.Table{}
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if _, ok := headers["x-published-at"]; !ok {
		headers["x-published-at"] = time.Now().UTC().Format(time.RFC3339)
	}

	deliveryMode := amqp.Transient
	if opts.Persistent {
		deliveryMode = amqp.Persistent
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		CorrelationId: correlationID,
		MessageId:     uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		DeliveryMode:  deliveryMode,
		Priority:      opts.Priority,
		Headers:       headers,
	}
	if opts.Expiration > 0 {
		msg.Expiration = fmt.Sprintf("%d", opts.Expiration.Milliseconds())
	}

	if err := c.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return false, common.BrokerUnavailableErrf("publish to %s (%s): %v", exchange, routingKey, err)
	}
	return true, nil
}

// QueueInfo returns depth and consumer count for a queue. It runs on the
// isolated inspection connection exclusively.
func (c *Client) QueueInfo(name string) (QueueInfo, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return QueueInfo{}, common.BrokerUnavailableErrf("inspect queue %s: not connected", name)
	}
	ch := c.inspectCh
	conn := c.inspectConn
	c.mu.Unlock()

	// The passive declare is a network round-trip; it runs with c.mu released
	// so a slow management query can never stall publishing.
	q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		// A failed passive declare closes the channel; reopen it for the
		// next inspection.
		if conn != nil {
			if newCh, chErr := conn.Channel(); chErr == nil {
				c.mu.Lock()
				c.inspectCh = newCh
				c.mu.Unlock()
			}
		}
		var amqpErr *amqp.Error
		if errors.As(err, &amqpErr) && amqpErr.Code == amqp.NotFound {
			return QueueInfo{}, common.NotFoundErrf("queue %s does not exist", name)
		}
		return QueueInfo{}, declareError("queue", name, err)
	}
	return QueueInfo{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// ListKnownQueues returns the names of every queue this client has declared.
func (c *Client) ListKnownQueues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.declared))
	for name := range c.declared {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PurgeQueue drops all ready messages from a queue and returns how many were
// removed.
func (c *Client) PurgeQueue(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return 0, common.BrokerUnavailableErrf("purge queue %s: not connected", name)
	}
	n, err := c.ch.QueuePurge(name, false)
	if err != nil {
		return 0, fmt.Errorf("purge queue %s: %w", name, err)
	}
	return n, nil
}

// DeleteQueue removes a queue from the broker.
func (c *Client) DeleteQueue(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return common.BrokerUnavailableErrf("delete queue %s: not connected", name)
	}
	if _, err := c.ch.QueueDelete(name, false, false, false); err != nil {
		return fmt.Errorf("delete queue %s: %w", name, err)
	}
	delete(c.declared, name)
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close shuts down both connections gracefully and clears the consumer
// registry.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closing = true
	for _, e := range c.consumers {
		if e.cancel != nil {
			e.cancel()
		}
	}
	c.consumers = make(map[string]consumerEntry)

	var errs []error
	if c.ch != nil {
		if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if c.inspectCh != nil {
		c.inspectCh.Close()
	}
	if c.inspectConn != nil {
		c.inspectConn.Close()
	}
	c.connected = false

	if len(errs) > 0 {
		return fmt.Errorf("close broker client: %v", errs)
	}
	return nil
}

// declareError maps broker declare failures onto the error taxonomy. A 406
// means the declared properties conflict with existing broker state, which an
// operator must reconcile manually.
func declareError(kind, name string, err error) error {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) && amqpErr.Code == amqp.PreconditionFailed {
		return common.QueueConfigMismatchErrf("%s %s exists with conflicting properties: %s", kind, name, amqpErr.Reason)
	}
	return common.BrokerUnavailableErrf("declare %s %s: %v", kind, name, err)
}
