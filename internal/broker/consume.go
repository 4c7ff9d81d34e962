package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/joshu-sajeev/migrateq/common"
)

// Delivery is the metadata handed to a message handler alongside the raw
// payload.
type Delivery struct {
	CorrelationID string
	RoutingKey    string
	Redelivered   bool
	Priority      uint8
	Headers       amqp.Table
}

// Handler processes one delivery. Returning an error feeds the queue's retry
// policy; returning nil acknowledges the message.
type Handler func(ctx context.Context, payload []byte, meta Delivery) error

// ConsumeOptions bound the in-flight count and configure the retry
// algorithm for one consumer registration.
type ConsumeOptions struct {
	Prefetch             int
	Retry                bool
	MaxRetries           int
	RetryDelay           time.Duration
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	AutoAck              bool
}

// ConsumeOptionsFor derives consume options from a queue descriptor.
func ConsumeOptionsFor(desc QueueDescriptor) ConsumeOptions {
	return ConsumeOptions{
		Prefetch:             desc.Prefetch,
		Retry:                desc.Retry.Enabled,
		MaxRetries:           desc.Retry.MaxRetries,
		RetryDelay:           desc.Retry.RetryDelay,
		DeadLetterExchange:   desc.DeadLetterExchange,
		DeadLetterRoutingKey: desc.DeadLetterRoutingKey,
	}
}

// deliveryChannel is the slice of the AMQP channel the delivery path needs.
// Narrowed for testability.
type deliveryChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
}

// Consume registers a handler for a queue. The registration is remembered so
// it can be transparently re-established after a reconnection.
func (c *Client) Consume(queue string, handler Handler, opts ConsumeOptions) error {
	if handler == nil {
		return common.ValidationErrf("consume %s: handler is required", queue)
	}

	if err := c.startConsumer(queue, handler, opts); err != nil {
		return err
	}

	c.mu.Lock()
	c.consumers[queue] = consumerEntry{queue: queue, handler: handler, opts: opts}
	c.mu.Unlock()
	return nil
}

// CancelConsumer stops delivery for a queue and forgets the registration.
func (c *Client) CancelConsumer(queue string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.consumers[queue]
	if !ok {
		return common.NotFoundErrf("no consumer registered for queue %s", queue)
	}
	if entry.cancel != nil {
		entry.cancel()
	}
	delete(c.consumers, queue)

	if c.connected {
		if err := c.ch.Cancel(consumerTag(queue), false); err != nil {
			return fmt.Errorf("cancel consumer for %s: %w", queue, err)
		}
	}
	return nil
}

func consumerTag(queue string) string {
	return "migrateq-" + queue
}

func (c *Client) startConsumer(queue string, handler Handler, opts ConsumeOptions) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return common.BrokerUnavailableErrf("consume %s: not connected", queue)
	}
	ch := c.ch

	prefetch := opts.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.mu.Unlock()
		return common.BrokerUnavailableErrf("set prefetch for %s: %v", queue, err)
	}

	deliveries, err := ch.Consume(queue, consumerTag(queue), opts.AutoAck, false, false, false, nil)
	if err != nil {
		c.mu.Unlock()
		return common.BrokerUnavailableErrf("consume %s: %v", queue, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if entry, ok := c.consumers[queue]; ok {
		entry.cancel = cancel
		c.consumers[queue] = entry
	} else {
		c.consumers[queue] = consumerEntry{queue: queue, handler: handler, opts: opts, cancel: cancel}
	}
	c.mu.Unlock()

	go func() {
		for d := range deliveries {
			select {
			case <-ctx.Done():
				return
			default:
			}
			// Prefetch bounds how many of these run at once: the broker
			// withholds further deliveries until outstanding ones are acked.
			go c.handleDelivery(ctx, ch, queue, d, handler, opts)
		}
	}()

	c.log.Info("consumer registered", zap.String("queue", queue), zap.Int("prefetch", prefetch))
	return nil
}

func (c *Client) handleDelivery(ctx context.Context, ch deliveryChannel, queue string, d amqp.Delivery, handler Handler, opts ConsumeOptions) {
	meta := Delivery{
		CorrelationID: d.CorrelationId,
		RoutingKey:    d.RoutingKey,
		Redelivered:   d.Redelivered,
		Priority:      d.Priority,
		Headers:       d.Headers,
	}

	err := invokeHandler(ctx, handler, d.Body, meta)
	if err == nil {
		if !opts.AutoAck {
			if ackErr := ch.Ack(d.DeliveryTag, false); ackErr != nil {
				c.log.Error("ack failed", zap.String("queue", queue), zap.Error(ackErr))
			}
		}
		c.emit(Event{Type: EventMessageProcessed, Queue: queue, CorrelationID: d.CorrelationId})
		return
	}

	c.log.Warn("handler failed",
		zap.String("queue", queue),
		zap.String("correlation_id", d.CorrelationId),
		zap.Error(err))

	if opts.AutoAck {
		return
	}

	if !opts.Retry {
		if nackErr := ch.Nack(d.DeliveryTag, false, false); nackErr != nil {
			c.log.Error("nack failed", zap.String("queue", queue), zap.Error(nackErr))
		}
		c.emit(Event{Type: EventMessageDropped, Queue: queue, CorrelationID: d.CorrelationId, Err: err})
		return
	}

	outcome, attempt, resolveErr := resolveFailedDelivery(ctx, ch, queue, d, opts, err)
	if resolveErr != nil {
		c.log.Error("failed to resolve delivery failure",
			zap.String("queue", queue),
			zap.String("correlation_id", d.CorrelationId),
			zap.Error(resolveErr))
	}

	switch outcome {
	case outcomeRetried:
		c.emit(Event{Type: EventMessageRetried, Queue: queue, CorrelationID: d.CorrelationId, Attempt: attempt, Err: err})
	case outcomeDeadLettered:
		c.emit(Event{Type: EventMessageDeadLetter, Queue: queue, CorrelationID: d.CorrelationId, Attempt: attempt, Err: err})
	case outcomeDropped:
		c.emit(Event{Type: EventMessageDropped, Queue: queue, CorrelationID: d.CorrelationId, Attempt: attempt, Err: err})
	}
}

// invokeHandler converts a handler panic into a typed processing error so a
// faulty handler can never take down the consume loop.
func invokeHandler(ctx context.Context, handler Handler, payload []byte, meta Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.ProcessingErrf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload, meta)
}

type failureOutcome int

const (
	outcomeRetried failureOutcome = iota
	outcomeDeadLettered
	outcomeDropped
)

// resolveFailedDelivery applies the retry algorithm to a failed delivery.
//
// If the retry budget is not exhausted, the same payload is republished onto
// the originating queue through the default exchange with an incremented
// x-retries counter and a TTL equal to the retry delay; the original delivery
// is then acknowledged as superseded. Once the budget is exhausted the
// payload goes to the configured dead-letter exchange, tagged with the
// failure reason, and the original is acknowledged either way.
func resolveFailedDelivery(ctx context.Context, ch deliveryChannel, queue string, d amqp.Delivery, opts ConsumeOptions, cause error) (failureOutcome, int, error) {
	retries := retryCount(d.Headers)

	if retries < opts.MaxRetries {
		headers := cloneHeaders(d.Headers)
		headers["x-retries"] = int32(retries + 1)

		msg := amqp.Publishing{
			ContentType:   "application/json",
			Body:          d.Body,
			CorrelationId: d.CorrelationId,
			DeliveryMode:  amqp.Persistent,
			Headers:       headers,
			Expiration:    fmt.Sprintf("%d", opts.RetryDelay.Milliseconds()),
		}
		if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
			// Could not republish; nack so the broker's own dead-letter
			// routing takes over rather than silently losing the message.
			nackErr := ch.Nack(d.DeliveryTag, false, false)
			return outcomeDropped, retries, fmt.Errorf("republish retry: %w (nack: %v)", err, nackErr)
		}
		if err := ch.Ack(d.DeliveryTag, false); err != nil {
			return outcomeRetried, retries + 1, fmt.Errorf("ack superseded delivery: %w", err)
		}
		return outcomeRetried, retries + 1, nil
	}

	if opts.DeadLetterExchange != "" {
		headers := cloneHeaders(d.Headers)
		headers["x-retries"] = int32(retries)
		headers["x-death-reason"] = cause.Error()
		headers["x-death-timestamp"] = time.Now().UTC().Format(time.RFC3339)
		headers["x-original-routing-key"] = d.RoutingKey

		routingKey := opts.DeadLetterRoutingKey
		if routingKey == "" {
			routingKey = "failed." + queue
		}

		msg := amqp.Publishing{
			ContentType:   "application/json",
			Body:          d.Body,
			CorrelationId: d.CorrelationId,
			MessageId:     uuid.NewString(),
			DeliveryMode:  amqp.Persistent,
			Headers:       headers,
		}
		if err := ch.PublishWithContext(ctx, opts.DeadLetterExchange, routingKey, false, false, msg); err != nil {
			nackErr := ch.Nack(d.DeliveryTag, false, false)
			return outcomeDropped, retries, fmt.Errorf("publish to dead-letter exchange: %w (nack: %v)", err, nackErr)
		}
	}

	if err := ch.Ack(d.DeliveryTag, false); err != nil {
		return outcomeDeadLettered, retries, fmt.Errorf("ack exhausted delivery: %w", err)
	}
	if opts.DeadLetterExchange == "" {
		return outcomeDropped, retries, nil
	}
	return outcomeDeadLettered, retries, nil
}

// retryCount reads the x-retries counter from delivery headers, defaulting
// to zero.
func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers["x-retries"].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// DeathCount reads the broker-maintained x-death count from delivery
// headers; the dead-letter consumer uses it for its escalation policy.
func DeathCount(headers amqp.Table) int {
	if headers == nil {
		return 1
	}
	deaths, ok := headers["x-death"].([]any)
	if !ok || len(deaths) == 0 {
		// Messages republished by the retry algorithm carry x-retries
		// instead of a broker-stamped death record.
		if n := retryCount(headers); n > 0 {
			return n
		}
		return 1
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return 1
	}
	switch v := first["count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 1
	}
}

func cloneHeaders(headers amqp.Table) amqp.Table {
	out := amqp.Table{}
	for k, v := range headers {
		out[k] = v
	}
	return out
}
