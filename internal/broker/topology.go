package broker

import (
	"strings"
	"time"
)

// QueueType is the semantic role of a queue, independent of its broker name.
type QueueType string

const (
	QueueTypeProcessing QueueType = "processing"
	QueueTypePriority   QueueType = "priority"
	QueueTypeDeadLetter QueueType = "deadletter"
	QueueTypeRetry      QueueType = "retry"
	QueueTypeArchive    QueueType = "archive"
)

// Exchange and queue names. Every component resolves names through the
// registry below instead of hard-coding strings.
const (
	ExchangeMain       = "app.topic.exchange"
	ExchangeDeadLetter = "app.deadletter.exchange"

	QueueProcessing = "app.processing.queue"
	QueuePriority   = "app.priority.queue"
	QueueDeadLetter = "app.deadletter.queue"
	QueueRetry      = "app.retry.queue"
	QueueArchive    = "app.archive.queue"
)

// Routing keys used by publishers.
const (
	RouteBulkUpdate         = "process.bulkUpdate"
	RoutePriorityBulkUpdate = "priority.bulkUpdate"
	RouteArchive            = "archive.bulkData"
	RouteRetry              = "process.retry"

	RouteFailedProcessing = "failed.processing"
	RouteFailedArchive    = "failed.archive"
)

// RetryPolicy controls the consume-side retry algorithm for a queue.
type RetryPolicy struct {
	Enabled    bool
	MaxRetries int
	RetryDelay time.Duration
}

// QueueDescriptor is the static delivery contract of one queue.
type QueueDescriptor struct {
	Name        string
	Description string
	Type        QueueType
	Durable     bool
	Prefetch    int
	Retry       RetryPolicy

	// Optional queue-level dead-lettering, declared on the broker.
	DeadLetterExchange   string
	DeadLetterRoutingKey string

	// MaxPriority > 0 enables priority sorting on the queue.
	MaxPriority int
}

// ExchangeDescriptor is the static contract of one exchange.
type ExchangeDescriptor struct {
	Name    string
	Kind    string
	Durable bool
}

// Binding ties a queue to an exchange under a topic pattern.
type Binding struct {
	Queue    string
	Exchange string
	Pattern  string
}

var queues = []QueueDescriptor{
	{
		Name:        QueueProcessing,
		Description: "Main processing queue for batch operations",
		Type:        QueueTypeProcessing,
		Durable:     true,
		Prefetch:    1,
		Retry:       RetryPolicy{Enabled: true, MaxRetries: 3, RetryDelay: 10 * time.Second},
		DeadLetterExchange:   ExchangeDeadLetter,
		DeadLetterRoutingKey: RouteFailedProcessing,
	},
	{
		Name:        QueuePriority,
		Description: "Priority queue for urgent operations",
		Type:        QueueTypePriority,
		Durable:     true,
		Prefetch:    2,
		Retry:       RetryPolicy{Enabled: true, MaxRetries: 5, RetryDelay: 5 * time.Second},
		MaxPriority: 10,
	},
	{
		Name:        QueueDeadLetter,
		Description: "Dead letter queue for failed messages",
		Type:        QueueTypeDeadLetter,
		Durable:     true,
		Prefetch:    10,
	},
	{
		Name:        QueueRetry,
		Description: "Retry queue for failed messages awaiting retry",
		Type:        QueueTypeRetry,
		Durable:     true,
		Prefetch:    5,
		// Expired messages flow back into the main exchange for another
		// delivery attempt.
		DeadLetterExchange:   ExchangeMain,
		DeadLetterRoutingKey: RouteRetry,
	},
	{
		Name:        QueueArchive,
		Description: "Archive queue for bulk data migration operations",
		Type:        QueueTypeArchive,
		Durable:     true,
		Prefetch:    1,
		Retry:       RetryPolicy{Enabled: true, MaxRetries: 3, RetryDelay: 15 * time.Second},
		DeadLetterExchange:   ExchangeDeadLetter,
		DeadLetterRoutingKey: RouteFailedArchive,
	},
}

var exchanges = []ExchangeDescriptor{
	{Name: ExchangeMain, Kind: "topic", Durable: true},
	{Name: ExchangeDeadLetter, Kind: "topic", Durable: true},
}

var bindings = []Binding{
	{Queue: QueueProcessing, Exchange: ExchangeMain, Pattern: "process.*"},
	{Queue: QueuePriority, Exchange: ExchangeMain, Pattern: "priority.*"},
	{Queue: QueueArchive, Exchange: ExchangeMain, Pattern: "archive.*"},
	{Queue: QueueDeadLetter, Exchange: ExchangeDeadLetter, Pattern: "failed.*"},
}

// AllQueues returns the full queue registry.
func AllQueues() []QueueDescriptor {
	out := make([]QueueDescriptor, len(queues))
	copy(out, queues)
	return out
}

// AllQueueNames returns every registered queue name.
func AllQueueNames() []string {
	names := make([]string, len(queues))
	for i, q := range queues {
		names[i] = q.Name
	}
	return names
}

// QueueByName looks up a descriptor by its broker name.
func QueueByName(name string) (QueueDescriptor, bool) {
	for _, q := range queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueDescriptor{}, false
}

// QueueByType looks up a descriptor by semantic type.
func QueueByType(t QueueType) (QueueDescriptor, bool) {
	for _, q := range queues {
		if q.Type == t {
			return q, true
		}
	}
	return QueueDescriptor{}, false
}

// ConsumerManagedQueues returns the queues that get a dedicated consumer
// worker. The retry queue is excluded: it is an implementation detail of the
// client's retry algorithm and never consumed directly.
func ConsumerManagedQueues() []QueueDescriptor {
	out := make([]QueueDescriptor, 0, len(queues)-1)
	for _, q := range queues {
		if q.Type != QueueTypeRetry {
			out = append(out, q)
		}
	}
	return out
}

// IsValidQueueName reports whether name is a registered queue.
func IsValidQueueName(name string) bool {
	_, ok := QueueByName(name)
	return ok
}

// ValidQueueNames returns the registered names joined for error messages.
func ValidQueueNames() string {
	return strings.Join(AllQueueNames(), ", ")
}

// AllExchanges returns the exchange registry.
func AllExchanges() []ExchangeDescriptor {
	out := make([]ExchangeDescriptor, len(exchanges))
	copy(out, exchanges)
	return out
}

// AllBindings returns the queue/exchange bindings.
func AllBindings() []Binding {
	out := make([]Binding, len(bindings))
	copy(out, bindings)
	return out
}
