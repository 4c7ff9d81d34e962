package broker

// EventType identifies an observable broker event.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventConnectionLost     EventType = "connection_lost"
	EventReconnected        EventType = "reconnected"
	EventReconnectExhausted EventType = "reconnect_exhausted"
	EventMessageProcessed   EventType = "message_processed"
	EventMessageRetried     EventType = "message_retried"
	EventMessageDeadLetter  EventType = "message_dead_lettered"
	EventMessageDropped     EventType = "message_dropped"
)

// Event is emitted through the client's event hook for every retry,
// permanent failure, and connection state change.
type Event struct {
	Type          EventType
	Queue         string
	CorrelationID string
	Attempt       int
	Err           error
}

func (c *Client) emit(e Event) {
	if c.events != nil {
		c.events(e)
	}
}
