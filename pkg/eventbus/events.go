// Package eventbus routes inter-agent events through per-destination circuit
// breakers, queues failed deliveries for retry and offers a direct
// point-to-point notification path.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the core itself
const (
	EventTypeAgentError     = "agent.error"
	EventTypeMonitorAlert   = "monitor.alert"
	EventTypeAnalysisReady  = "rca.completed"
	responseEventTypePrefix = "response:"
)

// Event is a routed message between agents
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Source        string         `json:"source,omitempty"`
	Target        string         `json:"target,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// NewEvent creates an event with a fresh id and timestamp
func NewEvent(eventType, source string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// String returns a short description for logs
func (e Event) String() string {
	return fmt.Sprintf("%s[%s] %s->%s", e.Type, e.ID, e.Source, e.Target)
}

// JSON encodes the event
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// ResponseType is the synthetic event type a request's response is published under
func ResponseType(requestID string) string {
	return responseEventTypePrefix + requestID
}

// Handler processes a delivered event
type Handler func(ctx context.Context, event Event) error

// Subscription registers a handler for one event type at one destination
type Subscription struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type"`
	Destination string    `json:"destination"`
	Priority    int       `json:"priority"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`

	handler Handler
}

// FailedEvent records a delivery that failed for reasons other than an open breaker
type FailedEvent struct {
	ID             string    `json:"id"`
	Event          Event     `json:"event"`
	Destination    string    `json:"destination"`
	SubscriptionID string    `json:"subscription_id"`
	Error          string    `json:"error"`
	FailedAt       time.Time `json:"failed_at"`
	LastAttempt    time.Time `json:"last_attempt"`
	RetryCount     int       `json:"retry_count"`
	MaxRetries     int       `json:"max_retries"`
}
