package logger

import (
	"context"
	"log/slog"
	"time"
)

// Lifecycle and routing event types logged by the core
const (
	EventBusStarted          = "eventbus_started"
	EventBusStopped          = "eventbus_stopped"
	EventPublished           = "event_published"
	EventNoSubscribers       = "event_no_subscribers"
	EventDeliveryFailed      = "event_delivery_failed"
	EventSubscriptionPaused  = "subscription_deactivated"
	EventSubscriptionResumed = "subscription_reactivated"
	EventRetrySucceeded      = "failed_event_retried"
	EventRetryExhausted      = "failed_event_dropped"
	EventBreakerStateChange  = "breaker_state_changed"
	EventErrorReported       = "error_reported"
	EventAlertTriggered      = "alert_triggered"
	EventMonitoringStarted   = "monitoring_started"
	EventMonitoringStopped   = "monitoring_stopped"
	EventAnalysisCompleted   = "rca_completed"
)

// EventLogger logs structured, machine-searchable events for one component
type EventLogger struct {
	logger *Logger
}

// NewEventLogger creates an event logger bound to base
func NewEventLogger(base *Logger) *EventLogger {
	return &EventLogger{logger: Or(base)}
}

// Logger returns the underlying logger
func (e *EventLogger) Logger() *Logger {
	return e.logger
}

// LogEvent logs eventType at info level with the given attributes
func (e *EventLogger) LogEvent(eventType string, attrs ...slog.Attr) {
	e.log(slog.LevelInfo, eventType, attrs)
}

// LogWarning logs eventType at warn level
func (e *EventLogger) LogWarning(eventType string, attrs ...slog.Attr) {
	e.log(slog.LevelWarn, eventType, attrs)
}

func (e *EventLogger) log(level slog.Level, eventType string, attrs []slog.Attr) {
	base := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	e.logger.LogAttrs(context.Background(), level, eventType, append(base, attrs...)...)
}
