package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/armorclaw/agentcore/pkg/breaker"
	"github.com/armorclaw/agentcore/pkg/logger"
)

// requesterDestination receives every sendRequest response
const requesterDestination = "eventbus.requester"

// Config holds event bus configuration
type Config struct {
	Router         RouterConfig
	Notifier       NotifierConfig
	Breaker        breaker.Config
	MaxBreakers    int           // Maximum tracked destinations (default 1024)
	RetryInterval  time.Duration // Failed-event retry sweep period (default 60s)
	EvictInterval  time.Duration // Failed-event retention sweep period (default 1h)
	RequestTimeout time.Duration // Default sendRequest timeout (default 30s)
}

// DefaultConfig returns default event bus configuration
func DefaultConfig() Config {
	return Config{
		Router:         DefaultRouterConfig(),
		Notifier:       DefaultNotifierConfig(),
		Breaker:        breaker.DefaultConfig(),
		MaxBreakers:    1024,
		RetryInterval:  60 * time.Second,
		EvictInterval:  time.Hour,
		RequestTimeout: 30 * time.Second,
	}
}

// Stats is the bus snapshot exposed to operators
type Stats struct {
	Router   RouterStats                 `json:"router"`
	Notifier NotifierStats               `json:"notifier"`
	Breakers map[string]breaker.Snapshot `json:"breakers"`
}

// EventBus composes the router and the direct notification service
type EventBus struct {
	cfg      Config
	router   *Router
	notifier *Notifier
	breakers *breaker.Registry
	events   *logger.EventLogger
	log      *logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an event bus. Background sweeps run only after Start.
func New(cfg Config, log *logger.Logger) *EventBus {
	d := DefaultConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = d.RetryInterval
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = d.EvictInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}

	l := logger.Or(log).WithComponent("eventbus")
	events := logger.NewEventLogger(l)

	bcfg := cfg.Breaker
	userHook := bcfg.OnStateChange
	bcfg.OnStateChange = func(dest string, from, to breaker.State) {
		events.LogEvent(logger.EventBreakerStateChange,
			slog.String("destination", dest),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		if userHook != nil {
			userHook(dest, from, to)
		}
	}
	if bcfg.Clock == nil {
		bcfg.Clock = cfg.Router.Clock
	}
	breakers := breaker.NewRegistry(bcfg, cfg.MaxBreakers)

	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		cfg:      cfg,
		router:   NewRouter(cfg.Router, breakers, l),
		notifier: NewNotifier(cfg.Notifier, l),
		breakers: breakers,
		events:   events,
		log:      l,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the retry and retention sweeps
func (b *EventBus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return nil
	}
	b.started = true

	b.wg.Add(2)
	go b.sweepLoop(b.cfg.RetryInterval, func() {
		retried, dropped := b.router.RetryFailed(b.ctx)
		if retried > 0 || dropped > 0 {
			b.log.Info("failed event retry sweep", "retried", retried, "dropped", dropped)
		}
	})
	go b.sweepLoop(b.cfg.EvictInterval, func() { b.router.EvictExpired() })

	b.events.LogEvent(logger.EventBusStarted,
		slog.Duration("retry_interval", b.cfg.RetryInterval),
		slog.Duration("evict_interval", b.cfg.EvictInterval))
	return nil
}

func (b *EventBus) sweepLoop(interval time.Duration, sweep func()) {
	defer b.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// Stop halts background sweeps, rejects new work and closes endpoints
func (b *EventBus) Stop() {
	b.cancel()
	b.wg.Wait()
	b.router.Stop()
	b.notifier.Close()
	b.events.LogEvent(logger.EventBusStopped)
}

// Subscribe registers handler for eventType at destination
func (b *EventBus) Subscribe(eventType, destination string, handler Handler, priority int) (string, error) {
	return b.router.Subscribe(eventType, destination, handler, priority)
}

// Unsubscribe removes a subscription
func (b *EventBus) Unsubscribe(id string) bool {
	return b.router.Unsubscribe(id)
}

// Publish routes event to its subscribers
func (b *EventBus) Publish(ctx context.Context, event Event) error {
	return b.router.Publish(ctx, event)
}

// RegisterEndpoint binds a direct notification endpoint to destination
func (b *EventBus) RegisterEndpoint(destination string, ep Endpoint) error {
	return b.notifier.Register(destination, ep)
}

// UnregisterEndpoint removes a direct notification endpoint
func (b *EventBus) UnregisterEndpoint(destination string) bool {
	return b.notifier.Unregister(destination)
}

// NotifyAgent delivers event straight to destination's endpoint
func (b *EventBus) NotifyAgent(ctx context.Context, destination string, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return b.notifier.Notify(ctx, destination, event)
}

// DeliverWithFallback tries direct notification first and falls back to
// routed delivery when it fails.
func (b *EventBus) DeliverWithFallback(ctx context.Context, destination string, event Event) error {
	event.Target = destination
	err := b.NotifyAgent(ctx, destination, event)
	if err == nil {
		return nil
	}
	b.log.Debug("direct notification failed, publishing instead",
		"destination", destination, "event_type", event.Type, "error", err)
	return b.Publish(ctx, event)
}

// SendRequest publishes a request to destination and waits for the matching
// response, a timeout or ctx cancellation. The temporary response
// subscription is always removed.
func (b *EventBus) SendRequest(ctx context.Context, destination, eventType string, data map[string]any, timeout time.Duration) (Event, error) {
	if timeout <= 0 {
		timeout = b.cfg.RequestTimeout
	}
	requestID := uuid.NewString()
	replies := make(chan Event, 1)

	subID, err := b.router.Subscribe(ResponseType(requestID), requesterDestination, func(_ context.Context, ev Event) error {
		select {
		case replies <- ev:
		default:
		}
		return nil
	}, 0)
	if err != nil {
		requestsTotal.WithLabelValues("subscribe_failed").Inc()
		return Event{}, err
	}
	defer b.router.Unsubscribe(subID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	req := Event{
		ID:            requestID,
		Type:          eventType,
		Source:        requesterDestination,
		Target:        destination,
		Data:          data,
		Timestamp:     time.Now(),
		CorrelationID: requestID,
	}
	// Publish waits for every delivery, so it runs beside the wait below and
	// a slow responder cannot hold the caller past timeout.
	pubCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	published := make(chan error, 1)
	go func() { published <- b.router.Publish(pubCtx, req) }()

	for {
		select {
		case err := <-published:
			if err != nil {
				requestsTotal.WithLabelValues("publish_failed").Inc()
				return Event{}, err
			}
			published = nil
			continue
		case resp := <-replies:
			if reason, ok := resp.Data["error"].(string); ok && reason != "" {
				requestsTotal.WithLabelValues("rejected").Inc()
				return resp, errRequestRejected(destination, requestID, reason)
			}
			requestsTotal.WithLabelValues("ok").Inc()
			return resp, nil
		case <-timer.C:
			requestsTotal.WithLabelValues("timeout").Inc()
			return Event{}, errRequestTimeout(destination, requestID, timeout)
		case <-ctx.Done():
			requestsTotal.WithLabelValues("cancelled").Inc()
			return Event{}, errRequestCancelled(destination, requestID, ctx.Err())
		}
	}
}

// Respond publishes the response to a request received through SendRequest
func (b *EventBus) Respond(ctx context.Context, request Event, source string, data map[string]any) error {
	requestID := request.CorrelationID
	if requestID == "" {
		requestID = request.ID
	}
	return b.router.Publish(ctx, Event{
		Type:          ResponseType(requestID),
		Source:        source,
		Target:        request.Source,
		Data:          data,
		CorrelationID: requestID,
	})
}

// RespondError publishes an error response; SendRequest returns it as a
// communication error.
func (b *EventBus) RespondError(ctx context.Context, request Event, source string, cause error) error {
	return b.Respond(ctx, request, source, map[string]any{"error": cause.Error()})
}

// RetryFailed runs one retry sweep immediately
func (b *EventBus) RetryFailed(ctx context.Context) (retried, dropped int) {
	return b.router.RetryFailed(ctx)
}

// Stats returns router, notifier and breaker snapshots
func (b *EventBus) Stats() Stats {
	return Stats{
		Router:   b.router.Stats(),
		Notifier: b.notifier.Stats(),
		Breakers: b.breakers.Snapshots(),
	}
}

// Router exposes the underlying router
func (b *EventBus) Router() *Router {
	return b.router
}

// Notifier exposes the direct notification service
func (b *EventBus) Notifier() *Notifier {
	return b.notifier
}

// Breakers exposes the per-destination breaker registry
func (b *EventBus) Breakers() *breaker.Registry {
	return b.breakers
}
