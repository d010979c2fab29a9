package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/armorclaw/agentcore/pkg/breaker"
	"github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/logger"
)

// RouterConfig holds router configuration
type RouterConfig struct {
	MaxSubscriptions int           // Maximum registered subscriptions (default 10000)
	MaxFailedEvents  int           // Failed-event history cap, oldest evicted (default 1000)
	MaxRetries       int           // Retry attempts per failed event (default 3)
	MinRetryAge      time.Duration // Minimum age before a retry (default 60s)
	FailedEventTTL   time.Duration // Retention ceiling regardless of retries (default 24h)
	ReactivateAfter  time.Duration // Cool-down for breaker-deactivated subscriptions (default 5m)
	RetryConcurrency int           // Parallel retries per sweep (default 8)
	Clock            func() time.Time
}

// DefaultRouterConfig returns default router configuration
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		MaxSubscriptions: 10000,
		MaxFailedEvents:  1000,
		MaxRetries:       3,
		MinRetryAge:      60 * time.Second,
		FailedEventTTL:   24 * time.Hour,
		ReactivateAfter:  5 * time.Minute,
		RetryConcurrency: 8,
	}
}

func (c RouterConfig) withDefaults() RouterConfig {
	d := DefaultRouterConfig()
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = d.MaxSubscriptions
	}
	if c.MaxFailedEvents <= 0 {
		c.MaxFailedEvents = d.MaxFailedEvents
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MinRetryAge <= 0 {
		c.MinRetryAge = d.MinRetryAge
	}
	if c.FailedEventTTL <= 0 {
		c.FailedEventTTL = d.FailedEventTTL
	}
	if c.ReactivateAfter <= 0 {
		c.ReactivateAfter = d.ReactivateAfter
	}
	if c.RetryConcurrency <= 0 {
		c.RetryConcurrency = d.RetryConcurrency
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// RouterStats summarizes router state
type RouterStats struct {
	Subscriptions       int            `json:"subscriptions"`
	ActiveSubscriptions int            `json:"active_subscriptions"`
	EventTypes          map[string]int `json:"event_types"`
	FailedEventsCount   int            `json:"failed_events_count"`
}

// Router owns the subscription table, delivery fan-out and failed-event queue
type Router struct {
	cfg      RouterConfig
	breakers *breaker.Registry
	log      *logger.Logger
	events   *logger.EventLogger

	mu            sync.RWMutex
	byType        map[string][]*Subscription
	byID          map[string]*Subscription
	reactivations map[string]*time.Timer
	stopped       bool

	// fmu guards the mutable fields of queued FailedEvents
	fmu     sync.Mutex
	failed  *errors.Ring[*FailedEvent]
	retryMu sync.Mutex
}

// NewRouter creates a router delivering through breakers
func NewRouter(cfg RouterConfig, breakers *breaker.Registry, log *logger.Logger) *Router {
	cfg = cfg.withDefaults()
	l := logger.Or(log).WithComponent("eventbus.router")
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultConfig(), 0)
	}
	return &Router{
		cfg:           cfg,
		breakers:      breakers,
		log:           l,
		events:        logger.NewEventLogger(l),
		byType:        make(map[string][]*Subscription),
		byID:          make(map[string]*Subscription),
		reactivations: make(map[string]*time.Timer),
		failed:        errors.NewRing[*FailedEvent](cfg.MaxFailedEvents),
	}
}

// Subscribe registers handler for eventType at destination. Higher priority
// subscriptions are ordered first.
func (r *Router) Subscribe(eventType, destination string, handler Handler, priority int) (string, error) {
	if eventType == "" {
		return "", errInvalidEvent("subscription without event type")
	}
	if handler == nil {
		return "", errInvalidEvent("subscription without handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return "", errStopped("subscribe")
	}
	if len(r.byID) >= r.cfg.MaxSubscriptions {
		return "", errSubscriptionLimit(r.cfg.MaxSubscriptions)
	}

	sub := &Subscription{
		ID:          uuid.NewString(),
		EventType:   eventType,
		Destination: destination,
		Priority:    priority,
		Active:      true,
		CreatedAt:   r.cfg.Clock(),
		handler:     handler,
	}

	subs := append(r.byType[eventType], sub)
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Priority > subs[j].Priority })
	r.byType[eventType] = subs
	r.byID[sub.ID] = sub
	subscriptionsGauge.Set(float64(len(r.byID)))

	return sub.ID, nil
}

// Unsubscribe removes a subscription and reports whether it existed
func (r *Router) Unsubscribe(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)

	subs := r.byType[sub.EventType]
	for i, s := range subs {
		if s.ID == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(r.byType, sub.EventType)
	} else {
		r.byType[sub.EventType] = subs
	}

	if t, ok := r.reactivations[id]; ok {
		t.Stop()
		delete(r.reactivations, id)
	}
	subscriptionsGauge.Set(float64(len(r.byID)))
	return true
}

// Subscriptions returns copies of the subscriptions for eventType in priority order
func (r *Router) Subscriptions(eventType string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byType[eventType]
	out := make([]Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, *s)
	}
	return out
}

// delivery is an immutable view of a subscription taken at publish time
type delivery struct {
	subscriptionID string
	destination    string
	handler        Handler
}

func (r *Router) activeDeliveries(eventType string) ([]delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return nil, errStopped("publish")
	}
	var out []delivery
	for _, s := range r.byType[eventType] {
		if s.Active {
			out = append(out, delivery{subscriptionID: s.ID, destination: s.Destination, handler: s.handler})
		}
	}
	return out, nil
}

// Publish delivers event to every active subscription for its type. Deliveries
// run concurrently; one destination's failure never affects another or the
// returned error.
func (r *Router) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errInvalidEvent("event without type")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.cfg.Clock()
	}

	targets, err := r.activeDeliveries(event.Type)
	if err != nil {
		return err
	}
	eventsPublished.WithLabelValues(event.Type).Inc()

	if len(targets) == 0 {
		r.log.Debug("no active subscribers", "event_type", event.Type, "event_id", event.ID)
		return nil
	}

	var wg sync.WaitGroup
	for _, d := range targets {
		wg.Add(1)
		go func(d delivery) {
			defer wg.Done()
			r.deliver(ctx, event, d)
		}(d)
	}
	wg.Wait()

	r.events.LogEvent(logger.EventPublished,
		slog.String("event_id", event.ID),
		slog.String("event_kind", event.Type),
		slog.Int("deliveries", len(targets)))
	return nil
}

func (r *Router) deliver(ctx context.Context, event Event, d delivery) {
	err := r.invoke(ctx, event, d)
	switch {
	case err == nil:
		deliveries.WithLabelValues(d.destination, "delivered").Inc()
	case errors.Is(err, breaker.ErrOpen):
		deliveries.WithLabelValues(d.destination, "breaker_open").Inc()
		r.deactivate(d.subscriptionID)
	default:
		deliveries.WithLabelValues(d.destination, "failed").Inc()
		r.recordFailure(event, d, err)
	}
}

// invoke runs the handler through the destination's breaker, converting panics to errors
func (r *Router) invoke(ctx context.Context, event Event, d delivery) error {
	cb, err := r.breakers.Get(d.destination)
	if err != nil {
		return err
	}
	return cb.Execute(ctx, func(ctx context.Context) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = errors.NewBuilder(errors.KindSystem).
					Origin(d.destination).
					Messagef("handler panic: %v", p).
					Build()
			}
		}()
		return d.handler(ctx, event)
	})
}

// deactivate pauses a subscription and schedules its reactivation
func (r *Router) deactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok || !sub.Active || r.stopped {
		return
	}
	sub.Active = false
	r.reactivations[id] = time.AfterFunc(r.cfg.ReactivateAfter, func() { r.reactivate(id) })

	r.events.LogWarning(logger.EventSubscriptionPaused,
		slog.String("subscription_id", id),
		slog.String("destination", sub.Destination),
		slog.Duration("reactivate_after", r.cfg.ReactivateAfter))
}

func (r *Router) reactivate(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.reactivations, id)
	sub, ok := r.byID[id]
	if !ok || r.stopped {
		return
	}
	sub.Active = true
	r.events.LogEvent(logger.EventSubscriptionResumed,
		slog.String("subscription_id", id),
		slog.String("destination", sub.Destination))
}

func (r *Router) recordFailure(event Event, d delivery, err error) {
	now := r.cfg.Clock()
	fe := &FailedEvent{
		ID:             uuid.NewString(),
		Event:          event,
		Destination:    d.destination,
		SubscriptionID: d.subscriptionID,
		Error:          err.Error(),
		FailedAt:       now,
		LastAttempt:    now,
		MaxRetries:     r.cfg.MaxRetries,
	}

	r.fmu.Lock()
	evicted := r.failed.Add(fe)
	r.fmu.Unlock()
	if evicted {
		failedDropped.WithLabelValues("evicted").Inc()
	}
	failedBacklog.Set(float64(r.failed.Len()))

	r.log.ErrorEvent(context.Background(), "event delivery failed", err,
		slog.String("event_id", event.ID),
		slog.String("event_kind", event.Type),
		slog.String("destination", d.destination))
}

// RetryFailed retries failed events that are old enough and still have
// attempts left. It returns how many were delivered and how many dropped.
func (r *Router) RetryFailed(ctx context.Context) (retried, dropped int) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()

	now := r.cfg.Clock()
	var due []*FailedEvent
	r.fmu.Lock()
	for _, fe := range r.failed.All() {
		if fe.RetryCount < fe.MaxRetries && now.Sub(fe.LastAttempt) >= r.cfg.MinRetryAge {
			due = append(due, fe)
		}
	}
	r.fmu.Unlock()
	if len(due) == 0 {
		return 0, 0
	}

	var mu sync.Mutex
	remove := make(map[string]bool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.RetryConcurrency)

	for _, fe := range due {
		fe := fe
		g.Go(func() error {
			outcome := r.retryOne(gctx, fe, now)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case retryDelivered:
				remove[fe.ID] = true
				retried++
			case retryDropped:
				remove[fe.ID] = true
				dropped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(remove) > 0 {
		r.fmu.Lock()
		r.failed.RemoveFunc(func(fe *FailedEvent) bool { return remove[fe.ID] })
		r.fmu.Unlock()
	}
	failedBacklog.Set(float64(r.failed.Len()))
	return retried, dropped
}

type retryOutcome int

const (
	retryKept retryOutcome = iota
	retryDelivered
	retryDropped
)

func (r *Router) retryOne(ctx context.Context, fe *FailedEvent, now time.Time) retryOutcome {
	r.mu.RLock()
	sub, ok := r.byID[fe.SubscriptionID]
	var d delivery
	active := false
	if ok {
		d = delivery{subscriptionID: sub.ID, destination: sub.Destination, handler: sub.handler}
		active = sub.Active
	}
	r.mu.RUnlock()

	if !ok {
		failedDropped.WithLabelValues("orphaned").Inc()
		return retryDropped
	}
	if !active {
		return retryKept
	}

	err := r.invoke(ctx, fe.Event, d)
	if err == nil {
		retryAttempts.WithLabelValues("delivered").Inc()
		r.events.LogEvent(logger.EventRetrySucceeded,
			slog.String("event_id", fe.Event.ID),
			slog.String("destination", fe.Destination))
		return retryDelivered
	}
	if errors.Is(err, breaker.ErrOpen) {
		retryAttempts.WithLabelValues("breaker_open").Inc()
		return retryKept
	}

	retryAttempts.WithLabelValues("failed").Inc()
	r.fmu.Lock()
	fe.RetryCount++
	fe.LastAttempt = now
	fe.Error = err.Error()
	exhausted := fe.RetryCount >= fe.MaxRetries
	r.fmu.Unlock()

	if exhausted {
		failedDropped.WithLabelValues("exhausted").Inc()
		r.events.LogWarning(logger.EventRetryExhausted,
			slog.String("event_id", fe.Event.ID),
			slog.String("destination", fe.Destination),
			slog.Int("retries", fe.MaxRetries))
		return retryDropped
	}
	return retryKept
}

// EvictExpired drops failed events older than the retention ceiling
func (r *Router) EvictExpired() int {
	cutoff := r.cfg.Clock().Add(-r.cfg.FailedEventTTL)

	r.fmu.Lock()
	n := r.failed.RemoveFunc(func(fe *FailedEvent) bool { return fe.FailedAt.Before(cutoff) })
	r.fmu.Unlock()

	if n > 0 {
		failedDropped.WithLabelValues("expired").Add(float64(n))
		r.log.Info("evicted expired failed events", "count", n)
	}
	failedBacklog.Set(float64(r.failed.Len()))
	return n
}

// FailedEvents returns copies of the queued failed events, oldest first
func (r *Router) FailedEvents() []FailedEvent {
	r.fmu.Lock()
	defer r.fmu.Unlock()

	all := r.failed.All()
	out := make([]FailedEvent, len(all))
	for i, fe := range all {
		out[i] = *fe
	}
	return out
}

// Stats returns subscription and backlog counts
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	stats := RouterStats{
		Subscriptions: len(r.byID),
		EventTypes:    make(map[string]int, len(r.byType)),
	}
	for t, subs := range r.byType {
		stats.EventTypes[t] = len(subs)
		for _, s := range subs {
			if s.Active {
				stats.ActiveSubscriptions++
			}
		}
	}
	r.mu.RUnlock()

	stats.FailedEventsCount = r.failed.Len()
	return stats
}

// Stop rejects further work and cancels pending reactivations
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopped = true
	for id, t := range r.reactivations {
		t.Stop()
		delete(r.reactivations, id)
	}
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s(%s@%s p=%d active=%t)", s.ID, s.EventType, s.Destination, s.Priority, s.Active)
}
