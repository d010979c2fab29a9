package eventbus

import (
	"context"
	"io"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"github.com/armorclaw/agentcore/pkg/logger"
)

// Endpoint receives point-to-point notifications for one destination
type Endpoint interface {
	Deliver(ctx context.Context, event Event) error
}

// EndpointFunc adapts a function to Endpoint
type EndpointFunc func(ctx context.Context, event Event) error

// Deliver calls f
func (f EndpointFunc) Deliver(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NotifierConfig holds direct notification configuration
type NotifierConfig struct {
	MaxEndpoints  int     // Maximum registered destinations (default 1024)
	RatePerSecond float64 // Sustained deliveries per destination (default 50)
	Burst         int     // Burst per destination (default 100)
}

// DefaultNotifierConfig returns default notifier configuration
func DefaultNotifierConfig() NotifierConfig {
	return NotifierConfig{
		MaxEndpoints:  1024,
		RatePerSecond: 50,
		Burst:         100,
	}
}

// NotifierStats summarizes registered endpoints
type NotifierStats struct {
	Endpoints    int      `json:"endpoints"`
	Destinations []string `json:"destinations"`
}

type registeredEndpoint struct {
	endpoint Endpoint
	limiter  *rate.Limiter
}

// Notifier is the direct notification service: it bypasses subscriptions and
// breakers and delivers straight to a registered endpoint.
type Notifier struct {
	cfg NotifierConfig
	log *logger.Logger

	mu        sync.RWMutex
	endpoints map[string]*registeredEndpoint
}

// NewNotifier creates a direct notification service
func NewNotifier(cfg NotifierConfig, log *logger.Logger) *Notifier {
	d := DefaultNotifierConfig()
	if cfg.MaxEndpoints <= 0 {
		cfg.MaxEndpoints = d.MaxEndpoints
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = d.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	return &Notifier{
		cfg:       cfg,
		log:       logger.Or(log).WithComponent("eventbus.notifier"),
		endpoints: make(map[string]*registeredEndpoint),
	}
}

// Register binds an endpoint to destination, replacing any previous one
func (n *Notifier) Register(destination string, ep Endpoint) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, exists := n.endpoints[destination]
	if !exists && len(n.endpoints) >= n.cfg.MaxEndpoints {
		return errEndpointLimit(n.cfg.MaxEndpoints)
	}
	if exists {
		closeEndpoint(prev.endpoint)
	}

	n.endpoints[destination] = &registeredEndpoint{
		endpoint: ep,
		limiter:  rate.NewLimiter(rate.Limit(n.cfg.RatePerSecond), n.cfg.Burst),
	}
	n.log.Info("endpoint registered", "destination", destination)
	return nil
}

// Unregister removes and closes the endpoint for destination
func (n *Notifier) Unregister(destination string) bool {
	n.mu.Lock()
	reg, ok := n.endpoints[destination]
	delete(n.endpoints, destination)
	n.mu.Unlock()

	if ok {
		closeEndpoint(reg.endpoint)
	}
	return ok
}

// Release unregisters destination only while ep is still its endpoint, so a
// closing connection cannot remove the one that replaced it.
func (n *Notifier) Release(destination string, ep *WebSocketEndpoint) bool {
	n.mu.Lock()
	reg, ok := n.endpoints[destination]
	ok = ok && reg.endpoint == Endpoint(ep)
	if ok {
		delete(n.endpoints, destination)
	}
	n.mu.Unlock()

	if ok {
		closeEndpoint(ep)
	}
	return ok
}

func closeEndpoint(ep Endpoint) {
	if c, ok := ep.(io.Closer); ok {
		_ = c.Close()
	}
}

// Notify delivers event to destination's endpoint. Missing endpoints,
// throttling and delivery failures surface as AgentErrors so callers can fall
// back to Publish.
func (n *Notifier) Notify(ctx context.Context, destination string, event Event) error {
	n.mu.RLock()
	reg, ok := n.endpoints[destination]
	n.mu.RUnlock()

	if !ok {
		directNotifications.WithLabelValues("no_endpoint").Inc()
		return errNoEndpoint(destination)
	}
	if !reg.limiter.Allow() {
		directNotifications.WithLabelValues("throttled").Inc()
		return errThrottled(destination)
	}

	if event.Target == "" {
		event.Target = destination
	}
	if err := reg.endpoint.Deliver(ctx, event); err != nil {
		directNotifications.WithLabelValues("failed").Inc()
		return errDeliveryFailed(destination, err)
	}
	directNotifications.WithLabelValues("delivered").Inc()
	return nil
}

// Has reports whether destination has an endpoint
func (n *Notifier) Has(destination string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.endpoints[destination]
	return ok
}

// Stats returns registered destinations
func (n *Notifier) Stats() NotifierStats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	dests := make([]string, 0, len(n.endpoints))
	for d := range n.endpoints {
		dests = append(dests, d)
	}
	sort.Strings(dests)
	return NotifierStats{Endpoints: len(dests), Destinations: dests}
}

// Close closes every endpoint
func (n *Notifier) Close() {
	n.mu.Lock()
	eps := n.endpoints
	n.endpoints = make(map[string]*registeredEndpoint)
	n.mu.Unlock()

	for _, reg := range eps {
		closeEndpoint(reg.endpoint)
	}
}
