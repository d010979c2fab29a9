package breaker

import (
	stderrors "errors"
	"sort"
	"sync"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// ErrRegistryFull is returned when no breaker can be evicted to make room
var ErrRegistryFull = stderrors.New("breaker registry full")

// Registry lazily creates one breaker per destination. The registry is
// bounded: when full, the least recently used idle breaker is evicted.
type Registry struct {
	cfg         Config
	maxBreakers int

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry whose breakers share cfg
func NewRegistry(cfg Config, maxBreakers int) *Registry {
	if maxBreakers <= 0 {
		maxBreakers = 1024
	}
	return &Registry{
		cfg:         cfg.withDefaults(),
		maxBreakers: maxBreakers,
		breakers:    make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for destination, creating it on first use
func (r *Registry) Get(destination string) (*CircuitBreaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[destination]; ok {
		return cb, nil
	}

	if len(r.breakers) >= r.maxBreakers && !r.evictIdle() {
		return nil, errors.NewBuilder(errors.KindResourceLimit).
			Code("BRK-002").
			Origin("breaker").
			Messagef("cannot track destination %s: %d breakers in use", destination, len(r.breakers)).
			Wrap(ErrRegistryFull).
			Build()
	}

	cb := New(destination, r.cfg)
	r.breakers[destination] = cb
	breakerState.WithLabelValues(destination).Set(float64(StateClosed))
	return cb, nil
}

// evictIdle removes the least recently used idle breaker. Must hold mu.
func (r *Registry) evictIdle() bool {
	var victim string
	var victimUsed int64
	for dest, cb := range r.breakers {
		idle, used := cb.idle()
		if !idle {
			continue
		}
		if victim == "" || used.UnixNano() < victimUsed {
			victim = dest
			victimUsed = used.UnixNano()
		}
	}
	if victim == "" {
		return false
	}
	delete(r.breakers, victim)
	breakerState.DeleteLabelValues(victim)
	return true
}

// Peek returns an existing breaker without creating one
func (r *Registry) Peek(destination string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[destination]
	return cb, ok
}

// Len returns the number of tracked destinations
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.breakers)
}

// Snapshots returns one snapshot per known destination
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	out := make(map[string]Snapshot, len(list))
	for _, cb := range list {
		out[cb.destination] = cb.Snapshot()
	}
	return out
}

// Destinations returns tracked destinations in sorted order
func (r *Registry) Destinations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.breakers))
	for d := range r.breakers {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
