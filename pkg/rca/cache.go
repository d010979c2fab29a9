package rca

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// CacheConfig bounds the analysis cache
type CacheConfig struct {
	MaxEntries int           // Oldest analysis evicted beyond this (default 100)
	MaxAge     time.Duration // Entries older than this are swept (default 1h)
}

// DefaultCacheConfig returns default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: 100, MaxAge: time.Hour}
}

// cache stores analyses under their content key and their analysis id
type cache struct {
	cfg   CacheConfig
	clock func() time.Time

	mu    sync.Mutex
	byKey map[string]*Analysis
	byID  map[string]*Analysis
}

func newCache(cfg CacheConfig, clock func() time.Time) *cache {
	d := DefaultCacheConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = d.MaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = d.MaxAge
	}
	return &cache{
		cfg:   cfg,
		clock: clock,
		byKey: make(map[string]*Analysis),
		byID:  make(map[string]*Analysis),
	}
}

func (c *cache) get(key string) (*Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	if c.clock().Sub(a.AnalyzedAt) > c.cfg.MaxAge {
		c.removeLocked(a)
		return nil, false
	}
	return a, true
}

func (c *cache) getByID(id string) (*Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.byID[id]
	return a, ok
}

func (c *cache) put(a *Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.byKey[a.CacheKey]; ok {
		c.removeLocked(prev)
	}
	for len(c.byKey) >= c.cfg.MaxEntries {
		c.removeLocked(c.oldestLocked())
	}
	c.byKey[a.CacheKey] = a
	c.byID[a.ID] = a
	cacheEntries.Set(float64(len(c.byKey)))
}

func (c *cache) oldestLocked() *Analysis {
	var oldest *Analysis
	for _, a := range c.byKey {
		if oldest == nil || a.AnalyzedAt.Before(oldest.AnalyzedAt) {
			oldest = a
		}
	}
	return oldest
}

func (c *cache) removeLocked(a *Analysis) {
	delete(c.byKey, a.CacheKey)
	delete(c.byID, a.ID)
}

// sweep drops entries older than MaxAge
func (c *cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	n := 0
	for _, a := range c.byKey {
		if now.Sub(a.AnalyzedAt) > c.cfg.MaxAge {
			c.removeLocked(a)
			n++
		}
	}
	cacheEntries.Set(float64(len(c.byKey)))
	return n
}

func (c *cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// cacheKey derives a key from error content only, never from timestamps
func cacheKey(r *errors.Report) string {
	ctx, err := json.Marshal(r.Context)
	if err != nil {
		ctx = []byte(fmt.Sprint(r.Context))
	}
	msgSum := sha256.Sum256([]byte(r.Message))
	ctxSum := sha256.Sum256(ctx)

	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%x|%x", r.Kind, r.Origin, msgSum, ctxSum)
	return hex.EncodeToString(h.Sum(nil))
}
