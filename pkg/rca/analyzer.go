package rca

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/logger"
)

// CodeInvalidInput is raised for reports that cannot be analyzed
const CodeInvalidInput = "RCA-001"

// Config holds analyzer configuration
type Config struct {
	RelatedWindow   time.Duration // Half-width of the related-error window (default 30m)
	RelatedLimit    int           // Rows per history query (default 100)
	MessagePrefix   int           // Message characters used for similarity (default 64)
	CostPerUserHour float64       // Financial heuristic input (default 25)
	Cache           CacheConfig
	Clock           func() time.Time
}

// DefaultConfig returns default analyzer configuration
func DefaultConfig() Config {
	return Config{
		RelatedWindow:   30 * time.Minute,
		RelatedLimit:    100,
		MessagePrefix:   64,
		CostPerUserHour: 25,
		Cache:           DefaultCacheConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RelatedWindow <= 0 {
		c.RelatedWindow = d.RelatedWindow
	}
	if c.RelatedLimit <= 0 {
		c.RelatedLimit = d.RelatedLimit
	}
	if c.MessagePrefix <= 0 {
		c.MessagePrefix = d.MessagePrefix
	}
	if c.CostPerUserHour <= 0 {
		c.CostPerUserHour = d.CostPerUserHour
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// CompletionHook is called after each freshly computed analysis
type CompletionHook func(ctx context.Context, analysis *Analysis)

// Option configures an Analyzer
type Option func(*Analyzer)

// WithCompletionHook registers hook for computed analyses
func WithCompletionHook(hook CompletionHook) Option {
	return func(a *Analyzer) { a.onComplete = hook }
}

// Analyzer runs root cause analyses with a content-keyed cache
type Analyzer struct {
	cfg        Config
	history    History
	cache      *cache
	group      singleflight.Group
	onComplete CompletionHook
	log        *logger.Logger
	events     *logger.EventLogger
}

// New creates an analyzer. history may be nil, in which case analyses see no
// related errors.
func New(cfg Config, history History, log *logger.Logger, opts ...Option) *Analyzer {
	cfg = cfg.withDefaults()
	l := logger.Or(log).WithComponent("rca")
	a := &Analyzer{
		cfg:     cfg,
		history: history,
		cache:   newCache(cfg.Cache, cfg.Clock),
		log:     l,
		events:  logger.NewEventLogger(l),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze explains report. Identical content returns the cached analysis;
// concurrent identical requests share one computation.
func (a *Analyzer) Analyze(ctx context.Context, report *errors.Report) (*Analysis, error) {
	if report == nil || report.ID == "" || report.Error == nil {
		analysesTotal.WithLabelValues("invalid").Inc()
		return nil, errors.NewBuilder(errors.KindCorruptedInput).
			Code(CodeInvalidInput).
			Origin("rca").
			Severity(errors.SeverityLow).
			Message("report needs an id and an error").
			Build()
	}

	key := cacheKey(report)
	if cached, ok := a.cache.get(key); ok {
		analysesTotal.WithLabelValues("cached").Inc()
		return cached, nil
	}

	v, err, _ := a.group.Do(key, func() (any, error) {
		if cached, ok := a.cache.get(key); ok {
			return cached, nil
		}
		analysis := a.compute(ctx, report, key)
		a.cache.put(analysis)
		if a.onComplete != nil {
			a.onComplete(ctx, analysis)
		}
		return analysis, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Analysis), nil
}

func (a *Analyzer) compute(ctx context.Context, report *errors.Report, key string) *Analysis {
	start := time.Now()
	defer func() { analysisDuration.Observe(time.Since(start).Seconds()) }()

	related := a.findRelated(ctx, report)
	combined := append([]*errors.Report{report}, related...)

	var patterns []Pattern
	a.safely("pattern detection", func() { patterns = detectPatterns(combined) })

	timeline := []TimelineEntry{timelineEntry(report, true)}
	a.safely("timeline", func() { timeline = buildTimeline(report, related) })

	hypotheses := buildHypotheses(report, patterns, timeline)
	rootCause := selectRootCause(hypotheses)
	impact := assessImpact(report, related, a.cfg.CostPerUserHour)

	analysis := &Analysis{
		ID:                  uuid.NewString(),
		ErrorID:             report.ID,
		CacheKey:            key,
		RootCause:           rootCause,
		Hypotheses:          hypotheses,
		Patterns:            patterns,
		ContributingFactors: contributingFactors(report, related),
		Timeline:            timeline,
		Impact:              impact,
		Recommendations:     recommend(rootCause, impact),
		RelatedErrors:       len(related),
		RelatedErrorIDs:     reportIDs(related),
		AnalyzedAt:          a.cfg.Clock(),
	}

	analysesTotal.WithLabelValues("computed").Inc()
	a.events.LogEvent(logger.EventAnalysisCompleted,
		slog.String("analysis_id", analysis.ID),
		slog.String("error_id", report.ID),
		slog.String("root_cause", rootCause.Category),
		slog.Float64("confidence", rootCause.Confidence),
		slog.Int("related", len(related)),
		slog.String("business_impact", string(impact.BusinessImpact)))
	return analysis
}

func reportIDs(reports []*errors.Report) []string {
	ids := make([]string, 0, len(reports))
	for _, r := range reports {
		ids = append(ids, r.ID)
	}
	return ids
}

// safely runs step, downgrading a panic to a warning
func (a *Analyzer) safely(step string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			a.log.Warn("analysis step failed, using minimal result", "step", step, "panic", fmt.Sprint(p))
		}
	}()
	fn()
}

// findRelated queries history once per filter concurrently and merges the
// results by report id. Failed queries are logged and skipped.
func (a *Analyzer) findRelated(ctx context.Context, report *errors.Report) []*errors.Report {
	if a.history == nil {
		return nil
	}

	at := report.OccurredAt()
	base := HistoryQuery{
		Since: at.Add(-a.cfg.RelatedWindow),
		Until: at.Add(a.cfg.RelatedWindow),
		Limit: a.cfg.RelatedLimit,
	}

	var queries []HistoryQuery
	if report.Origin != "" {
		q := base
		q.Origin = report.Origin
		queries = append(queries, q)
	}
	if u := report.UserID(); u != "" {
		q := base
		q.UserID = u
		queries = append(queries, q)
	}
	if s := report.SessionID(); s != "" {
		q := base
		q.SessionID = s
		queries = append(queries, q)
	}
	if report.Message != "" {
		q := base
		q.MessageLike = truncate(report.Message, a.cfg.MessagePrefix)
		queries = append(queries, q)
	}

	var mu sync.Mutex
	seen := map[string]bool{report.ID: true}
	var related []*errors.Report

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		q := q
		g.Go(func() error {
			rows, err := a.history.FindRelated(gctx, q)
			if err != nil {
				a.log.Warn("related error query failed", "error", err,
					"origin", q.Origin, "user_id", q.UserID, "session_id", q.SessionID)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range rows {
				if r == nil || seen[r.ID] {
					continue
				}
				seen[r.ID] = true
				related = append(related, r)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(related, func(i, j int) bool {
		ti, tj := related[i].OccurredAt(), related[j].OccurredAt()
		if ti.Equal(tj) {
			return related[i].ID < related[j].ID
		}
		return ti.Before(tj)
	})
	return related
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Get returns a cached analysis by analysis id
func (a *Analyzer) Get(id string) (*Analysis, bool) {
	return a.cache.getByID(id)
}

// Sweep drops cached analyses older than the cache max age
func (a *Analyzer) Sweep() int {
	n := a.cache.sweep()
	if n > 0 {
		a.log.Debug("swept analysis cache", "removed", n)
	}
	return n
}

// CacheLen returns the number of cached analyses
func (a *Analyzer) CacheLen() int {
	return a.cache.size()
}
