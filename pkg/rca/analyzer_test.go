package rca

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// memoryHistory filters an in-memory slice like the SQL store does
type memoryHistory struct {
	mu      sync.Mutex
	reports []*errors.Report
	queries atomic.Int32
	fail    func(HistoryQuery) bool
}

func (h *memoryHistory) FindRelated(_ context.Context, q HistoryQuery) ([]*errors.Report, error) {
	h.queries.Add(1)
	if h.fail != nil && h.fail(q) {
		return nil, stderrors.New("history unavailable")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*errors.Report
	for _, r := range h.reports {
		at := r.OccurredAt()
		if at.Before(q.Since) || at.After(q.Until) {
			continue
		}
		if q.Origin != "" && r.Origin != q.Origin {
			continue
		}
		if q.UserID != "" && r.UserID() != q.UserID {
			continue
		}
		if q.SessionID != "" && r.SessionID() != q.SessionID {
			continue
		}
		if q.MessageLike != "" && !strings.Contains(r.Message, q.MessageLike) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

var base = time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

func report(kind errors.Kind, origin, msg, user string, at time.Time) *errors.Report {
	b := errors.NewBuilder(kind).Origin(origin).Message(msg).At(at)
	if user != "" {
		b = b.User(user)
	}
	return errors.NewReport(b.Build(), nil, at)
}

func newTestAnalyzer(h History, opts ...Option) *Analyzer {
	return New(Config{Clock: func() time.Time { return base }}, h, nil, opts...)
}

func TestAnalyze_ServiceUnavailableScenario(t *testing.T) {
	h := &memoryHistory{}
	var source *errors.Report
	for i := 0; i < 6; i++ {
		r := report(errors.KindServiceUnavailable, "cad-agent", "model backend returned 503",
			fmt.Sprintf("user-%d", i), base.Add(time.Duration(i)*20*time.Second))
		h.reports = append(h.reports, r)
		source = r
	}

	a := newTestAnalyzer(h)
	analysis, err := a.Analyze(context.Background(), source)
	require.NoError(t, err)

	require.NotEmpty(t, analysis.Patterns)
	assert.Equal(t, 6, analysis.Patterns[0].Frequency)
	assert.Equal(t, errors.KindServiceUnavailable, analysis.Patterns[0].Kind)
	assert.Equal(t, errors.SeverityHigh, analysis.Patterns[0].DominantSeverity)

	assert.True(t, analysis.HasFactor(FactorMultiUser))
	assert.Equal(t, 6, analysis.Impact.AffectedUsers)

	assert.Equal(t, CategoryServiceUnavailable, analysis.RootCause.Category)
	assert.Contains(t, strings.ToLower(analysis.RootCause.Description), "unavailable")
	assert.InDelta(t, 0.8, analysis.RootCause.Confidence, 1e-9)

	assert.Equal(t, 5, analysis.RelatedErrors)
	assert.Len(t, analysis.RelatedErrorIDs, 5)
	assert.NotContains(t, analysis.RelatedErrorIDs, source.ID)
	assert.Len(t, analysis.Timeline, 6)
	assert.Contains(t, analysis.Recommendations.Immediate,
		"Check health of the downstream service or model provider")
	assert.Equal(t, []string{monitoringAction}, analysis.Recommendations.LongTerm)
}

func TestAnalyze_CachedForIdenticalContent(t *testing.T) {
	h := &memoryHistory{}
	a := newTestAnalyzer(h)
	ctx := context.Background()

	first := report(errors.KindTimeout, "chat-agent", "upstream timed out", "u1", base)
	second := report(errors.KindTimeout, "chat-agent", "upstream timed out", "u1", base.Add(time.Minute))

	a1, err := a.Analyze(ctx, first)
	require.NoError(t, err)
	queries := h.queries.Load()

	a2, err := a.Analyze(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
	assert.Equal(t, queries, h.queries.Load())

	got, ok := a.Get(a1.ID)
	require.True(t, ok)
	assert.Same(t, a1, got)
	assert.Equal(t, 1, a.CacheLen())
}

func TestAnalyze_DifferentContextDifferentKey(t *testing.T) {
	r1 := report(errors.KindTimeout, "chat-agent", "slow", "", base)
	r2 := report(errors.KindTimeout, "chat-agent", "slow", "", base)
	r2.Context = map[string]any{"model": "large"}

	assert.NotEqual(t, cacheKey(r1), cacheKey(r2))
}

func TestAnalyze_InvalidInput(t *testing.T) {
	a := newTestAnalyzer(nil)

	for name, r := range map[string]*errors.Report{
		"nil":      nil,
		"no id":    {Error: errors.New(errors.KindSystem, "x")},
		"no error": {ID: "r-1"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Analyze(context.Background(), r)
			require.Error(t, err)
			ae, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, CodeInvalidInput, ae.Code)
		})
	}
}

func TestAnalyze_UnknownWithoutHistory(t *testing.T) {
	a := newTestAnalyzer(nil)
	analysis, err := a.Analyze(context.Background(), report(errors.KindSystem, "poster-agent", "nil pointer", "", base))
	require.NoError(t, err)

	assert.Equal(t, CategoryUnknown, analysis.RootCause.Category)
	assert.InDelta(t, 0.1, analysis.RootCause.Confidence, 1e-9)
	assert.Empty(t, analysis.Patterns)
	assert.Len(t, analysis.Timeline, 1)
	assert.True(t, analysis.Timeline[0].Source)
	assert.Contains(t, analysis.Recommendations.Immediate, "Collect additional diagnostics from the origin subsystem")
}

func TestAnalyze_HistoryFailureDegrades(t *testing.T) {
	h := &memoryHistory{fail: func(q HistoryQuery) bool { return q.Origin != "" }}
	h.reports = []*errors.Report{
		report(errors.KindTimeout, "cad-agent", "render timed out", "u1", base.Add(-time.Minute)),
	}
	source := report(errors.KindTimeout, "cad-agent", "render timed out", "u1", base)

	analysis, err := newTestAnalyzer(h).Analyze(context.Background(), source)
	require.NoError(t, err)
	// the user and message queries still succeed
	assert.Equal(t, 1, analysis.RelatedErrors)
	assert.Equal(t, CategoryTimeout, analysis.RootCause.Category)
}

func TestAnalyze_RelatedWindow(t *testing.T) {
	h := &memoryHistory{}
	h.reports = []*errors.Report{
		report(errors.KindParse, "cad-agent", "bad header", "", base.Add(-29*time.Minute)),
		report(errors.KindParse, "cad-agent", "bad header", "", base.Add(-31*time.Minute)),
		report(errors.KindParse, "cad-agent", "bad header", "", base.Add(29*time.Minute)),
	}
	source := report(errors.KindParse, "cad-agent", "bad header", "", base)

	analysis, err := newTestAnalyzer(h).Analyze(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.RelatedErrors)
	assert.ElementsMatch(t, []string{h.reports[0].ID, h.reports[2].ID}, analysis.RelatedErrorIDs)
	assert.NotContains(t, analysis.RelatedErrorIDs, source.ID)
}

func TestAnalyze_PatternHypothesisAndCascade(t *testing.T) {
	h := &memoryHistory{}
	for i := 0; i < 9; i++ {
		h.reports = append(h.reports, report(errors.KindSystem, "chat-agent", "worker crashed", "",
			base.Add(-time.Duration(i+1)*time.Minute)))
	}
	source := report(errors.KindSystem, "chat-agent", "worker crashed", "", base)

	analysis, err := newTestAnalyzer(h).Analyze(context.Background(), source)
	require.NoError(t, err)

	// 10 occurrences: pattern confidence min(0.9, 10/10)
	assert.Equal(t, CategoryPattern, analysis.RootCause.Category)
	assert.InDelta(t, 0.9, analysis.RootCause.Confidence, 1e-9)

	var categories []string
	for _, hyp := range analysis.Hypotheses {
		categories = append(categories, hyp.Category)
	}
	assert.Contains(t, categories, CategoryCascading)
	assert.Contains(t, analysis.Recommendations.ShortTerm, "Add a regression test reproducing the recurring error")
}

func TestAnalyze_CompletionHookOncePerComputation(t *testing.T) {
	var calls atomic.Int32
	a := newTestAnalyzer(nil, WithCompletionHook(func(context.Context, *Analysis) { calls.Add(1) }))
	src := report(errors.KindRateLimit, "poster-agent", "429 from provider", "", base)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Analyze(context.Background(), src)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, a.CacheLen())
}
