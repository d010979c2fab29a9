package history

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/monitor"
	"github.com/armorclaw/agentcore/pkg/rca"
)

var (
	_ rca.History        = (*Store)(nil)
	_ monitor.ReportSink = (*Store)(nil)
)

var base = time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestStore(t *testing.T, clock *testClock) *Store {
	t.Helper()
	cfg := Config{Path: filepath.Join(t.TempDir(), "data", "history.db")}
	if clock != nil {
		cfg.Clock = clock.Now
	}
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type reportOpts struct {
	origin  string
	user    string
	session string
	msg     string
	at      time.Time
}

func newReport(kind errors.Kind, o reportOpts) *errors.Report {
	if o.msg == "" {
		o.msg = "something failed"
	}
	if o.at.IsZero() {
		o.at = base
	}
	b := errors.NewBuilder(kind).Origin(o.origin).Message(o.msg).At(o.at)
	if o.user != "" {
		b = b.User(o.user)
	}
	if o.session != "" {
		b = b.Session(o.session)
	}
	return errors.NewReport(b.Build(), nil, o.at)
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	cause := stderrors.New("dial tcp 10.0.0.5:443: connection refused")
	ae := errors.NewBuilder(errors.KindCommunication).
		Code("BUS-011").
		Origin("cad-agent").
		Message("delivery failed").
		User("user-1").
		Session("sess-1").
		At(base).
		Wrap(cause).
		Build()
	r := errors.NewReport(ae, map[string]any{"attempt": 2}, base.Add(time.Second))

	require.NoError(t, s.Save(ctx, r))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, errors.KindCommunication, got.Kind)
	assert.Equal(t, "cad-agent", got.Origin)
	assert.Equal(t, "user-1", got.UserID())
	assert.Equal(t, "sess-1", got.SessionID())
	assert.True(t, got.OccurredAt().Equal(base))
	assert.Equal(t, float64(2), got.Context["attempt"])
	require.NotNil(t, got.Error)
	assert.Equal(t, "BUS-011", got.Error.Code)
	require.Error(t, got.Error.Unwrap())
	assert.Equal(t, cause.Error(), got.Error.Unwrap().Error())
	assert.False(t, got.Resolved)
}

func TestStore_GetNotFound(t *testing.T) {
	s := openTestStore(t, nil)

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	ae, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeNotFound, ae.Code)
}

func TestStore_SaveUpserts(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	r := newReport(errors.KindTimeout, reportOpts{origin: "chat-agent"})
	require.NoError(t, s.Save(ctx, r))

	r.Resolved = true
	require.NoError(t, s.Save(ctx, r))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.Unresolved)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
}

func TestStore_SaveRejectsMissingID(t *testing.T) {
	s := openTestStore(t, nil)
	err := s.Save(context.Background(), &errors.Report{})
	require.Error(t, err)

	ae, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeWriteFailed, ae.Code)
}

func TestStore_FindRelated(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	reports := []*errors.Report{
		newReport(errors.KindTimeout, reportOpts{origin: "cad-agent", user: "u1", msg: "render 100% stuck", at: base.Add(-10 * time.Minute)}),
		newReport(errors.KindTimeout, reportOpts{origin: "cad-agent", user: "u2", session: "s1", msg: "render stuck", at: base.Add(-5 * time.Minute)}),
		newReport(errors.KindParse, reportOpts{origin: "chat-agent", user: "u1", session: "s1", msg: "bad_json payload", at: base}),
		newReport(errors.KindParse, reportOpts{origin: "cad-agent", user: "u3", msg: "too old", at: base.Add(-2 * time.Hour)}),
	}
	for _, r := range reports {
		require.NoError(t, s.Save(ctx, r))
	}

	window := rca.HistoryQuery{Since: base.Add(-30 * time.Minute), Until: base.Add(30 * time.Minute)}

	tests := []struct {
		name   string
		mutate func(*rca.HistoryQuery)
		want   []string
	}{
		{"window only", func(*rca.HistoryQuery) {}, []string{reports[2].ID, reports[1].ID, reports[0].ID}},
		{"origin", func(q *rca.HistoryQuery) { q.Origin = "cad-agent" }, []string{reports[1].ID, reports[0].ID}},
		{"user", func(q *rca.HistoryQuery) { q.UserID = "u1" }, []string{reports[2].ID, reports[0].ID}},
		{"session", func(q *rca.HistoryQuery) { q.SessionID = "s1" }, []string{reports[2].ID, reports[1].ID}},
		{"message like", func(q *rca.HistoryQuery) { q.MessageLike = "render" }, []string{reports[1].ID, reports[0].ID}},
		{"literal percent", func(q *rca.HistoryQuery) { q.MessageLike = "100%" }, []string{reports[0].ID}},
		{"literal underscore", func(q *rca.HistoryQuery) { q.MessageLike = "d_j" }, []string{reports[2].ID}},
		{"combined", func(q *rca.HistoryQuery) { q.Origin = "cad-agent"; q.UserID = "u2" }, []string{reports[1].ID}},
		{"limit", func(q *rca.HistoryQuery) { q.Limit = 1 }, []string{reports[2].ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := window
			tt.mutate(&q)
			got, err := s.FindRelated(ctx, q)
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, r := range got {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestStore_FindRelatedSkipsCorruptRows(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	older := newReport(errors.KindTimeout, reportOpts{origin: "cad-agent", msg: "render stuck", at: base.Add(-10 * time.Minute)})
	newer := newReport(errors.KindTimeout, reportOpts{origin: "cad-agent", msg: "render stuck again", at: base})
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	at := base.Add(-5 * time.Minute).UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_reports (id, kind, severity, origin, message, occurred_at, received_at, report_json)
		VALUES ('corrupt-1', 'timeout', 'medium', 'cad-agent', 'render stuck', ?, ?, '{not json')`,
		at, at)
	require.NoError(t, err)

	got, err := s.FindRelated(ctx, rca.HistoryQuery{
		Since:  base.Add(-30 * time.Minute),
		Until:  base.Add(30 * time.Minute),
		Origin: "cad-agent",
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{newer.ID, older.ID}, ids)
}

func TestStore_MarkResolvedAndCleanup(t *testing.T) {
	clock := &testClock{now: base}
	s := openTestStore(t, clock)
	ctx := context.Background()

	resolved := newReport(errors.KindSystem, reportOpts{origin: "poster-agent"})
	open := newReport(errors.KindSystem, reportOpts{origin: "poster-agent"})
	require.NoError(t, s.Save(ctx, resolved))
	require.NoError(t, s.Save(ctx, open))

	require.NoError(t, s.MarkResolved(ctx, resolved.ID))
	assert.True(t, errors.Is(s.MarkResolved(ctx, "missing"), ErrNotFound))

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "recently resolved reports are retained")

	clock.Advance(31 * 24 * time.Hour)
	n, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, resolved.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Get(ctx, open.ID)
	assert.NoError(t, err)
}

func TestStore_Stats(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	for _, r := range []*errors.Report{
		newReport(errors.KindTimeout, reportOpts{origin: "chat-agent"}),
		newReport(errors.KindTimeout, reportOpts{origin: "cad-agent"}),
		newReport(errors.KindAuthentication, reportOpts{origin: "cad-agent"}),
	} {
		require.NoError(t, s.Save(ctx, r))
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Unresolved)
	assert.Equal(t, 2, stats.ByKind[errors.KindTimeout])
	assert.Equal(t, 1, stats.ByKind[errors.KindAuthentication])
	assert.Equal(t, 2, stats.BySeverity[errors.SeverityMedium])
	assert.Equal(t, 1, stats.BySeverity[errors.SeverityHigh])
	assert.Equal(t, 2, stats.ByOrigin["cad-agent"])
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(Config{Path: path}, nil)
	require.NoError(t, err)
	r := newReport(errors.KindRateLimit, reportOpts{origin: "chat-agent"})
	require.NoError(t, s.Save(ctx, r))
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path}, nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, errors.KindRateLimit, got.Kind)
	assert.Equal(t, path, s.Path())
}
