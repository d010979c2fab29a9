// Package history persists error reports to SQLite.
//
// The store is the durable side of the error monitor: every collected report
// is saved here, and the root cause analyzer reads related reports back by
// time window, origin, user, session and message.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/armorclaw/agentcore/pkg/errors"
	"github.com/armorclaw/agentcore/pkg/logger"
	"github.com/armorclaw/agentcore/pkg/rca"
)

// Config configures the history store
type Config struct {
	Path          string // Path to SQLite database file
	RetentionDays int    // Days to keep resolved reports (0 = default 30)
	Clock         func() time.Time
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Path:          "/var/lib/agentcore/history.db",
		RetentionDays: 30,
	}
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Store persists error reports to SQLite
type Store struct {
	db            *sql.DB
	path          string
	retentionDays int
	clock         func() time.Time
	mu            sync.RWMutex
	log           *logger.Logger
}

// Stats holds statistics about stored reports
type Stats struct {
	Total      int                     `json:"total"`
	Unresolved int                     `json:"unresolved"`
	ByKind     map[errors.Kind]int     `json:"by_kind"`
	BySeverity map[errors.Severity]int `json:"by_severity"`
	ByOrigin   map[string]int          `json:"by_origin"`
}

// Open creates the store, creating the database directory and schema as needed
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	d := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = d.Path
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = d.RetentionDays
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, errOpen(cfg.Path, err)
	}

	dsn := "file:" + cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errOpen(cfg.Path, err)
	}

	s := &Store{
		db:            db,
		path:          cfg.Path,
		retentionDays: cfg.RetentionDays,
		clock:         cfg.Clock,
		log:           logger.Or(log).WithComponent("history"),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errOpen(cfg.Path, err)
	}

	s.log.Info("history store opened", "path", cfg.Path, "retention_days", cfg.RetentionDays)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS error_reports (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			severity     TEXT NOT NULL,
			origin       TEXT NOT NULL DEFAULT '',
			message      TEXT NOT NULL,
			user_id      TEXT NOT NULL DEFAULT '',
			session_id   TEXT NOT NULL DEFAULT '',
			occurred_at  INTEGER NOT NULL,
			received_at  INTEGER NOT NULL,
			resolved     INTEGER NOT NULL DEFAULT 0,
			resolved_at  INTEGER,
			report_json  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_received_at ON error_reports(received_at);
		CREATE INDEX IF NOT EXISTS idx_reports_occurred_at ON error_reports(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_reports_origin ON error_reports(origin);
		CREATE INDEX IF NOT EXISTS idx_reports_user_id ON error_reports(user_id);
		CREATE INDEX IF NOT EXISTS idx_reports_session_id ON error_reports(session_id);
		CREATE INDEX IF NOT EXISTS idx_reports_resolved ON error_reports(resolved);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts report or replaces the stored copy with the same id
func (s *Store) Save(ctx context.Context, report *errors.Report) error {
	if report == nil || report.ID == "" {
		return errWrite("save", fmt.Errorf("report needs an id"))
	}

	data, err := json.Marshal(report)
	if err != nil {
		return errWrite("save", fmt.Errorf("failed to serialize report: %w", err))
	}

	var resolvedAt sql.NullInt64
	if report.Resolved {
		resolvedAt = sql.NullInt64{Int64: s.clock().UnixMilli(), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO error_reports (id, kind, severity, origin, message, user_id, session_id,
			occurred_at, received_at, resolved, resolved_at, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			severity = excluded.severity,
			origin = excluded.origin,
			message = excluded.message,
			user_id = excluded.user_id,
			session_id = excluded.session_id,
			occurred_at = excluded.occurred_at,
			received_at = excluded.received_at,
			resolved = excluded.resolved,
			resolved_at = COALESCE(error_reports.resolved_at, excluded.resolved_at),
			report_json = excluded.report_json
	`,
		report.ID,
		string(report.Kind),
		string(report.Severity),
		report.Origin,
		report.Message,
		report.UserID(),
		report.SessionID(),
		report.OccurredAt().UnixMilli(),
		report.ReceivedAt.UnixMilli(),
		report.Resolved,
		resolvedAt,
		string(data),
	)
	if err != nil {
		return errWrite("save", err)
	}
	return nil
}

// FindRelated returns reports inside the query window matching every set
// filter, newest first.
func (s *Store) FindRelated(ctx context.Context, q rca.HistoryQuery) ([]*errors.Report, error) {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}

	query := "SELECT report_json, resolved FROM error_reports WHERE 1=1"
	args := []any{}

	if !q.Since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, q.Since.UnixMilli())
	}
	if !q.Until.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, q.Until.UnixMilli())
	}
	if q.Origin != "" {
		query += " AND origin = ?"
		args = append(args, q.Origin)
	}
	if q.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, q.UserID)
	}
	if q.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, q.SessionID)
	}
	if q.MessageLike != "" {
		query += ` AND message LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(q.MessageLike)+"%")
	}
	query += " ORDER BY occurred_at DESC, id LIMIT ?"
	args = append(args, q.Limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errQuery("find related", err)
	}
	defer rows.Close()

	var out []*errors.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			s.log.Warn("skipping unreadable history row", "error", err)
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errQuery("find related", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*errors.Report, error) {
	var data string
	var resolved bool
	if err := row.Scan(&data, &resolved); err != nil {
		return nil, err
	}
	var r errors.Report
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	r.Resolved = resolved
	return &r, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Get retrieves a single report by id
func (s *Store) Get(ctx context.Context, id string) (*errors.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT report_json, resolved FROM error_reports WHERE id = ?", id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound(id)
	}
	if err != nil {
		return nil, errQuery("get", err)
	}
	return r, nil
}

// MarkResolved marks a report as resolved
func (s *Store) MarkResolved(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE error_reports SET
			resolved = 1,
			resolved_at = COALESCE(resolved_at, ?)
		WHERE id = ?
	`, s.clock().UnixMilli(), id)
	if err != nil {
		return errWrite("resolve", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errWrite("resolve", err)
	}
	if affected == 0 {
		return errNotFound(id)
	}
	return nil
}

// Cleanup removes resolved reports older than the retention period
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM error_reports WHERE resolved = 1 AND resolved_at < ?",
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, errWrite("cleanup", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, errWrite("cleanup", err)
	}
	if n > 0 {
		s.log.Info("history cleanup removed resolved reports", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

// Stats returns statistics about stored reports
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		ByKind:     make(map[errors.Kind]int),
		BySeverity: make(map[errors.Severity]int),
		ByOrigin:   make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(CASE WHEN resolved = 0 THEN 1 ELSE 0 END), 0) FROM error_reports",
	).Scan(&stats.Total, &stats.Unresolved)
	if err != nil {
		return stats, errQuery("stats", err)
	}

	groups := []struct {
		column string
		add    func(key string, n int)
	}{
		{"kind", func(k string, n int) { stats.ByKind[errors.Kind(k)] = n }},
		{"severity", func(k string, n int) { stats.BySeverity[errors.Severity(k)] = n }},
		{"origin", func(k string, n int) { stats.ByOrigin[k] = n }},
	}
	for _, g := range groups {
		if err := s.countBy(ctx, g.column, g.add); err != nil {
			return stats, errQuery("stats", err)
		}
	}
	return stats, nil
}

func (s *Store) countBy(ctx context.Context, column string, add func(string, int)) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM error_reports GROUP BY %s", column, column))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}
