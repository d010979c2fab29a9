package errors

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Report is the persisted wrapper around an AgentError. Kind, severity, origin
// and message are denormalized for querying. Only Resolved ever changes.
type Report struct {
	ID         string         `json:"id"`
	Error      *AgentError    `json:"error"`
	ReceivedAt time.Time      `json:"received_at"`
	Kind       Kind           `json:"kind"`
	Severity   Severity       `json:"severity"`
	Origin     string         `json:"origin"`
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	Resolved   bool           `json:"resolved"`
}

// NewReport wraps err, merging extra into the error's own context. Keys in
// extra win on conflict.
func NewReport(err *AgentError, extra map[string]any, receivedAt time.Time) *Report {
	merged := make(map[string]any, len(err.Context)+len(extra))
	maps.Copy(merged, err.Context)
	maps.Copy(merged, extra)

	return &Report{
		ID:         uuid.NewString(),
		Error:      err,
		ReceivedAt: receivedAt,
		Kind:       err.Kind,
		Severity:   err.Severity,
		Origin:     err.Origin,
		Message:    err.Message,
		Context:    merged,
	}
}

// UserID returns the affected user from the error or the report context.
func (r *Report) UserID() string {
	if r.Error != nil && r.Error.UserID != "" {
		return r.Error.UserID
	}
	return contextString(r.Context, "user_id")
}

// SessionID returns the session from the error or the report context.
func (r *Report) SessionID() string {
	if r.Error != nil && r.Error.SessionID != "" {
		return r.Error.SessionID
	}
	return contextString(r.Context, "session_id")
}

// OccurredAt is the error's own timestamp, falling back to arrival time.
func (r *Report) OccurredAt() time.Time {
	if r.Error != nil && !r.Error.Timestamp.IsZero() {
		return r.Error.Timestamp
	}
	return r.ReceivedAt
}

func contextString(ctx map[string]any, key string) string {
	v, ok := ctx[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
