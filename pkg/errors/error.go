package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Severity reflects blast radius, independent of the error kind.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AgentError is an immutable, typed error raised by agents and core components.
type AgentError struct {
	Code          string         `json:"code,omitempty"`
	Kind          Kind           `json:"kind"`
	Severity      Severity       `json:"severity"`
	Origin        string         `json:"origin"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	UserID        string         `json:"user_id,omitempty"`

	cause error
}

// Error implements the error interface
func (e *AgentError) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("/")
	b.WriteString(string(e.Severity))
	b.WriteString("]")
	if e.Origin != "" {
		b.WriteString(" ")
		b.WriteString(e.Origin)
		b.WriteString(":")
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	if e.cause != nil && e.cause.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *AgentError) Unwrap() error {
	return e.cause
}

// Retryable reports whether callers may retry the failed operation.
func (e *AgentError) Retryable() bool {
	return Lookup(e.Kind).Retryable
}

// UserMessage returns the stable, user-facing message for the error kind.
func (e *AgentError) UserMessage() string {
	return Lookup(e.Kind).UserMessage
}

// WithContext returns a copy of e with key set in its context.
func (e *AgentError) WithContext(key string, value any) *AgentError {
	cp := *e
	cp.Context = make(map[string]any, len(e.Context)+1)
	maps.Copy(cp.Context, e.Context)
	cp.Context[key] = value
	return &cp
}

// ContextString returns a context value rendered as a string, or "".
func (e *AgentError) ContextString(key string) string {
	v, ok := e.Context[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// MarshalJSON includes the cause message, which is otherwise unexported.
func (e *AgentError) MarshalJSON() ([]byte, error) {
	type alias AgentError
	out := struct {
		*alias
		Cause     string `json:"cause,omitempty"`
		Retryable bool   `json:"retryable"`
	}{alias: (*alias)(e), Retryable: e.Retryable()}
	if e.cause != nil {
		out.Cause = e.cause.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a persisted error. The cause comes back as a plain
// error carrying only its message.
func (e *AgentError) UnmarshalJSON(data []byte) error {
	type alias AgentError
	in := struct {
		*alias
		Cause string `json:"cause,omitempty"`
	}{alias: (*alias)(e)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Cause != "" {
		e.cause = stderrors.New(in.Cause)
	}
	return nil
}

// ErrorBuilder provides a fluent interface for creating AgentErrors
type ErrorBuilder struct {
	err AgentError
	now func() time.Time
}

// NewBuilder starts an error of the given kind with the kind's default severity.
func NewBuilder(kind Kind) *ErrorBuilder {
	def := Lookup(kind)
	return &ErrorBuilder{
		err: AgentError{
			Kind:     kind,
			Severity: def.DefaultSeverity,
			Context:  make(map[string]any),
		},
		now: time.Now,
	}
}

// Code sets a component error code such as BUS-001.
func (b *ErrorBuilder) Code(code string) *ErrorBuilder {
	b.err.Code = code
	return b
}

// Message sets the error message
func (b *ErrorBuilder) Message(msg string) *ErrorBuilder {
	b.err.Message = msg
	return b
}

// Messagef sets a formatted error message
func (b *ErrorBuilder) Messagef(format string, args ...any) *ErrorBuilder {
	b.err.Message = fmt.Sprintf(format, args...)
	return b
}

// Severity overrides the kind's default severity
func (b *ErrorBuilder) Severity(sev Severity) *ErrorBuilder {
	b.err.Severity = sev
	return b
}

// Origin sets the subsystem that raised the error
func (b *ErrorBuilder) Origin(origin string) *ErrorBuilder {
	b.err.Origin = origin
	return b
}

// Context adds a single context value
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	b.err.Context[key] = value
	return b
}

// Contexts merges a context map
func (b *ErrorBuilder) Contexts(ctx map[string]any) *ErrorBuilder {
	maps.Copy(b.err.Context, ctx)
	return b
}

// Correlation sets the correlation identifier
func (b *ErrorBuilder) Correlation(id string) *ErrorBuilder {
	b.err.CorrelationID = id
	return b
}

// Session sets the session identifier
func (b *ErrorBuilder) Session(id string) *ErrorBuilder {
	b.err.SessionID = id
	return b
}

// User sets the affected user identifier
func (b *ErrorBuilder) User(id string) *ErrorBuilder {
	b.err.UserID = id
	return b
}

// At sets the creation timestamp, used when replaying stored errors.
func (b *ErrorBuilder) At(ts time.Time) *ErrorBuilder {
	b.err.Timestamp = ts
	return b
}

// Wrap records the underlying cause
func (b *ErrorBuilder) Wrap(cause error) *ErrorBuilder {
	b.err.cause = cause
	return b
}

// Build returns the finished error. The builder must not be reused.
func (b *ErrorBuilder) Build() *AgentError {
	if b.err.Timestamp.IsZero() {
		b.err.Timestamp = b.now()
	}
	if b.err.Message == "" {
		if b.err.cause != nil {
			b.err.Message = b.err.cause.Error()
		} else {
			b.err.Message = Lookup(b.err.Kind).UserMessage
		}
	}
	e := b.err
	e.Context = maps.Clone(b.err.Context)
	return &e
}

// New creates an error of kind with message
func New(kind Kind, message string) *AgentError {
	return NewBuilder(kind).Message(message).Build()
}

// Newf creates an error with a formatted message
func Newf(kind Kind, format string, args ...any) *AgentError {
	return NewBuilder(kind).Messagef(format, args...).Build()
}

// Wrap wraps cause as an error of kind. An existing AgentError is returned as is.
func Wrap(kind Kind, cause error) *AgentError {
	if cause == nil {
		return nil
	}
	var ae *AgentError
	if stderrors.As(cause, &ae) {
		return ae
	}
	return NewBuilder(kind).Wrap(cause).Build()
}

// As finds the first AgentError in err's chain.
func As(err error) (*AgentError, bool) {
	var ae *AgentError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// KindOf returns the kind of err, or KindSystem for foreign errors.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindSystem
}

// IsRetryable reports whether err is a retryable AgentError.
func IsRetryable(err error) bool {
	if ae, ok := As(err); ok {
		return ae.Retryable()
	}
	return false
}

// UserMessage returns a user-facing message for any error.
func UserMessage(err error) string {
	return Lookup(KindOf(err)).UserMessage
}
