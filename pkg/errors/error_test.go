package errors

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AgentError
		expected string
	}{
		{
			name:     "without origin",
			err:      &AgentError{Kind: KindTimeout, Severity: SeverityMedium, Message: "deadline exceeded"},
			expected: "[timeout/medium] deadline exceeded",
		},
		{
			name:     "with origin",
			err:      &AgentError{Kind: KindParse, Severity: SeverityLow, Origin: "cad-agent", Message: "bad header"},
			expected: "[parse_error/low] cad-agent: bad header",
		},
		{
			name: "with cause",
			err: &AgentError{
				Kind: KindCommunication, Severity: SeverityHigh, Origin: "bus",
				Message: "delivery failed", cause: errors.New("connection reset"),
			},
			expected: "[communication/high] bus: delivery failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBuilder_Defaults(t *testing.T) {
	err := NewBuilder(KindServiceUnavailable).Origin("poster-agent").Build()

	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, Lookup(KindServiceUnavailable).UserMessage, err.Message)
	assert.False(t, err.Timestamp.IsZero())
	assert.True(t, err.Retryable())
}

func TestBuilder_WrapUsesCauseMessage(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewBuilder(KindCommunication).Wrap(cause).Build()

	assert.Equal(t, "dial tcp: refused", err.Message)
	assert.Equal(t, "[communication/medium] dial tcp: refused", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestBuilder_ContextIsCopied(t *testing.T) {
	src := map[string]any{"file": "a.dxf"}
	b := NewBuilder(KindParse).Contexts(src)
	err := b.Build()

	src["file"] = "b.dxf"
	assert.Equal(t, "a.dxf", err.Context["file"])

	derived := err.WithContext("line", 12)
	assert.NotContains(t, err.Context, "line")
	assert.Equal(t, 12, derived.Context["line"])
}

func TestBuilder_Identifiers(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	err := NewBuilder(KindAuthentication).
		Code("AUTH-001").
		Correlation("corr-1").
		Session("sess-1").
		User("user-1").
		At(ts).
		Build()

	assert.Equal(t, "AUTH-001", err.Code)
	assert.Equal(t, "corr-1", err.CorrelationID)
	assert.Equal(t, "sess-1", err.SessionID)
	assert.Equal(t, "user-1", err.UserID)
	assert.Equal(t, ts, err.Timestamp)
}

func TestRetryableByKind(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{KindTimeout, true},
		{KindRateLimit, true},
		{KindServiceUnavailable, true},
		{KindCommunication, true},
		{KindParse, false},
		{KindCorruptedInput, false},
		{KindAuthentication, false},
		{KindResourceLimit, false},
		{KindSystem, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(New(tt.kind, "x")))
		})
	}
}

func TestWrap_KeepsExistingAgentError(t *testing.T) {
	inner := New(KindTimeout, "slow")
	outer := Wrap(KindSystem, inner)
	assert.Same(t, inner, outer)
	assert.Nil(t, Wrap(KindSystem, nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimit, KindOf(New(KindRateLimit, "429")))
	assert.Equal(t, KindSystem, KindOf(errors.New("plain")))
	assert.Equal(t, Lookup(KindSystem).UserMessage, UserMessage(errors.New("plain")))
}

func TestAgentError_MarshalJSON(t *testing.T) {
	err := NewBuilder(KindTimeout).Origin("chat-agent").Wrap(errors.New("ctx deadline")).Message("llm call timed out").Build()

	data, mErr := json.Marshal(err)
	require.NoError(t, mErr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "timeout", decoded["kind"])
	assert.Equal(t, "chat-agent", decoded["origin"])
	assert.Equal(t, "ctx deadline", decoded["cause"])
	assert.Equal(t, true, decoded["retryable"])
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityMedium.Rank(), SeverityHigh.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.False(t, Severity("fatal").Valid())
}

func TestNewReport_MergesContext(t *testing.T) {
	err := NewBuilder(KindParse).Origin("cad-agent").Context("file", "a.dxf").Context("user_id", "u1").Build()
	now := time.Now()

	r := NewReport(err, map[string]any{"file": "b.dxf", "session_id": "s1"}, now)

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "b.dxf", r.Context["file"])
	assert.Equal(t, "a.dxf", err.Context["file"])
	assert.Equal(t, "u1", r.UserID())
	assert.Equal(t, "s1", r.SessionID())
	assert.Equal(t, KindParse, r.Kind)
	assert.Equal(t, "cad-agent", r.Origin)
	assert.Equal(t, err.Timestamp, r.OccurredAt())
}
