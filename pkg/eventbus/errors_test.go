package eventbus

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
)

func TestErrorConstructors(t *testing.T) {
	cause := stderrors.New("connection reset")

	tests := []struct {
		name      string
		err       error
		code      string
		kind      errors.Kind
		retryable bool
		contains  []string
	}{
		{
			name:     "stopped",
			err:      errStopped("publish"),
			code:     CodeBusStopped,
			kind:     errors.KindCommunication,
			contains: []string{"publish rejected"},
		},
		{
			name:     "invalid event",
			err:      errInvalidEvent("event without type"),
			code:     CodeInvalidEvent,
			kind:     errors.KindCommunication,
			contains: []string{"event without type"},
		},
		{
			name:     "subscription limit",
			err:      errSubscriptionLimit(10),
			code:     CodeSubscriptionLimit,
			kind:     errors.KindResourceLimit,
			contains: []string{"limit of 10"},
		},
		{
			name:      "no endpoint",
			err:       errNoEndpoint("cad-agent"),
			code:      CodeNoEndpoint,
			kind:      errors.KindCommunication,
			retryable: true,
			contains:  []string{"cad-agent"},
		},
		{
			name:      "delivery failed",
			err:       errDeliveryFailed("cad-agent", cause),
			code:      CodeDeliveryFailed,
			kind:      errors.KindCommunication,
			retryable: true,
			contains:  []string{"cad-agent", "connection reset"},
		},
		{
			name:      "throttled",
			err:       errThrottled("cad-agent"),
			code:      CodeThrottled,
			kind:      errors.KindRateLimit,
			retryable: true,
			contains:  []string{"throttled"},
		},
		{
			name:      "request timeout",
			err:       errRequestTimeout("cad-agent", "req-1", 2*time.Second),
			code:      CodeRequestTimeout,
			kind:      errors.KindTimeout,
			retryable: true,
			contains:  []string{"req-1", "2s"},
		},
		{
			name:      "request rejected",
			err:       errRequestRejected("cad-agent", "req-1", "bad mesh"),
			code:      CodeRequestRejected,
			kind:      errors.KindCommunication,
			retryable: true,
			contains:  []string{"bad mesh"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ae, ok := errors.As(tt.err)
			if !ok {
				t.Fatalf("expected AgentError, got %T", tt.err)
			}
			if ae.Code != tt.code {
				t.Errorf("Code = %q, want %q", ae.Code, tt.code)
			}
			if ae.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", ae.Kind, tt.kind)
			}
			if ae.Origin != "eventbus" {
				t.Errorf("Origin = %q, want eventbus", ae.Origin)
			}
			if got := errors.IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, should contain %q", msg, s)
				}
			}
		})
	}
}

func TestErrStoppedWrapsSentinel(t *testing.T) {
	if !stderrors.Is(errStopped("subscribe"), ErrBusStopped) {
		t.Error("errStopped should wrap ErrBusStopped")
	}
}

func TestRequestErrorsCarryCorrelation(t *testing.T) {
	ae, _ := errors.As(errRequestTimeout("poster-agent", "req-42", time.Second))
	if ae.CorrelationID != "req-42" {
		t.Errorf("CorrelationID = %q, want req-42", ae.CorrelationID)
	}
	if ae.Context["destination"] != "poster-agent" {
		t.Errorf("destination context = %v", ae.Context["destination"])
	}
}
