package eventbus

import (
	stderrors "errors"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// Error codes raised by the bus
const (
	CodeBusStopped        = "BUS-001" // Publish or subscribe after Stop
	CodeInvalidEvent      = "BUS-002" // Event without a type
	CodeSubscriptionLimit = "BUS-003" // Subscription table full
	CodeNoEndpoint        = "BUS-010" // Direct notification target unknown
	CodeDeliveryFailed    = "BUS-011" // Direct notification endpoint failed
	CodeThrottled         = "BUS-012" // Direct notification rate limited
	CodeEndpointLimit     = "BUS-013" // Endpoint table full
	CodeRequestTimeout    = "BUS-020" // sendRequest timed out
	CodeRequestRejected   = "BUS-021" // Responder replied with an error
	CodeRequestCancelled  = "BUS-022" // Caller context cancelled
)

// ErrBusStopped is wrapped when the bus no longer accepts work
var ErrBusStopped = stderrors.New("event bus stopped")

const origin = "eventbus"

func errStopped(op string) error {
	return errors.NewBuilder(errors.KindCommunication).
		Code(CodeBusStopped).
		Origin(origin).
		Messagef("%s rejected: bus stopped", op).
		Wrap(ErrBusStopped).
		Build()
}

func errInvalidEvent(reason string) error {
	return errors.NewBuilder(errors.KindCommunication).
		Code(CodeInvalidEvent).
		Origin(origin).
		Severity(errors.SeverityLow).
		Messagef("invalid event: %s", reason).
		Build()
}

func errSubscriptionLimit(limit int) error {
	return errors.NewBuilder(errors.KindResourceLimit).
		Code(CodeSubscriptionLimit).
		Origin(origin).
		Messagef("subscription limit of %d reached", limit).
		Build()
}

func errNoEndpoint(destination string) error {
	return errors.NewBuilder(errors.KindCommunication).
		Code(CodeNoEndpoint).
		Origin(origin).
		Messagef("no endpoint registered for %s", destination).
		Context("destination", destination).
		Build()
}

func errDeliveryFailed(destination string, cause error) error {
	return errors.NewBuilder(errors.KindCommunication).
		Code(CodeDeliveryFailed).
		Origin(origin).
		Messagef("direct delivery to %s failed", destination).
		Context("destination", destination).
		Wrap(cause).
		Build()
}

func errThrottled(destination string) error {
	return errors.NewBuilder(errors.KindRateLimit).
		Code(CodeThrottled).
		Origin(origin).
		Messagef("direct delivery to %s throttled", destination).
		Context("destination", destination).
		Build()
}

func errEndpointLimit(limit int) error {
	return errors.NewBuilder(errors.KindResourceLimit).
		Code(CodeEndpointLimit).
		Origin(origin).
		Messagef("endpoint limit of %d reached", limit).
		Build()
}

func errRequestTimeout(destination, requestID string, timeout time.Duration) error {
	return errors.NewBuilder(errors.KindTimeout).
		Code(CodeRequestTimeout).
		Origin(origin).
		Messagef("request %s to %s timed out after %s", requestID, destination, timeout).
		Context("destination", destination).
		Correlation(requestID).
		Build()
}

func errRequestRejected(destination, requestID, reason string) error {
	return errors.NewBuilder(errors.KindCommunication).
		Code(CodeRequestRejected).
		Origin(origin).
		Messagef("request %s rejected by %s: %s", requestID, destination, reason).
		Context("destination", destination).
		Correlation(requestID).
		Build()
}

func errRequestCancelled(destination, requestID string, cause error) error {
	return errors.NewBuilder(errors.KindCommunication).
		Code(CodeRequestCancelled).
		Origin(origin).
		Messagef("request %s to %s cancelled", requestID, destination).
		Correlation(requestID).
		Wrap(cause).
		Build()
}
