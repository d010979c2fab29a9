// Package errors provides the typed error taxonomy used across agentcore.
//
// # Overview
//
// Every agent and core component raises an *AgentError carrying:
//   - a Kind describing the cause (parse_error, timeout, rate_limit, ...)
//   - a Severity describing blast radius (low, medium, high, critical)
//   - the origin subsystem and free-form context
//   - optional correlation, session and user identifiers
//
// Kinds are registered in a table (see kinds.go) that decides whether an error
// is retryable and which stable message a user sees.
//
// # Quick Start
//
//	err := errors.NewBuilder(errors.KindTimeout).
//	    Origin("cad-agent").
//	    Wrap(ctx.Err()).
//	    Context("file", name).
//	    Session(sessionID).
//	    Build()
//
//	if errors.IsRetryable(err) {
//	    // back off and retry
//	}
//
// # Component Codes
//
// Core components attach stable codes for log search:
//   - BRK-xxx: circuit breaker
//   - BUS-xxx: event bus and direct notification
//   - MON-xxx: error monitor
//   - RCA-xxx: root cause analyzer
//   - HIS-xxx: error history store
//
// # Reports
//
// Report wraps an AgentError once it has been collected; Ring is the bounded
// buffer the collector, alert log and failed-event queue are built on.
package errors
