package history

import (
	stderrors "errors"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// Error codes
const (
	CodeOpenFailed  = "HIS-001"
	CodeNotFound    = "HIS-002"
	CodeQueryFailed = "HIS-003"
	CodeWriteFailed = "HIS-004"
)

// ErrNotFound is wrapped by lookups of unknown report ids
var ErrNotFound = stderrors.New("report not found")

func errOpen(path string, cause error) *errors.AgentError {
	return errors.NewBuilder(errors.KindSystem).
		Code(CodeOpenFailed).
		Origin("history").
		Severity(errors.SeverityCritical).
		Messagef("failed to open history store %s", path).
		Context("path", path).
		Wrap(cause).
		Build()
}

func errNotFound(id string) *errors.AgentError {
	return errors.NewBuilder(errors.KindSystem).
		Code(CodeNotFound).
		Origin("history").
		Severity(errors.SeverityLow).
		Messagef("report %s not found", id).
		Context("report_id", id).
		Wrap(ErrNotFound).
		Build()
}

func errQuery(op string, cause error) *errors.AgentError {
	return errors.NewBuilder(errors.KindSystem).
		Code(CodeQueryFailed).
		Origin("history").
		Messagef("history %s failed", op).
		Context("operation", op).
		Wrap(cause).
		Build()
}

func errWrite(op string, cause error) *errors.AgentError {
	return errors.NewBuilder(errors.KindSystem).
		Code(CodeWriteFailed).
		Origin("history").
		Messagef("history %s failed", op).
		Context("operation", op).
		Wrap(cause).
		Build()
}
