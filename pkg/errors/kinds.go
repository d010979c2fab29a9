package errors

import (
	"sort"
	"sync"
)

// Kind identifies the cause class of an error.
type Kind string

const (
	KindParse              Kind = "parse_error"
	KindCorruptedInput     Kind = "corrupted_input"
	KindTimeout            Kind = "timeout"
	KindRateLimit          Kind = "rate_limit"
	KindResourceLimit      Kind = "resource_limit"
	KindServiceUnavailable Kind = "service_unavailable"
	KindCommunication      Kind = "communication"
	KindAuthentication     Kind = "authentication"
	KindSystem             Kind = "system"
)

// KindDefinition defines how a kind is presented and whether it is retryable
type KindDefinition struct {
	Kind            Kind     `json:"kind"`
	DefaultSeverity Severity `json:"default_severity"`
	Retryable       bool     `json:"retryable"`
	UserMessage     string   `json:"user_message"`
	Help            string   `json:"help"`
}

var (
	kinds   = make(map[Kind]KindDefinition)
	kindsMu sync.RWMutex
)

var defaultKinds = []KindDefinition{
	{
		Kind:            KindParse,
		DefaultSeverity: SeverityMedium,
		UserMessage:     "The file could not be read. Please check the format and try again.",
		Help:            "Verify the input format is supported and the file is not truncated",
	},
	{
		Kind:            KindCorruptedInput,
		DefaultSeverity: SeverityMedium,
		UserMessage:     "The uploaded data appears to be corrupted. Please upload it again.",
		Help:            "Re-export the source file and compare checksums",
	},
	{
		Kind:            KindTimeout,
		DefaultSeverity: SeverityMedium,
		Retryable:       true,
		UserMessage:     "The request took too long. Please try again.",
		Help:            "Check downstream latency and timeout configuration",
	},
	{
		Kind:            KindRateLimit,
		DefaultSeverity: SeverityLow,
		Retryable:       true,
		UserMessage:     "Too many requests. Please wait a moment and try again.",
		Help:            "Reduce request rate or raise the upstream quota",
	},
	{
		Kind:            KindResourceLimit,
		DefaultSeverity: SeverityHigh,
		UserMessage:     "The request exceeds available resources. Try a smaller input.",
		Help:            "Check memory, disk and file size limits of the origin subsystem",
	},
	{
		Kind:            KindServiceUnavailable,
		DefaultSeverity: SeverityHigh,
		Retryable:       true,
		UserMessage:     "The service is temporarily unavailable. Please try again shortly.",
		Help:            "Check health of the model provider or downstream agent",
	},
	{
		Kind:            KindCommunication,
		DefaultSeverity: SeverityMedium,
		Retryable:       true,
		UserMessage:     "We could not reach a required component. Retrying may help.",
		Help:            "Check network connectivity and agent registration",
	},
	{
		Kind:            KindAuthentication,
		DefaultSeverity: SeverityHigh,
		UserMessage:     "Authentication failed. Please sign in again.",
		Help:            "Check credentials, token expiry and key rotation",
	},
	{
		Kind:            KindSystem,
		DefaultSeverity: SeverityHigh,
		UserMessage:     "An unexpected error occurred. Our team has been notified.",
		Help:            "Inspect logs of the origin subsystem",
	},
}

func init() {
	for _, def := range defaultKinds {
		kinds[def.Kind] = def
	}
}

// Register adds or replaces a kind definition
func Register(def KindDefinition) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[def.Kind] = def
}

// Lookup returns the definition of kind. Unknown kinds behave like KindSystem.
func Lookup(kind Kind) KindDefinition {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	if def, ok := kinds[kind]; ok {
		return def
	}
	def := kinds[KindSystem]
	def.Kind = kind
	return def
}

// AllKinds returns all registered definitions sorted by kind
func AllKinds() []KindDefinition {
	kindsMu.RLock()
	defer kindsMu.RUnlock()

	result := make([]KindDefinition, 0, len(kinds))
	for _, def := range kinds {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Kind < result[j].Kind })
	return result
}
