package rca

import (
	"fmt"
	"strings"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// Hypothesis categories
const (
	CategoryServiceUnavailable = "service_unavailable"
	CategoryTimeout            = "timeout"
	CategoryDatabase           = "database"
	CategoryRateLimit          = "rate_limit"
	CategoryResource           = "resource_exhaustion"
	CategoryInput              = "input"
	CategoryCommunication      = "communication"
	CategoryAuthentication     = "authentication"
	CategoryPattern            = "recurring_pattern"
	CategoryCascading          = "cascading_failure"
	CategoryUnknown            = "unknown"
)

// causeRule proposes a hypothesis for a kind, optionally only when the
// lowercased message contains one of match. Rules are evaluated in order and
// every matching rule contributes.
type causeRule struct {
	kind        errors.Kind
	match       []string
	category    string
	description string
	confidence  float64
}

var causeRules = []causeRule{
	{errors.KindServiceUnavailable, nil, CategoryServiceUnavailable,
		"System unavailable: a downstream service or model provider is down or overloaded", 0.8},
	{errors.KindTimeout, []string{"database", "query", "sql"}, CategoryDatabase,
		"Database timeout: slow queries or an exhausted connection pool", 0.75},
	{errors.KindTimeout, nil, CategoryTimeout,
		"Timeout: downstream latency exceeds the configured timeout", 0.7},
	{errors.KindRateLimit, nil, CategoryRateLimit,
		"Rate limit exceeded: request volume is above the upstream quota", 0.85},
	{errors.KindResourceLimit, nil, CategoryResource,
		"Resource exhaustion: memory, storage or size limits were reached", 0.75},
	{errors.KindParse, nil, CategoryInput,
		"Invalid input: malformed or unsupported input format", 0.7},
	{errors.KindCorruptedInput, nil, CategoryInput,
		"Invalid input: corrupted data from upload or storage", 0.7},
	{errors.KindCommunication, []string{"database", "connection refused"}, CategoryDatabase,
		"Database connection failure: the database refused or dropped connections", 0.7},
	{errors.KindCommunication, nil, CategoryCommunication,
		"Communication failure: agent unreachable or network partition", 0.65},
	{errors.KindAuthentication, nil, CategoryAuthentication,
		"Authentication failure: expired or invalid credentials", 0.8},
	{errors.KindSystem, []string{"database", "sql"}, CategoryDatabase,
		"Database error inside the origin subsystem", 0.6},
}

// unknownCause is reported when no hypothesis applies
var unknownCause = Hypothesis{
	Category:    CategoryUnknown,
	Description: "Unknown root cause, needs investigation",
	Confidence:  0.1,
}

// patternThreshold is the frequency above which a pattern becomes a hypothesis
const patternThreshold = 5

func buildHypotheses(source *errors.Report, patterns []Pattern, timeline []TimelineEntry) []Hypothesis {
	msg := strings.ToLower(source.Message)
	var out []Hypothesis

	for _, rule := range causeRules {
		if rule.kind != source.Kind {
			continue
		}
		if len(rule.match) > 0 && !containsAny(msg, rule.match) {
			continue
		}
		out = append(out, Hypothesis{
			Category:    rule.category,
			Description: rule.description,
			Confidence:  rule.confidence,
			Evidence: []string{
				fmt.Sprintf("error kind %s from %s", source.Kind, originOrUnknown(source.Origin)),
				fmt.Sprintf("message: %s", source.Message),
			},
		})
	}

	for _, p := range patterns {
		if p.Frequency <= patternThreshold {
			continue
		}
		out = append(out, Hypothesis{
			Category: CategoryPattern,
			Description: fmt.Sprintf("Recurring %s errors in %s (%d occurrences)",
				p.Kind, originOrUnknown(p.Origin), p.Frequency),
			Confidence: min(0.9, float64(p.Frequency)/10),
			Evidence: []string{
				fmt.Sprintf("%d occurrences over %s", p.Frequency, p.TimeSpan),
				fmt.Sprintf("dominant severity %s", p.DominantSeverity),
			},
		})
	}

	severe := 0
	origins := make(map[string]struct{})
	for _, e := range timeline {
		if e.Level == LevelError || e.Level == LevelCritical {
			severe++
			origins[e.Origin] = struct{}{}
		}
	}
	if severe > 1 {
		out = append(out, Hypothesis{
			Category:    CategoryCascading,
			Description: fmt.Sprintf("Cascading failure: %d severe errors across %d subsystems", severe, len(origins)),
			Confidence:  0.6,
			Evidence:    []string{fmt.Sprintf("%d ERROR or CRITICAL timeline entries", severe)},
		})
	}
	return out
}

// selectRootCause picks the most confident hypothesis, earlier ones winning ties
func selectRootCause(hypotheses []Hypothesis) Hypothesis {
	if len(hypotheses) == 0 {
		return unknownCause
	}
	best := hypotheses[0]
	for _, h := range hypotheses[1:] {
		if h.Confidence > best.Confidence {
			best = h
		}
	}
	return best
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func originOrUnknown(origin string) string {
	if origin == "" {
		return "unknown origin"
	}
	return origin
}
