package monitor

import (
	"sort"
	"strings"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// Recommendation is one recovery action for an error
type Recommendation struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	UserMessage  string   `json:"user_message"`
	Steps        []string `json:"steps"`
	AutoRecovery bool     `json:"auto_recovery"`
	Priority     int      `json:"priority"` // lower is more urgent
}

// recommendationRule applies when the error kind matches and, if match is set,
// the lowercased message contains one of the substrings. A rule without match
// is the kind's default and applies only when no substring rule did.
type recommendationRule struct {
	kind  errors.Kind
	match []string
	recs  []Recommendation
}

var genericRecommendation = Recommendation{
	ID:          "manual_investigation",
	Description: "Error needs manual investigation",
	UserMessage: "Something went wrong. Our team has been notified.",
	Steps: []string{
		"Inspect logs of the origin subsystem around the error timestamp",
		"Run root cause analysis on the report",
		"Escalate to the owning team if the error repeats",
	},
	Priority: 99,
}

var recommendationRules = []recommendationRule{
	{
		kind:  errors.KindParse,
		match: []string{"format", "unsupported", "extension"},
		recs: []Recommendation{{
			ID:          "convert_format",
			Description: "Input is in an unsupported or unexpected format",
			UserMessage: "Please export the file as STEP, IGES or STL and upload it again.",
			Steps:       []string{"Check the detected file type", "Convert to a supported format", "Re-submit the upload"},
			Priority:    1,
		}},
	},
	{
		kind:  errors.KindParse,
		match: []string{"timeout", "timed out"},
		recs: []Recommendation{{
			ID:           "retry_simplified",
			Description:  "Parsing exceeded its time budget",
			UserMessage:  "The file is taking too long to process. We will retry with a simplified pass.",
			Steps:        []string{"Retry parsing with reduced tessellation", "Split assemblies into parts"},
			AutoRecovery: true,
			Priority:     1,
		}},
	},
	{
		kind:  errors.KindParse,
		match: []string{"memory", "too large", "size"},
		recs: []Recommendation{{
			ID:          "reduce_input_size",
			Description: "Input is too large to parse",
			UserMessage: "The file is too large. Please reduce its size or split it.",
			Steps:       []string{"Check the input size against parser limits", "Decimate or split the model"},
			Priority:    1,
		}},
	},
	{
		kind: errors.KindParse,
		recs: []Recommendation{{
			ID:          "validate_input",
			Description: "Input could not be parsed",
			UserMessage: "The file could not be read. Please check it and try again.",
			Steps:       []string{"Validate the file in its authoring tool", "Re-export and re-upload"},
			Priority:    2,
		}},
	},
	{
		kind: errors.KindCorruptedInput,
		recs: []Recommendation{{
			ID:          "reupload",
			Description: "Input data is corrupted",
			UserMessage: "The uploaded data appears to be corrupted. Please upload it again.",
			Steps:       []string{"Compare checksums of the upload", "Ask the user to re-upload"},
			Priority:    1,
		}},
	},
	{
		kind: errors.KindTimeout,
		recs: []Recommendation{
			{
				ID:           "retry_with_backoff",
				Description:  "Operation timed out",
				UserMessage:  "The request took too long. Retrying automatically.",
				Steps:        []string{"Retry with exponential backoff"},
				AutoRecovery: true,
				Priority:     1,
			},
			{
				ID:          "tune_timeout",
				Description: "Timeout may be too tight for the workload",
				UserMessage: "If this keeps happening, try a smaller request.",
				Steps:       []string{"Compare p99 latency of the origin with its timeout", "Raise the timeout or split the work"},
				Priority:    2,
			},
		},
	},
	{
		kind:  errors.KindRateLimit,
		match: []string{"quota"},
		recs: []Recommendation{{
			ID:          "raise_quota",
			Description: "Upstream quota exhausted",
			UserMessage: "The daily limit has been reached. Please try again later.",
			Steps:       []string{"Check quota usage with the provider", "Request a quota increase"},
			Priority:    1,
		}},
	},
	{
		kind: errors.KindRateLimit,
		recs: []Recommendation{{
			ID:           "backoff",
			Description:  "Rate limit exceeded",
			UserMessage:  "Too many requests. Retrying shortly.",
			Steps:        []string{"Back off and retry after the advertised delay"},
			AutoRecovery: true,
			Priority:     1,
		}},
	},
	{
		kind:  errors.KindResourceLimit,
		match: []string{"memory", "oom"},
		recs: []Recommendation{{
			ID:          "reduce_batch",
			Description: "Memory limit reached",
			UserMessage: "The request needs more memory than available. Try a smaller input.",
			Steps:       []string{"Reduce batch size", "Check the memory limit of the origin"},
			Priority:    1,
		}},
	},
	{
		kind:  errors.KindResourceLimit,
		match: []string{"disk", "storage", "space"},
		recs: []Recommendation{{
			ID:          "free_storage",
			Description: "Storage exhausted",
			UserMessage: "Storage is temporarily full. Please try again later.",
			Steps:       []string{"Purge temporary files", "Expand the volume"},
			Priority:    1,
		}},
	},
	{
		kind: errors.KindResourceLimit,
		recs: []Recommendation{{
			ID:          "reduce_input",
			Description: "Resource limit reached",
			UserMessage: "The request exceeds available resources. Try a smaller input.",
			Steps:       []string{"Identify the exhausted resource", "Reduce the input or raise the limit"},
			Priority:    1,
		}},
	},
	{
		kind:  errors.KindServiceUnavailable,
		match: []string{"model", "provider"},
		recs: []Recommendation{{
			ID:           "switch_provider",
			Description:  "Model provider unavailable",
			UserMessage:  "Switching to a backup model.",
			Steps:        []string{"Route requests to the fallback provider", "Check the provider status page"},
			AutoRecovery: true,
			Priority:     1,
		}},
	},
	{
		kind: errors.KindServiceUnavailable,
		recs: []Recommendation{
			{
				ID:           "use_fallback",
				Description:  "Downstream service unavailable",
				UserMessage:  "The service is temporarily unavailable. Using a fallback.",
				Steps:        []string{"Serve from the fallback path or cache"},
				AutoRecovery: true,
				Priority:     1,
			},
			{
				ID:           "retry_later",
				Description:  "Retry once the service recovers",
				UserMessage:  "Please try again shortly.",
				Steps:        []string{"Wait for the breaker recovery timeout", "Retry the request"},
				AutoRecovery: true,
				Priority:     2,
			},
		},
	},
	{
		kind:  errors.KindCommunication,
		match: []string{"websocket", "connection", "endpoint"},
		recs: []Recommendation{{
			ID:           "reconnect",
			Description:  "Agent connection lost",
			UserMessage:  "Reconnecting to the agent.",
			Steps:        []string{"Re-dial the agent endpoint", "Fall back to routed delivery"},
			AutoRecovery: true,
			Priority:     1,
		}},
	},
	{
		kind: errors.KindCommunication,
		recs: []Recommendation{
			{
				ID:           "retry_delivery",
				Description:  "Message delivery failed",
				UserMessage:  "We could not reach a required component. Retrying.",
				Steps:        []string{"Retry delivery through the event bus"},
				AutoRecovery: true,
				Priority:     1,
			},
			{
				ID:          "check_registration",
				Description: "Destination may not be registered",
				UserMessage: "If this persists, the component may be offline.",
				Steps:       []string{"Check subscriptions and endpoints for the destination", "Restart the agent"},
				Priority:    2,
			},
		},
	},
	{
		kind:  errors.KindAuthentication,
		match: []string{"token", "expired"},
		recs: []Recommendation{{
			ID:           "refresh_token",
			Description:  "Credentials expired",
			UserMessage:  "Your session expired. Refreshing.",
			Steps:        []string{"Refresh the access token", "Retry the request"},
			AutoRecovery: true,
			Priority:     1,
		}},
	},
	{
		kind: errors.KindAuthentication,
		recs: []Recommendation{{
			ID:          "reauthenticate",
			Description: "Authentication failed",
			UserMessage: "Authentication failed. Please sign in again.",
			Steps:       []string{"Verify credentials and key rotation", "Ask the user to sign in again"},
			Priority:    1,
		}},
	},
}

// Recommend maps err to recovery actions ordered by priority. Kinds without a
// rule get a single manual-investigation recommendation.
func Recommend(err *errors.AgentError) []Recommendation {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Message)

	var matched, defaults []Recommendation
	for _, rule := range recommendationRules {
		if rule.kind != err.Kind {
			continue
		}
		if len(rule.match) == 0 {
			defaults = append(defaults, rule.recs...)
			continue
		}
		if containsAny(msg, rule.match) {
			matched = append(matched, rule.recs...)
		}
	}

	out := matched
	if len(out) == 0 {
		out = defaults
	}
	if len(out) == 0 {
		return []Recommendation{cloneRecommendation(genericRecommendation)}
	}

	result := make([]Recommendation, len(out))
	for i, r := range out {
		result[i] = cloneRecommendation(r)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Priority < result[j].Priority })
	return result
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func cloneRecommendation(r Recommendation) Recommendation {
	r.Steps = append([]string(nil), r.Steps...)
	return r
}
