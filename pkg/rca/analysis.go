// Package rca correlates an error report with related history to explain its
// probable root cause, estimate impact and propose remediation.
package rca

import (
	"context"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// HistoryQuery selects prior reports inside [Since, Until]. Non-empty filters
// are ANDed; the analyzer issues one query per filter.
type HistoryQuery struct {
	Since       time.Time
	Until       time.Time
	Origin      string
	UserID      string
	SessionID   string
	MessageLike string
	Limit       int
}

// History reads prior error reports
type History interface {
	FindRelated(ctx context.Context, q HistoryQuery) ([]*errors.Report, error)
}

// Tier grades business and technical impact
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierCritical Tier = "CRITICAL"
)

// Pattern is a group of errors sharing kind and origin
type Pattern struct {
	Key              string          `json:"key"`
	Kind             errors.Kind     `json:"kind"`
	Origin           string          `json:"origin"`
	Frequency        int             `json:"frequency"`
	FirstSeen        time.Time       `json:"first_seen"`
	LastSeen         time.Time       `json:"last_seen"`
	TimeSpan         time.Duration   `json:"time_span"`
	SharedContext    map[string]any  `json:"shared_context,omitempty"`
	DominantSeverity errors.Severity `json:"dominant_severity"`
}

// TimelineEntry is one error on the incident timeline
type TimelineEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	ReportID  string      `json:"report_id"`
	Kind      errors.Kind `json:"kind"`
	Origin    string      `json:"origin"`
	Message   string      `json:"message"`
	Level     string      `json:"level"` // INFO, WARNING, ERROR or CRITICAL
	Source    bool        `json:"source,omitempty"`
}

// Hypothesis is a candidate root cause
type Hypothesis struct {
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	Evidence    []string `json:"evidence,omitempty"`
}

// Factor is a condition that contributed to the incident
type Factor struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
}

// Impact estimates who and what was affected
type Impact struct {
	AffectedUsers   int      `json:"affected_users"`
	AffectedSystems []string `json:"affected_systems"`
	BusinessImpact  Tier     `json:"business_impact"`
	TechnicalImpact Tier     `json:"technical_impact"`
	DowntimeMinutes float64  `json:"estimated_downtime_minutes"`
	// FinancialEstimate is a rough heuristic, not a costing model.
	FinancialEstimate float64 `json:"estimated_financial_impact"`
	FinancialBasis    string  `json:"financial_basis"`
}

// Recommendations are remediation actions grouped by horizon
type Recommendations struct {
	Immediate []string `json:"immediate"`
	ShortTerm []string `json:"short_term"`
	LongTerm  []string `json:"long_term"`
}

// Analysis is the result of a root cause analysis
type Analysis struct {
	ID                  string          `json:"id"`
	ErrorID             string          `json:"error_id"`
	CacheKey            string          `json:"cache_key"`
	RootCause           Hypothesis      `json:"root_cause"`
	Hypotheses          []Hypothesis    `json:"hypotheses"`
	Patterns            []Pattern       `json:"patterns"`
	ContributingFactors []Factor        `json:"contributing_factors"`
	Timeline            []TimelineEntry `json:"timeline"`
	Impact              Impact          `json:"impact"`
	Recommendations     Recommendations `json:"recommendations"`
	RelatedErrors       int             `json:"related_errors"`
	RelatedErrorIDs     []string        `json:"related_error_ids"`
	AnalyzedAt          time.Time       `json:"analyzed_at"`
}

// HasFactor reports whether a contributing factor with id is present
func (a *Analysis) HasFactor(id string) bool {
	for _, f := range a.ContributingFactors {
		if f.ID == id {
			return true
		}
	}
	return false
}
