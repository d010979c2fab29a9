package rca

import (
	"fmt"
	"sort"
	"time"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// Contributing factor identifiers
const (
	FactorHighLoad          = "high_system_load"
	FactorAbnormalFrequency = "abnormal_error_frequency"
	FactorMultiUser         = "multi_user_impact"
	FactorMultiSubsystem    = "multi_subsystem_impact"
)

var tierMultiplier = map[Tier]float64{
	TierLow:      1,
	TierMedium:   2,
	TierHigh:     5,
	TierCritical: 10,
}

func contributingFactors(source *errors.Report, related []*errors.Report) []Factor {
	var factors []Factor

	if n := len(related); n > 10 {
		factors = append(factors, Factor{
			ID:          FactorHighLoad,
			Description: fmt.Sprintf("High system load: %d related errors", n),
			Value:       float64(n),
		})
	}

	if len(related) > 1 {
		first, last := timeBounds(related)
		minutes := max(last.Sub(first).Minutes(), 1)
		if rate := float64(len(related)) / minutes; rate > 1 {
			factors = append(factors, Factor{
				ID:          FactorAbnormalFrequency,
				Description: fmt.Sprintf("Abnormal error frequency: %.1f errors per minute", rate),
				Value:       rate,
			})
		}
	}

	if users := distinctUsers(source, related); len(users) > 5 {
		factors = append(factors, Factor{
			ID:          FactorMultiUser,
			Description: fmt.Sprintf("Multi-user impact: %d distinct users affected", len(users)),
			Value:       float64(len(users)),
		})
	}

	origins := make(map[string]struct{})
	for _, r := range related {
		if r.Origin != "" {
			origins[r.Origin] = struct{}{}
		}
	}
	if len(origins) > 3 {
		factors = append(factors, Factor{
			ID:          FactorMultiSubsystem,
			Description: fmt.Sprintf("Multi-subsystem impact: %d subsystems reporting errors", len(origins)),
			Value:       float64(len(origins)),
		})
	}
	return factors
}

func assessImpact(source *errors.Report, related []*errors.Report, costPerUserHour float64) Impact {
	users := distinctUsers(source, related)

	systemSet := make(map[string]struct{})
	for _, r := range append([]*errors.Report{source}, related...) {
		if r.Origin != "" {
			systemSet[r.Origin] = struct{}{}
		}
	}
	systems := make([]string, 0, len(systemSet))
	for s := range systemSet {
		systems = append(systems, s)
	}
	sort.Strings(systems)

	var downtime float64
	if len(related) > 0 {
		first, last := timeBounds(related)
		downtime = last.Sub(first).Minutes()
	}

	business := tierFor(len(users), 10, 50, 100)
	return Impact{
		AffectedUsers:     len(users),
		AffectedSystems:   systems,
		BusinessImpact:    business,
		TechnicalImpact:   tierFor(len(systems), 1, 3, 5),
		DowntimeMinutes:   downtime,
		FinancialEstimate: float64(len(users)) * costPerUserHour * tierMultiplier[business],
		FinancialBasis: fmt.Sprintf("rough estimate: %d users x %.2f per user-hour x %.0f (%s tier multiplier)",
			len(users), costPerUserHour, tierMultiplier[business], business),
	}
}

// tierFor grades n against ascending medium, high and critical thresholds
func tierFor(n, medium, high, critical int) Tier {
	switch {
	case n > critical:
		return TierCritical
	case n > high:
		return TierHigh
	case n > medium:
		return TierMedium
	default:
		return TierLow
	}
}

func distinctUsers(source *errors.Report, related []*errors.Report) map[string]struct{} {
	users := make(map[string]struct{})
	if u := source.UserID(); u != "" {
		users[u] = struct{}{}
	}
	for _, r := range related {
		if u := r.UserID(); u != "" {
			users[u] = struct{}{}
		}
	}
	return users
}

func timeBounds(reports []*errors.Report) (first, last time.Time) {
	for i, r := range reports {
		at := r.OccurredAt()
		if i == 0 || at.Before(first) {
			first = at
		}
		if i == 0 || at.After(last) {
			last = at
		}
	}
	return first, last
}
