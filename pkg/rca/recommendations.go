package rca

import "strings"

type remediation struct {
	match     []string
	immediate []string
	shortTerm []string
}

// remediations are keyed off the lowercased root cause description
var remediations = []remediation{
	{
		match:     []string{"database"},
		immediate: []string{"Check database connections and connection pool saturation"},
		shortTerm: []string{"Optimize slow queries and review indexes"},
	},
	{
		match:     []string{"timeout"},
		immediate: []string{"Review timeout configuration for the affected calls"},
		shortTerm: []string{"Set latency budgets for slow dependencies"},
	},
	{
		match:     []string{"unavailable"},
		immediate: []string{"Check health of the downstream service or model provider", "Route traffic to the fallback path"},
		shortTerm: []string{"Add redundancy for the failing dependency"},
	},
	{
		match:     []string{"rate limit"},
		immediate: []string{"Throttle callers of the limited upstream"},
		shortTerm: []string{"Request a quota increase or add request batching"},
	},
	{
		match:     []string{"resource", "memory"},
		immediate: []string{"Free or scale the exhausted resource"},
		shortTerm: []string{"Enforce input size limits before processing"},
	},
	{
		match:     []string{"input"},
		immediate: []string{"Notify affected users to re-submit valid input"},
		shortTerm: []string{"Strengthen input validation at upload time"},
	},
	{
		match:     []string{"communication"},
		immediate: []string{"Check agent registrations and network connectivity"},
		shortTerm: []string{"Prefer routed delivery with retry for this destination"},
	},
	{
		match:     []string{"authentication"},
		immediate: []string{"Verify and rotate the affected credentials"},
		shortTerm: []string{"Automate token refresh before expiry"},
	},
	{
		match:     []string{"cascading"},
		immediate: []string{"Isolate the first failing subsystem on the timeline"},
		shortTerm: []string{"Review dependency fan-out and breaker thresholds"},
	},
	{
		match:     []string{"recurring"},
		shortTerm: []string{"Add a regression test reproducing the recurring error"},
	},
	{
		match:     []string{"unknown"},
		immediate: []string{"Collect additional diagnostics from the origin subsystem"},
	},
}

const (
	escalationAction = "Escalate to the on-call incident commander: critical business impact"
	monitoringAction = "Improve monitoring and alerting coverage for the affected subsystems"
)

func recommend(rootCause Hypothesis, impact Impact) Recommendations {
	desc := strings.ToLower(rootCause.Description)
	recs := Recommendations{}

	for _, r := range remediations {
		if !containsAny(desc, r.match) {
			continue
		}
		recs.Immediate = append(recs.Immediate, r.immediate...)
		recs.ShortTerm = append(recs.ShortTerm, r.shortTerm...)
	}
	if impact.BusinessImpact == TierCritical {
		recs.Immediate = append([]string{escalationAction}, recs.Immediate...)
	}
	recs.LongTerm = []string{monitoringAction}
	return recs
}
