package rca

import (
	"fmt"
	"sort"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// detectPatterns groups reports by kind and origin and keeps groups with more
// than one member, most frequent first.
func detectPatterns(reports []*errors.Report) []Pattern {
	groups := make(map[string][]*errors.Report)
	var order []string
	for _, r := range reports {
		key := fmt.Sprintf("%s@%s", r.Kind, r.Origin)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var patterns []Pattern
	for _, key := range order {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		first, last := members[0].OccurredAt(), members[0].OccurredAt()
		for _, r := range members[1:] {
			at := r.OccurredAt()
			if at.Before(first) {
				first = at
			}
			if at.After(last) {
				last = at
			}
		}
		patterns = append(patterns, Pattern{
			Key:              key,
			Kind:             members[0].Kind,
			Origin:           members[0].Origin,
			Frequency:        len(members),
			FirstSeen:        first,
			LastSeen:         last,
			TimeSpan:         last.Sub(first),
			SharedContext:    sharedContext(members),
			DominantSeverity: dominantSeverity(members),
		})
	}

	sort.SliceStable(patterns, func(i, j int) bool { return patterns[i].Frequency > patterns[j].Frequency })
	return patterns
}

// sharedContext returns context entries whose rendered value is identical in
// every report.
func sharedContext(reports []*errors.Report) map[string]any {
	shared := make(map[string]any)
	for k, v := range reports[0].Context {
		want := fmt.Sprint(v)
		same := true
		for _, r := range reports[1:] {
			other, ok := r.Context[k]
			if !ok || fmt.Sprint(other) != want {
				same = false
				break
			}
		}
		if same {
			shared[k] = v
		}
	}
	if len(shared) == 0 {
		return nil
	}
	return shared
}

// dominantSeverity is the most common severity, ties going to the higher one
func dominantSeverity(reports []*errors.Report) errors.Severity {
	counts := make(map[errors.Severity]int)
	for _, r := range reports {
		counts[r.Severity]++
	}
	var best errors.Severity
	for sev, n := range counts {
		if n > counts[best] || (n == counts[best] && sev.Rank() > best.Rank()) {
			best = sev
		}
	}
	return best
}
