package rca

import (
	"sort"

	"github.com/armorclaw/agentcore/pkg/errors"
)

// Timeline levels
const (
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

func severityLevel(s errors.Severity) string {
	switch s {
	case errors.SeverityLow:
		return LevelInfo
	case errors.SeverityMedium:
		return LevelWarning
	case errors.SeverityCritical:
		return LevelCritical
	default:
		return LevelError
	}
}

// buildTimeline orders the source and related reports chronologically
func buildTimeline(source *errors.Report, related []*errors.Report) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(related)+1)
	entries = append(entries, timelineEntry(source, true))
	for _, r := range related {
		entries = append(entries, timelineEntry(r, false))
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries
}

func timelineEntry(r *errors.Report, source bool) TimelineEntry {
	return TimelineEntry{
		Timestamp: r.OccurredAt(),
		ReportID:  r.ID,
		Kind:      r.Kind,
		Origin:    r.Origin,
		Message:   r.Message,
		Level:     severityLevel(r.Severity),
		Source:    source,
	}
}
