package provenance

import (
	"time"

	"herbtrace/pkg/domain"
)

// BranchStats summarizes fan-out across a batch's provenance graph. A branch
// point is a parent referenced by two or more events.
type BranchStats struct {
	TotalBranchPoints  int            `json:"totalBranchPoints"`
	MaxBranchingFactor int            `json:"maxBranchingFactor"`
	BranchingPoints    map[string]int `json:"branchingPoints"`
}

// BranchStatistics computes fan-out statistics over the event set.
// MaxBranchingFactor is zero when no parent has more than one child.
func BranchStatistics(events []domain.Event) BranchStats {
	childCount := make(map[string]int)
	for _, ev := range events {
		if ev.ParentEventID != "" {
			childCount[ev.ParentEventID]++
		}
	}

	stats := BranchStats{BranchingPoints: map[string]int{}}
	for parentID, n := range childCount {
		if n < 2 {
			continue
		}
		stats.BranchingPoints[parentID] = n
		stats.TotalBranchPoints++
		if n > stats.MaxBranchingFactor {
			stats.MaxBranchingFactor = n
		}
	}
	return stats
}

// EventTypeHistogram counts events per display name. Unrecognized kinds are
// bucketed under "Unknown".
func EventTypeHistogram(events []domain.Event) map[string]int {
	hist := make(map[string]int)
	for _, ev := range events {
		hist[ev.EventType.DisplayName()]++
	}
	return hist
}

// Participants returns the number of distinct participant names across the
// event set.
func Participants(events []domain.Event) int {
	seen := make(map[string]bool)
	for _, ev := range events {
		seen[ev.ParticipantName] = true
	}
	return len(seen)
}

// Span is the wall-clock extent of an event set.
type Span struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// TimeSpan computes the earliest and latest event timestamps. An empty input
// is an explicit error, never a sentinel span.
func TimeSpan(events []domain.Event) (Span, error) {
	if len(events) == 0 {
		return Span{}, domain.MalformedError{Field: "events", Reason: "time span undefined for empty event set"}
	}
	start, end := events[0].Timestamp, events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp.Before(start) {
			start = ev.Timestamp
		}
		if ev.Timestamp.After(end) {
			end = ev.Timestamp
		}
	}
	return Span{Start: start, End: end, Duration: end.Sub(start)}, nil
}
