package provenance

import (
	"herbtrace/pkg/domain"
)

// FindPathToRoot returns the provenance chain from the ultimate ancestor of
// targetEventID down to and including the target, root first. The walk stops
// at an event with no parent or whose parent is absent from the input. A nil
// slice is returned when the target itself is not present. Revisiting an
// event means the parent chain loops; that returns CycleError instead of
// spinning.
func FindPathToRoot(events []domain.Event, targetEventID string) ([]domain.Event, error) {
	index := make(map[string]domain.Event, len(events))
	for _, ev := range events {
		if _, dup := index[ev.EventID]; !dup {
			index[ev.EventID] = ev
		}
	}

	if _, ok := index[targetEventID]; !ok {
		return nil, nil
	}

	var reversed []domain.Event
	visited := make(map[string]bool, len(events))
	currentID := targetEventID
	for currentID != "" {
		ev, ok := index[currentID]
		if !ok {
			break
		}
		if visited[currentID] {
			return nil, domain.CycleError{EventID: currentID}
		}
		visited[currentID] = true
		reversed = append(reversed, ev)
		currentID = ev.ParentEventID
	}

	path := make([]domain.Event, len(reversed))
	for i, ev := range reversed {
		path[len(reversed)-1-i] = ev
	}
	return path, nil
}

// Depth returns the number of ancestors of targetEventID within events, plus
// one for the target itself; zero when the target is absent.
func Depth(events []domain.Event, targetEventID string) (int, error) {
	path, err := FindPathToRoot(events, targetEventID)
	if err != nil {
		return 0, err
	}
	return len(path), nil
}
