// Package provenance implements the pure graph algorithms that turn a flat
// event sequence into a navigable provenance forest: tree construction,
// root-to-target path extraction, and branching statistics. Functions here
// never touch storage; callers fetch events first.
package provenance

import (
	"herbtrace/pkg/domain"
)

// TreeNode is one event plus its attached children. Children keep the
// first-seen order of the input sequence, which makes reconstruction
// deterministic and idempotent.
type TreeNode struct {
	Event    domain.Event `json:"event"`
	Children []*TreeNode  `json:"children"`
}

// BuildForest partitions events into roots and non-roots and links each
// non-root under its parent. An event whose parent is absent from the input
// is treated as a root rather than an error; partial fetches stay usable.
// A cycle (an event transitively parenting itself) returns CycleError.
func BuildForest(events []domain.Event) ([]*TreeNode, error) {
	if len(events) == 0 {
		return nil, nil
	}

	nodes := make(map[string]*TreeNode, len(events))
	order := make([]*TreeNode, 0, len(events))
	for _, ev := range events {
		if _, dup := nodes[ev.EventID]; dup {
			// Last write wins would reorder children; keep the first
			// occurrence to preserve append-order determinism.
			continue
		}
		n := &TreeNode{Event: ev}
		nodes[ev.EventID] = n
		order = append(order, n)
	}

	var roots []*TreeNode
	for _, n := range order {
		parentID := n.Event.ParentEventID
		if parentID == "" || parentID == n.Event.EventID {
			if parentID != "" {
				return nil, domain.CycleError{EventID: n.Event.EventID}
			}
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[parentID]
		if !ok {
			// Orphaned parent reference: promote to root.
			roots = append(roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	// Reachability sweep: every node must be reachable from some root,
	// otherwise a parent chain loops back on itself.
	reached := 0
	stack := append([]*TreeNode(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reached++
		stack = append(stack, n.Children...)
	}
	if reached != len(order) {
		return nil, domain.CycleError{EventID: firstUnreached(order, roots)}
	}
	return roots, nil
}

func firstUnreached(order, roots []*TreeNode) string {
	seen := make(map[*TreeNode]bool, len(order))
	stack := append([]*TreeNode(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, n.Children...)
	}
	for _, n := range order {
		if !seen[n] {
			return n.Event.EventID
		}
	}
	return ""
}

// Flatten walks the forest in pre-order and returns the events as a flat
// parent-pointer list. Rebuilding the flattened list with BuildForest yields
// a structurally identical forest.
func Flatten(forest []*TreeNode) []domain.Event {
	var out []domain.Event
	stack := make([]*TreeNode, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, forest[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n.Event)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}

// CountNodes returns the total number of events across the forest.
func CountNodes(forest []*TreeNode) int {
	total := 0
	stack := append([]*TreeNode(nil), forest...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		total++
		stack = append(stack, n.Children...)
	}
	return total
}
