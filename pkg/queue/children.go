package queue

import (
	"fmt"

	"github.com/google/uuid"
)

// collectChildResults builds the parent-visible view of its children.
// Any non-terminal child makes the whole set unavailable.
func collectChildResults(children []*Job) (map[uuid.UUID]ChildResult, error) {
	results := make(map[uuid.UUID]ChildResult, len(children))
	pending := 0
	for _, c := range children {
		if !c.Status.Terminal() {
			pending++
			continue
		}
		r := ChildResult{
			Type:   c.Type,
			Status: c.Status,
			Result: c.Result,
		}
		if c.Error != nil {
			e := *c.Error
			r.Error = &e
		}
		results[c.ID] = r
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: %d of %d children not finished", ErrChildrenPending, pending, len(children))
	}
	return results, nil
}

// FailedChildren returns the IDs of children that ended in failure
func FailedChildren(results map[uuid.UUID]ChildResult) []uuid.UUID {
	var ids []uuid.UUID
	for id, r := range results {
		if r.Failed() {
			ids = append(ids, id)
		}
	}
	return ids
}
