package jobrunner

import "github.com/bc-dunia/casgen/internal/types"

var allowedTransitions = map[types.JobStatus]map[types.JobStatus]struct{}{
	types.StatusPending: {
		types.StatusRunning:   {},
		types.StatusFailed:    {},
		types.StatusCancelled: {},
	},
	types.StatusRunning: {
		types.StatusCompleted: {},
		types.StatusFailed:    {},
		types.StatusCancelled: {},
	},
}

// CanTransition reports whether a status transition is valid. Terminal
// statuses have no outgoing transitions.
func CanTransition(from, to types.JobStatus) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
