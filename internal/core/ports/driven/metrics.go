package driven

import "time"

// Metrics records operational measurements. Implementations must be safe
// for concurrent use.
type Metrics interface {
	// ObserveRating records one evaluation and its outcome
	// ("ok" or an error kind).
	ObserveRating(outcome string, elapsed time.Duration)

	// CountTransition records a committed lifecycle transition.
	CountTransition(subject, to string)

	// CountPreflightIssue records one blocking issue found by preflight.
	CountPreflightIssue(code string)
}
