package scoring

import "errors"

// Sentinel kinds for aggregation errors.
var (
	// ErrDataUnavailable means submissions or challenge mappings could not be
	// read; no score may be committed from such a run.
	ErrDataUnavailable = errors.New("scoring data unavailable")
	// ErrMappingNotInContest means an event names a challenge mapping that the
	// contest does not contain.
	ErrMappingNotInContest = errors.New("challenge mapping not in contest")
	// ErrContestNotFound is returned by sources for unknown contests.
	ErrContestNotFound = errors.New("contest not found")
)
