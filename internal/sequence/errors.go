package sequence

import "errors"

// Compile errors for user-supplied patterns. Wrapped with the 1-based entry
// index, so check with errors.Is().
var (
	// ErrNoOpenLoop is returned for a loop close marker with no open loop.
	ErrNoOpenLoop = errors.New("sequence: loop close with no open loop")

	// ErrUnclosedLoop is returned when a loop open marker is never closed.
	ErrUnclosedLoop = errors.New("sequence: loop was not closed")

	// ErrMissingColor is returned for a step with neither 'rgb' nor 'kelvin'.
	ErrMissingColor = errors.New("sequence: step must have 'rgb' or 'kelvin'")

	// ErrMalformedStep is returned for step text that does not parse.
	ErrMalformedStep = errors.New("sequence: malformed step")

	// ErrLoopNotOpened indicates a close-loop step executed before its open
	// step recorded itself. Internal invariant, not a user input error.
	ErrLoopNotOpened = errors.New("sequence: close loop without recorded open")
)
