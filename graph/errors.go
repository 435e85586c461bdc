package graph

import "errors"

// ErrMaxStepsExceeded indicates that the graph execution reached the maximum
// allowed step count without completing. EngineError values with code
// MAX_STEPS_EXCEEDED match it via errors.Is.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// EngineError represents an error from Engine operations.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Is reports whether the error matches target.
func (e *EngineError) Is(target error) bool {
	return target == ErrMaxStepsExceeded && e.Code == "MAX_STEPS_EXCEEDED"
}
