package normalize

import (
	"errors"
	"fmt"
)

// Cause is the likely reason a stage could not recover an artifact.
type Cause string

const (
	CauseMalformedJSON Cause = "malformed JSON"
	CauseMissingFields Cause = "missing required fields"
	CauseNoCandidate   Cause = "no candidate"
)

// ErrEmptyResponse is returned for blank input.
var ErrEmptyResponse = errors.New("empty response")

// ParseError reports why a cascade stage failed.
type ParseError struct {
	Stage string
	Cause Cause
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize %s: %s: %v", e.Stage, e.Cause, e.Err)
	}
	return fmt.Sprintf("normalize %s: %s", e.Stage, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(stage string, cause Cause, err error) *ParseError {
	return &ParseError{Stage: stage, Cause: cause, Err: err}
}
