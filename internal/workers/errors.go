package workers

import (
	"errors"
	"fmt"
)

// Severity tells the run whether an error ends it
type Severity int

const (
	// SeveritySkippable errors affect one item; the run continues
	SeveritySkippable Severity = iota
	// SeverityFatal errors invalidate the whole run
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "skippable"
}

// RunError is an error raised by a triage step
type RunError struct {
	Op       string
	ID       string
	Severity Severity
	Err      error
}

func (e *RunError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Fatal wraps err as a run-ending error
func Fatal(op string, err error) error {
	return &RunError{Op: op, Severity: SeverityFatal, Err: err}
}

// Skippable wraps err as an error scoped to a single item
func Skippable(op, id string, err error) error {
	return &RunError{Op: op, ID: id, Severity: SeveritySkippable, Err: err}
}

// IsFatal reports whether err must abort the run. Errors that are not
// RunErrors are treated as fatal.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Severity == SeverityFatal
	}
	return true
}

// ItemFailure records a single skipped item
type ItemFailure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}
