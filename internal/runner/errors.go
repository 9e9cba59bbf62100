package runner

import (
	"fmt"
)

// UnavailableError reports that the test binary cannot be found or invoked.
// This is a structural infrastructure failure; retrying cannot help.
type UnavailableError struct {
	Binary string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("test runner %q not found: %v", e.Binary, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// TimeoutError reports a test run that exceeded its deadline.
// This is a structural infrastructure failure; retrying may help.
type TimeoutError struct {
	Pattern   string
	ElapsedMs int64
	Err       error // usually context.DeadlineExceeded
}

func (e *TimeoutError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("test run timed out after %dms", e.ElapsedMs)
	}
	return fmt.Sprintf("test run timed out after %dms (pattern %q)", e.ElapsedMs, e.Pattern)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
