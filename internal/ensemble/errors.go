// Package ensemble reduces a backend's structure ensemble to representative
// cluster medoids via pairwise RMSD.
package ensemble

import "fmt"

// InputError represents structures that cannot be compared, e.g. an atom-count
// mismatch between two members of one ensemble. It is fatal for that backend's
// clustering step only; callers fall back to scoring the raw members.
type InputError struct {
	Message string
	Cause   error
}

func (e *InputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("clustering input error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("clustering input error: %s", e.Message)
}

func (e *InputError) Unwrap() error {
	return e.Cause
}
