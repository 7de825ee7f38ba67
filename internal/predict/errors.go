package predict

import "fmt"

// MemberError represents the failure of one ensemble member's external
// invocation. Captured process output is attached for diagnostics rather than
// discarded.
type MemberError struct {
	Backend string
	Seed    int
	Message string
	Output  string
	Cause   error
}

func (e *MemberError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s seed %d: %s: %v", e.Backend, e.Seed, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s seed %d: %s", e.Backend, e.Seed, e.Message)
}

func (e *MemberError) Unwrap() error {
	return e.Cause
}

// InvocationError represents a whole external invocation failing, covering
// every member it carried.
type InvocationError struct {
	Backend string
	Device  string
	Message string
	Output  string
	Cause   error
}

func (e *InvocationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s on %s: %s: %v", e.Backend, e.Device, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s on %s: %s", e.Backend, e.Device, e.Message)
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}
