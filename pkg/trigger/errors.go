package trigger

import (
	"fmt"
	"reflect"
)

// CallbackError reports a handler that failed or panicked. It aborts the
// remainder of its phase.
type CallbackError struct {
	Phase Phase
	Type  reflect.Type
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("%s callback for %s failed: %v", e.Phase, e.Type, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
