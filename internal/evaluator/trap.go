package evaluator

import (
	"errors"
	"fmt"

	"github.com/kubewarden/policy-engine/internal/constants"
)

// trapError wraps a guest panic or Wasm trap surfaced by wazero as a plain
// Go error, tagged with constants.RuntimeTrapErrorKind so Evaluate can build
// a structured deny response without string-matching (spec §4.5's
// "Evaluation edges": guest panics or traps deny with a runtime error that
// describes the trap, and the instance is discarded, not the server).
type trapError struct {
	cause error
}

func newTrapError(cause error) error {
	return &trapError{cause: cause}
}

func (e *trapError) Error() string {
	return fmt.Sprintf("guest runtime error: %v", e.cause)
}

func (e *trapError) Unwrap() error { return e.cause }

func asTrapError(err error) (*trapError, bool) {
	var t *trapError
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}
