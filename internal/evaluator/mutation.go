package evaluator

import (
	"fmt"

	"github.com/kubewarden/policy-engine/pkg/types"
)

// enforceMutation enforces spec §4.5: mutating responses are permitted only
// if the policy's metadata declared mutating=true; a mutation produced by a
// non-mutating policy is a fatal evaluation error (the mutation-audit
// scenario from spec §8's testable properties).
func enforceMutation(mutating bool, resp *types.ValidationResponse) error {
	if mutating {
		return nil
	}
	if len(resp.Patch) > 0 || len(resp.MutatedObject) > 0 {
		return fmt.Errorf("policy produced a mutation but its metadata does not declare mutating=true")
	}
	return nil
}
