// Package evaluator implements the multi-ABI policy evaluator (spec C5): it
// dispatches a ValidateRequest to the adapter matching a precompiled
// policy's declared execution mode, applies the rule-selector short-circuit
// and mutation-audit invariants common to every ABI, and converts guest
// panics/traps into structured deny responses without ever taking down the
// evaluating goroutine.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kubewarden/policy-engine/internal/constants"
	"github.com/kubewarden/policy-engine/internal/policycache"
	"github.com/kubewarden/policy-engine/internal/snapshot"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// adapter is implemented by each of the four guest ABIs (wapc, wasi, plain
// rego, constrained rego).
type adapter interface {
	Evaluate(ctx context.Context, req types.ValidateRequest, settings json.RawMessage) (types.ValidationResponse, error)
	ValidateSettings(ctx context.Context, settings json.RawMessage) error
}

// Evaluator binds one precompiled policy to the adapter matching its
// declared execution mode, plus the rule-selector and mutation invariants
// every ABI shares (spec §4.5).
type Evaluator struct {
	policy   *policycache.PrecompiledPolicy
	adapter  adapter
	selector *ruleSelector
	mutating bool
}

// New builds an Evaluator for policy, dispatching to the adapter its
// declared execution mode names. bridge is only used by the
// kubewarden-wapc ABI and snapshots only by the two rego dialects; callers
// not using those ABIs may pass nil.
func New(ctx context.Context, cache *policycache.Cache, policy *policycache.PrecompiledPolicy, bridge *HostBridge, snapshots *snapshot.Builder) (*Evaluator, error) {
	selector, err := newRuleSelector(policy.Metadata.Rules)
	if err != nil {
		return nil, fmt.Errorf("building rule selector: %w", err)
	}

	var a adapter
	switch policy.ExecutionMode {
	case constants.ExecutionModeKubewardenWapc:
		if bridge == nil {
			return nil, fmt.Errorf("kubewarden-wapc policy %s requires a host bridge", policy.SourceURI)
		}
		a = newWapcAdapter(cache, policy, bridge)
	case constants.ExecutionModeWasi:
		a = newWasiAdapter(cache, policy)
	case constants.ExecutionModeOPA:
		a = newRegoPlainAdapter(cache, policy, snapshots)
	case constants.ExecutionModeGatekeeper:
		a = newRegoGatekeeperAdapter(cache, policy, snapshots)
	default:
		return nil, fmt.Errorf("policy %s declares unsupported execution mode %q", policy.SourceURI, policy.ExecutionMode)
	}

	return &Evaluator{
		policy:   policy,
		adapter:  a,
		selector: selector,
		mutating: policy.Metadata.Mutating,
	}, nil
}

// ValidateSettings runs the policy's settings-validation entrypoint, if its
// ABI exposes one.
func (e *Evaluator) ValidateSettings(ctx context.Context, settings json.RawMessage) error {
	return e.adapter.ValidateSettings(ctx, settings)
}

// Evaluate runs req through the bound adapter, applying the rule-selector
// short-circuit and converting guest panics/traps and mutation violations
// into structured deny responses, so a guest trap never escapes as a Go
// panic or error (spec §4.5's "Evaluation edges"). Any other adapter error
// is returned to the caller as an error.
func (e *Evaluator) Evaluate(ctx context.Context, req types.ValidateRequest, settings json.RawMessage) (resp types.ValidationResponse, err error) {
	uid := req.CorrelationID()

	matched, err := e.selector.Matches(req)
	if err != nil {
		return types.Deny(uid, err.Error(), constants.RuntimeTrapErrorKind), nil
	}
	if !matched {
		return types.Allow(uid), nil
	}

	defer func() {
		if r := recover(); r != nil {
			resp = types.Deny(uid, fmt.Sprintf("guest panicked during evaluation: %v", r), constants.RuntimeTrapErrorKind)
			err = nil
		}
	}()

	resp, err = e.adapter.Evaluate(ctx, req, settings)
	if err != nil {
		if _, ok := asTrapError(err); ok {
			return types.Deny(uid, err.Error(), constants.RuntimeTrapErrorKind), nil
		}
		return types.ValidationResponse{}, err
	}
	resp.UID = uid

	if err := enforceMutation(e.mutating, &resp); err != nil {
		return types.Deny(uid, err.Error(), constants.MutationNotAllowedErrorKind), nil
	}
	return resp, nil
}
