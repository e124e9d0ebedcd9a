package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kubewarden/policy-engine/internal/policycache"
	"github.com/kubewarden/policy-engine/internal/snapshot"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// regoGatekeeperInput is the input document a constrained dialect policy's
// query is evaluated against: the Kubernetes AdmissionRequest passed as-is
// alongside the ConstraintTemplate parameters and the keyed inventory (spec
// §4.5: "passes the Kubernetes AdmissionRequest as-is").
type regoGatekeeperInput struct {
	Review     *types.AdmissionRequest        `json:"review,omitempty"`
	Parameters json.RawMessage                `json:"parameters,omitempty"`
	Inventory  snapshot.GatekeeperInventory    `json:"inventory,omitempty"`
}

type gatekeeperResult struct {
	Allowed bool   `json:"allowed"`
	Msg     string `json:"msg,omitempty"`
}

// regoGatekeeperAdapter implements the policy-as-data constrained dialect
// (spec §4.5): a structured {allowed, msg} reply.
type regoGatekeeperAdapter struct {
	engine    *regoEngine
	snapshots *snapshot.Builder
}

func newRegoGatekeeperAdapter(cache *policycache.Cache, policy *policycache.PrecompiledPolicy, snapshots *snapshot.Builder) *regoGatekeeperAdapter {
	return &regoGatekeeperAdapter{engine: newRegoEngine(cache, policy), snapshots: snapshots}
}

func (a *regoGatekeeperAdapter) Evaluate(ctx context.Context, req types.ValidateRequest, settings json.RawMessage) (types.ValidationResponse, error) {
	if !req.IsAdmissionRequest() {
		return types.ValidationResponse{}, fmt.Errorf("constrained rego dialect requires a Kubernetes admission request")
	}

	var inventory snapshot.GatekeeperInventory
	if a.snapshots != nil {
		snap, err := a.snapshots.Build(ctx, snapshot.DialectGatekeeper)
		if err != nil {
			return types.ValidationResponse{}, fmt.Errorf("building context-aware snapshot: %w", err)
		}
		inventory, _ = snap.(snapshot.GatekeeperInventory)
	}

	input, err := json.Marshal(regoGatekeeperInput{Review: req.Admission, Parameters: settings, Inventory: inventory})
	if err != nil {
		return types.ValidationResponse{}, fmt.Errorf("marshalling rego input: %w", err)
	}

	raw, err := a.engine.eval(ctx, input)
	if err != nil {
		return types.ValidationResponse{}, err
	}

	var result gatekeeperResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return types.ValidationResponse{}, fmt.Errorf("decoding gatekeeper result %s: %w", raw, err)
	}
	return types.ValidationResponse{Allowed: result.Allowed, Message: result.Msg}, nil
}

func (a *regoGatekeeperAdapter) ValidateSettings(context.Context, json.RawMessage) error {
	return nil
}
