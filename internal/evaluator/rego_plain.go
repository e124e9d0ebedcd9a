package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kubewarden/policy-engine/internal/policycache"
	"github.com/kubewarden/policy-engine/internal/snapshot"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// regoPlainInput is the input document a plain dialect policy's compiled
// query is evaluated against: the validate request, its settings, and the
// context-aware snapshot merged in under "kubernetes" (spec §4.5: "host
// precomputes a context snapshot... merges it with settings").
type regoPlainInput struct {
	Request    types.ValidateRequest `json:"request"`
	Settings   json.RawMessage       `json:"settings,omitempty"`
	Kubernetes snapshot.Inventory    `json:"kubernetes,omitempty"`
}

// denyEntry accepts either of OPA's two conventional `deny[msg]` shapes: a
// bare string, or an object carrying the message under "msg" or "message".
type denyEntry struct {
	Msg string
}

func (d *denyEntry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.Msg = s
		return nil
	}
	var obj struct {
		Msg     string `json:"msg"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("deny entry is neither a string nor {msg|message}: %w", err)
	}
	if obj.Msg != "" {
		d.Msg = obj.Msg
	} else {
		d.Msg = obj.Message
	}
	return nil
}

// regoPlainAdapter implements the policy-as-data plain dialect (spec §4.5):
// a non-empty deny result denotes a deny whose reason is the first entry's
// message field.
type regoPlainAdapter struct {
	engine    *regoEngine
	snapshots *snapshot.Builder
}

func newRegoPlainAdapter(cache *policycache.Cache, policy *policycache.PrecompiledPolicy, snapshots *snapshot.Builder) *regoPlainAdapter {
	return &regoPlainAdapter{engine: newRegoEngine(cache, policy), snapshots: snapshots}
}

func (a *regoPlainAdapter) Evaluate(ctx context.Context, req types.ValidateRequest, settings json.RawMessage) (types.ValidationResponse, error) {
	var inventory snapshot.Inventory
	if a.snapshots != nil {
		snap, err := a.snapshots.Build(ctx, snapshot.DialectPlain)
		if err != nil {
			return types.ValidationResponse{}, fmt.Errorf("building context-aware snapshot: %w", err)
		}
		inventory, _ = snap.(snapshot.Inventory)
	}

	input, err := json.Marshal(regoPlainInput{Request: req, Settings: settings, Kubernetes: inventory})
	if err != nil {
		return types.ValidationResponse{}, fmt.Errorf("marshalling rego input: %w", err)
	}

	raw, err := a.engine.eval(ctx, input)
	if err != nil {
		return types.ValidationResponse{}, err
	}

	var denies []denyEntry
	if err := json.Unmarshal(raw, &denies); err != nil {
		return types.ValidationResponse{}, fmt.Errorf("decoding rego deny result %s: %w", raw, err)
	}
	if len(denies) == 0 {
		return types.ValidationResponse{Allowed: true}, nil
	}
	return types.ValidationResponse{Allowed: false, Message: denies[0].Msg}, nil
}

func (a *regoPlainAdapter) ValidateSettings(context.Context, json.RawMessage) error {
	// The policy-as-data dialects expose no distinct settings-validation
	// entrypoint; malformed settings simply flow into the query input and
	// surface as whatever the policy's own rules decide.
	return nil
}
