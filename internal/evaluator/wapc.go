package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/kubewarden/policy-engine/internal/policycache"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// wapcAdapter implements the message-oriented guest ABI (spec §4.5): the
// guest exports "validate" (and, optionally, "validate_settings"); the host
// writes the JSON envelope into guest memory and calls it, and the guest may
// call back synchronously through the "kubewarden" host module's
// "host_call" import, which HostBridge turns into a blocking bus request.
type wapcAdapter struct {
	cache  *policycache.Cache
	policy *policycache.PrecompiledPolicy
	bridge *HostBridge
}

func newWapcAdapter(cache *policycache.Cache, policy *policycache.PrecompiledPolicy, bridge *HostBridge) *wapcAdapter {
	return &wapcAdapter{cache: cache, policy: policy, bridge: bridge}
}

func (a *wapcAdapter) Evaluate(ctx context.Context, req types.ValidateRequest, settings json.RawMessage) (types.ValidationResponse, error) {
	mod, err := a.cache.Instantiate(ctx, a.policy, wazero.NewModuleConfig())
	if err != nil {
		return types.ValidationResponse{}, fmt.Errorf("instantiating policy for evaluation: %w", err)
	}
	defer mod.Close(ctx)

	payload, err := json.Marshal(envelope{Request: req, Settings: settings})
	if err != nil {
		return types.ValidationResponse{}, fmt.Errorf("marshalling validate envelope: %w", err)
	}

	ptr, err := writeToGuest(ctx, mod, payload)
	if err != nil {
		return types.ValidationResponse{}, err
	}

	validate := mod.ExportedFunction("validate")
	if validate == nil {
		return types.ValidationResponse{}, fmt.Errorf("policy module does not export \"validate\"")
	}
	results, err := validate.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return types.ValidationResponse{}, newTrapError(err)
	}

	outPtr, outLen := unpackPtrLen(results[0])
	raw, err := readFromGuest(ctx, mod, outPtr, outLen)
	if err != nil {
		return types.ValidationResponse{}, err
	}

	var resp types.ValidationResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return types.ValidationResponse{}, fmt.Errorf("decoding guest validate response %s: %w", raw, err)
	}
	return resp, nil
}

func (a *wapcAdapter) ValidateSettings(ctx context.Context, settings json.RawMessage) error {
	mod, err := a.cache.Instantiate(ctx, a.policy, wazero.NewModuleConfig())
	if err != nil {
		return fmt.Errorf("instantiating policy for settings validation: %w", err)
	}
	defer mod.Close(ctx)

	validateSettings := mod.ExportedFunction("validate_settings")
	if validateSettings == nil {
		return nil
	}

	ptr, err := writeToGuest(ctx, mod, settings)
	if err != nil {
		return err
	}
	results, err := validateSettings.Call(ctx, uint64(ptr), uint64(len(settings)))
	if err != nil {
		return newTrapError(err)
	}

	outPtr, outLen := unpackPtrLen(results[0])
	raw, err := readFromGuest(ctx, mod, outPtr, outLen)
	if err != nil {
		return err
	}

	var result struct {
		Valid   bool   `json:"valid"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decoding guest settings validation response %s: %w", raw, err)
	}
	if !result.Valid {
		return fmt.Errorf("policy rejected its settings: %s", result.Message)
	}
	return nil
}
