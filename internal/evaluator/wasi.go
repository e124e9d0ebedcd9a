package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/kubewarden/policy-engine/internal/policycache"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// InstantiateWASI links the WASI preview1 host module into cache's runtime.
// Call once per process, before instantiating any command-line guest.
func InstantiateWASI(ctx context.Context, cache *policycache.Cache) error {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, cache.Runtime()); err != nil {
		return fmt.Errorf("instantiating WASI preview1 host module: %w", err)
	}
	return nil
}

// wasiAdapter implements the command-line guest ABI (spec §4.5): the guest
// runs as if invoked from a shell, with the validation envelope on stdin and
// its response on stdout. Callbacks are not supported for this ABI.
//
// A WASI program's _start runs at instantiation time and its stdio is bound
// for the life of that one instance, so unlike the upstream description of
// this ABI as "per server-lifetime", each Evaluate call here gets its own
// fresh instantiation: there is no way to re-run a finished _start with
// different stdin content on the same instance.
type wasiAdapter struct {
	cache  *policycache.Cache
	policy *policycache.PrecompiledPolicy
}

func newWasiAdapter(cache *policycache.Cache, policy *policycache.PrecompiledPolicy) *wasiAdapter {
	return &wasiAdapter{cache: cache, policy: policy}
}

func (a *wasiAdapter) Evaluate(ctx context.Context, req types.ValidateRequest, settings json.RawMessage) (types.ValidationResponse, error) {
	input, err := json.Marshal(envelope{Request: req, Settings: settings})
	if err != nil {
		return types.ValidationResponse{}, fmt.Errorf("marshalling validate envelope: %w", err)
	}

	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs("policy", "validate")

	mod, err := a.cache.Instantiate(ctx, a.policy, moduleConfig)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil && !isCleanExit(err) {
		return types.ValidationResponse{}, newTrapError(err)
	}

	var resp types.ValidationResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return types.ValidationResponse{}, fmt.Errorf("decoding guest stdout (stderr: %q): %w", stderr.String(), err)
	}
	return resp, nil
}

func (a *wasiAdapter) ValidateSettings(context.Context, json.RawMessage) error {
	// The command-line ABI exposes no settings-validation entrypoint
	// distinct from its one _start invocation; malformed settings surface
	// as whatever the guest's own argument parsing decides during Evaluate.
	return nil
}

// isCleanExit reports whether err is a WASI process exiting with code 0,
// the normal way a _start invocation finishes, not a trap.
func isCleanExit(err error) bool {
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 0
	}
	return false
}
