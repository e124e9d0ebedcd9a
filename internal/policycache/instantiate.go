package policycache

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Instantiate spins up a fresh instance from policy's already-compiled
// module inside this cache's wazero runtime, attaching moduleConfig (stdio,
// environment, host-module imports — whatever the calling guest adapter
// needs wired in for its ABI). Reusing the compiled module here, instead of
// recompiling policy's raw bytes, is the entire reason this cache exists:
// compilation happened once, in Cache.load. Implements operation
// instantiate(policy) -> Instance from spec §4.4; evaluator adapters call
// this for each evaluation (and each settings validation) for every ABI,
// the command-line (wasi) ABI included: no instance outlives the call it
// was created for.
func (c *Cache) Instantiate(ctx context.Context, policy *PrecompiledPolicy, moduleConfig wazero.ModuleConfig) (api.Module, error) {
	mod, err := c.runtime.InstantiateModule(ctx, policy.compiled, moduleConfig)
	if err != nil {
		return nil, fmt.Errorf("cannot instantiate policy %s: %w", policy.SourceURI, err)
	}
	return mod, nil
}
