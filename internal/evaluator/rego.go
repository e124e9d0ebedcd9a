package evaluator

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/kubewarden/policy-engine/internal/policycache"
)

// regoEngine drives one evaluation of an `opa build -t wasm`-compiled
// policy through its opa_eval convenience export. This is the minimal
// driver needed to cross the boundary into the "rego interpreter" spec §1
// treats as a black-box runtime, grounded on the low-level ABI
// original_source/policy-evaluator/crates/burrego implements in Rust
// (opa_malloc/opa_json_dump/eval and friends) — not a reimplementation of
// OPA's own Wasm builtins, which a compiled module is expected to satisfy
// internally; builtins a module cannot satisfy on its own are out of scope
// for the capabilities this engine's bus exposes.
type regoEngine struct {
	cache  *policycache.Cache
	policy *policycache.PrecompiledPolicy
}

// opaEvalOutputFormatJSON selects opa_eval's JSON-string output format, as
// opposed to its raw OPA-value format.
const opaEvalOutputFormatJSON = 1

func newRegoEngine(cache *policycache.Cache, policy *policycache.PrecompiledPolicy) *regoEngine {
	return &regoEngine{cache: cache, policy: policy}
}

// eval instantiates a fresh module and runs input through its default
// (id 0) entrypoint, returning the raw JSON result document.
func (e *regoEngine) eval(ctx context.Context, input []byte) ([]byte, error) {
	mod, err := e.cache.Instantiate(ctx, e.policy, wazero.NewModuleConfig())
	if err != nil {
		return nil, fmt.Errorf("instantiating rego policy module: %w", err)
	}
	defer mod.Close(ctx)

	evalFn := mod.ExportedFunction("opa_eval")
	if evalFn == nil {
		return nil, fmt.Errorf("rego policy module does not export opa_eval; unsupported compiled-policy format")
	}
	malloc := mod.ExportedFunction("opa_malloc")
	if malloc == nil {
		return nil, fmt.Errorf("rego policy module does not export opa_malloc")
	}

	allocated, err := malloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("opa_malloc failed: %w", err)
	}
	inputAddr := uint32(allocated[0])
	if !mod.Memory().Write(inputAddr, input) {
		return nil, fmt.Errorf("writing evaluation input into policy module memory out of range")
	}

	var heapPtr uint64
	if heapPtrGet := mod.ExportedFunction("opa_heap_ptr_get"); heapPtrGet != nil {
		results, err := heapPtrGet.Call(ctx)
		if err != nil {
			return nil, fmt.Errorf("opa_heap_ptr_get failed: %w", err)
		}
		heapPtr = results[0]
	}

	// Params: reserved, entrypoint, data, input, input_len, heap_ptr, format.
	// data=0 means "no base document"; this engine's context-aware snapshot
	// travels inside input instead, alongside request and settings.
	results, err := evalFn.Call(ctx, 0, 0, 0, uint64(inputAddr), uint64(len(input)), heapPtr, opaEvalOutputFormatJSON)
	if err != nil {
		return nil, newTrapError(err)
	}
	resultAddr := uint32(results[0])
	if resultAddr == 0 {
		return nil, fmt.Errorf("rego policy evaluation returned no result")
	}

	return readCString(mod, resultAddr)
}

// readCString reads a NUL-terminated string out of mod's memory starting at
// addr, the shape opa_eval's JSON output format produces.
func readCString(mod api.Module, addr uint32) ([]byte, error) {
	const maxLen = 64 << 20 // guards against a missing NUL terminator
	mem := mod.Memory()
	var out []byte
	for offset := uint32(0); offset < maxLen; offset++ {
		b, ok := mem.ReadByte(addr + offset)
		if !ok {
			return nil, fmt.Errorf("reading evaluation result out of range at offset %d", offset)
		}
		if b == 0 {
			return out, nil
		}
		out = append(out, b)
	}
	return nil, fmt.Errorf("evaluation result exceeds %d bytes without a NUL terminator", maxLen)
}
