// Package policycache implements the policy module cache (spec C4): it
// loads a Wasm policy module from disk, parses its embedded metadata,
// enforces the compatibility invariants of spec §3, precompiles it via
// wazero, and stores the result keyed by source URI. Grounded on
// original_source/policy-server/src/evaluation/precompiled_policy.rs's
// PrecompiledPolicy::new, translated from wasmtime's precompile_module to
// wazero's ahead-of-time compilation.
package policycache

import (
	"github.com/tetratelabs/wazero"

	"github.com/kubewarden/policy-engine/pkg/types"
)

// PrecompiledPolicy is a policy module after its one-shot compilation step
// (spec §3 "Precompiled policy").
type PrecompiledPolicy struct {
	// SourceURI is the registry/file/http URI the module was loaded from.
	SourceURI string
	// Artifact is the raw Wasm bytes the module was loaded from, kept
	// around for Digest and for anything that needs to re-read the
	// original module (e.g. a local-file checksum comparison); it is not
	// used to instantiate the guest.
	Artifact []byte
	// compiled is the wazero.CompiledModule produced once by Cache.load.
	// Every Instantiate call rehydrates from this handle instead of
	// recompiling Artifact from scratch, which is the entire point of
	// caching a "precompiled" policy (spec §3/§4.4).
	compiled wazero.CompiledModule
	// ExecutionMode is the policy's declared execution mode.
	ExecutionMode string
	// Digest is the SHA-256 of Artifact, hex-encoded.
	Digest string
	// Metadata is the policy's parsed metadata annotations.
	Metadata types.Metadata
}
