package policycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/tetratelabs/wazero"
)

// entry is a load result stored as a first-class value: either a usable
// PrecompiledPolicy or a load error, keyed by source URI (spec §4.4:
// "failures are stored as first-class values... so the API surface can
// report per-policy load failures without failing the whole server").
type entry struct {
	policy *PrecompiledPolicy
	err    error
}

// Cache owns every compiled Wasm module for the lifetime of an engine
// process. It exclusively owns compiled artifacts; evaluator instances
// borrow them to construct per-request stores (spec §3 "Ownership").
type Cache struct {
	runtime       wazero.Runtime
	platformMajor uint64
	platformMinor uint64
	logger        *slog.Logger

	mu      sync.RWMutex
	entries map[string]entry
}

// New builds a Cache backed by a wazero runtime configured for ahead-of-time
// compilation, against the given running platform version.
func New(ctx context.Context, platformVersion string, logger *slog.Logger) (*Cache, error) {
	v, err := semver.NewVersion(platformVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid platform version %q: %w", platformVersion, err)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigCompiler())

	return &Cache{
		runtime:       runtime,
		platformMajor: v.Major(),
		platformMinor: v.Minor(),
		logger:        logger.With("component", "policycache"),
		entries:       make(map[string]entry),
	}, nil
}

// Runtime returns the wazero runtime every precompiled module in this cache
// belongs to; evaluator instances must rehydrate artifacts with it.
func (c *Cache) Runtime() wazero.Runtime { return c.runtime }

// Load implements operation load(path) -> PrecompiledPolicy from spec §4.4.
// The result — success or failure — is cached under sourceURI; a second
// Load for the same URI returns the stored result without recompiling.
func (c *Cache) Load(ctx context.Context, sourceURI, path string) (*PrecompiledPolicy, error) {
	c.mu.RLock()
	if e, ok := c.entries[sourceURI]; ok {
		c.mu.RUnlock()
		return e.policy, e.err
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[sourceURI]; ok {
		return e.policy, e.err
	}

	policy, err := c.load(ctx, sourceURI, path)
	c.entries[sourceURI] = entry{policy: policy, err: err}
	if err != nil {
		c.logger.Warn("policy load failed", "source", sourceURI, "error", err)
	}
	return policy, err
}

func (c *Cache) load(ctx context.Context, sourceURI, path string) (*PrecompiledPolicy, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read policy module %s: %w", path, err)
	}

	compiled, err := c.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("cannot compile policy module %s: %w", sourceURI, err)
	}

	metadata, _, err := parseMetadata(compiled)
	if err != nil {
		return nil, err
	}

	if err := validateMetadata(metadata, c.platformMajor, c.platformMinor); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(wasmBytes)
	return &PrecompiledPolicy{
		SourceURI:     sourceURI,
		Artifact:      wasmBytes,
		compiled:      compiled,
		ExecutionMode: metadata.ExecutionMode,
		Digest:        hex.EncodeToString(sum[:]),
		Metadata:      metadata,
	}, nil
}

// Close releases every compiled module and the underlying wazero runtime.
// Closing the runtime also releases every wazero.CompiledModule it compiled,
// so the per-policy handles held by entries need no separate Close calls.
func (c *Cache) Close(ctx context.Context) error {
	if err := c.runtime.Close(ctx); err != nil {
		return fmt.Errorf("cannot close wazero runtime: %w", err)
	}
	return nil
}
