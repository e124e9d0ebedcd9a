package policycache

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// emptyWasmModule is the smallest legal WebAssembly binary: just the magic
// number and version header, no sections. It compiles cleanly but carries
// no kubewarden_metadata custom section, so loading it always fails
// validateMetadata's "must declare an execution mode" check — useful for
// exercising the load-failure-as-first-class-value path without needing a
// real policy binary.
var emptyWasmModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func writeModule(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.wasm")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCacheLoadStoresFailureAsFirstClassValue(t *testing.T) {
	ctx := context.Background()
	cache, err := New(ctx, "1.9.0", slog.Default())
	require.NoError(t, err)
	defer cache.Close(ctx)

	path := writeModule(t, emptyWasmModule)

	policy, loadErr := cache.Load(ctx, "file://policy.wasm", path)
	require.Nil(t, policy)
	require.Error(t, loadErr)
	assert.Contains(t, loadErr.Error(), "execution mode")

	// A second Load for the same URI returns the stored failure without
	// reading the file or recompiling again.
	policy2, loadErr2 := cache.Load(ctx, "file://policy.wasm", "/does/not/exist")
	assert.Nil(t, policy2)
	require.Error(t, loadErr2)
	assert.Equal(t, loadErr.Error(), loadErr2.Error())
}

func TestCacheLoadRejectsUnreadableFile(t *testing.T) {
	ctx := context.Background()
	cache, err := New(ctx, "1.9.0", slog.Default())
	require.NoError(t, err)
	defer cache.Close(ctx)

	_, loadErr := cache.Load(ctx, "file://missing.wasm", "/does/not/exist.wasm")
	require.Error(t, loadErr)
}

func TestNewRejectsInvalidPlatformVersion(t *testing.T) {
	_, err := New(context.Background(), "not-a-version", slog.Default())
	require.Error(t, err)
}
