package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// emptyWasmModule is the smallest legal WebAssembly binary: header only, no
// kubewarden_metadata custom section. It is enough to exercise the CLI's
// wiring end to end without a real policy fixture; metadata validation
// always rejects it, which is itself worth asserting on.
var emptyWasmModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func writeModule(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.wasm")
	require.NoError(t, os.WriteFile(path, emptyWasmModule, 0o600))
	return path
}

func newTestEnv(t *testing.T) func() (*commandEnv, error) {
	t.Helper()
	return func() (*commandEnv, error) {
		return &commandEnv{
			logger:          testLogger(),
			storeDir:        t.TempDir(),
			platformVersion: "1.9.0",
		}, nil
	}
}

func TestPullCommandResolvesFileScheme(t *testing.T) {
	env := newTestEnv(t)
	path := writeModule(t)

	cmd := newPullCommand(env)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"file://" + path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), path)
}

func TestInspectCommandReportsMetadataError(t *testing.T) {
	env := newTestEnv(t)
	path := writeModule(t)

	cmd := newInspectCommand(env)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"file://" + path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution mode")
}

func TestPoliciesListCommandTogglesUnknownOnLoadFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(emptyWasmModule)
	}))
	defer server.Close()

	env := newTestEnv(t)
	e, err := env()
	require.NoError(t, err)

	// Pull it via http:// so the store caches a copy under RootDir;
	// policies list only enumerates its own cache, not file:// references.
	_, err = pulledPolicyPath(t.Context(), e, "http://"+server.Listener.Addr().String()+"/policy.wasm")
	require.NoError(t, err)

	listCmd := newPoliciesListCommand(env)
	out := &bytes.Buffer{}
	listCmd.SetOut(out)
	listCmd.SetArgs(nil)

	require.NoError(t, listCmd.Execute())
	assert.Contains(t, out.String(), "POLICY")
	assert.Contains(t, out.String(), "unknown")
}
