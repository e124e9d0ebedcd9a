package router

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/internal/verify"
)

type fakeRegistry struct {
	manifest []byte
	digest   string
	config   []byte
	err      error
}

func (f *fakeRegistry) Manifest(_ context.Context, _ string) ([]byte, error) {
	return f.manifest, f.err
}

func (f *fakeRegistry) ManifestDigest(_ context.Context, _ string) (string, error) {
	return f.digest, f.err
}

func (f *fakeRegistry) ManifestAndConfig(_ context.Context, _ string) ([]byte, []byte, string, error) {
	return f.manifest, f.config, f.digest, f.err
}

type fakeDNS struct {
	ips []string
	err error
}

func (f *fakeDNS) LookupHost(_ context.Context, _ string) ([]string, error) {
	return f.ips, f.err
}

type fakeFetcher struct {
	digest string
	layers []verify.TrustedLayer
	err    error
}

func (f *fakeFetcher) FetchTrustedLayers(_ context.Context, _ string) (string, []verify.TrustedLayer, error) {
	return f.digest, f.layers, f.err
}

func newTestRouter(t *testing.T, mode bus.ProxyMode, journal *bus.Journal, registry *fakeRegistry, dns *fakeDNS, fetcher *fakeFetcher) (*Router, *bus.Bus) {
	t.Helper()
	b := bus.New(4)
	r := New(Config{
		Bus:      b,
		Registry: registry,
		DNS:      dns,
		Verifier: &verify.Verifier{Fetcher: fetcher, Registry: registry},
		Mode:     mode,
		Journal:  journal,
		Logger:   slog.Default(),
	})
	return r, b
}

func TestRouterDispatchesOciManifest(t *testing.T) {
	registry := &fakeRegistry{manifest: []byte(`{"layers":[]}`)}
	r, b := newTestRouter(t, bus.ModeDirect, nil, registry, &fakeDNS{}, &fakeFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer func() { cancel(); b.Shutdown() }()

	sender := b.Sender()
	resp, err := sender.Call(context.Background(), bus.VerbOciManifest, &bus.OciManifestRequest{ImageRef: "ghcr.io/kubewarden/test:latest"})
	require.NoError(t, err)
	assert.Equal(t, registry.manifest, resp.(*bus.OciManifestResponse).Manifest)
}

func TestRouterDeniesUnlistedCapabilityFamily(t *testing.T) {
	registry := &fakeRegistry{manifest: []byte("ignored")}
	b := bus.New(4)
	r := New(Config{
		Bus:      b,
		Gate:     NewGate(FamilyDNS), // OCI is not permitted
		Registry: registry,
		DNS:      &fakeDNS{},
		Verifier: &verify.Verifier{Fetcher: &fakeFetcher{}, Registry: registry},
		Mode:     bus.ModeDirect,
		Logger:   slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer func() { cancel(); b.Shutdown() }()

	sender := b.Sender()
	_, err := sender.Call(context.Background(), bus.VerbOciManifest, &bus.OciManifestRequest{ImageRef: "ghcr.io/kubewarden/test:latest"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not permitted")
}

func TestRouterDNSLookup(t *testing.T) {
	dns := &fakeDNS{ips: []string{"1.2.3.4"}}
	r, b := newTestRouter(t, bus.ModeDirect, nil, &fakeRegistry{}, dns, &fakeFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer func() { cancel(); b.Shutdown() }()

	sender := b.Sender()
	resp, err := sender.Call(context.Background(), bus.VerbDNSLookupHost, &bus.DNSLookupHostRequest{Host: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4"}, resp.(*bus.DNSLookupHostResponse).IPs)
}

func TestRouterRecordThenReplayRoundTrip(t *testing.T) {
	registry := &fakeRegistry{manifest: []byte(`{"layers":[]}`), digest: "sha256:abc"}
	journal := bus.NewJournal()

	recorder, recordBus := newTestRouter(t, bus.ModeRecord, journal, registry, &fakeDNS{}, &fakeFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	go recorder.Run(ctx)

	sender := recordBus.Sender()
	_, err := sender.Call(context.Background(), bus.VerbOciManifestDigest, &bus.OciManifestRequest{ImageRef: "ghcr.io/kubewarden/test:latest"})
	require.NoError(t, err)
	cancel()
	recordBus.Shutdown()

	// A fresh router, with a registry that would error if actually called,
	// answering purely from the journal recorded above.
	brokenRegistry := &fakeRegistry{err: assertionError("must not be called in replay mode")}
	replayer, replayBus := newTestRouter(t, bus.ModeReplay, journal, brokenRegistry, &fakeDNS{}, &fakeFetcher{})
	ctx2, cancel2 := context.WithCancel(context.Background())
	go replayer.Run(ctx2)
	defer func() { cancel2(); replayBus.Shutdown() }()

	resp, err := replayBus.Sender().Call(context.Background(), bus.VerbOciManifestDigest, &bus.OciManifestRequest{ImageRef: "ghcr.io/kubewarden/test:latest"})
	require.NoError(t, err)
	assert.Equal(t, "sha256:abc", resp.(*bus.OciManifestDigestResponse).Digest)
}

type assertionError string

func (e assertionError) Error() string { return string(e) }
