package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/internal/capabilities"
	"github.com/kubewarden/policy-engine/internal/kubeplane"
	"github.com/kubewarden/policy-engine/internal/policycache"
	"github.com/kubewarden/policy-engine/internal/policystore"
	"github.com/kubewarden/policy-engine/internal/router"
	"github.com/kubewarden/policy-engine/internal/verify"
)

// loadSources reads env's sources.yml, if configured, defaulting to an
// empty (all-secure, no custom authorities) configuration otherwise.
func loadSources(env *commandEnv) (capabilities.Sources, error) {
	if env.sourcesFile == "" {
		return capabilities.Sources{}, nil
	}
	return capabilities.LoadSourcesFile(env.sourcesFile)
}

// pulledPolicyPath resolves uri to a local Wasm file via env's store,
// pulling it on first use.
func pulledPolicyPath(ctx context.Context, env *commandEnv, uri string) (string, error) {
	store, err := policystore.New(env.storeDir)
	if err != nil {
		return "", err
	}
	path, err := store.EnsurePulled(ctx, uri)
	if err != nil {
		return "", err
	}
	return path, nil
}

// unavailableSignatureFetcher reports every sigstore verification attempt
// as unavailable: fetching and parsing the sigstore wire format is
// explicitly outside the core's scope (spec §1), and unlike OCI manifest
// fetching no example in this project's dependency pack wires a concrete
// sigstore client, so this CLI cannot satisfy SigstoreVerify requests on
// its own. A deployment wanting this family functional supplies its own
// verify.RemoteFetcher.
type unavailableSignatureFetcher struct{}

func (unavailableSignatureFetcher) FetchTrustedLayers(context.Context, string) (string, []verify.TrustedLayer, error) {
	return "", nil, fmt.Errorf("sigstore signature fetching is not wired into this command-line build")
}

// buildRouter wires a Router against real collaborators: an OCI registry,
// the stdlib DNS resolver, a best-effort Kubernetes data plane (absent
// entirely, and its family gated off, when no cluster is reachable), and a
// capability gate. Returns a ready-to-use sender, a shutdown func, and an
// error.
func buildRouter(ctx context.Context, env *commandEnv) (sender bus.Sender, shutdown func(), err error) {
	sources, err := loadSources(env)
	if err != nil {
		return bus.Sender{}, nil, fmt.Errorf("loading sources file: %w", err)
	}

	registry := &capabilities.GgcrRegistry{Sources: sources}
	dns := &capabilities.NetDNSResolver{}
	verifier := &verify.Verifier{Fetcher: unavailableSignatureFetcher{}, Registry: registry}

	families := []router.Family{router.FamilyOCI, router.FamilyDNS, router.FamilySigstore}

	plane, planeErr := buildPlane(env.logger)
	if planeErr != nil {
		env.logger.Warn("no Kubernetes cluster reachable; context-aware and Kubernetes host calls are disabled", "error", planeErr)
	} else {
		families = append(families, router.FamilyKubernetes)
	}

	b := bus.New(64)
	r := router.New(router.Config{
		Bus:      b,
		Gate:     router.NewGate(families...),
		Registry: registry,
		DNS:      dns,
		Verifier: verifier,
		Plane:    plane,
		Mode:     bus.ModeDirect,
		Logger:   env.logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		r.Run(runCtx)
		close(done)
	}()

	shutdownFn := func() {
		cancel()
		b.Shutdown()
		<-done
		if plane != nil {
			plane.Shutdown()
		}
	}
	return b.Sender(), shutdownFn, nil
}

// buildPlane constructs a Kubernetes data plane from the ambient
// kubeconfig/in-cluster config, if one is reachable.
func buildPlane(logger *slog.Logger) (*kubeplane.Plane, error) {
	config, err := ctrl.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("no kubeconfig/in-cluster config available: %w", err)
	}
	discoveryClient, err := discovery.NewDiscoveryClientForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("building discovery client: %w", err)
	}
	dynamicClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("building clientset: %w", err)
	}
	return kubeplane.New(discoveryClient, dynamicClient, clientset, logger), nil
}

// loadPolicy pulls and precompiles the policy at uri into a fresh
// policycache.Cache, returning both: callers own the cache's lifetime.
func loadPolicy(ctx context.Context, env *commandEnv, uri string) (*policycache.Cache, *policycache.PrecompiledPolicy, error) {
	path, err := pulledPolicyPath(ctx, env, uri)
	if err != nil {
		return nil, nil, err
	}

	cache, err := policycache.New(ctx, env.platformVersion, env.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initialising policy cache: %w", err)
	}

	policy, err := cache.Load(ctx, uri, path)
	if err != nil {
		_ = cache.Close(ctx)
		return nil, nil, err
	}
	return cache, policy, nil
}
