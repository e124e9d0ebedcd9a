// Package policystore implements a persistent on-disk pull cache for policy
// module URIs, outside the evaluation core's scope. Grounded on
// original_source/kwctl/src/policies.rs's policy_list()/Policy vocabulary
// (a policy is identified by its URI, resolves to a local_path, and reports
// a digest), and on the registry/http/file URI schemes the policy-fetcher
// crate it calls through supports. policycache.Cache.Load only ever reads a
// local filesystem path; Store is what produces that path from a
// registry://, https://, http:// or file:// reference, persisting the pull
// across process restarts the way kwctl's own store directory does.
package policystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// scheme identifies how a policy URI must be resolved to bytes.
type scheme string

const (
	schemeRegistry scheme = "registry"
	schemeHTTPS    scheme = "https"
	schemeHTTP     scheme = "http"
	schemeFile     scheme = "file"
)

// Policy is one pulled policy resolved under a Store's root directory.
type Policy struct {
	URI       string
	LocalPath string
}

// Digest returns the SHA-256 of the policy's local Wasm bytes, hex-encoded,
// truncated to 12 characters to match the short form kwctl's policy list
// table shows.
func (p Policy) Digest() (string, error) {
	data, err := os.ReadFile(p.LocalPath)
	if err != nil {
		return "", fmt.Errorf("reading %s to compute digest: %w", p.LocalPath, err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12], nil
}

func (p Policy) String() string { return p.URI }

// Store resolves policy module URIs to local filesystem paths, pulling and
// caching on first use under RootDir.
type Store struct {
	RootDir    string
	HTTPClient *http.Client
}

// New builds a Store rooted at rootDir, creating it if absent.
func New(rootDir string) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating policy store root %s: %w", rootDir, err)
	}
	return &Store{RootDir: rootDir}, nil
}

// EnsurePulled resolves uri to a local path, pulling it into the store on
// first use and reusing the cached copy thereafter. file:// URIs bypass the
// cache and resolve directly to the referenced path.
func (s *Store) EnsurePulled(ctx context.Context, uri string) (string, error) {
	sch, rest, err := splitScheme(uri)
	if err != nil {
		return "", err
	}

	if sch == schemeFile {
		return rest, nil
	}

	localPath := s.cachePath(sch, rest)
	if _, err := os.Stat(localPath); err == nil {
		return localPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("checking cached policy %s: %w", localPath, err)
	}

	data, err := s.fetch(ctx, sch, rest)
	if err != nil {
		return "", fmt.Errorf("pulling policy %s: %w", uri, err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return "", fmt.Errorf("creating policy store directory for %s: %w", uri, err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing pulled policy %s: %w", localPath, err)
	}
	return localPath, nil
}

// List enumerates every policy already resolved under the store's root
// directory, mirroring kwctl's `policy list` (original_source/kwctl/src/policies.rs).
func (s *Store) List() ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(s.RootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".wasm") {
			return nil
		}
		rel, err := filepath.Rel(s.RootDir, path)
		if err != nil {
			return err
		}
		policies = append(policies, Policy{URI: uriFromCacheRelPath(rel), LocalPath: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing policy store %s: %w", s.RootDir, err)
	}
	return policies, nil
}

func (s *Store) fetch(ctx context.Context, sch scheme, rest string) ([]byte, error) {
	switch sch {
	case schemeRegistry:
		return pullRegistryLayer(rest)
	case schemeHTTPS, schemeHTTP:
		return s.fetchHTTP(ctx, string(sch)+"://"+rest)
	default:
		return nil, fmt.Errorf("unsupported policy URI scheme %q", sch)
	}
}

func (s *Store) fetchHTTP(ctx context.Context, fullURL string) ([]byte, error) {
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", fullURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", fullURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", fullURL, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", fullURL, err)
	}
	return data, nil
}

// pullRegistryLayer pulls an OCI image reference and returns its single
// policy layer's uncompressed bytes. A Kubewarden policy artifact is
// distributed as a one-layer OCI image whose layer is the raw Wasm module.
func pullRegistryLayer(imageRef string) ([]byte, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, fmt.Errorf("invalid OCI image reference %q: %w", imageRef, err)
	}
	img, err := remote.Image(ref)
	if err != nil {
		return nil, fmt.Errorf("cannot pull image %q: %w", imageRef, err)
	}
	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("cannot read layers of %q: %w", imageRef, err)
	}
	if len(layers) == 0 {
		return nil, fmt.Errorf("policy image %q has no layers", imageRef)
	}
	rc, err := layers[0].Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("cannot read layer of %q: %w", imageRef, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading layer of %q: %w", imageRef, err)
	}
	return data, nil
}

// splitScheme parses a policy URI into its scheme and the remainder, the
// same three-scheme (registry://, http(s)://, file://) vocabulary
// policy-fetcher's Source enum exposes.
func splitScheme(uri string) (scheme, string, error) {
	parts := strings.SplitN(uri, "://", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("policy URI %q is missing a scheme (registry://, https://, http://, file://)", uri)
	}
	switch scheme(parts[0]) {
	case schemeRegistry, schemeHTTPS, schemeHTTP, schemeFile:
		return scheme(parts[0]), parts[1], nil
	default:
		return "", "", fmt.Errorf("policy URI %q has unsupported scheme %q", uri, parts[0])
	}
}

// cachePath maps a (scheme, rest) pair onto a deterministic path under the
// store's root, mirroring the URI's own path segments so the cache stays
// human-inspectable, with ':' replaced since it is not a portable filename
// character.
func (s *Store) cachePath(sch scheme, rest string) string {
	sanitized := strings.ReplaceAll(rest, ":", "_")
	return filepath.Join(s.RootDir, string(sch), filepath.FromSlash(sanitized)) + ".wasm"
}

// uriFromCacheRelPath is cachePath's approximate inverse, used only to
// report a human-readable identifier when listing an already-pulled store;
// it cannot perfectly recover a registry reference's original tag
// separator, so '_' is mapped back to ':' only at the final path segment.
func uriFromCacheRelPath(rel string) string {
	rel = strings.TrimSuffix(rel, ".wasm")
	segments := strings.Split(filepath.ToSlash(rel), "/")
	if len(segments) < 2 {
		return rel
	}
	sch := segments[0]
	restSegments := segments[1:]
	last := len(restSegments) - 1
	if idx := strings.LastIndex(restSegments[last], "_"); idx >= 0 && sch == string(schemeRegistry) {
		restSegments[last] = restSegments[last][:idx] + ":" + restSegments[last][idx+1:]
	}
	rest, err := url.QueryUnescape(strings.Join(restSegments, "/"))
	if err != nil {
		rest = strings.Join(restSegments, "/")
	}
	return sch + "://" + rest
}
