package capabilities

import (
	"context"
	"fmt"
	"net"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// GgcrRegistry implements Registry against a real OCI registry using
// google/go-containerregistry, the thin edge spec §1 scopes the core away
// from parsing wire formats against. Sources is stored but not consulted:
// every request uses go-containerregistry's default transport, so
// insecure_sources and source_authorities have no effect on registry access.
type GgcrRegistry struct {
	Sources Sources
}

var _ Registry = (*GgcrRegistry)(nil)

func (r *GgcrRegistry) options(ctx context.Context) []remote.Option {
	return []remote.Option{remote.WithContext(ctx)}
}

func (r *GgcrRegistry) Manifest(ctx context.Context, imageRef string) ([]byte, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, fmt.Errorf("invalid OCI image reference %q: %w", imageRef, err)
	}
	desc, err := remote.Get(ref, r.options(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("cannot pull manifest for %q: %w", imageRef, err)
	}
	return desc.Manifest, nil
}

func (r *GgcrRegistry) ManifestDigest(ctx context.Context, imageRef string) (string, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return "", fmt.Errorf("invalid OCI image reference %q: %w", imageRef, err)
	}
	desc, err := remote.Get(ref, r.options(ctx)...)
	if err != nil {
		return "", fmt.Errorf("cannot pull manifest for %q: %w", imageRef, err)
	}
	return desc.Digest.String(), nil
}

func (r *GgcrRegistry) ManifestAndConfig(ctx context.Context, imageRef string) ([]byte, []byte, string, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return nil, nil, "", fmt.Errorf("invalid OCI image reference %q: %w", imageRef, err)
	}
	desc, err := remote.Get(ref, r.options(ctx)...)
	if err != nil {
		return nil, nil, "", fmt.Errorf("cannot pull manifest for %q: %w", imageRef, err)
	}
	img, err := desc.Image()
	if err != nil {
		return nil, nil, "", fmt.Errorf("cannot read image for %q: %w", imageRef, err)
	}
	configFile, err := img.RawConfigFile()
	if err != nil {
		return nil, nil, "", fmt.Errorf("cannot read config for %q: %w", imageRef, err)
	}
	return desc.Manifest, configFile, desc.Digest.String(), nil
}

// NetDNSResolver implements DNSResolver with the stdlib resolver: a single
// LookupHost call has no ecosystem library in the pack offering more than
// net.Resolver already does.
type NetDNSResolver struct {
	Resolver *net.Resolver
}

var _ DNSResolver = (*NetDNSResolver)(nil)

func (r *NetDNSResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	resolver := r.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	ips, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup for %s failed: %w", host, err)
	}
	return ips, nil
}
