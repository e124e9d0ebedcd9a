package capabilities

import "context"

// Registry is the opaque OCI-fetching collaborator the router dispatches
// `OciManifest*` verbs to. Per spec §1, registry fetching and OCI manifest
// parsing are external collaborators: this interface is the only contract
// the core imposes on them. A concrete implementation wires it to
// github.com/google/go-containerregistry.
type Registry interface {
	// Manifest returns the raw manifest bytes for an image reference.
	Manifest(ctx context.Context, imageRef string) ([]byte, error)
	// ManifestDigest returns the content digest of an image reference's manifest.
	ManifestDigest(ctx context.Context, imageRef string) (string, error)
	// ManifestAndConfig returns the manifest, the image config blob, and the digest.
	ManifestAndConfig(ctx context.Context, imageRef string) (manifest, config []byte, digest string, err error)
}

// DNSResolver is the opaque DNS-lookup collaborator the router dispatches
// `DnsLookupHost` to.
type DNSResolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}
