// Package verify implements the signature verifier (spec C7): given a policy
// image reference and a verification config, returns the verified manifest
// digest. Grounded on policy-fetcher/src/verify/mod.rs's
// verify_signatures_against_config / fetch_sigstore_remote_data split, and on
// the constraint vocabulary used by sigstore's own ClusterImagePolicy types
// (other_examples' pkg/apis/policy/v1beta1/clusterimagepolicy_types.go).
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/kubewarden/policy-engine/internal/capabilities"
)

// ConstraintKind tags which of the four signature-constraint shapes a
// Signature value holds (spec §4.7).
type ConstraintKind int

const (
	KindGenericIssuer ConstraintKind = iota
	KindGithubAction
	KindPubKey
	KindCertificate
)

// Signature is one signature constraint from a verification config.
type Signature struct {
	Kind ConstraintKind

	// GenericIssuer
	Issuer      string
	Subject     string
	Annotations map[string]string

	// GithubAction
	Owner      string
	Repository string

	// PubKey
	Key string

	// Certificate
	CertificatePEM string
}

// AnyOf is the "at least minimum_matches of these" verification clause.
type AnyOf struct {
	MinimumMatches int
	Signatures     []Signature
}

// Config is a verification config: YAML with an optional all_of list and an
// optional any_of struct (spec §4.7, §6).
type Config struct {
	AllOf []Signature
	AnyOf *AnyOf
}

// Validate enforces "a config with both absent is a configuration error."
func (c Config) Validate() error {
	if c.AllOf == nil && c.AnyOf == nil {
		return fmt.Errorf("verification config error: neither all_of nor any_of is set")
	}
	return nil
}

// TrustedLayer is one signed attestation associated with the image, already
// fetched and authenticated against the trust root. The concrete fields a
// real sigstore-go client would use (certificate issuer/subject, public key
// fingerprint, annotations) are modeled minimally here since wire-level
// sigstore parsing stays outside the core (spec §1).
type TrustedLayer struct {
	Issuer      string
	Subject     string
	KeyOrOwner  string
	Annotations map[string]string
}

// Matches reports whether this trusted layer satisfies a signature constraint.
func (l TrustedLayer) Matches(s Signature) bool {
	if !annotationsSubset(s.Annotations, l.Annotations) {
		return false
	}
	switch s.Kind {
	case KindGenericIssuer:
		return l.Issuer == s.Issuer && subjectMatches(s.Subject, l.Subject)
	case KindGithubAction:
		if l.Issuer != "https://token.actions.githubusercontent.com" {
			return false
		}
		owner, repo, _ := strings.Cut(l.Subject, "/")
		if owner != s.Owner {
			return false
		}
		if s.Repository != "" && repo != s.Repository {
			return false
		}
		return true
	case KindPubKey:
		return l.KeyOrOwner == s.Key
	case KindCertificate:
		return l.KeyOrOwner == s.CertificatePEM
	default:
		return false
	}
}

func subjectMatches(want, got string) bool {
	return want == "" || want == got
}

func annotationsSubset(want, got map[string]string) bool {
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// RemoteFetcher fetches the trusted signature layers for an image, plus its
// source digest. The router's SigstoreVerify verb calls Verifier.Verify,
// which calls this interface; it is kept as a narrow interface here because
// the wire format itself is out of scope (spec §1).
type RemoteFetcher interface {
	FetchTrustedLayers(ctx context.Context, imageRef string) (sourceDigest string, layers []TrustedLayer, err error)
}

// Verifier implements operation verify() from spec §4.7.
type Verifier struct {
	Fetcher  RemoteFetcher
	Registry capabilities.Registry
}

// Verify resolves the signature image adjacent to imageRef, evaluates the
// verification config against its trusted layers, and returns the source
// image digest on success.
func (v *Verifier) Verify(ctx context.Context, imageRef string, cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	sourceDigest, layers, err := v.Fetcher.FetchTrustedLayers(ctx, imageRef)
	if err != nil {
		return "", fmt.Errorf("failed to fetch trusted signature layers for %s: %w", imageRef, err)
	}

	if err := verifySignaturesAgainstConfig(cfg, layers); err != nil {
		return "", err
	}
	return sourceDigest, nil
}

func verifySignaturesAgainstConfig(cfg Config, layers []TrustedLayer) error {
	if cfg.AllOf != nil {
		var unsatisfied []Signature
		for _, s := range cfg.AllOf {
			if !anyLayerMatches(s, layers) {
				unsatisfied = append(unsatisfied, s)
			}
		}
		if len(unsatisfied) > 0 {
			return fmt.Errorf("image verification failed: missing signatures for constraints %v", unsatisfied)
		}
	}

	if cfg.AnyOf != nil {
		var unsatisfied []Signature
		satisfied := 0
		for _, s := range cfg.AnyOf.Signatures {
			if anyLayerMatches(s, layers) {
				satisfied++
			} else {
				unsatisfied = append(unsatisfied, s)
			}
		}
		if satisfied < cfg.AnyOf.MinimumMatches {
			return fmt.Errorf("image verification failed: minimum number of signatures not reached: needed %d, got %d, unsatisfied constraints: %v",
				cfg.AnyOf.MinimumMatches, satisfied, unsatisfied)
		}
	}
	return nil
}

func anyLayerMatches(s Signature, layers []TrustedLayer) bool {
	for _, l := range layers {
		if l.Matches(s) {
			return true
		}
	}
	return false
}

// VerifyLocalFileChecksum fetches the manifest for digest, requires exactly
// one Wasm layer, strips the "sha256:" prefix, and compares it to the hash
// of localFileBytes; mismatch is a fatal error (spec §4.7).
func (v *Verifier) VerifyLocalFileChecksum(ctx context.Context, imageRef, digest string, localFileBytes []byte) error {
	immutableRef := imageRef + "@" + digest
	manifest, err := v.Registry.Manifest(ctx, immutableRef)
	if err != nil {
		return fmt.Errorf("cannot fetch manifest for %s: %w", immutableRef, err)
	}

	wasmDigests, err := wasmLayerDigests(manifest)
	if err != nil {
		return err
	}
	if len(wasmDigests) != 1 {
		return fmt.Errorf("the manifest is expected to have exactly one wasm layer, got %d", len(wasmDigests))
	}

	expected, ok := strings.CutPrefix(wasmDigests[0], "sha256:")
	if !ok {
		return fmt.Errorf("the checksum inside the remote manifest does not use the sha256 hashing algorithm")
	}

	sum := sha256.Sum256(localFileBytes)
	actual := hex.EncodeToString(sum[:])
	if actual != expected {
		return fmt.Errorf("digest of the local file does not match the one reported inside the signed manifest: got %s, expected %s", actual, expected)
	}
	return nil
}
