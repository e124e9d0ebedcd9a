package bus

import (
	"encoding/json"

	"github.com/kubewarden/policy-engine/pkg/types"
)

// RawKubeObject is a single dynamic Kubernetes object, carried as raw JSON so
// it passes through unmodified to the Wasm guest.
type RawKubeObject = json.RawMessage

// OciManifestRequest is the payload for VerbOciManifest / VerbOciManifestDigest
// / VerbOciManifestAndConfig.
type OciManifestRequest struct {
	ImageRef string `json:"imageRef"`
}

// OciManifestResponse is the reply for VerbOciManifest.
type OciManifestResponse struct {
	Manifest []byte `json:"manifest"`
}

// OciManifestDigestResponse is the reply for VerbOciManifestDigest.
type OciManifestDigestResponse struct {
	Digest string `json:"digest"`
}

// OciManifestAndConfigResponse is the reply for VerbOciManifestAndConfig.
type OciManifestAndConfigResponse struct {
	Manifest []byte `json:"manifest"`
	Config   []byte `json:"config"`
	Digest   string `json:"digest"`
}

// SigstoreVerifyRequest carries an image reference plus whichever
// verification material the policy-specific constraint requires.
type SigstoreVerifyRequest struct {
	ImageRef    string            `json:"imageRef"`
	Kind        string            `json:"kind"` // PubKeys | Keyless | Github | Certificate
	PubKeys     []string          `json:"pubKeys,omitempty"`
	Keyless     []KeylessEntry    `json:"keyless,omitempty"`
	Github      *GithubEntry      `json:"github,omitempty"`
	CertInfo    *CertEntry        `json:"certInfo,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

type KeylessEntry struct {
	Issuer  string `json:"issuer"`
	Subject string `json:"subject"`
}

type GithubEntry struct {
	Owner      string `json:"owner"`
	Repository string `json:"repository,omitempty"`
}

type CertEntry struct {
	Certificate      []byte `json:"certificate"`
	CertificateChain []byte `json:"certificateChain,omitempty"`
}

// SigstoreVerifyResponse is the reply for VerbSigstoreVerify: the verified
// source image digest.
type SigstoreVerifyResponse struct {
	Digest string `json:"digest"`
}

// DNSLookupHostRequest is the payload for VerbDNSLookupHost.
type DNSLookupHostRequest struct {
	Host string `json:"host"`
}

// DNSLookupHostResponse is the reply for VerbDNSLookupHost.
type DNSLookupHostResponse struct {
	IPs []string `json:"ips"`
}

// KubernetesListRequest is the payload for VerbKubernetesListResourceAll and
// VerbKubernetesListResourceByNamespace (the latter also sets Namespace).
type KubernetesListRequest struct {
	Resource      types.ContextAwareResource `json:"resource"`
	Namespace     string                     `json:"namespace,omitempty"`
	LabelSelector string                     `json:"labelSelector,omitempty"`
	FieldSelector string                     `json:"fieldSelector,omitempty"`
}

// KubernetesListResponse is the reply: a dynamic list, carried as raw JSON so
// it can pass through unmodified to the Wasm guest.
type KubernetesListResponse struct {
	APIVersion string          `json:"apiVersion"`
	Kind       string          `json:"kind"`
	Items      []RawKubeObject `json:"items"`
}

// KubernetesGetRequest is the payload for VerbKubernetesGetResource.
type KubernetesGetRequest struct {
	Resource  types.ContextAwareResource `json:"resource"`
	Name      string                     `json:"name"`
	Namespace string                     `json:"namespace,omitempty"`
}

// KubernetesGetResponse is the reply: a single dynamic object, tagged with
// whether this call was served from the short-TTL memo cache.
type KubernetesGetResponse struct {
	Object RawKubeObject `json:"object"`
	Cached bool          `json:"cached"`
}

// KubernetesPluralNameRequest is the payload for VerbKubernetesGetResourcePluralName.
type KubernetesPluralNameRequest struct {
	Resource types.ContextAwareResource `json:"resource"`
}

// KubernetesPluralNameResponse is the reply: the plural name string.
type KubernetesPluralNameResponse struct {
	Plural string `json:"plural"`
}

// KubernetesCanIRequest is the payload for VerbKubernetesCanI.
type KubernetesCanIRequest struct {
	SAR types.SubjectAccessReview `json:"sar"`
}

// KubernetesCanIResponse is the reply: a review status, tagged with whether
// this particular call was served from the short-TTL memo cache.
type KubernetesCanIResponse struct {
	Status types.SubjectAccessReviewStatus `json:"status"`
	Cached bool                            `json:"cached"`
}

// HasChangedSinceRequest is the payload for
// VerbHasKubernetesListResourceAllResultChangedSince: a list query plus a
// wall-clock instant expressed as nanoseconds since the Unix epoch.
type HasChangedSinceRequest struct {
	Resource      types.ContextAwareResource `json:"resource"`
	Namespace     string                     `json:"namespace,omitempty"`
	LabelSelector string                     `json:"labelSelector,omitempty"`
	FieldSelector string                     `json:"fieldSelector,omitempty"`
	SinceNanos    int64                      `json:"sinceNanos"`
}

// HasChangedSinceResponse is the reply: a boolean.
type HasChangedSinceResponse struct {
	Changed bool `json:"changed"`
}
