package router

import (
	"encoding/json"
	"fmt"

	"github.com/kubewarden/policy-engine/internal/bus"
)

// decodeReply unmarshals a journal-recorded reply back into the concrete
// response type Sender.Call's caller expects to type-assert, keyed by verb.
func decodeReply(verb bus.Verb, raw json.RawMessage) (any, error) {
	var target any
	switch verb {
	case bus.VerbOciManifest:
		target = &bus.OciManifestResponse{}
	case bus.VerbOciManifestDigest:
		target = &bus.OciManifestDigestResponse{}
	case bus.VerbOciManifestAndConfig:
		target = &bus.OciManifestAndConfigResponse{}
	case bus.VerbSigstoreVerify:
		target = &bus.SigstoreVerifyResponse{}
	case bus.VerbDNSLookupHost:
		target = &bus.DNSLookupHostResponse{}
	case bus.VerbKubernetesListResourceAll, bus.VerbKubernetesListResourceByNamespace:
		target = &bus.KubernetesListResponse{}
	case bus.VerbKubernetesGetResource:
		target = &bus.KubernetesGetResponse{}
	case bus.VerbKubernetesGetResourcePluralName:
		target = &bus.KubernetesPluralNameResponse{}
	case bus.VerbKubernetesCanI:
		target = &bus.KubernetesCanIResponse{}
	case bus.VerbHasKubernetesListResourceAllResultChangedSince:
		target = &bus.HasChangedSinceResponse{}
	default:
		return nil, fmt.Errorf("cannot replay unrecognised verb %q", verb)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("cannot decode replayed response for verb %q: %w", verb, err)
	}
	return target, nil
}
