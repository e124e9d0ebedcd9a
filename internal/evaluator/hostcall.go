package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kubewarden/policy-engine/internal/bus"
)

// decodeGuestCallPayload unmarshals a guestCallRequest's raw payload into
// the concrete bus request type Sender.Call expects for verb, mirroring
// internal/router's decodeReply verb switch but for the opposite direction
// of the wire (guest-issued request rather than journalled response).
func decodeGuestCallPayload(verb bus.Verb, raw json.RawMessage) (any, error) {
	var target any
	switch verb {
	case bus.VerbOciManifest, bus.VerbOciManifestDigest, bus.VerbOciManifestAndConfig:
		target = &bus.OciManifestRequest{}
	case bus.VerbSigstoreVerify:
		target = &bus.SigstoreVerifyRequest{}
	case bus.VerbDNSLookupHost:
		target = &bus.DNSLookupHostRequest{}
	case bus.VerbKubernetesListResourceAll, bus.VerbKubernetesListResourceByNamespace:
		target = &bus.KubernetesListRequest{}
	case bus.VerbKubernetesGetResource:
		target = &bus.KubernetesGetRequest{}
	case bus.VerbKubernetesGetResourcePluralName:
		target = &bus.KubernetesPluralNameRequest{}
	case bus.VerbKubernetesCanI:
		target = &bus.KubernetesCanIRequest{}
	case bus.VerbHasKubernetesListResourceAllResultChangedSince:
		target = &bus.HasChangedSinceRequest{}
	default:
		return nil, fmt.Errorf("guest issued unrecognised host-capability verb %q", verb)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("decoding guest call payload for verb %q: %w", verb, err)
	}
	return target, nil
}

// hostCallBridge turns one guest-issued callback into a bus request and
// blocks on its reply, implementing the "embedded host-function that, under
// the hood, turns each call into a bus request and blocks on its reply"
// contract from spec §4.5.
func hostCallBridge(ctx context.Context, sender bus.Sender, callReq guestCallRequest) guestCallResponse {
	payload, err := decodeGuestCallPayload(bus.Verb(callReq.Verb), callReq.Payload)
	if err != nil {
		return guestCallResponse{Error: err.Error()}
	}
	resp, err := sender.Call(ctx, bus.Verb(callReq.Verb), payload)
	if err != nil {
		return guestCallResponse{Error: err.Error()}
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return guestCallResponse{Error: fmt.Sprintf("marshalling host-call response: %v", err)}
	}
	return guestCallResponse{Payload: raw}
}
