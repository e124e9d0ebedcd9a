package types

import (
	"encoding/json"
	"fmt"
)

// AdmissionRequest is the subset of a Kubernetes AdmissionRequest the engine
// cares about (spec §3 "Validate request").
type AdmissionRequest struct {
	UID string           `json:"uid"`
	Kind      GroupVersionKind `json:"kind"`
	// Resource is the plural resource name the request was submitted
	// against (e.g. "deployments"), distinct from Kind's singular Kind
	// string; a policy's declared rule selectors match against this.
	Resource  string          `json:"resource,omitempty"`
	Object    json.RawMessage `json:"object,omitempty"`
	OldObject json.RawMessage `json:"oldObject,omitempty"`
	DryRun    bool            `json:"dryRun,omitempty"`
	Operation string          `json:"operation,omitempty"`
	UserInfo  UserInfo        `json:"userInfo,omitempty"`
	Namespace string          `json:"namespace,omitempty"`
}

// GroupVersionKind identifies the Kubernetes type of the admitted object.
type GroupVersionKind struct {
	Group   string `json:"group"`
	Version string `json:"version"`
	Kind    string `json:"kind"`
}

// UserInfo is the subset of authentication.k8s.io/v1 UserInfo carried on an
// AdmissionRequest.
type UserInfo struct {
	Username string   `json:"username,omitempty"`
	UID      string   `json:"uid,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// ValidateRequest is the tagged union described in spec §3: either a raw
// arbitrary object, or a Kubernetes AdmissionRequest. Exactly one of Raw or
// Admission is populated.
type ValidateRequest struct {
	Raw       json.RawMessage
	Admission *AdmissionRequest
}

// CorrelationID returns the identifier used to correlate the response: the
// AdmissionRequest's uid, or empty for raw requests (per spec §6, uid is
// echoed or blank for raw mode).
func (r ValidateRequest) CorrelationID() string {
	if r.Admission != nil {
		return r.Admission.UID
	}
	return ""
}

// IsAdmissionRequest reports whether this request carries a Kubernetes
// AdmissionRequest rather than an arbitrary object.
func (r ValidateRequest) IsAdmissionRequest() bool {
	return r.Admission != nil
}

// ObjectBytes returns the JSON bytes of the object under evaluation,
// regardless of which request variant was used.
func (r ValidateRequest) ObjectBytes() json.RawMessage {
	if r.Admission != nil {
		return r.Admission.Object
	}
	return r.Raw
}

// MarshalJSON implements the tagged-union envelope: {"request": ..., "settings": ...}
// is assembled by the caller; this method only encodes the `request` field
// contents themselves.
func (r ValidateRequest) MarshalJSON() ([]byte, error) {
	if r.Admission != nil {
		b, err := json.Marshal(r.Admission)
		if err != nil {
			return nil, fmt.Errorf("marshal admission request: %w", err)
		}
		return b, nil
	}
	if r.Raw != nil {
		return r.Raw, nil
	}
	return []byte("null"), nil
}

// ValidationResponse is the outward response shape every guest ABI converges
// on (spec §4.5): {allowed, message?, code?, mutated_object?, warnings?}.
type ValidationResponse struct {
	UID             string          `json:"uid"`
	Allowed         bool            `json:"allowed"`
	Message         string          `json:"message,omitempty"`
	Code            *int32          `json:"code,omitempty"`
	Patch           []byte          `json:"patch,omitempty"`
	PatchType       string          `json:"patchType,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	MutatedObject   json.RawMessage `json:"mutatedObject,omitempty"`
	ErrorKind       string          `json:"-"`
}

// Deny builds a deny response carrying a structured error kind, used for
// load/runtime errors that still need to produce a valid ValidationResponse.
func Deny(uid, message, errorKind string) ValidationResponse {
	return ValidationResponse{UID: uid, Allowed: false, Message: message, ErrorKind: errorKind}
}

// Allow builds a bare allow response, used by the "no matching rule"
// short-circuit edge (spec §4.5 "Evaluation edges").
func Allow(uid string) ValidationResponse {
	return ValidationResponse{UID: uid, Allowed: true}
}
