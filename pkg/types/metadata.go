// Package types holds the wire-level data model shared by every component of
// the engine: policy metadata, validation request/response envelopes, and
// the Kubernetes resource descriptors used by the context-aware data plane.
package types

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Rule mirrors the subset of a Kubernetes admissionregistration RuleWithOperations
// that a policy's metadata declares it wants to be invoked for.
type Rule struct {
	APIGroups   []string `json:"apiGroups"`
	APIVersions []string `json:"apiVersions"`
	Resources   []string `json:"resources"`
	Operations  []string `json:"operations"`
}

// ContextAwareResource is a (apiVersion, kind) pair uniquely identifying a
// Kubernetes resource family a policy wants to read from the cluster during
// evaluation. Declared order is preserved; it is later used as a map key
// with deterministic iteration over the declaring slice.
type ContextAwareResource struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
}

func (r ContextAwareResource) String() string {
	return fmt.Sprintf("%s/%s", r.APIVersion, r.Kind)
}

// Metadata is the set of key/value annotations a Wasm policy module carries.
// See spec §6 "Policy module input".
type Metadata struct {
	Title                  string                 `json:"title,omitempty"`
	Description            string                `json:"description,omitempty"`
	Author                 string                `json:"author,omitempty"`
	URL                    string                `json:"url,omitempty"`
	Source                 string                `json:"source,omitempty"`
	License                string                `json:"license,omitempty"`
	Mutating               bool                   `json:"mutating"`
	BackgroundAudit        bool                   `json:"backgroundAudit"`
	Rules                  []Rule                 `json:"rules,omitempty"`
	ContextAwareResources  []ContextAwareResource `json:"contextAwareResources,omitempty"`
	ExecutionMode          string                 `json:"executionMode"`
	ProtocolVersion        string                 `json:"protocolVersion,omitempty"`
	MinimumPlatformVersion string                 `json:"minimumKubewardenVersion,omitempty"`
}

// TruncatedMinimumPlatformVersion parses MinimumPlatformVersion and returns
// it truncated to (major, minor), per spec §3's invariant. Returns ok=false
// when no minimum is declared.
func (m Metadata) TruncatedMinimumPlatformVersion() (major, minor uint64, ok bool, err error) {
	if m.MinimumPlatformVersion == "" {
		return 0, 0, false, nil
	}
	v, err := semver.NewVersion(m.MinimumPlatformVersion)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid minimum platform version %q: %w", m.MinimumPlatformVersion, err)
	}
	return v.Major(), v.Minor(), true, nil
}
