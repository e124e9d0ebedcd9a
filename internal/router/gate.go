package router

import (
	"sync"

	"github.com/kubewarden/policy-engine/internal/bus"
)

// Family groups the bus's individual verbs into the families a capability
// gate grants or denies as a unit (spec §4.3: "applies the configured
// capability gate (allow/deny per verb family)").
type Family string

const (
	FamilyOCI        Family = "oci"
	FamilySigstore   Family = "sigstore"
	FamilyDNS        Family = "dns"
	FamilyKubernetes Family = "kubernetes"
)

func familyOf(verb bus.Verb) Family {
	switch verb {
	case bus.VerbOciManifest, bus.VerbOciManifestDigest, bus.VerbOciManifestAndConfig:
		return FamilyOCI
	case bus.VerbSigstoreVerify:
		return FamilySigstore
	case bus.VerbDNSLookupHost:
		return FamilyDNS
	case bus.VerbKubernetesListResourceAll, bus.VerbKubernetesListResourceByNamespace,
		bus.VerbKubernetesGetResource, bus.VerbKubernetesGetResourcePluralName,
		bus.VerbKubernetesCanI, bus.VerbHasKubernetesListResourceAllResultChangedSince:
		return FamilyKubernetes
	default:
		return ""
	}
}

// Gate decides which verb families the host calls a router receives are
// allowed to reach. A router configured without a gate allows every family
// (AllowAll); NewGate denies every family it is not given.
type Gate struct {
	mu      sync.RWMutex
	allowed map[Family]bool
}

// NewGate returns a gate permitting exactly the given families. An empty
// argument list permits nothing — every host call is denied.
func NewGate(families ...Family) *Gate {
	allowed := make(map[Family]bool, len(families))
	for _, f := range families {
		allowed[f] = true
	}
	return &Gate{allowed: allowed}
}

// AllowAll returns a gate permitting every known family, used by New when
// Config.Gate is nil.
func AllowAll() *Gate {
	return NewGate(FamilyOCI, FamilySigstore, FamilyDNS, FamilyKubernetes)
}

// Allows reports whether verb's family is permitted by this gate. An
// unrecognised verb is always denied.
func (g *Gate) Allows(verb bus.Verb) bool {
	family := familyOf(verb)
	if family == "" {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.allowed[family]
}
