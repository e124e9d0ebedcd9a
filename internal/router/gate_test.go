package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kubewarden/policy-engine/internal/bus"
)

func TestGateAllowsOnlyListedFamilies(t *testing.T) {
	g := NewGate(FamilyOCI)
	assert.True(t, g.Allows(bus.VerbOciManifest))
	assert.False(t, g.Allows(bus.VerbDNSLookupHost))
	assert.False(t, g.Allows(bus.VerbKubernetesCanI))
}

func TestAllowAllPermitsEveryKnownVerb(t *testing.T) {
	g := AllowAll()
	for _, verb := range []bus.Verb{
		bus.VerbOciManifest, bus.VerbOciManifestDigest, bus.VerbOciManifestAndConfig,
		bus.VerbSigstoreVerify, bus.VerbDNSLookupHost,
		bus.VerbKubernetesListResourceAll, bus.VerbKubernetesListResourceByNamespace,
		bus.VerbKubernetesGetResource, bus.VerbKubernetesGetResourcePluralName,
		bus.VerbKubernetesCanI, bus.VerbHasKubernetesListResourceAllResultChangedSince,
	} {
		assert.True(t, g.Allows(verb), "expected %s to be permitted", verb)
	}
}

func TestGateDeniesEmptyGateEntirely(t *testing.T) {
	g := NewGate()
	assert.False(t, g.Allows(bus.VerbOciManifest))
}
