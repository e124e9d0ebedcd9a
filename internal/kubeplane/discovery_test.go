package kubeplane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubefake "k8s.io/client-go/kubernetes/fake"

	"github.com/kubewarden/policy-engine/pkg/types"
)

func newDiscoveryFixture(t *testing.T) *DiscoveryCache {
	t.Helper()
	clientset := kubefake.NewSimpleClientset()
	fakeDiscovery, ok := clientset.Discovery().(*kubefake.FakeDiscovery)
	require.True(t, ok)
	fakeDiscovery.Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "apps/v1",
			APIResources: []metav1.APIResource{
				{Name: "deployments/status", Namespaced: true, Kind: "Deployment"},
				{Name: "deployments", Namespaced: true, Kind: "Deployment"},
			},
		},
	}
	return NewDiscoveryCache(fakeDiscovery)
}

func TestDiscoveryCacheResolvesAndCaches(t *testing.T) {
	cache := newDiscoveryFixture(t)

	kr, err := cache.Resolve(types.ContextAwareResource{APIVersion: "apps/v1", Kind: "Deployment"})
	require.NoError(t, err)
	assert.Equal(t, types.KubeResource{Group: "apps", Version: "v1", Kind: "Deployment", Plural: "deployments", Namespaced: true}, kr)

	kr2, err := cache.Resolve(types.ContextAwareResource{APIVersion: "apps/v1", Kind: "Deployment"})
	require.NoError(t, err)
	assert.Equal(t, kr, kr2)
}

func TestDiscoveryCacheSkipsSubresourcesAndErrorsWhenNotFound(t *testing.T) {
	cache := newDiscoveryFixture(t)

	kr, err := cache.Resolve(types.ContextAwareResource{APIVersion: "apps/v1", Kind: "Deployment"})
	require.NoError(t, err)
	assert.Equal(t, "deployments", kr.Plural)

	_, err = cache.Resolve(types.ContextAwareResource{APIVersion: "apps/v1", Kind: "Widget"})
	require.Error(t, err)
}

func TestSplitGroupVersion(t *testing.T) {
	group, version := splitGroupVersion("apps/v1")
	assert.Equal(t, "apps", group)
	assert.Equal(t, "v1", version)

	group, version = splitGroupVersion("v1")
	assert.Equal(t, "", group)
	assert.Equal(t, "v1", version)
}
