package router

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/kubernetes/scheme"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/internal/kubeplane"
	"github.com/kubewarden/policy-engine/internal/verify"
	"github.com/kubewarden/policy-engine/pkg/types"
)

func newKubernetesTestRouter(t *testing.T, objects ...runtime.Object) (*Router, *bus.Bus) {
	t.Helper()

	dynamicClient := dynamicfake.NewSimpleDynamicClient(scheme.Scheme, objects...)
	clientset := kubefake.NewSimpleClientset(objects...)
	fakeDiscovery, ok := clientset.Discovery().(*kubefake.FakeDiscovery)
	require.True(t, ok)
	fakeDiscovery.Resources = []*metav1.APIResourceList{
		{
			GroupVersion: "v1",
			APIResources: []metav1.APIResource{
				{Name: "pods", Namespaced: true, Kind: "Pod"},
			},
		},
	}

	plane := kubeplane.New(fakeDiscovery, dynamicClient, clientset, slog.Default())

	b := bus.New(4)
	r := New(Config{
		Bus:      b,
		Registry: &fakeRegistry{},
		DNS:      &fakeDNS{},
		Verifier: &verify.Verifier{Fetcher: &fakeFetcher{}, Registry: &fakeRegistry{}},
		Plane:    plane,
		Mode:     bus.ModeDirect,
		Logger:   slog.Default(),
	})
	return r, b
}

func TestRouterDispatchesKubernetesGetResource(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "nginx", Namespace: "default"}}
	r, b := newKubernetesTestRouter(t, pod)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer func() { cancel(); b.Shutdown() }()

	req := &bus.KubernetesGetRequest{
		Resource:  types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"},
		Name:      "nginx",
		Namespace: "default",
	}
	resp, err := b.Sender().Call(context.Background(), bus.VerbKubernetesGetResource, req)
	require.NoError(t, err)

	getResp := resp.(*bus.KubernetesGetResponse)
	assert.False(t, getResp.Cached)
	assert.Contains(t, string(getResp.Object), `"nginx"`)

	resp2, err := b.Sender().Call(context.Background(), bus.VerbKubernetesGetResource, req)
	require.NoError(t, err)
	assert.True(t, resp2.(*bus.KubernetesGetResponse).Cached)
}

func TestRouterDispatchesKubernetesGetResourcePluralName(t *testing.T) {
	r, b := newKubernetesTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	defer func() { cancel(); b.Shutdown() }()

	req := &bus.KubernetesPluralNameRequest{Resource: types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"}}
	resp, err := b.Sender().Call(context.Background(), bus.VerbKubernetesGetResourcePluralName, req)
	require.NoError(t, err)
	assert.Equal(t, "pods", resp.(*bus.KubernetesPluralNameResponse).Plural)
}
