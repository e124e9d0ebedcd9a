package kubeplane

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/scheme"

	"github.com/kubewarden/policy-engine/pkg/types"
)

var podGVR = schema.GroupVersionResource{Group: "", Version: "v1", Resource: "pods"}

func TestReflectorSetSnapshotReturnsExistingObjects(t *testing.T) {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "nginx", Namespace: "default"}}
	dynamicClient := dynamicfake.NewSimpleDynamicClient(scheme.Scheme, []runtime.Object{pod}...)

	set := NewReflectorSet(dynamicClient, slog.Default())
	q := types.ListQuery{Resource: types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"}, Namespace: "default"}

	require.Eventually(t, func() bool {
		return len(set.Snapshot(q, podGVR)) == 1
	}, time.Second, 5*time.Millisecond)

	items := set.Snapshot(q, podGVR)
	require.Len(t, items, 1)
	assert.Equal(t, "nginx", items[0].GetName())

	set.Shutdown()
}

func TestReflectorSetHasChangedSinceIsConservativeForUnstartedReflector(t *testing.T) {
	dynamicClient := dynamicfake.NewSimpleDynamicClient(scheme.Scheme)
	set := NewReflectorSet(dynamicClient, slog.Default())

	q := types.ListQuery{Resource: types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"}, Namespace: "default"}
	assert.True(t, set.HasChangedSince(q, time.Now()), "an unstarted reflector is conservatively treated as changed")
}

func TestReflectorSetHasChangedSinceReflectsSubsequentWrites(t *testing.T) {
	dynamicClient := dynamicfake.NewSimpleDynamicClient(scheme.Scheme)
	set := NewReflectorSet(dynamicClient, slog.Default())

	q := types.ListQuery{Resource: types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"}, Namespace: "default"}
	set.Snapshot(q, podGVR) // starts the reflector

	require.Eventually(t, func() bool {
		key := keyFor(q)
		set.mu.RLock()
		_, ok := set.reflectors[key]
		set.mu.RUnlock()
		return ok
	}, time.Second, 5*time.Millisecond)

	before := time.Now()

	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "added-later", Namespace: "default"}}
	_, err := dynamicClient.Resource(podGVR).Namespace("default").Create(
		t.Context(), toUnstructured(t, pod), metav1.CreateOptions{},
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return set.HasChangedSince(q, before)
	}, time.Second, 5*time.Millisecond)

	set.Shutdown()
}

func toUnstructured(t *testing.T, obj runtime.Object) *unstructured.Unstructured {
	t.Helper()
	u, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	require.NoError(t, err)
	return &unstructured.Unstructured{Object: u}
}
