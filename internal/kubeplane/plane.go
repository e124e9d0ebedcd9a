package kubeplane

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"github.com/kubewarden/policy-engine/internal/constants"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// Plane is the Kubernetes context-aware data plane (spec C2): it composes
// the discovery cache, the reflector set and two short-TTL memo caches into
// the single surface the callback router calls into. Every exported method
// here except Shutdown corresponds to one KubernetesXxx verb in internal/bus.
type Plane struct {
	discovery *DiscoveryCache
	reflector *ReflectorSet
	auth      kubernetes.Interface

	getCache *MemoCache[types.GetQuery, *unstructured.Unstructured]
	// canICache is keyed by a flattened string rather than
	// types.SubjectAccessReview directly: that struct carries a []string
	// Groups field, which is not a comparable type and so cannot serve as a
	// Go map key.
	canICache *MemoCache[string, types.SubjectAccessReviewStatus]
}

// New wires a Plane from the three client-go clients needed: a discovery
// client for GVK resolution, a dynamic client for list/watch/get, and a
// typed client for SubjectAccessReview creation.
func New(discoveryClient discovery.DiscoveryInterface, dynamicClient dynamic.Interface, authClient kubernetes.Interface, logger *slog.Logger) *Plane {
	return &Plane{
		discovery: NewDiscoveryCache(discoveryClient),
		reflector: NewReflectorSet(dynamicClient, logger),
		auth:      authClient,
		getCache:  NewMemoCache[types.GetQuery, *unstructured.Unstructured](constants.MemoCacheTTL),
		canICache: NewMemoCache[string, types.SubjectAccessReviewStatus](constants.MemoCacheTTL),
	}
}

// ListResourceAll returns every object of q's resource family, scoped by
// q's namespace/label/field selectors, from a reflector started lazily on
// first use.
func (p *Plane) ListResourceAll(_ context.Context, q types.ListQuery) ([]*unstructured.Unstructured, error) {
	kr, err := p.discovery.Resolve(q.Resource)
	if err != nil {
		return nil, err
	}
	return p.reflector.Snapshot(q, GVR(kr)), nil
}

// HasListResourceAllResultChangedSinceInstant reports whether q's matching
// reflector has observed a mutation after since.
func (p *Plane) HasListResourceAllResultChangedSinceInstant(q types.ListQuery, since time.Time) bool {
	return p.reflector.HasChangedSince(q, since)
}

// GetResource performs a single-object point lookup, memoized for
// constants.MemoCacheTTL with at most one in-flight API call per (resource,
// namespace, name) key (spec §4.2, testable property 5).
func (p *Plane) GetResource(ctx context.Context, q types.GetQuery) (obj *unstructured.Unstructured, cached bool, err error) {
	keyStr := fmt.Sprintf("get|%s|%s|%s", q.Resource.String(), q.Namespace, q.Name)
	return p.getCache.Get(q, keyStr, func() (*unstructured.Unstructured, error) {
		kr, err := p.discovery.Resolve(q.Resource)
		if err != nil {
			return nil, err
		}
		client := p.namespacedClient(GVR(kr), q.Namespace)
		obj, err := client.Get(ctx, q.Name, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("cannot get %s %q: %w", q.Resource.String(), q.Name, err)
		}
		return obj, nil
	})
}

// GetResourcePluralName resolves car's plural resource name via the discovery
// cache, without touching the reflector set or memo caches.
func (p *Plane) GetResourcePluralName(car types.ContextAwareResource) (string, error) {
	kr, err := p.discovery.Resolve(car)
	if err != nil {
		return "", err
	}
	return kr.Plural, nil
}

// CanI performs a SubjectAccessReview, memoized identically to GetResource.
func (p *Plane) CanI(ctx context.Context, sar types.SubjectAccessReview) (status types.SubjectAccessReviewStatus, cached bool, err error) {
	keyStr := fmt.Sprintf("cani|%s|%v|%s|%s|%s|%s|%s", sar.User, sar.Groups, sar.Namespace, sar.Verb, sar.Group, sar.Resource, sar.Name)
	return p.canICache.Get(keyStr, keyStr, func() (types.SubjectAccessReviewStatus, error) {
		review := &authorizationv1.SubjectAccessReview{
			Spec: authorizationv1.SubjectAccessReviewSpec{
				User:   sar.User,
				Groups: sar.Groups,
				ResourceAttributes: &authorizationv1.ResourceAttributes{
					Namespace: sar.Namespace,
					Verb:      sar.Verb,
					Group:     sar.Group,
					Resource:  sar.Resource,
					Name:      sar.Name,
				},
			},
		}
		result, err := p.auth.AuthorizationV1().SubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
		if err != nil {
			return types.SubjectAccessReviewStatus{}, fmt.Errorf("subject access review failed: %w", err)
		}
		return types.SubjectAccessReviewStatus{
			Allowed: result.Status.Allowed,
			Denied:  result.Status.Denied,
			Reason:  result.Status.Reason,
		}, nil
	})
}

// Shutdown stops every reflector's background watch goroutine.
func (p *Plane) Shutdown() {
	p.reflector.Shutdown()
}

func (p *Plane) namespacedClient(gvr schema.GroupVersionResource, namespace string) dynamic.ResourceInterface {
	return p.reflector.namespacedClient(gvr, namespace)
}
