package kubeplane

import (
	"fmt"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/discovery"

	"github.com/kubewarden/policy-engine/pkg/types"
)

// DiscoveryCache is the (api_version, kind) -> KubeResource cache described
// in spec §4.2: populated on demand by querying grouped discovery,
// process-lifetime, never invalidated, protected by a single RWMutex biased
// to readers.
type DiscoveryCache struct {
	client discovery.DiscoveryInterface

	mu    sync.RWMutex
	items map[types.ContextAwareResource]types.KubeResource
}

// NewDiscoveryCache returns an empty cache bound to a discovery client.
func NewDiscoveryCache(client discovery.DiscoveryInterface) *DiscoveryCache {
	return &DiscoveryCache{
		client: client,
		items:  make(map[types.ContextAwareResource]types.KubeResource),
	}
}

// Resolve returns the KubeResource for (apiVersion, kind), querying the
// discovery API and caching the result on first use.
func (c *DiscoveryCache) Resolve(car types.ContextAwareResource) (types.KubeResource, error) {
	c.mu.RLock()
	kr, ok := c.items[car]
	c.mu.RUnlock()
	if ok {
		return kr, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if kr, ok := c.items[car]; ok {
		return kr, nil
	}

	kr, err := c.discover(car)
	if err != nil {
		return types.KubeResource{}, err
	}
	c.items[car] = kr
	return kr, nil
}

func (c *DiscoveryCache) discover(car types.ContextAwareResource) (types.KubeResource, error) {
	resourceList, err := c.client.ServerResourcesForGroupVersion(car.APIVersion)
	if err != nil {
		return types.KubeResource{}, fmt.Errorf("discovery failed for %s: %w", car.APIVersion, err)
	}

	group, version := splitGroupVersion(car.APIVersion)
	for _, r := range resourceList.APIResources {
		if strings.Contains(r.Name, "/") {
			continue // skip subresources such as pods/status
		}
		if r.Kind != car.Kind {
			continue
		}
		return types.KubeResource{
			Group:      group,
			Version:    version,
			Kind:       r.Kind,
			Plural:     r.Name,
			Namespaced: r.Namespaced,
		}, nil
	}
	return types.KubeResource{}, fmt.Errorf("couldn't find resource for %s/%s", car.APIVersion, car.Kind)
}

func splitGroupVersion(apiVersion string) (group, version string) {
	parts := strings.SplitN(apiVersion, "/", 2)
	if len(parts) == 1 {
		return "", parts[0]
	}
	return parts[0], parts[1]
}

// GVR builds the schema.GroupVersionResource for a resolved KubeResource.
func GVR(kr types.KubeResource) schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: kr.Group, Version: kr.Version, Resource: kr.Plural}
}
