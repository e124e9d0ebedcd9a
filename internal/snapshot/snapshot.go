// Package snapshot implements the context-aware snapshot builder (spec C6):
// for policies that declare context-aware resources, it materialises a
// cluster-state snapshot that the Rego policy-as-data dialects consume in
// place of synchronous host calls during evaluation. Grounded on
// original_source/policy-evaluator/src/runtimes/rego/context_aware.rs's
// get_allowed_resources / get_plural_names / have_allowed_resources_changed_since_instant
// trio, translated from its callback-channel calls into calls over this
// engine's host-capability bus so record/replay and capability gating apply
// identically to snapshot construction.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// Dialect selects the wire shape a policy-as-data snapshot is serialised
// into (spec §4.5/§4.6).
type Dialect int

const (
	// DialectPlain keys resources by "apiVersion/kind" -> object list, the
	// shape a plain OPA policy's input.kubernetes expects.
	DialectPlain Dialect = iota
	// DialectGatekeeper additionally nests resources by kind, plural,
	// namespace ("" for cluster-scoped) and name, the shape a constrained
	// ConstraintTemplate-style policy's inventory expects.
	DialectGatekeeper
)

// Inventory is the plain dialect's snapshot.
type Inventory map[string][]json.RawMessage

// GatekeeperInventory is the constrained dialect's snapshot.
type GatekeeperInventory map[string]map[string]map[string]map[string]json.RawMessage

// Builder constructs and caches context-aware snapshots for one policy's
// declared resources. A Builder is built for a single dialect's worth of use
// over its lifetime (a policy's execution mode never changes mid-flight), so
// reuse across dialects is not a case this type needs to handle.
//
// It runs on its own worker, never the reflector task, so it is free to
// block synchronously on the bus (spec §4.6: "Snapshot construction runs on
// a worker that is not the reflector task").
type Builder struct {
	sender    bus.Sender
	resources []types.ContextAwareResource

	lastSnapshotAt time.Time
	lastPlain      Inventory
	lastGatekeeper GatekeeperInventory
}

// NewBuilder returns a Builder for the given declared resources, issuing its
// reads over sender. An empty resources slice is valid: it yields an empty
// snapshot for policies that declared no context-aware reads.
func NewBuilder(sender bus.Sender, resources []types.ContextAwareResource) *Builder {
	return &Builder{sender: sender, resources: resources}
}

// Build materialises, or reuses, a snapshot for dialect. If a previous
// snapshot exists and none of the declared resources have changed since it
// was taken, the previous snapshot is returned unchanged (spec §4.6 step 4).
func (b *Builder) Build(ctx context.Context, dialect Dialect) (any, error) {
	if !b.lastSnapshotAt.IsZero() {
		changed, err := b.hasAnyChangedSince(ctx, b.lastSnapshotAt)
		if err != nil {
			return nil, err
		}
		if !changed {
			if dialect == DialectGatekeeper {
				return b.lastGatekeeper, nil
			}
			return b.lastPlain, nil
		}
	}

	takenAt := time.Now()
	lists := make(map[types.ContextAwareResource]*bus.KubernetesListResponse, len(b.resources))
	for _, resource := range b.resources {
		resp, err := b.sender.Call(ctx, bus.VerbKubernetesListResourceAll, &bus.KubernetesListRequest{Resource: resource})
		if err != nil {
			return nil, fmt.Errorf("listing context-aware resource %s: %w", resource.String(), err)
		}
		list, ok := resp.(*bus.KubernetesListResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected reply type %T for context-aware resource %s", resp, resource.String())
		}
		lists[resource] = list
	}

	if dialect == DialectGatekeeper {
		gk, err := b.buildGatekeeper(ctx, lists)
		if err != nil {
			return nil, err
		}
		b.lastGatekeeper = gk
		b.lastSnapshotAt = takenAt
		return gk, nil
	}

	plain := buildPlain(lists)
	b.lastPlain = plain
	b.lastSnapshotAt = takenAt
	return plain, nil
}

func buildPlain(lists map[types.ContextAwareResource]*bus.KubernetesListResponse) Inventory {
	inv := make(Inventory, len(lists))
	for resource, list := range lists {
		inv[resource.String()] = list.Items
	}
	return inv
}

func (b *Builder) buildGatekeeper(ctx context.Context, lists map[types.ContextAwareResource]*bus.KubernetesListResponse) (GatekeeperInventory, error) {
	gk := make(GatekeeperInventory)
	for _, resource := range b.resources {
		list := lists[resource]
		resp, err := b.sender.Call(ctx, bus.VerbKubernetesGetResourcePluralName, &bus.KubernetesPluralNameRequest{Resource: resource})
		if err != nil {
			return nil, fmt.Errorf("resolving plural name for %s: %w", resource.String(), err)
		}
		pluralResp, ok := resp.(*bus.KubernetesPluralNameResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected reply type %T for plural-name lookup of %s", resp, resource.String())
		}

		byPlural, ok := gk[resource.Kind]
		if !ok {
			byPlural = make(map[string]map[string]map[string]json.RawMessage)
			gk[resource.Kind] = byPlural
		}
		byNamespace, ok := byPlural[pluralResp.Plural]
		if !ok {
			byNamespace = make(map[string]map[string]json.RawMessage)
			byPlural[pluralResp.Plural] = byNamespace
		}

		for _, raw := range list.Items {
			var meta struct {
				Metadata struct {
					Name      string `json:"name"`
					Namespace string `json:"namespace"`
				} `json:"metadata"`
			}
			if err := json.Unmarshal(raw, &meta); err != nil {
				return nil, fmt.Errorf("decoding object metadata for %s: %w", resource.String(), err)
			}
			byName, ok := byNamespace[meta.Metadata.Namespace]
			if !ok {
				byName = make(map[string]json.RawMessage)
				byNamespace[meta.Metadata.Namespace] = byName
			}
			byName[meta.Metadata.Name] = raw
		}
	}
	return gk, nil
}

func (b *Builder) hasAnyChangedSince(ctx context.Context, since time.Time) (bool, error) {
	for _, resource := range b.resources {
		resp, err := b.sender.Call(ctx, bus.VerbHasKubernetesListResourceAllResultChangedSince, &bus.HasChangedSinceRequest{
			Resource:   resource,
			SinceNanos: since.UnixNano(),
		})
		if err != nil {
			return false, fmt.Errorf("checking change detection for %s: %w", resource.String(), err)
		}
		changedResp, ok := resp.(*bus.HasChangedSinceResponse)
		if !ok {
			return false, fmt.Errorf("unexpected reply type %T for change-detection of %s", resp, resource.String())
		}
		if changedResp.Changed {
			return true, nil
		}
	}
	return false, nil
}
