package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/pkg/types"
)

// serveBus runs handler against every request b receives until ctx is
// cancelled, standing in for the callback router in tests that only need a
// real bus.Sender to drive.
func serveBus(ctx context.Context, b *bus.Bus, handler func(bus.Verb, any) (any, error)) {
	go func() {
		for {
			req, ok := b.Receive()
			if !ok {
				return
			}
			resp, err := handler(req.Verb, req.Payload)
			req.Reply(resp, err)
		}
	}()
	go func() {
		<-ctx.Done()
		b.Shutdown()
	}()
}

func podObject(name, namespace string) []byte {
	return []byte(`{"metadata":{"name":"` + name + `","namespace":"` + namespace + `"}}`)
}

func TestBuilderBuildsPlainInventory(t *testing.T) {
	b := bus.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resource := types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"}
	serveBus(ctx, b, func(verb bus.Verb, payload any) (any, error) {
		switch verb {
		case bus.VerbKubernetesListResourceAll:
			return &bus.KubernetesListResponse{
				APIVersion: "v1",
				Kind:       "Pod",
				Items:      []bus.RawKubeObject{podObject("a", "default"), podObject("b", "default")},
			}, nil
		case bus.VerbHasKubernetesListResourceAllResultChangedSince:
			return &bus.HasChangedSinceResponse{Changed: true}, nil
		default:
			t.Fatalf("unexpected verb %s", verb)
			return nil, nil
		}
	})

	builder := NewBuilder(b.Sender(), []types.ContextAwareResource{resource})
	snap, err := builder.Build(context.Background(), DialectPlain)
	require.NoError(t, err)

	inv, ok := snap.(Inventory)
	require.True(t, ok)
	assert.Len(t, inv["v1/Pod"], 2)
}

func TestBuilderBuildsGatekeeperInventoryKeyedByKindPluralNamespaceName(t *testing.T) {
	b := bus.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resource := types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"}
	serveBus(ctx, b, func(verb bus.Verb, payload any) (any, error) {
		switch verb {
		case bus.VerbKubernetesListResourceAll:
			return &bus.KubernetesListResponse{
				Items: []bus.RawKubeObject{podObject("web-1", "default")},
			}, nil
		case bus.VerbKubernetesGetResourcePluralName:
			return &bus.KubernetesPluralNameResponse{Plural: "pods"}, nil
		case bus.VerbHasKubernetesListResourceAllResultChangedSince:
			return &bus.HasChangedSinceResponse{Changed: true}, nil
		default:
			t.Fatalf("unexpected verb %s", verb)
			return nil, nil
		}
	})

	builder := NewBuilder(b.Sender(), []types.ContextAwareResource{resource})
	snap, err := builder.Build(context.Background(), DialectGatekeeper)
	require.NoError(t, err)

	gk, ok := snap.(GatekeeperInventory)
	require.True(t, ok)
	require.Contains(t, gk, "Pod")
	require.Contains(t, gk["Pod"], "pods")
	require.Contains(t, gk["Pod"]["pods"], "default")
	assert.Contains(t, gk["Pod"]["pods"]["default"], "web-1")
}

func TestBuilderReusesSnapshotWhenNothingChanged(t *testing.T) {
	b := bus.New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resource := types.ContextAwareResource{APIVersion: "v1", Kind: "Pod"}
	listCalls := 0
	changed := true
	serveBus(ctx, b, func(verb bus.Verb, payload any) (any, error) {
		switch verb {
		case bus.VerbKubernetesListResourceAll:
			listCalls++
			return &bus.KubernetesListResponse{Items: []bus.RawKubeObject{podObject("a", "default")}}, nil
		case bus.VerbHasKubernetesListResourceAllResultChangedSince:
			return &bus.HasChangedSinceResponse{Changed: changed}, nil
		default:
			t.Fatalf("unexpected verb %s", verb)
			return nil, nil
		}
	})

	builder := NewBuilder(b.Sender(), []types.ContextAwareResource{resource})

	_, err := builder.Build(context.Background(), DialectPlain)
	require.NoError(t, err)
	assert.Equal(t, 1, listCalls)

	changed = false
	_, err = builder.Build(context.Background(), DialectPlain)
	require.NoError(t, err)
	assert.Equal(t, 1, listCalls, "unchanged resources must not trigger a second list call")

	changed = true
	_, err = builder.Build(context.Background(), DialectPlain)
	require.NoError(t, err)
	assert.Equal(t, 2, listCalls, "a changed resource must trigger a fresh list call")
}
