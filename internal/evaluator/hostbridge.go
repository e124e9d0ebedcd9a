package evaluator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/kubewarden/policy-engine/internal/bus"
	"github.com/kubewarden/policy-engine/internal/policycache"
)

// HostBridge owns the single "kubewarden" host module every message-oriented
// guest links its synchronous callback import against. One HostBridge exists
// per engine process, instantiated once into a policycache.Cache's wazero
// runtime at startup and shared by every wapc adapter built against that
// cache — this is the "embedded host-function" half of spec §4.5's
// message-oriented guest contract, and the concrete form the design note in
// spec §9 about resolving shared state "via a handle passed at construction"
// takes here, in place of a package-level global.
type HostBridge struct {
	module api.Module
}

// NewHostBridge instantiates the host module. sender is the bus handle
// every guest-issued callback is forwarded through; it is shared across all
// policies, matching spec §3's "each guest instance holds a sender handle
// (shared, clone-cheap)".
func NewHostBridge(ctx context.Context, cache *policycache.Cache, sender bus.Sender) (*HostBridge, error) {
	hostCall := api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		ptr, length := unpackArgs(stack)
		reqBytes, err := readFromGuest(ctx, mod, ptr, length)
		if err != nil {
			stack[0] = 0
			return
		}
		var callReq guestCallRequest
		if err := json.Unmarshal(reqBytes, &callReq); err != nil {
			stack[0] = 0
			return
		}

		result := hostCallBridge(ctx, sender, callReq)
		respBytes, err := json.Marshal(result)
		if err != nil {
			stack[0] = 0
			return
		}
		outPtr, err := writeToGuest(ctx, mod, respBytes)
		if err != nil {
			stack[0] = 0
			return
		}
		stack[0] = packPtrLen(outPtr, uint32(len(respBytes)))
	})

	module, err := cache.Runtime().NewHostModuleBuilder("kubewarden").
		NewFunctionBuilder().
		WithGoModuleFunction(hostCall, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI64}).
		Export("host_call").
		Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiating kubewarden host bridge module: %w", err)
	}
	return &HostBridge{module: module}, nil
}

// Close releases the host bridge module. Call once, at process shutdown,
// after every guest instance that might still import it has been closed.
func (h *HostBridge) Close(ctx context.Context) error {
	return h.module.Close(ctx)
}

func unpackArgs(stack []uint64) (ptr, length uint32) {
	return uint32(stack[0]), uint32(stack[1])
}
