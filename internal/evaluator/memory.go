package evaluator

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Guest modules are expected to export "allocate"/"deallocate" functions the
// host uses to request guest-owned scratch memory before writing a request
// into it, and to pack a result as a single uint64 (ptr in the high 32 bits,
// length in the low 32) from any entrypoint that returns data this way. This
// is the contract this engine's guest adapters rely on for every ABI that
// exchanges more than a handful of bytes across the module boundary.

func packPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// writeToGuest allocates length(data) bytes inside mod via its exported
// "allocate" function and writes data into them, returning the pointer.
func writeToGuest(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		return 0, fmt.Errorf("guest module does not export \"allocate\"")
	}
	results, err := allocate.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("guest allocate(%d) failed: %w", len(data), err)
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("writing %d bytes at guest offset %d out of range", len(data), ptr)
	}
	return ptr, nil
}

// readFromGuest reads length bytes at ptr out of mod's linear memory and
// releases them via the guest's exported "deallocate", if it has one.
func readFromGuest(ctx context.Context, mod api.Module, ptr, length uint32) ([]byte, error) {
	raw, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("reading %d bytes at guest offset %d out of range", length, ptr)
	}
	// Copy: raw aliases guest memory, which a concurrent deallocate call
	// (or the next evaluation reusing this instance's memory) can reuse.
	out := make([]byte, len(raw))
	copy(out, raw)

	if deallocate := mod.ExportedFunction("deallocate"); deallocate != nil {
		if _, err := deallocate.Call(ctx, uint64(ptr), uint64(length)); err != nil {
			return nil, fmt.Errorf("guest deallocate(%d, %d) failed: %w", ptr, length, err)
		}
	}
	return out, nil
}
