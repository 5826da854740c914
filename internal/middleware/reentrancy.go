package middleware

import (
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

// slotKey identifies a storage slot for the purpose of cross-frame
// write-after-read correlation.
type slotKey struct {
	Addr evmtypes.Address
	Slot evmtypes.U256
}

// ReentrancyTracer correlates a storage read at an address in an outer
// frame with a storage write to that same address in a nested call,
// emitting a reentrancy bug event (spec §4.C, oracle bug id 9). Slots are
// not distinguished: any read and any write of the address correlate.
type ReentrancyTracer struct {
	readsByDepth map[int]map[slotKey]struct{}
	Hits         []slotKey
}

func NewReentrancyTracer() *ReentrancyTracer {
	return &ReentrancyTracer{readsByDepth: make(map[int]map[slotKey]struct{})}
}

func (r *ReentrancyTracer) Type() string { return "reentrancy" }

func (r *ReentrancyTracer) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	switch frame.Op {
	case evmvm.SLOAD:
		set, ok := r.readsByDepth[frame.Depth]
		if !ok {
			set = make(map[slotKey]struct{})
			r.readsByDepth[frame.Depth] = set
		}
		// Slot value unknown until the opcode executes; tracked by address
		// only. Kept intentionally coarse: the tracer only needs to know
		// "this address was read at an outer depth".
		set[slotKey{Addr: frame.Address}] = struct{}{}
	case evmvm.SSTORE:
		for depth := 0; depth < frame.Depth; depth++ {
			if set, ok := r.readsByDepth[depth]; ok {
				if _, hit := set[slotKey{Addr: frame.Address}]; hit {
					r.Hits = append(r.Hits, slotKey{Addr: frame.Address})
				}
			}
		}
	}
	return nil
}

func (r *ReentrancyTracer) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error {
	delete(r.readsByDepth, frame.Depth)
	return nil
}

func (r *ReentrancyTracer) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }

// Fired reports whether a write-after-read was ever observed this run.
func (r *ReentrancyTracer) Fired() bool { return len(r.Hits) > 0 }
