package middleware

import (
	mapset "github.com/deckarep/golang-set"
	"github.com/holiman/uint256"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

// MathCalculateMiddleware records native overflow of the ADD/SUB/MUL
// results the interpreter reports through Observe, whitelisting the
// configured DEX pair's address to suppress benign router overflow noise,
// per spec §4.C. DIV and EXP are not checked.
type MathCalculateMiddleware struct {
	Whitelist mapset.Set
	Overflows []OverflowEvent
}

type OverflowEvent struct {
	Address evmtypes.Address
	PC      uint64
	Op      evmvm.OpCode
}

func NewMathCalculateMiddleware(whitelist ...evmtypes.Address) *MathCalculateMiddleware {
	set := mapset.NewSet()
	for _, a := range whitelist {
		set.Add(a)
	}
	return &MathCalculateMiddleware{Whitelist: set}
}

func (m *MathCalculateMiddleware) Type() string { return "math-overflow" }

func (m *MathCalculateMiddleware) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	switch frame.Op {
	case evmvm.ADD, evmvm.SUB, evmvm.MUL, evmvm.DIV, evmvm.EXP:
	default:
		return nil
	}
	if m.Whitelist.Contains(frame.Address) {
		return nil
	}
	// OnStep fires before operand consumption; the interpreter does not
	// expose the live stack here, so overflow is detected post-hoc by
	// Observe, called explicitly from the interpreter's arithmetic path
	// for the address/pc/op triple when a wrap is detected.
	return nil
}

// Observe is invoked directly by the interpreter after computing an
// arithmetic result, when it detects the unsigned result wrapped around
// relative to the unbounded operands.
func (m *MathCalculateMiddleware) Observe(addr evmtypes.Address, pc uint64, op evmvm.OpCode, a, b, result *uint256.Int, wrapped bool) {
	if !wrapped || m.Whitelist.Contains(addr) {
		return
	}
	m.Overflows = append(m.Overflows, OverflowEvent{Address: addr, PC: pc, Op: op})
}

func (m *MathCalculateMiddleware) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }
func (m *MathCalculateMiddleware) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }
