package middleware

import (
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var auxLog = ilog.New("component", "middleware.aux")

// CallPrinter logs every call-family opcode at debug level, a thin
// observer used when diagnosing a campaign's call graph.
type CallPrinter struct{}

func (CallPrinter) Type() string { return "call-printer" }
func (CallPrinter) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	if frame.Op.IsCall() {
		auxLog.Debug("call", "op", frame.Op.String(), "from", frame.Address.Hex(), "depth", frame.Depth)
	}
	return nil
}
func (CallPrinter) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }
func (CallPrinter) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }

// InstructionCoverage is a minimal per-run instruction counter independent
// of the full Coverage middleware's per-address sets, used for quick
// "instructions executed this run" reporting.
type InstructionCoverage struct {
	Count uint64
}

func (i *InstructionCoverage) Type() string { return "instruction-coverage" }
func (i *InstructionCoverage) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	i.Count++
	return nil
}
func (i *InstructionCoverage) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }
func (i *InstructionCoverage) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }

// Selfdestruct observes SELFDESTRUCT hits and records the destroyed
// address for the minimizer's trace annotation.
type Selfdestruct struct {
	Destroyed []evmtypes.Address
}

func (s *Selfdestruct) Type() string { return "selfdestruct" }
func (s *Selfdestruct) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	if frame.Op == evmvm.SELFDESTRUCT {
		s.Destroyed = append(s.Destroyed, frame.Address)
	}
	return nil
}
func (s *Selfdestruct) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }
func (s *Selfdestruct) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }
