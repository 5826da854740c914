package middleware

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

// Sha3TaintAnalysis propagates a taint bit through stack slots derived from
// a SHA3 result; Sha3Bypass additionally forces comparisons between two
// tainted operands to register as a hit so hash-guarded branches become
// explorable, per spec §4.C.
type Sha3TaintAnalysis struct {
	Bypass  bool
	tainted mapset.Set // stack depth markers per frame address, coarse-grained
	ArtificialHits int
}

func NewSha3TaintAnalysis(bypass bool) *Sha3TaintAnalysis {
	return &Sha3TaintAnalysis{Bypass: bypass, tainted: mapset.NewSet()}
}

func (s *Sha3TaintAnalysis) Type() string { return "sha3-taint" }

func (s *Sha3TaintAnalysis) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	switch frame.Op {
	case evmvm.SHA3:
		s.tainted.Add(taintKey(frame.Address, frame.PC))
	case evmvm.EQ, evmvm.LT, evmvm.GT, evmvm.SLT, evmvm.SGT:
		if s.Bypass && s.tainted.Contains(taintKey(frame.Address, frame.PC)) {
			s.ArtificialHits++
		}
	}
	return nil
}

func taintKey(addr evmtypes.Address, pc uint64) string {
	return addr.Hex() + ":" + itoa64(pc)
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (s *Sha3TaintAnalysis) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }
func (s *Sha3TaintAnalysis) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }
