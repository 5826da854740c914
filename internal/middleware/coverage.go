package middleware

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

// Coverage records per-address instruction and branch coverage sets and
// computes the denominator (instruction/JUMPI counts) for newly inserted
// bytecode, per spec §4.C.
type Coverage struct {
	pcHits     map[evmtypes.Address]mapset.Set
	branchHits map[evmtypes.Address]mapset.Set

	totalInstructions map[evmtypes.Address]int
	totalBranches     map[evmtypes.Address]int
	skipSet           map[evmtypes.Address]mapset.Set
}

func NewCoverage() *Coverage {
	return &Coverage{
		pcHits:            make(map[evmtypes.Address]mapset.Set),
		branchHits:        make(map[evmtypes.Address]mapset.Set),
		totalInstructions: make(map[evmtypes.Address]int),
		totalBranches:     make(map[evmtypes.Address]int),
		skipSet:           make(map[evmtypes.Address]mapset.Set),
	}
}

func (c *Coverage) Type() string { return "coverage" }

func (c *Coverage) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	set, ok := c.pcHits[frame.Address]
	if !ok {
		set = mapset.NewSet()
		c.pcHits[frame.Address] = set
	}
	set.Add(frame.PC)

	if frame.Op == evmvm.JUMPI {
		branches, ok := c.branchHits[frame.Address]
		if !ok {
			branches = mapset.NewSet()
			c.branchHits[frame.Address] = branches
		}
		branches.Add(frame.PC)
	}
	return nil
}

func (c *Coverage) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }

// OnInsert walks newly seen bytecode once to compute the instruction and
// JUMPI denominators and the JUMPDEST/STOP/INVALID skip set, per §4.C.
func (c *Coverage) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error {
	skip := mapset.NewSet()
	instrs, branches := 0, 0
	for i := 0; i < len(code); {
		op := evmvm.OpCode(code[i])
		instrs++
		switch op {
		case evmvm.JUMPDEST, evmvm.STOP, evmvm.INVALID:
			skip.Add(uint64(i))
		case evmvm.JUMPI:
			branches++
		}
		if op.IsPush() {
			i += op.PushSize() + 1
		} else {
			i++
		}
	}
	c.totalInstructions[addr] = instrs
	c.totalBranches[addr] = branches
	c.skipSet[addr] = skip
	return nil
}

// InstructionRatio and BranchRatio feed the CoverageStage's periodic dump.
func (c *Coverage) InstructionRatio(addr evmtypes.Address) float64 {
	total := c.totalInstructions[addr]
	if total == 0 {
		return 0
	}
	hit := c.pcHits[addr]
	if hit == nil {
		return 0
	}
	return float64(hit.Cardinality()) / float64(total)
}

func (c *Coverage) BranchRatio(addr evmtypes.Address) float64 {
	total := c.totalBranches[addr]
	if total == 0 {
		return 0
	}
	hit := c.branchHits[addr]
	if hit == nil {
		return 0
	}
	return float64(hit.Cardinality()) / float64(total)
}
