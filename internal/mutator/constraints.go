package mutator

import (
	"github.com/fuzzland/ityfuzz-go/internal/corpus"
	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// ConstraintKind is the closed set of VM-state constraints a staged state
// may impose on a swapped-in input, per spec §4.F "VM-state swap".
type ConstraintKind uint8

const (
	ConstraintContract ConstraintKind = iota
	ConstraintCaller
	ConstraintValue
	ConstraintNoLiquidation
	ConstraintMustStepNow
)

// Constraint is one entry of a staged state's constraint set.
type Constraint struct {
	Kind    ConstraintKind
	Address evmtypes.Address
	Value   evmtypes.U256
}

// maybeSwapState draws a new staged state from the infant corpus with
// fixed probability and, on swap, enforces its constraints. A swap that
// violates an incompatible constraint (e.g. a Borrow input meeting
// MustStepNow) aborts the whole mutation attempt, per spec §4.F.
func (m *Mutator) maybeSwapState(in *evminput.Input, current *corpus.StagedVMState) bool {
	const swapProbability = 20 // percent
	if m.Infant == nil || m.Rand.Intn(100) >= swapProbability {
		return true
	}
	n := m.Infant.Len()
	if n == 0 {
		return true
	}
	next := m.Infant.Sample(m.Rand.Intn(n))
	if next == nil {
		return true
	}
	return applyConstraints(in, constraintsFor(next))
}

// constraintsFor derives the constraint set a staged state imposes. In the
// absence of an explicit annotation on StagedVMState, MustStepNow is
// implied whenever the state carries a pending post-execution context; a
// state that carries none imposes no constraint.
func constraintsFor(s *corpus.StagedVMState) []Constraint {
	if s.State == nil {
		return nil
	}
	if s.State.HasPostExecution() {
		return []Constraint{{Kind: ConstraintMustStepNow}}
	}
	return nil
}

func applyConstraints(in *evminput.Input, constraints []Constraint) bool {
	for _, c := range constraints {
		switch c.Kind {
		case ConstraintContract:
			in.Contract = c.Address
			in.ABI = nil // resampled by the corpus initializer on next use
		case ConstraintCaller:
			in.Caller = c.Address
		case ConstraintValue:
			v := c.Value
			in.TxnValue = &v
		case ConstraintNoLiquidation:
			in.LiquidationPercent = 0
		case ConstraintMustStepNow:
			if in.Type == evminput.TypeBorrow {
				// a Borrow input cannot resume a post-exec frame: abort.
				return false
			}
			in.PromoteToStep()
		}
	}
	return true
}
