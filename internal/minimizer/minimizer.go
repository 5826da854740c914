// Package minimizer implements the trace minimizer (spec §4.H): given a
// call chain that reproduced a bug, find a local minimum by repeatedly
// dropping the one transaction whose removal still reproduces it.
package minimizer

import (
	"github.com/holiman/uint256"

	"github.com/fuzzland/ityfuzz-go/internal/abitree"
	"github.com/fuzzland/ityfuzz-go/internal/corpus"
	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var log = ilog.New("component", "minimizer")

// Step is one transaction in a reconstructed call chain, paired with the
// control-leak flag recorded for it at trace time (the original's
// CALL_UNTIL override), spec §4.H.
type Step struct {
	Input    *evminput.Input
	CallLeak bool
}

// ExecuteFunc runs one step against a state and returns the resulting
// state plus the raw execution outcome. Supplied by the fuzzer
// orchestration layer so this package stays free of a dependency on the
// interpreter's Host wiring.
type ExecuteFunc func(step Step, state *evmstate.VMState) (*evmstate.VMState, evmvm.ExecutionResult)

// ReproducesFunc reports whether a (post-state, result) pair still
// contains the specific bug id being minimized for.
type ReproducesFunc func(post *evmstate.VMState, result evmvm.ExecutionResult, bugID uint64) bool

// Minimizer runs the local-minimum search, spec §4.H.
type Minimizer struct {
	Execute    ExecuteFunc
	Reproduces ReproducesFunc
}

func New(execute ExecuteFunc, reproduces ReproducesFunc) *Minimizer {
	return &Minimizer{Execute: execute, Reproduces: reproduces}
}

// BuildCallSeq reconstructs the full chain of steps that produced staged,
// walking the infant corpus backwards via each trace's SourceIdx, the Go
// shape of the original's recursive get_call_seq.
func BuildCallSeq(infant *corpus.InfantCorpus, staged *corpus.StagedVMState) []Step {
	if staged == nil || len(staged.Trace) == 0 {
		return nil
	}
	first := staged.Trace[0]
	var prev []Step
	if parent := infant.Sample(first.SourceIdx); parent != nil && parent != staged {
		prev = BuildCallSeq(infant, parent)
	}

	out := make([]Step, 0, len(prev)+len(staged.Trace))
	out = append(out, prev...)
	for _, ts := range staged.Trace {
		out = append(out, Step{
			Input:    fromConcise(ts.Input),
			CallLeak: ts.Input.CallLeak,
		})
	}
	return out
}

func fromConcise(c *evminput.ConciseInput) *evminput.Input {
	in := &evminput.Input{
		Type:               c.InputType,
		Caller:             c.Caller,
		Contract:           c.Contract,
		ABI:                abitree.NewUnknown(c.ABIOrSel, len(c.ABIOrSel)),
		Step:               c.Step,
		Env:                c.Env,
		LiquidationPercent: c.Liq,
		Randomness:         c.Randomness,
		Repeat:             c.Repeat,
		SStateIdx:          -1,
	}
	if c.TxnValue != nil {
		v, err := uint256.FromHex(*c.TxnValue)
		if err == nil {
			in.TxnValue = v
		}
	}
	return in
}

// Minimize performs the repeat-until-fixpoint single-transaction-deletion
// search from the original's minimizer.rs: for each candidate drop index,
// replay the whole chain skipping that index; if the bug still reproduces,
// commit the drop and restart the sweep. A step input is skipped outright
// (breaking the replay) when the current staged state has no pending
// post-execution context to resume from, per "is_step() && !has_post_execution".
func (m *Minimizer) Minimize(steps []Step, initial *evmstate.VMState, bugID uint64) []Step {
	if len(steps) == 0 {
		return steps
	}

	for {
		reducedAny := false

		for trySkip := 0; trySkip < len(steps); trySkip++ {
			isSolution := false
			current := initial.Clone()

			for i, step := range steps {
				if i == trySkip {
					continue
				}
				if step.Input.Step && !current.HasPostExecution() {
					break
				}

				post, result := m.Execute(step, current)
				if m.Reproduces(post, result, bugID) {
					isSolution = true
				}
				current = post
				if result.Reverted {
					break
				}
			}

			if isSolution {
				steps = dropAt(steps, trySkip)
				reducedAny = true
				log.Debug("minimizer dropped a step", "remaining", len(steps))
				break
			}
		}

		if !reducedAny {
			break
		}
	}

	return steps
}

func dropAt(steps []Step, idx int) []Step {
	out := make([]Step, 0, len(steps)-1)
	for i, s := range steps {
		if i != idx {
			out = append(out, s)
		}
	}
	return out
}

// ToConciseTrace projects a minimized chain back to the replay format used
// by the relations log and corpus files, spec §6 "Serialization".
func ToConciseTrace(steps []Step) []evminput.ConciseInput {
	out := make([]evminput.ConciseInput, 0, len(steps))
	for i, s := range steps {
		out = append(out, s.Input.ToConcise(i, s.CallLeak, nil))
	}
	return out
}
