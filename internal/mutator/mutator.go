// Package mutator implements the weighted mutation menu over Inputs and
// their staged VM state, spec §4.F.
package mutator

import (
	"math/rand"

	"github.com/fuzzland/ityfuzz-go/internal/abitree"
	"github.com/fuzzland/ityfuzz-go/internal/corpus"
	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// Outcome mirrors the mutator's own result enum, per spec §4.F "Retry
// policy".
type Outcome uint8

const (
	Mutated Outcome = iota
	Skipped
)

// MutationRetries is MUTATION_RETRIES from spec §4.F.
const MutationRetries = 20

// SampleMax is the weighted-menu denominator, spec §4.F "sample-max = 1000".
const SampleMax = 1000

// Weights are the exact constant boundaries of the weighted menu (spec
// §4.F table); each field is the upper bound of its half-open range.
type Weights struct {
	Liq    int // [0, Liq)
	Rand2  int // [Liq, Rand2)
	Step   int // [Rand2, Step)
	Caller int // [Step, Caller)
	Preset int // [Caller, Preset)
	// [Preset, SampleMax) is ABI-tree mutation.
}

// DefaultWeights matches the constants table referenced by spec §4.F.
var DefaultWeights = Weights{Liq: 50, Rand2: 100, Step: 150, Caller: 300, Preset: 350}

const LiqPercent = 10 // LIQ_PERCENT, the liquidation_percent toggle target.

// Choice is which menu bucket was selected.
type Choice int

const (
	ChoiceLiquidation Choice = iota
	ChoiceRandomness
	ChoiceStep
	ChoiceCaller
	ChoicePreset
	ChoiceABITree
)

func pickChoice(r *rand.Rand, w Weights) Choice {
	roll := r.Intn(SampleMax)
	switch {
	case roll < w.Liq:
		return ChoiceLiquidation
	case roll < w.Rand2:
		return ChoiceRandomness
	case roll < w.Step:
		return ChoiceStep
	case roll < w.Caller:
		return ChoiceCaller
	case roll < w.Preset:
		return ChoicePreset
	default:
		return ChoiceABITree
	}
}

// Preset is a scripted follow-up call the CALLER/PRESET bucket can apply,
// grounded in `src/evm/presets` ("next-call preset table"), per
// SPEC_FULL.md's supplemented features.
type Preset struct {
	Contract evmtypes.Address
	ABI      *abitree.Node
}

// Mutator owns the shared resources the menu consults: a caller pool, a
// preset table and the infant corpus. The havoc seeds derived from the
// staged state's storage (access-pattern-seeded havoc) are passed to
// Mutate by the caller.
type Mutator struct {
	Rand     *rand.Rand
	Callers  *evminput.CallerPool
	Presets  []Preset
	Infant   *corpus.InfantCorpus
	Weights  Weights
	Resample func(size int) *abitree.Node
}

// Mutate attempts up to MutationRetries times to produce a Mutated result,
// returning Skipped if every attempt was rejected (e.g. by an incompatible
// VM-state constraint), per spec §4.F.
func (m *Mutator) Mutate(in *evminput.Input, staged *corpus.StagedVMState, seeds [][]byte) (*evminput.Input, Outcome) {
	for attempt := 0; attempt < MutationRetries; attempt++ {
		out, ok := m.attempt(in, staged, seeds)
		if ok {
			return out, Mutated
		}
	}
	return in, Skipped
}

func (m *Mutator) attempt(in *evminput.Input, staged *corpus.StagedVMState, seeds [][]byte) (*evminput.Input, bool) {
	out := in.Clone()
	switch pickChoice(m.Rand, m.Weights) {
	case ChoiceLiquidation:
		if out.LiquidationPercent == 0 {
			out.LiquidationPercent = LiqPercent
		} else {
			out.LiquidationPercent = 0
		}
	case ChoiceRandomness:
		if len(out.Randomness) == 0 {
			out.Randomness = []byte{0}
		}
		out.Randomness[m.Rand.Intn(len(out.Randomness))] = byte(m.Rand.Intn(256))
	case ChoiceStep:
		if staged == nil || staged.State == nil || !staged.State.HasPostExecution() {
			return nil, false
		}
		out.PromoteToStep()
	case ChoiceCaller:
		if m.Callers == nil || len(m.Callers.Addresses) == 0 {
			return nil, false
		}
		out.Caller = m.Callers.Random(m.Rand.Int())
	case ChoicePreset:
		if len(m.Presets) == 0 {
			return nil, false
		}
		p := m.Presets[m.Rand.Intn(len(m.Presets))]
		out.Contract = p.Contract
		out.ABI = p.ABI
	case ChoiceABITree:
		if out.ABI == nil {
			return nil, false
		}
		havoc := &abitree.Havoc{Rand: m.Rand, Seeds: seeds}
		path := abitree.RandomPath(out.ABI, m.Rand)
		out.ABI = abitree.ReplaceAt(out.ABI, path, func(n *abitree.Node) *abitree.Node {
			return abitree.MutateNode(n, m.Rand, havoc, m.Callers.Addresses, m.Resample)
		})
	}

	if staged != nil {
		if ok := m.maybeSwapState(out, staged); !ok {
			return nil, false
		}
	}
	m.mutateEnv(out)
	return out, true
}
