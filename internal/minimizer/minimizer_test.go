package minimizer

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

var markerAddr = evmtypes.BytesToAddress([]byte("marker"))
var markerSlot = *uint256.NewInt(0)

func newStep(name string) Step {
	return Step{Input: &evminput.Input{Randomness: []byte(name)}}
}

// executeMarking simulates a chain where only the "trigger" step writes a
// marker into storage; the bug is considered reproduced iff the marker is
// set after the whole remaining chain has run.
func executeMarking(step Step, state *evmstate.VMState) (*evmstate.VMState, evmvm.ExecutionResult) {
	next := state.Clone()
	if string(step.Input.Randomness) == "trigger" {
		next.SetStorage(markerAddr, markerSlot, *uint256.NewInt(1))
	}
	return next, evmvm.ExecutionResult{}
}

func reproducesMarker(post *evmstate.VMState, result evmvm.ExecutionResult, bugID uint64) bool {
	v := post.GetStorage(markerAddr, markerSlot)
	return v.Sign() != 0
}

func TestMinimizeDropsUnnecessarySteps(t *testing.T) {
	steps := []Step{
		newStep("noop-1"),
		newStep("trigger"),
		newStep("noop-2"),
	}

	m := New(executeMarking, reproducesMarker)
	minimized := m.Minimize(steps, evmstate.New(), 0)

	if len(minimized) != 1 {
		t.Fatalf("expected the chain to reduce to the single required step, got %d", len(minimized))
	}
	if string(minimized[0].Input.Randomness) != "trigger" {
		t.Fatalf("expected the surviving step to be 'trigger', got %q", minimized[0].Input.Randomness)
	}
}

func TestMinimizeKeepsAllStepsWhenAllNecessary(t *testing.T) {
	// Two steps both flip distinct bits; reproduction requires both bits
	// set, so neither can be dropped.
	bothRequired := func(step Step, state *evmstate.VMState) (*evmstate.VMState, evmvm.ExecutionResult) {
		next := state.Clone()
		slot := *uint256.NewInt(0)
		if string(step.Input.Randomness) == "a" {
			slot = *uint256.NewInt(1)
		} else if string(step.Input.Randomness) == "b" {
			slot = *uint256.NewInt(2)
		}
		next.SetStorage(markerAddr, slot, *uint256.NewInt(1))
		return next, evmvm.ExecutionResult{}
	}
	reproducesBoth := func(post *evmstate.VMState, result evmvm.ExecutionResult, bugID uint64) bool {
		a := post.GetStorage(markerAddr, *uint256.NewInt(1))
		b := post.GetStorage(markerAddr, *uint256.NewInt(2))
		return a.Sign() != 0 && b.Sign() != 0
	}

	m := New(bothRequired, reproducesBoth)
	minimized := m.Minimize([]Step{newStep("a"), newStep("b")}, evmstate.New(), 0)

	if len(minimized) != 2 {
		t.Fatalf("expected both steps to survive minimization, got %d", len(minimized))
	}
}

func TestBuildCallSeqEmptyTraceReturnsNil(t *testing.T) {
	if steps := BuildCallSeq(nil, nil); steps != nil {
		t.Fatalf("expected nil for a nil staged state, got %v", steps)
	}
}

func TestToConciseTracePreservesOrder(t *testing.T) {
	steps := []Step{newStep("a"), {Input: &evminput.Input{Randomness: []byte("b")}, CallLeak: true}}
	concise := ToConciseTrace(steps)
	if len(concise) != 2 {
		t.Fatalf("expected 2 concise entries, got %d", len(concise))
	}
	if concise[0].Layer != 0 || concise[1].Layer != 1 {
		t.Fatalf("expected layers to track position, got %d,%d", concise[0].Layer, concise[1].Layer)
	}
	if !concise[1].CallLeak {
		t.Fatal("expected the second entry's call-leak flag to carry through")
	}
}
