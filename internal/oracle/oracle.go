// Package oracle implements the bug-detection layer (spec §4.G): pluggable
// predicates over (pre, post) state transitions, plus the shared Producer
// concept that feeds them pre-computed signals.
package oracle

import (
	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

// BugID enumerates the built-in oracle identifiers from spec §4.G's table.
// 3 is intentionally absent — the distilled table skips it, matching the
// Rust original's own id gap.
const (
	BugERC20Flashloan  uint64 = 0
	BugFunctionHarness uint64 = 1
	BugV2Pair          uint64 = 2
	BugTypedBug        uint64 = 4
	BugSelfdestruct    uint64 = 5
	BugEchidna         uint64 = 6
	BugStateComp       uint64 = 7
	BugArbitraryCall   uint64 = 8
	BugReentrancy      uint64 = 9
	BugInvariant       uint64 = 10
	BugIntegerOverflow uint64 = 11
)

// Transition is the (pre_state, post_state, input, execution_result) tuple
// every oracle predicate closes over, spec §4.G.
type Transition struct {
	Pre    *evmstate.VMState
	Post   *evmstate.VMState
	Input  *evminput.Input
	Result evmvm.ExecutionResult
}

// Oracle is a predicate mapping a Transition to a bug id or none.
type Oracle interface {
	BugID() uint64
	Check(t Transition) (fired bool)
}

// Producer is a pre-execution data source multiple oracles can share
// without re-running calls, spec Glossary "Producer". Implementations
// populate a cache keyed by state hash once per (input, state) pair.
type Producer interface {
	Produce(state *evmstate.VMState) (interface{}, error)
	Key() string
}

// Registry runs every registered oracle over a transition and collects
// fired bug ids, deduplicated via VMState.AddTypedBug's own dedup.
type Registry struct {
	oracles   []Oracle
	producers []Producer
	cache     map[string]interface{}
}

func NewRegistry() *Registry {
	return &Registry{cache: make(map[string]interface{})}
}

func (r *Registry) Register(o Oracle) { r.oracles = append(r.oracles, o) }
func (r *Registry) AddProducer(p Producer) { r.producers = append(r.producers, p) }

// RunProducers populates the shared cache once per state, per the Producer
// contract.
func (r *Registry) RunProducers(state *evmstate.VMState) error {
	for _, p := range r.producers {
		v, err := p.Produce(state)
		if err != nil {
			return err
		}
		r.cache[p.Key()] = v
	}
	return nil
}

func (r *Registry) Cached(key string) (interface{}, bool) {
	v, ok := r.cache[key]
	return v, ok
}

// Evaluate runs every oracle over t, returning the distinct bug ids that
// fired, appending each to t.Post's typed-bug list (spec §4.A/§4.G).
func (r *Registry) Evaluate(t Transition) []uint64 {
	var fired []uint64
	for _, o := range r.oracles {
		if o.Check(t) {
			fired = append(fired, o.BugID())
			if t.Post != nil {
				t.Post.AddTypedBug(o.BugID())
			}
		}
	}
	return fired
}
