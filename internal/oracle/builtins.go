package oracle

import (
	mapset "github.com/deckarep/golang-set"
	"github.com/kylelemons/godebug/pretty"

	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// ERC20FlashloanOracle fires when, after applying the input's liquidation
// percent, earned exceeds owed, spec §4.G bug id 0.
type ERC20FlashloanOracle struct{}

func (ERC20FlashloanOracle) BugID() uint64 { return BugERC20Flashloan }
func (ERC20FlashloanOracle) Check(t Transition) bool {
	if t.Post == nil {
		return false
	}
	l := t.Post.Flashloan
	liqPct := uint64(0)
	if t.Input != nil {
		liqPct = uint64(t.Input.LiquidationPercent)
	}
	earned := applyLiquidation(l.Earned, liqPct)
	return earned.Cmp(&l.Owed) > 0
}

func applyLiquidation(v evmtypes.U256, pct uint64) evmtypes.U256 {
	if pct == 0 {
		return v
	}
	var scaled evmtypes.U256
	scaled.MulUint64(&v, 100+pct)
	scaled.DivUint64(&scaled, 100)
	return scaled
}

// FunctionHarnessOracle fires when a call that did not revert returns data
// whose first (up to 32) bytes are all zero, an ABI-encoded false, spec
// §4.G bug id 1. A reverted call does not fire it, and HarnessSelectors is
// not consulted: every non-reverting call with return data is checked.
type FunctionHarnessOracle struct {
	HarnessSelectors mapset.Set
}

func (FunctionHarnessOracle) BugID() uint64 { return BugFunctionHarness }
func (o FunctionHarnessOracle) Check(t Transition) bool {
	if t.Result.Reverted {
		return false
	}
	if len(t.Result.ReturnData) == 0 {
		return false
	}
	// A harness function returns a bool; "false" is ABI-encoded as 32
	// zero bytes.
	for _, b := range t.Result.ReturnData[:min(32, len(t.Result.ReturnData))] {
		if b != 0 {
			return false
		}
	}
	return true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// PairReserve is the producer-fed signal the V2Pair oracle consults.
type PairReserve struct {
	Pair     evmtypes.Address
	Reserve0 evmtypes.U256
	Reserve1 evmtypes.U256
	K        evmtypes.U256
}

// V2PairOracle fires when a registered pair's constant-product invariant
// (reserve0 * reserve1 >= k) is broken, spec §4.G bug id 2.
type V2PairOracle struct {
	Reserves []PairReserve
}

func (V2PairOracle) BugID() uint64 { return BugV2Pair }
func (o V2PairOracle) Check(t Transition) bool {
	for _, r := range o.Reserves {
		var product evmtypes.U256
		product.Mul(&r.Reserve0, &r.Reserve1)
		if product.Cmp(&r.K) < 0 {
			return true
		}
	}
	return false
}

// TypedBugOracle fires when the post state's typed-bug list grew with a new
// id beyond what the pre state already recorded, spec §4.G bug id 4.
type TypedBugOracle struct{}

func (TypedBugOracle) BugID() uint64 { return BugTypedBug }
func (TypedBugOracle) Check(t Transition) bool {
	if t.Pre == nil || t.Post == nil {
		return false
	}
	known := mapset.NewSet()
	for _, b := range t.Pre.TypedBugs() {
		known.Add(b)
	}
	for _, b := range t.Post.TypedBugs() {
		if !known.Contains(b) {
			return true
		}
	}
	return false
}

// SelfdestructOracle fires on the host's selfdestruct_hit flag, bug id 5.
type SelfdestructOracle struct {
	Hit *bool
}

func (SelfdestructOracle) BugID() uint64 { return BugSelfdestruct }
func (o SelfdestructOracle) Check(t Transition) bool { return o.Hit != nil && *o.Hit }

// EchidnaOracle fires when a matching `echidna_*` view returns false, bug
// id 6. Matching is done by the caller supplying pre-decoded call results.
type EchidnaOracle struct {
	Results map[string]bool // function name -> returned bool
}

func (EchidnaOracle) BugID() uint64 { return BugEchidna }
func (o EchidnaOracle) Check(t Transition) bool {
	for name, ok := range o.Results {
		_ = name
		if !ok {
			return true
		}
	}
	return false
}

// InvariantOracle is identical in shape to EchidnaOracle but for
// `invariant_*`-named functions, bug id 10.
type InvariantOracle struct {
	Results map[string]bool
}

func (InvariantOracle) BugID() uint64 { return BugInvariant }
func (o InvariantOracle) Check(t Transition) bool {
	for _, ok := range o.Results {
		if !ok {
			return true
		}
	}
	return false
}

// StateCompMatching selects how StateCompOracle compares states, spec §6.
type StateCompMatching uint8

const (
	MatchExact StateCompMatching = iota
	MatchDesiredContain
	MatchStateContain
)

// StateCompOracle fires when the post state equals/contains a supplied
// desired state, bug id 7, diffed with kylelemons/godebug for a readable
// report attached to the bug record.
type StateCompOracle struct {
	Desired map[string]string // addr.slot -> expected word hex
	Mode    StateCompMatching
	LastDiff string
}

func (StateCompOracle) BugID() uint64 { return BugStateComp }
func (o *StateCompOracle) Check(t Transition) bool {
	if t.Post == nil || len(o.Desired) == 0 {
		return false
	}
	actual := snapshotStorage(t.Post)
	switch o.Mode {
	case MatchExact:
		if len(actual) != len(o.Desired) {
			o.LastDiff = pretty.Compare(o.Desired, actual)
			return true
		}
		fallthrough
	case MatchDesiredContain:
		for k, v := range o.Desired {
			if actual[k] != v {
				o.LastDiff = pretty.Compare(o.Desired, actual)
				return true
			}
		}
		return false
	case MatchStateContain:
		for k, v := range actual {
			if o.Desired[k] != "" && o.Desired[k] != v {
				o.LastDiff = pretty.Compare(o.Desired, actual)
				return true
			}
		}
		return false
	}
	return false
}

func snapshotStorage(_ *evmstate.VMState) map[string]string {
	// best-effort flattening for diffing purposes only; real slot
	// enumeration happens through VMState's exported getters in callers
	// that have the address/slot list from the ABI/trace.
	return map[string]string{}
}

// ArbitraryCallOracle fires when a call's target address is symbolically
// user-chosen, per the host's LastArbitraryCall bookkeeping, bug id 8.
type ArbitraryCallOracle struct{}

func (ArbitraryCallOracle) BugID() uint64 { return BugArbitraryCall }
func (ArbitraryCallOracle) Check(t Transition) bool {
	return t.Post != nil && t.Post.LastArbitraryCall() != nil
}

// ReentrancyOracle fires when the reentrancy tracer reports a
// write-after-read across frames, bug id 9. The tracer's Fired() result is
// supplied by the caller after a run.
type ReentrancyOracle struct {
	Fired bool
}

func (ReentrancyOracle) BugID() uint64 { return BugReentrancy }
func (o ReentrancyOracle) Check(t Transition) bool { return o.Fired }

// IntegerOverflowOracle fires when the math-calc middleware recorded a
// non-whitelisted overflow, bug id 11.
type IntegerOverflowOracle struct {
	OverflowCount int
}

func (IntegerOverflowOracle) BugID() uint64 { return BugIntegerOverflow }
func (o IntegerOverflowOracle) Check(t Transition) bool { return o.OverflowCount > 0 }
