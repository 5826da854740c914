package oracle

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
)

func TestERC20FlashloanOracleFiresWhenEarnedExceedsOwed(t *testing.T) {
	post := evmstate.New()
	post.Flashloan.RecordEarned(uint256.NewInt(100))
	post.Flashloan.RecordOwed(uint256.NewInt(40))

	o := ERC20FlashloanOracle{}
	t2 := Transition{Post: post, Input: &evminput.Input{}}
	if !o.Check(t2) {
		t.Fatal("expected flashloan oracle to fire when earned > owed")
	}
}

func TestERC20FlashloanOracleSilentWhenBalanced(t *testing.T) {
	post := evmstate.New()
	post.Flashloan.RecordEarned(uint256.NewInt(40))
	post.Flashloan.RecordOwed(uint256.NewInt(100))

	o := ERC20FlashloanOracle{}
	if o.Check(Transition{Post: post, Input: &evminput.Input{}}) {
		t.Fatal("did not expect flashloan oracle to fire when owed >= earned")
	}
}

func TestTypedBugOracleDetectsNewID(t *testing.T) {
	pre := evmstate.New()
	pre.AddTypedBug(7)
	post := pre.Clone()
	post.AddTypedBug(9)

	o := TypedBugOracle{}
	if !o.Check(Transition{Pre: pre, Post: post}) {
		t.Fatal("expected typed bug oracle to fire on a newly seen id")
	}
}

func TestTypedBugOracleSilentWhenUnchanged(t *testing.T) {
	pre := evmstate.New()
	pre.AddTypedBug(7)
	post := pre.Clone()

	o := TypedBugOracle{}
	if o.Check(Transition{Pre: pre, Post: post}) {
		t.Fatal("did not expect typed bug oracle to fire with no new ids")
	}
}

func TestV2PairOracleDetectsBrokenInvariant(t *testing.T) {
	k := uint256.NewInt(10000)
	o := V2PairOracle{Reserves: []PairReserve{{
		Reserve0: *uint256.NewInt(50),
		Reserve1: *uint256.NewInt(50),
		K:        *k,
	}}}
	if !o.Check(Transition{}) {
		t.Fatal("expected v2 pair oracle to fire when reserve product dropped below k")
	}
}

func TestSelfdestructOracleReadsHostFlag(t *testing.T) {
	hit := true
	o := SelfdestructOracle{Hit: &hit}
	if !o.Check(Transition{}) {
		t.Fatal("expected selfdestruct oracle to fire")
	}
	hit = false
	if o.Check(Transition{}) {
		t.Fatal("did not expect selfdestruct oracle to fire once flag cleared")
	}
}

func TestRegistryEvaluateAppendsTypedBugs(t *testing.T) {
	r := NewRegistry()
	hit := true
	r.Register(SelfdestructOracle{Hit: &hit})

	post := evmstate.New()
	fired := r.Evaluate(Transition{Post: post})
	if len(fired) != 1 || fired[0] != BugSelfdestruct {
		t.Fatalf("expected selfdestruct bug id in fired list, got %v", fired)
	}
	bugs := post.TypedBugs()
	if len(bugs) != 1 || bugs[0] != BugSelfdestruct {
		t.Fatalf("expected post state to record the fired bug id, got %v", bugs)
	}
}

func TestCustomJSOracleEvaluatesScript(t *testing.T) {
	script := `function check(ctx) { return ctx.typedBugs.length > 0; }`
	o, err := NewCustomJSOracle(42, script)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	post := evmstate.New()
	post.AddTypedBug(1)
	if !o.Check(Transition{Post: post}) {
		t.Fatal("expected custom js oracle to fire when typed bugs present")
	}
	if o.BugID() != 42 {
		t.Fatalf("expected bug id 42, got %d", o.BugID())
	}
}

func TestCustomJSOracleMissingCheckFunction(t *testing.T) {
	if _, err := NewCustomJSOracle(1, "var x = 1;"); err == nil {
		t.Fatal("expected error for script missing check(ctx)")
	}
}
