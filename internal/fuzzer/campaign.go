// Package fuzzer wires evmstate/evmvm/middleware/corpus/mutator/oracle
// together into the main loop, spec §5: "next-input → mutate → execute →
// score → insert".
package fuzzer

import (
	"context"
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/fuzzland/ityfuzz-go/internal/abitree"
	"github.com/fuzzland/ityfuzz-go/internal/corpus"
	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
	"github.com/fuzzland/ityfuzz-go/internal/middleware"
	"github.com/fuzzland/ityfuzz-go/internal/mutator"
	"github.com/fuzzland/ityfuzz-go/internal/oracle"
	"github.com/fuzzland/ityfuzz-go/internal/workdir"
)

var log = ilog.New("component", "fuzzer")

// Config controls one campaign's run, spec §6's "fuzzer control" flag
// group projected to the pieces this package actually consumes.
type Config struct {
	RunForever bool
	PanicOnBug bool
}

// Campaign owns every long-lived piece of state a fuzzing run touches.
type Campaign struct {
	Host     *evmvm.Host
	Coverage *middleware.Coverage
	Main     *corpus.MainCorpus
	Infant   *corpus.InfantCorpus
	Mutator  *mutator.Mutator
	Oracles  *oracle.Registry
	Relations *workdir.RelationsLog

	cfg Config

	Executions uint64
	BugHit     bool
	LastBugIDs []uint64
}

func New(host *evmvm.Host, cov *middleware.Coverage, main *corpus.MainCorpus, infant *corpus.InfantCorpus, mut *mutator.Mutator, oracles *oracle.Registry, relations *workdir.RelationsLog, cfg Config) *Campaign {
	return &Campaign{
		Host: host, Coverage: cov, Main: main, Infant: infant,
		Mutator: mut, Oracles: oracles, Relations: relations, cfg: cfg,
	}
}

// Run drives the loop until cancellation, a bug hit under run_forever =
// false, or ctx is done, spec §5.
func (c *Campaign) Run(ctx context.Context) error {
	if c.Main.Len() == 0 {
		return fmt.Errorf("fuzzer: empty corpus, nothing to fuzz")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.fuzzOne(); err != nil {
			log.Warn("fuzz iteration failed", "err", err)
		}

		if c.BugHit && !c.cfg.RunForever {
			return nil
		}
	}
}

// Execute runs in directly against the campaign's host, outside the main
// corpus loop's draw/mutate/score bookkeeping — used by the CLI's replay
// REPL and corpus hot-reload paths to exercise the same interpreter and
// coverage instrumentation a fuzzed run would.
func (c *Campaign) Execute(in *evminput.Input) (evmvm.ExecutionResult, bool) {
	c.Host.ResetRunNovelty()
	result, callLeak := c.executeInput(in)
	c.Executions++
	return result, callLeak
}

// fuzzOne performs one next-input -> mutate -> execute -> score -> insert
// cycle.
func (c *Campaign) fuzzOne() error {
	entry := c.Main.Draw()
	if entry == nil {
		return fmt.Errorf("fuzzer: main corpus draw returned nothing")
	}

	var staged *corpus.StagedVMState
	if entry.Input.SStateIdx >= 0 {
		staged = c.Infant.Sample(entry.Input.SStateIdx)
	}

	mutated, outcome := c.Mutator.Mutate(entry.Input, staged, c.havocSeeds(staged))
	if outcome == mutator.Skipped {
		return nil
	}

	preState := c.Host.State
	if staged != nil {
		preState = staged.State
	}
	pre := preState.Clone()
	c.Host.State = pre.Clone()

	c.Host.ResetRunNovelty()
	result, callLeak := c.executeInput(mutated)
	c.Executions++

	post := c.Host.State
	fired := c.Oracles.Evaluate(oracle.Transition{Pre: pre, Post: post, Input: mutated, Result: result})
	if len(fired) > 0 {
		c.BugHit = true
		c.LastBugIDs = fired
		log.Warn("bug oracle fired", "ids", fired, "executions", c.Executions)
		log.Debug("post-state at bug hit", "dump", spew.Sdump(post))
	}

	if c.Relations != nil {
		sel := selectorOf(mutated.ABI)
		_ = c.Relations.Record(mutated.Caller.Hex(), mutated.Contract.Hex(), sel)
	}

	c.score(mutated, post, callLeak)
	return nil
}

// executeInput runs mutated against the host's current state, handling
// both fresh ABI calls and step resumption from a pending
// PostExecutionContext.
func (c *Campaign) executeInput(in *evminput.Input) (evmvm.ExecutionResult, bool) {
	if in.Step {
		return c.executeStep(in)
	}

	code, _ := c.Host.Code(in.Contract)
	ctx := evmvm.ContractCtx{
		Caller:  in.Caller,
		Address: in.Contract,
		Code:    in.Contract,
		Scheme:  evmstate.SchemeCall,
	}
	if in.TxnValue != nil {
		ctx.Value = *in.TxnValue
	}
	calldata := []byte{}
	if in.ABI != nil {
		calldata = abitree.Encode(in.ABI)
	}
	interp := evmvm.NewInterpreter(c.Host, ctx, code, calldata, 0)
	before := c.Host.SelfdestructHit
	res := interp.Run()
	return res, c.Host.SelfdestructHit && !before
}

func (c *Campaign) executeStep(in *evminput.Input) (evmvm.ExecutionResult, bool) {
	pec := c.Host.State.PopPostExecution()
	if pec == nil {
		return evmvm.ExecutionResult{Exit: evmvm.ExitRevert, Reverted: true}, false
	}
	code, _ := c.Host.Code(pec.Ctx.CodeAddress)
	ctx := evmvm.ContractCtx{
		Caller:  pec.Ctx.Caller,
		Address: pec.Ctx.Address,
		Code:    pec.Ctx.CodeAddress,
		Value:   pec.Ctx.ApparentValue,
		Scheme:  pec.Ctx.Scheme,
	}
	interp := evmvm.NewInterpreterFromPostExecution(c.Host, ctx, code, pec, 0)
	res := interp.Run()
	return res, false
}

// score feeds the executed transition into the coverage-driven corpora,
// spec §4.E "Power-scheduled main corpus"/"Infant corpus": new coverage
// promotes the mutated input into the main corpus and, if the resulting
// state is itself novel, stages it in the infant corpus.
func (c *Campaign) score(in *evminput.Input, post *evmstate.VMState, callLeak bool) {
	novel := c.isNovelCoverage(in.Contract)
	if novel && c.Coverage != nil {
		log.Debug("novel coverage", "addr", in.Contract.Hex(), "instruction_ratio", c.Coverage.InstructionRatio(in.Contract))
	}
	earned := post.Flashloan.Earned.Uint64()
	owed := post.Flashloan.Owed.Uint64()
	weight := corpus.FavFactorFor(earned, owed)

	if novel || callLeak {
		c.Main.Add(&corpus.MainEntry{Input: in, FavFactor: weight})
	}

	stateChanged := c.Host.StateChanged
	if corpus.ShouldEnter(stateChanged, novel) {
		c.Infant.TryInsert(&corpus.StagedVMState{State: post.Clone()})
	}
}

// havocSeeds returns the byte seeds the ABI-tree havoc bucket draws from: a
// small fixed set of boundary bytes plus every slot/value word the staged
// VM state has actually touched, so ABI-tree havoc is biased toward values
// the contract itself has stored (§4.F).
func (c *Campaign) havocSeeds(staged *corpus.StagedVMState) [][]byte {
	fixed := [][]byte{{0x00}, {0xff}, {0x01}, {0x80}}
	if staged == nil || staged.State == nil {
		return fixed
	}
	return append(fixed, staged.State.StorageWords()...)
}

// isNovelCoverage reports whether the run just executed touched a
// (pc, branch), storage read, or storage write the campaign has never seen
// before, per the host's JMP_MAP/READ_MAP/WRITE_MAP first-touch bookkeeping
// (evmvm.Host.RunNovelCoverage). A coarser per-address instruction ratio
// would stay positive for virtually every executed contract and make the
// §4.E "only when novel" corpus-promotion gate a no-op, so this reads the
// per-run signal instead.
func (c *Campaign) isNovelCoverage(addr evmtypes.Address) bool {
	return c.Host.RunNovelCoverage
}

func selectorOf(n *abitree.Node) [4]byte {
	var sel [4]byte
	if n == nil {
		return sel
	}
	encoded := abitree.Encode(n)
	copy(sel[:], encoded)
	return sel
}
