package fuzzer

import (
	"context"
	"testing"
	"time"

	"github.com/fuzzland/ityfuzz-go/internal/abitree"
	"github.com/fuzzland/ityfuzz-go/internal/corpus"
	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
	"github.com/fuzzland/ityfuzz-go/internal/middleware"
	"github.com/fuzzland/ityfuzz-go/internal/mutator"
	"github.com/fuzzland/ityfuzz-go/internal/oracle"
	"math/rand"
)

func newTestCampaign(t *testing.T) (*Campaign, evmtypes.Address) {
	t.Helper()

	target := evmtypes.Address{0xAA}
	state := evmstate.New()
	cm, err := evmvm.NewCoverageMaps("")
	if err != nil {
		t.Fatalf("new coverage maps: %v", err)
	}
	host := evmvm.NewHost(state, cm)
	host.RegisterCode(target, []byte{0x00}) // STOP

	cov := middleware.NewCoverage()
	host.Pipeline = append(host.Pipeline, cov)

	main := corpus.NewMainCorpus(1)
	caller := evmtypes.Address{0xBB}
	tree := abitree.NewUnknown([]byte{0x01, 0x02, 0x03, 0x04}, 4)
	seed := evminput.NewABIInput(caller, target, tree, false)
	main.Add(&corpus.MainEntry{Input: seed, FavFactor: 1})

	infant, err := corpus.NewInfantCorpus(16)
	if err != nil {
		t.Fatalf("new infant corpus: %v", err)
	}

	callers, err := evminput.NewCallerPool("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about", 2)
	if err != nil {
		t.Fatalf("new caller pool: %v", err)
	}

	mut := &mutator.Mutator{
		Rand:    rand.New(rand.NewSource(1)),
		Callers: callers,
		Infant:  infant,
		Weights: mutator.DefaultWeights,
	}

	registry := oracle.NewRegistry()

	c := New(host, cov, main, infant, mut, registry, nil, Config{RunForever: false})
	return c, target
}

func TestFuzzOneExecutesWithoutError(t *testing.T) {
	c, _ := newTestCampaign(t)
	if err := c.fuzzOne(); err != nil {
		t.Fatalf("fuzzOne: %v", err)
	}
	if c.Executions != 1 {
		t.Fatalf("expected 1 execution, got %d", c.Executions)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	c, _ := newTestCampaign(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	if err == nil {
		t.Fatalf("expected context deadline error")
	}
	if c.Executions == 0 {
		t.Fatalf("expected at least one execution before cancellation")
	}
}

func TestRunReturnsErrorOnEmptyCorpus(t *testing.T) {
	c, _ := newTestCampaign(t)
	c.Main = corpus.NewMainCorpus(1)
	if err := c.Run(context.Background()); err == nil {
		t.Fatalf("expected error for empty corpus")
	}
}

func TestRunStopsOnBugHitWhenNotRunForever(t *testing.T) {
	c, _ := newTestCampaign(t)
	c.Oracles.Register(bugAlwaysFires{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !c.BugHit {
		t.Fatalf("expected bug hit to stop the loop")
	}
}

type bugAlwaysFires struct{}

func (bugAlwaysFires) BugID() uint64               { return 99 }
func (bugAlwaysFires) Check(t oracle.Transition) bool { return true }
