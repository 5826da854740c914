package corpus

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var stageLog = ilog.New("component", "corpus.stages")

// RunFunc executes one mutated input against a state, returning whether the
// run produced a novel coverage signature and whether a bug fired. The
// fuzzer orchestration layer supplies the concrete closure tying together
// the interpreter host, mutator and oracle layer (kept as a function type
// here to avoid a dependency cycle between corpus, evmvm and mutator).
type RunFunc func(attempt int) (novel bool, bugHit bool)

// PowerABIMutationalStage draws N = schedule(entry) attempts and runs each,
// per spec §4.E stage 1.
func PowerABIMutationalStage(entry *MainEntry, schedule func(*MainEntry) int, run RunFunc) (novelCount int, bugHit bool) {
	n := schedule(entry)
	for i := 0; i < n; i++ {
		novel, hit := run(i)
		if novel {
			novelCount++
		}
		if hit {
			bugHit = true
			break
		}
	}
	return novelCount, bugHit
}

// ConcolicJob is one unit of work handed to the external solver
// collaborator.
type ConcolicJob func(ctx context.Context) error

// ConcolicStage runs the selected jobs concurrently with a bounded timeout
// per job, per spec §4.E stage 2 / §5 "the stage blocks the main loop until
// each solver job finishes or times out".
func ConcolicStage(parent context.Context, timeout time.Duration, jobs []ConcolicJob) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return job(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		stageLog.Debug("concolic stage job failed", "err", err)
		return err
	}
	return nil
}

// CoverageSnapshot is what CoverageStage periodically produces for the
// work_dir dump (spec §4.E stage 3, §6 work-directory layout).
type CoverageSnapshot struct {
	Timestamp        int64
	InstructionRatio map[string]float64
	BranchRatio      map[string]float64
}

// CoverageStage rescans the global coverage maps via ratio and writes a
// snapshot through the supplied sink, invoked periodically by the fuzzer
// loop.
func CoverageStage(addrs []string, instrRatio, branchRatio func(string) float64, now int64, sink func(CoverageSnapshot) error) error {
	snap := CoverageSnapshot{
		Timestamp:        now,
		InstructionRatio: make(map[string]float64, len(addrs)),
		BranchRatio:      make(map[string]float64, len(addrs)),
	}
	for _, a := range addrs {
		snap.InstructionRatio[a] = instrRatio(a)
		snap.BranchRatio[a] = branchRatio(a)
	}
	return sink(snap)
}
