// Package builder is the thin seam between a campaign and whatever builds
// Solidity sources into bytecode+ABI artifacts (forge/solc, typically run
// inside a container). Per spec.md's Non-goals, compiling contracts is out
// of scope; this package only defines the interface a campaign calls and a
// process-isolated adapter shape, grounded on the teacher's own use of
// docker/docker's reexec package to spawn a named subprocess entrypoint.
package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/docker/docker/pkg/reexec"

	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var log = ilog.New("component", "builder")

// Artifact is the compiled-contract shape a campaign consumes: deployed
// bytecode plus its dispatcher ABI (as raw JSON, left for the caller to
// decode into an abitree template).
type Artifact struct {
	Address     string
	Bytecode    []byte
	ABI         []byte
}

// Builder turns a source reference (a path, glob, or URL depending on
// target_type) into build Artifacts.
type Builder interface {
	Build(ctx context.Context, source string) ([]Artifact, error)
}

const reexecEntrypoint = "ityfuzz-forge-build"

func init() {
	reexec.Register(reexecEntrypoint, forgeBuildMain)
}

// forgeBuildMain is the reexec'd child entrypoint. It is registered but
// deliberately not implemented beyond a stub: spec.md's Non-goals exclude
// real build logic, so this is the plumbing a concrete builder would fill
// in with an actual `forge build --json` invocation.
func forgeBuildMain() {
	fmt.Fprintln(os.Stderr, "ityfuzz-forge-build: not implemented, see spec Non-goals")
	os.Exit(1)
}

// DockerBuilder re-executes the current binary under the registered
// reexec entrypoint, the same self-re-exec technique
// ProbeChain-go-probe's own test harness uses to spawn an isolated child
// process rather than shelling out to an unrelated binary.
type DockerBuilder struct {
	Image string // container image name; recorded only, Build always runs the reexec entrypoint directly
}

func NewDockerBuilder(image string) *DockerBuilder {
	return &DockerBuilder{Image: image}
}

func (b *DockerBuilder) Build(ctx context.Context, source string) ([]Artifact, error) {
	if reexec.Init() {
		// this process instance was invoked as the reexec child; control
		// never returns here in the real binary, kept for symmetry with
		// the teacher's Init()-at-top-of-main convention.
		return nil, fmt.Errorf("builder: ran as reexec child")
	}

	cmd := reexec.Command(reexecEntrypoint, source)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("builder: start %s: %w", reexecEntrypoint, err)
	}
	if err := waitWithContext(ctx, cmd); err != nil {
		return nil, fmt.Errorf("builder: %s: %w", reexecEntrypoint, err)
	}
	return nil, fmt.Errorf("builder: docker-backed build is a Non-goal stub, no artifacts produced")
}

func waitWithContext(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return ctx.Err()
	case err := <-done:
		log.Debug("reexec child exited", "err", err)
		return err
	}
}
