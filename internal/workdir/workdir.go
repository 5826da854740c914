// Package workdir implements the campaign work directory layout, spec §6
// "Work directory layout": corpus dumps, periodic coverage snapshots, a
// final coverage report, and the deduplicated relations log.
package workdir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var log = ilog.New("component", "workdir")

// Dir owns the on-disk layout rooted at path, spec §6.
type Dir struct {
	Root string
}

func New(root string) (*Dir, error) {
	for _, sub := range []string{"corpus", "coverage"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("workdir: mkdir %s: %w", sub, err)
		}
	}
	return &Dir{Root: root}, nil
}

// WriteCorpusEntry dumps one Input as work_dir/corpus/<uuid>.json.
func (d *Dir) WriteCorpusEntry(in *evminput.ConciseInput) (string, error) {
	id := uuid.New().String()
	path := filepath.Join(d.Root, "corpus", id+".json")
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return "", fmt.Errorf("workdir: encode corpus entry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("workdir: write corpus entry: %w", err)
	}
	return path, nil
}

// WriteCoverageSnapshot dumps a periodic snapshot as
// work_dir/coverage/cov_<timestamp>.json, compressed with snappy since
// these accumulate over a long campaign and raw per-address hit sets
// compress well.
func (d *Dir) WriteCoverageSnapshot(timestamp int64, snapshot interface{}) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("workdir: encode coverage snapshot: %w", err)
	}
	path := filepath.Join(d.Root, "coverage", fmt.Sprintf("cov_%d.json.snappy", timestamp))
	if err := os.WriteFile(path, snappy.Encode(nil, raw), 0o644); err != nil {
		return fmt.Errorf("workdir: write coverage snapshot: %w", err)
	}
	return nil
}

// CoverageRow is one line of the final coverage.txt/coverage.json report.
type CoverageRow struct {
	Address          string
	InstructionRatio float64
	BranchRatio      float64
}

// WriteFinalCoverage writes coverage.txt (tabular), coverage.json
// (machine-readable) and files.json (address -> source file map, when
// known), spec §6's three final-dump files.
func (d *Dir) WriteFinalCoverage(rows []CoverageRow, files map[string]string) error {
	jsonPath := filepath.Join(d.Root, "coverage.json")
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("workdir: encode coverage.json: %w", err)
	}
	if err := os.WriteFile(jsonPath, raw, 0o644); err != nil {
		return fmt.Errorf("workdir: write coverage.json: %w", err)
	}

	txtPath := filepath.Join(d.Root, "coverage.txt")
	f, err := os.Create(txtPath)
	if err != nil {
		return fmt.Errorf("workdir: create coverage.txt: %w", err)
	}
	defer f.Close()
	table := tablewriter.NewWriter(f)
	table.SetHeader([]string{"Address", "Instruction %", "Branch %"})
	for _, r := range rows {
		table.Append([]string{r.Address, pct(r.InstructionRatio), pct(r.BranchRatio)})
	}
	table.Render()

	filesPath := filepath.Join(d.Root, "files.json")
	filesRaw, err := json.MarshalIndent(files, "", "  ")
	if err != nil {
		return fmt.Errorf("workdir: encode files.json: %w", err)
	}
	return os.WriteFile(filesPath, filesRaw, 0o644)
}

func pct(r float64) string { return fmt.Sprintf("%.2f%%", r*100) }

// RelationsLog is the deduplicated "caller -> target function(selector)"
// append-only log, spec §6, flushed on every write for durability.
type RelationsLog struct {
	mu   sync.Mutex
	file *os.File
	seen map[string]struct{}
}

func OpenRelationsLog(root string) (*RelationsLog, error) {
	path := filepath.Join(root, "relations.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("workdir: open relations log: %w", err)
	}
	rl := &RelationsLog{file: f, seen: make(map[string]struct{})}
	if err := rl.writeHeaderIfEmpty(); err != nil {
		return nil, err
	}
	return rl, nil
}

func (r *RelationsLog) writeHeaderIfEmpty() error {
	info, err := r.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() != 0 {
		return nil
	}
	_, err = r.file.WriteString("caller,target,function_selector\n")
	return err
}

// Record appends one relation line, deduplicated against everything seen
// this process lifetime (spec §5 "relations log ... append-only"), flushed
// immediately.
func (r *RelationsLog) Record(caller, target string, selector [4]byte) error {
	key := fmt.Sprintf("%s->%s:%x", caller, target, selector)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return nil
	}
	r.seen[key] = struct{}{}

	line := fmt.Sprintf("%s,%s,0x%x\n", caller, target, selector)
	if _, err := r.file.WriteString(line); err != nil {
		return fmt.Errorf("workdir: write relations log: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		log.Warn("relations log sync failed", "err", err)
	}
	return nil
}

func (r *RelationsLog) Close() error { return r.file.Close() }
