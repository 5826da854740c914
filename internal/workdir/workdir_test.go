package workdir

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fuzzland/ityfuzz-go/internal/evminput"
)

func TestNewCreatesLayout(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, sub := range []string{"corpus", "coverage"} {
		if info, err := os.Stat(filepath.Join(d.Root, sub)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory to exist", sub)
		}
	}
}

func TestWriteCorpusEntryProducesValidJSON(t *testing.T) {
	d, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	in := &evminput.ConciseInput{Layer: 0}
	path, err := d.WriteCorpusEntry(in)
	if err != nil {
		t.Fatalf("write corpus entry: %v", err)
	}
	if !strings.HasSuffix(path, ".json") {
		t.Fatalf("expected a .json path, got %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestRelationsLogDedupesAndWritesHeader(t *testing.T) {
	root := t.TempDir()
	rl, err := OpenRelationsLog(root)
	if err != nil {
		t.Fatalf("open relations log: %v", err)
	}
	defer rl.Close()

	sel := [4]byte{0xde, 0xad, 0xbe, 0xef}
	if err := rl.Record("0xcaller", "0xtarget", sel); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rl.Record("0xcaller", "0xtarget", sel); err != nil {
		t.Fatalf("record dup: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, "relations.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 deduplicated line, got %d: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "caller,target,function_selector") {
		t.Fatalf("expected a header line, got %q", lines[0])
	}
}

func TestWriteFinalCoverageProducesThreeFiles(t *testing.T) {
	root := t.TempDir()
	d, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rows := []CoverageRow{{Address: "0xabc", InstructionRatio: 0.5, BranchRatio: 0.25}}
	if err := d.WriteFinalCoverage(rows, map[string]string{"0xabc": "Contract.sol"}); err != nil {
		t.Fatalf("write final coverage: %v", err)
	}
	for _, f := range []string{"coverage.txt", "coverage.json", "files.json"} {
		if _, err := os.Stat(filepath.Join(root, f)); err != nil {
			t.Fatalf("expected %s to exist: %v", f, err)
		}
	}
}
