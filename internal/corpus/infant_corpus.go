package corpus

import (
	"container/heap"
	"sync"

	"github.com/holiman/bloomfilter/v2"

	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var infantLog = ilog.New("component", "corpus.infant")

// TraceStep is one prior input plus the source infant-corpus index it was
// drawn from, so a StagedVMState's trace can reconstruct the call chain
// that produced it (spec §3 "Infant corpus entry").
type TraceStep struct {
	Input      *evminput.ConciseInput
	SourceIdx  int
}

// StagedVMState couples a VMState with the trace that produced it, spec
// §3/Glossary "Staged VM state".
type StagedVMState struct {
	State *evmstate.VMState
	Trace []TraceStep

	depth    int
	recency  uint64 // monotonically increasing insertion counter
	novelty  int     // coverage-novelty score at insertion time
	index    int     // heap index, maintained by container/heap
}

func (s *StagedVMState) Depth() int { return s.depth }

// infantHeap orders entries by (depth, novelty, recency) ascending so the
// *lowest*-priority entry sits at heap root and is dropped first — this is
// the "sorted-dropping" policy of spec §4.E.
type infantHeap []*StagedVMState

func (h infantHeap) Len() int { return len(h) }
func (h infantHeap) Less(i, j int) bool {
	if h[i].depth != h[j].depth {
		return h[i].depth < h[j].depth
	}
	if h[i].novelty != h[j].novelty {
		return h[i].novelty < h[j].novelty
	}
	return h[i].recency < h[j].recency
}
func (h infantHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *infantHeap) Push(x interface{}) {
	s := x.(*StagedVMState)
	s.index = len(*h)
	*h = append(*h, s)
}
func (h *infantHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// InfantCorpus is the sorted-dropping bounded priority queue of spec §4.E,
// deduplicated against previously seen state hashes via a bloom filter so a
// re-derived equivalent snapshot is not re-inserted.
type InfantCorpus struct {
	mu       sync.Mutex
	capacity int
	heap     infantHeap
	seen     *bloomfilter.Filter
	counter  uint64
}

// NewInfantCorpus allocates a corpus bounded to capacity entries, with a
// bloom filter sized for ~10x capacity expected insertions at a 1% false
// positive rate.
func NewInfantCorpus(capacity int) (*InfantCorpus, error) {
	filter, err := bloomfilter.NewOptimal(uint64(capacity)*10+1024, 0.01)
	if err != nil {
		return nil, err
	}
	return &InfantCorpus{capacity: capacity, seen: filter}, nil
}

type hashable uint64

func (h hashable) Sum64() uint64 { return uint64(h) }

// TryInsert inserts s only if its state hash was not already seen. Returns
// false if deduplicated. When the corpus is at capacity, the lowest
// (depth, novelty, recency) entry is evicted to make room, per §4.E.
func (c *InfantCorpus) TryInsert(s *StagedVMState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := s.State.Hash()
	if c.seen.Contains(hashable(h)) {
		return false
	}
	c.seen.Add(hashable(h))

	c.counter++
	s.recency = c.counter

	heap.Push(&c.heap, s)
	if len(c.heap) > c.capacity {
		dropped := heap.Pop(&c.heap).(*StagedVMState)
		infantLog.Debug("dropped infant state", "depth", dropped.depth, "novelty", dropped.novelty)
	}
	return true
}

func (c *InfantCorpus) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.heap)
}

// Sample returns the entry at position idx modulo the corpus size in the
// heap's backing slice. Entries are not weighted by priority; the caller
// supplies the index (typically a PRNG draw).
func (c *InfantCorpus) Sample(idx int) *StagedVMState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.heap) == 0 {
		return nil
	}
	return c.heap[idx%len(c.heap)]
}

// ShouldEnter reports whether a just-finished run's outcome warrants
// inserting its resulting state into the infant corpus: STATE_CHANGED or a
// novel coverage signature, per §4.E.
func ShouldEnter(stateChanged bool, novelCoverage bool) bool {
	return stateChanged || novelCoverage
}
