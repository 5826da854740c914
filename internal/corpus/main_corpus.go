// Package corpus implements the two corpora and their schedulers (spec
// §4.E): a power-scheduled main input corpus and a sorted-dropping infant
// VM-state corpus.
package corpus

import (
	"math/rand"
	"sync"

	"github.com/fuzzland/ityfuzz-go/internal/evminput"
)

// MainEntry wraps an Input with the power-schedule metadata spec §4.E
// names: uncovered-branch count and the flashloan fav-factor penalty.
type MainEntry struct {
	Input            *evminput.Input
	UncoveredBranches int
	FavFactor        float64 // > 1 when owed > earned, biasing toward more mutation
	weight           float64
}

// MainCorpus holds Inputs and draws them with probability proportional to
// weight (rarity of covered branches, boosted by the flashloan fav-factor).
type MainCorpus struct {
	mu      sync.Mutex
	entries []*MainEntry
	total   float64
	rng     *rand.Rand
}

func NewMainCorpus(seed int64) *MainCorpus {
	return &MainCorpus{rng: rand.New(rand.NewSource(seed))}
}

// Add inserts a new entry and recomputes its weight.
func (c *MainCorpus) Add(e *MainEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e.weight = computeWeight(e)
	c.entries = append(c.entries, e)
	c.total += e.weight
}

// UpdateWeight recomputes e's contribution after new coverage/flashloan
// data changes UncoveredBranches or FavFactor.
func (c *MainCorpus) UpdateWeight(e *MainEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total -= e.weight
	e.weight = computeWeight(e)
	c.total += e.weight
}

func computeWeight(e *MainEntry) float64 {
	rarity := 1.0 + float64(e.UncoveredBranches)
	fav := e.FavFactor
	if fav < 1 {
		fav = 1
	}
	return rarity * fav
}

// Draw selects one entry weighted by its current power-schedule weight
// (roulette-wheel sampling), per §4.E's main-corpus scheduler.
func (c *MainCorpus) Draw() *MainEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) == 0 {
		return nil
	}
	if c.total <= 0 {
		return c.entries[c.rng.Intn(len(c.entries))]
	}
	target := c.rng.Float64() * c.total
	for _, e := range c.entries {
		target -= e.weight
		if target <= 0 {
			return e
		}
	}
	return c.entries[len(c.entries)-1]
}

func (c *MainCorpus) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MainCorpus) Entries() []*MainEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MainEntry(nil), c.entries...)
}

// FavFactorFor computes the fav-factor for a flashloan ledger snapshot: a
// run whose `owed` exceeds `earned` should be mutated more (§4.E).
func FavFactorFor(earned, owed uint64) float64 {
	if owed <= earned {
		return 1.0
	}
	return 1.0 + float64(owed-earned)/float64(owed+1)
}
