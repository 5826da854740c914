package evmvm

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/holiman/uint256"
)

// MapSize is N in spec §3 "Coverage maps" — a power of two, 16KiB typical.
const MapSize = 16 * 1024

// index hashes a raw key into [0, MapSize) the way the source's skipper band
// does: keys beyond a percentile threshold are folded by an extra xor round
// to reduce aliasing on large slot numbers, per §3.
func index(key uint64) uint64 {
	if key >= uint64(MapSize)*64 {
		key ^= key >> 17
	}
	return key % uint64(MapSize)
}

// CmpDistance computes the distance metric used to seed CMP_MAP for
// LT/SLT/GT/SGT/EQ, per §4.B and the EQ tie-break in §9 Open Question (b):
// equal operands map to a non-zero floor rather than zero.
func CmpDistance(lhs, rhs *uint256.Int) *uint256.Int {
	var diff uint256.Int
	if lhs.Cmp(rhs) >= 0 {
		diff.Sub(lhs, rhs)
	} else {
		diff.Sub(rhs, lhs)
	}
	if diff.IsZero() {
		// (max-min) % (U256::MAX-1) + 1, preserved verbatim per §9(b).
		var maxMinusOne uint256.Int
		maxMinusOne.SetAllOne()
		maxMinusOne.SubUint64(&maxMinusOne, 1)
		diff.Mod(&diff, &maxMinusOne)
		diff.AddUint64(&diff, 1)
	}
	return &diff
}

// CoverageMaps bundles the four process-wide fixed-size feedback arrays
// described in spec §3. CMP_MAP, READ_MAP and WRITE_MAP are plain in-memory
// slices. JMP_MAP is a file-mapped mmap region when NewCoverageMaps is given
// a path, so it can be flushed to disk (mmap.Flush) for durability across
// campaign restarts, and a plain in-memory buffer otherwise.
type CoverageMaps struct {
	jmpFile  *os.File
	jmpMMap  mmap.MMap
	cmpMap   []uint256.Int
	readMap  []bool
	writeMap []byte
}

// NewCoverageMaps allocates the four maps; jmpPath, if non-empty, backs
// JMP_MAP with a real file-mapped region so coverage survives a crash.
func NewCoverageMaps(jmpPath string) (*CoverageMaps, error) {
	cm := &CoverageMaps{
		cmpMap:   make([]uint256.Int, MapSize),
		readMap:  make([]bool, MapSize),
		writeMap: make([]byte, MapSize),
	}
	for i := range cm.cmpMap {
		cm.cmpMap[i].SetAllOne() // CMP_MAP initialized to U256::MAX, §9(a).
	}
	if jmpPath == "" {
		cm.jmpMMap = make(mmap.MMap, MapSize)
		return cm, nil
	}
	f, err := os.OpenFile(jmpPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(MapSize)); err != nil {
		f.Close()
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	cm.jmpFile, cm.jmpMMap = f, m
	return cm, nil
}

// RecordJump increments JMP_MAP at the index derived from (pc, takenBit),
// using pc XOR (taken<<1) as the index function per §9(a)'s recommendation.
func (cm *CoverageMaps) RecordJump(pc uint64, taken bool) (idx uint64, novel bool) {
	var t uint64
	if taken {
		t = 1
	}
	idx = index(pc ^ (t << 1))
	before := cm.jmpMMap[idx]
	if cm.jmpMMap[idx] != 0xff {
		cm.jmpMMap[idx]++
	}
	return idx, before == 0
}

// RecordCmp keeps the minimum distance observed at a site, per §4.B.
func (cm *CoverageMaps) RecordCmp(pc uint64, dist *uint256.Int) (idx uint64, improved bool) {
	idx = index(pc)
	if dist.Cmp(&cm.cmpMap[idx]) < 0 {
		cm.cmpMap[idx] = *dist
		return idx, true
	}
	return idx, false
}

func (cm *CoverageMaps) RecordRead(slot uint64) (idx uint64, novel bool) {
	idx = index(slot)
	novel = !cm.readMap[idx]
	cm.readMap[idx] = true
	return idx, novel
}

// RecordWrite stores (value>>4) mod 254 + 1 at the slot's index, per §4.B.
func (cm *CoverageMaps) RecordWrite(slot uint64, value *uint256.Int) (idx uint64, changed bool) {
	idx = index(slot)
	var shifted uint256.Int
	shifted.Rsh(value, 4)
	b := byte(new(uint256.Int).Mod(&shifted, uint256.NewInt(254)).Uint64()) + 1
	changed = cm.writeMap[idx] != b
	cm.writeMap[idx] = b
	return idx, changed
}

// Flush persists JMP_MAP to its backing file, if any.
func (cm *CoverageMaps) Flush() error {
	if cm.jmpFile == nil {
		return nil
	}
	return cm.jmpMMap.Flush()
}

func (cm *CoverageMaps) Close() error {
	if cm.jmpFile == nil {
		return nil
	}
	if err := cm.jmpMMap.Unmap(); err != nil {
		return err
	}
	return cm.jmpFile.Close()
}
