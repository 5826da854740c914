// Package evmstate implements the snapshotted VM state (spec §3, §4.A): the
// persistent storage/balance maps written since genesis, the LIFO stack of
// post-execution continuations left behind by control leaks, and the
// flashloan/swap accounting ledgers consulted by the oracle layer.
package evmstate

import (
	"hash/fnv"
	"sort"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// CallScheme mirrors the handful of EVM call variants the interpreter host
// dispatches (spec §4.B).
type CallScheme uint8

const (
	SchemeCall CallScheme = iota
	SchemeCallCode
	SchemeDelegateCall
	SchemeStaticCall
	SchemeCreate
)

// CallContext is the minimal frame information captured alongside a
// PostExecutionContext: who called whom, with what apparent value, under
// which calling convention.
type CallContext struct {
	Caller        evmtypes.Address
	Address       evmtypes.Address // the executing contract
	CodeAddress   evmtypes.Address // the contract whose code is running (differs under DELEGATECALL)
	ApparentValue evmtypes.U256
	Scheme        CallScheme
}

// PostExecutionContext is a reified continuation: everything needed to
// resume an interpreter run from the exact instruction where it paused on a
// ControlLeak exit (spec §3, §9 "Resumable execution").
type PostExecutionContext struct {
	PC            uint64
	Stack         []evmtypes.U256
	Memory        []byte
	OutputOffset  uint64
	OutputLength  uint64
	CallData      []byte
	Ctx           CallContext
}

// SwapChannel is one of the four directions the swap ledger tracks.
type SwapChannel uint8

const (
	SwapBuy SwapChannel = iota
	SwapSell
	SwapDeposit
	SwapWithdraw
)

// SwapRecord accumulates the router and token path observed for a single
// swap channel across sub-calls within a run, grounded on
// src/evm/tokens/mod.rs's SwapInfo/SwapData.
type SwapRecord struct {
	Router evmtypes.Address
	Path   []evmtypes.Address
}

func (s *SwapRecord) concatPath(path []evmtypes.Address) {
	for _, p := range path {
		if len(s.Path) == 0 || s.Path[len(s.Path)-1] != p {
			s.Path = append(s.Path, p)
		}
	}
}

// FlashloanLedger holds the two monotonic accumulators used by the ERC20
// flashloan oracle (bug id 0): `earned` and `owed`, tracked in extended
// fixed-point (scaled by 1e18, carried in a U256 that in practice never
// saturates for realistic balances) plus the set of addresses whose
// balance/reserve must be re-checked at the end of the run.
type FlashloanLedger struct {
	Earned           evmtypes.U256
	Owed             evmtypes.U256
	Scale            uint64 // fixed-point scale, 1e18 by default
	BalanceRecheck   map[evmtypes.Address]struct{}
	ReserveRecheck   map[evmtypes.Address]struct{}
	Swaps            map[SwapChannel]*SwapRecord
}

func NewFlashloanLedger() *FlashloanLedger {
	return &FlashloanLedger{
		Scale:          1_000_000_000_000_000_000,
		BalanceRecheck: make(map[evmtypes.Address]struct{}),
		ReserveRecheck: make(map[evmtypes.Address]struct{}),
		Swaps:          make(map[SwapChannel]*SwapRecord),
	}
}

// RecordEarned and RecordOwed accumulate the two ledgers; both are
// non-decreasing within a single execution (spec §3 invariants).
func (f *FlashloanLedger) RecordEarned(amount *evmtypes.U256) {
	f.Earned.Add(&f.Earned, amount)
}

func (f *FlashloanLedger) RecordOwed(amount *evmtypes.U256) {
	f.Owed.Add(&f.Owed, amount)
}

func (f *FlashloanLedger) MarkBalanceRecheck(addr evmtypes.Address) {
	f.BalanceRecheck[addr] = struct{}{}
}

func (f *FlashloanLedger) MarkReserveRecheck(addr evmtypes.Address) {
	f.ReserveRecheck[addr] = struct{}{}
}

// RecordSwap appends to the router/path accumulated for a channel, merging
// with any existing record for that channel within the run.
func (f *FlashloanLedger) RecordSwap(channel SwapChannel, router evmtypes.Address, path []evmtypes.Address) {
	rec, ok := f.Swaps[channel]
	if !ok {
		rec = &SwapRecord{Router: router}
		f.Swaps[channel] = rec
	}
	rec.concatPath(path)
}

func (f *FlashloanLedger) clone() *FlashloanLedger {
	out := NewFlashloanLedger()
	out.Earned = f.Earned
	out.Owed = f.Owed
	out.Scale = f.Scale
	for k := range f.BalanceRecheck {
		out.BalanceRecheck[k] = struct{}{}
	}
	for k := range f.ReserveRecheck {
		out.ReserveRecheck[k] = struct{}{}
	}
	for k, v := range f.Swaps {
		cp := *v
		cp.Path = append([]evmtypes.Address(nil), v.Path...)
		out.Swaps[k] = &cp
	}
	return out
}

// reset clears the per-run ledger accumulators without discarding the
// ledger's identity (called by reset_for_run).
func (f *FlashloanLedger) reset() {
	f.Earned.Clear()
	f.Owed.Clear()
	f.BalanceRecheck = make(map[evmtypes.Address]struct{})
	f.ReserveRecheck = make(map[evmtypes.Address]struct{})
	f.Swaps = make(map[SwapChannel]*SwapRecord)
}

// VMState is the snapshotted EVM state passed between fuzzing runs (spec
// §3 "VMState (snapshot)").
type VMState struct {
	storage        map[evmtypes.Address]map[evmtypes.U256]evmtypes.U256
	balances       map[evmtypes.Address]evmtypes.U256
	postExecution  []*PostExecutionContext
	typedBugs      []uint64
	lastArbCall    *evmtypes.Address
	Flashloan      *FlashloanLedger
}

func New() *VMState {
	return &VMState{
		storage:   make(map[evmtypes.Address]map[evmtypes.U256]evmtypes.U256),
		balances:  make(map[evmtypes.Address]evmtypes.U256),
		Flashloan: NewFlashloanLedger(),
	}
}

// GetStorage returns the word at (addr, slot); storage writes are total
// functions so an absent slot is simply the zero word (spec §3 invariants).
func (s *VMState) GetStorage(addr evmtypes.Address, slot evmtypes.U256) evmtypes.U256 {
	acct, ok := s.storage[addr]
	if !ok {
		return evmtypes.U256{}
	}
	return acct[slot]
}

func (s *VMState) SetStorage(addr evmtypes.Address, slot, value evmtypes.U256) {
	acct, ok := s.storage[addr]
	if !ok {
		acct = make(map[evmtypes.U256]evmtypes.U256)
		s.storage[addr] = acct
	}
	acct[slot] = value
}

func (s *VMState) GetBalance(addr evmtypes.Address) evmtypes.U256 {
	return s.balances[addr]
}

func (s *VMState) SetBalance(addr evmtypes.Address, balance evmtypes.U256) {
	s.balances[addr] = balance
}

func (s *VMState) PushPostExecution(ctx *PostExecutionContext) {
	s.postExecution = append(s.postExecution, ctx)
}

// PopPostExecution pops the top of the LIFO post-execution stack, used when
// a step input resumes execution.
func (s *VMState) PopPostExecution() *PostExecutionContext {
	n := len(s.postExecution)
	if n == 0 {
		return nil
	}
	top := s.postExecution[n-1]
	s.postExecution = s.postExecution[:n-1]
	return top
}

func (s *VMState) PeekPostExecution() *PostExecutionContext {
	if len(s.postExecution) == 0 {
		return nil
	}
	return s.postExecution[len(s.postExecution)-1]
}

func (s *VMState) HasPostExecution() bool { return len(s.postExecution) > 0 }

// PostExecutionNeededLen reports the output length the most recent control
// leak requested, used to size the "step" input that resumes it.
func (s *VMState) PostExecutionNeededLen() uint64 {
	if top := s.PeekPostExecution(); top != nil {
		return top.OutputLength
	}
	return 0
}

func (s *VMState) PostExecutionDepth() int { return len(s.postExecution) }

// StorageWords returns every distinct slot index and stored value recorded
// across all accounts, sorted for determinism — the access-pattern seed
// material havoc mutation biases toward, per spec §4.F "biased toward
// values the contract itself has stored".
func (s *VMState) StorageWords() [][]byte {
	seen := make(map[string][]byte)
	for _, acct := range s.storage {
		for slot, value := range acct {
			seen[string(slot.Bytes())] = slot.Bytes()
			seen[string(value.Bytes())] = value.Bytes()
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = seen[k]
	}
	return out
}

// AddTypedBug appends a typed-bug id if not already known (deduplicated).
func (s *VMState) AddTypedBug(id uint64) {
	for _, b := range s.typedBugs {
		if b == id {
			return
		}
	}
	s.typedBugs = append(s.typedBugs, id)
}

func (s *VMState) TypedBugs() []uint64 { return s.typedBugs }

func (s *VMState) SetLastArbitraryCall(addr evmtypes.Address) {
	a := addr
	s.lastArbCall = &a
}

func (s *VMState) LastArbitraryCall() *evmtypes.Address { return s.lastArbCall }

// Clone produces an independent copy so that later mutations observe a
// snapshot rather than the live state of whichever input is executing
// (spec §5 "Shared resources").
func (s *VMState) Clone() *VMState {
	out := New()
	for addr, acct := range s.storage {
		cp := make(map[evmtypes.U256]evmtypes.U256, len(acct))
		for k, v := range acct {
			cp[k] = v
		}
		out.storage[addr] = cp
	}
	for addr, bal := range s.balances {
		out.balances[addr] = bal
	}
	out.postExecution = make([]*PostExecutionContext, len(s.postExecution))
	for i, p := range s.postExecution {
		cp := *p
		cp.Stack = append([]evmtypes.U256(nil), p.Stack...)
		cp.Memory = append([]byte(nil), p.Memory...)
		cp.CallData = append([]byte(nil), p.CallData...)
		out.postExecution[i] = &cp
	}
	out.typedBugs = append([]uint64(nil), s.typedBugs...)
	out.Flashloan = s.Flashloan.clone()
	if s.lastArbCall != nil {
		out.SetLastArbitraryCall(*s.lastArbCall)
	}
	return out
}

// ResetForRun clears per-run ledgers (flashloan accumulators, typed bugs
// seen this run) but keeps persistent storage, matching reset_for_run.
func (s *VMState) ResetForRun() {
	s.Flashloan.reset()
	s.typedBugs = nil
	s.lastArbCall = nil
}

// Hash derives a stable content hash from the sorted storage map, the
// post-exec stack (pc and stack words only), and the typed-bug list, used
// by the infant scheduler to deduplicate equivalent snapshots (spec §4.A,
// testable property 2).
func (s *VMState) Hash() uint64 {
	h := fnv.New64a()

	addrs := make([]evmtypes.Address, 0, len(s.storage))
	for addr := range s.storage {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return lessAddress(addrs[i], addrs[j]) })

	for _, addr := range addrs {
		h.Write(addr[:])
		acct := s.storage[addr]
		slots := make([]evmtypes.U256, 0, len(acct))
		for slot := range acct {
			slots = append(slots, slot)
		}
		sort.Slice(slots, func(i, j int) bool { return slots[i].Lt(&slots[j]) })
		for _, slot := range slots {
			v := acct[slot]
			h.Write(slot.Bytes())
			h.Write(v.Bytes())
		}
	}

	for _, p := range s.postExecution {
		var pcBuf [8]byte
		putUint64(pcBuf[:], p.PC)
		h.Write(pcBuf[:])
		for _, w := range p.Stack {
			h.Write(w.Bytes())
		}
	}

	bugs := append([]uint64(nil), s.typedBugs...)
	sort.Slice(bugs, func(i, j int) bool { return bugs[i] < bugs[j] })
	for _, b := range bugs {
		var buf [8]byte
		putUint64(buf[:], b)
		h.Write(buf[:])
	}

	return h.Sum64()
}

func lessAddress(a, b evmtypes.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func putUint64(buf []byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}
