package evmvm

import (
	"errors"
	mapset "github.com/deckarep/golang-set"
	"github.com/holiman/uint256"

	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var logger = ilog.New("component", "evmvm")

// ErrSwallowed is returned by a middleware's OnStep to tell the host the
// step has already been fully handled (the cheatcode middleware uses this
// when it matches the sentinel cheat address, per §4.C).
var ErrSwallowed = errors.New("evmvm: step swallowed by middleware")

// Middleware is the four-hook capability set from spec §4.C. internal/
// middleware implements this for each concrete middleware; the host holds
// an ordered slice and invokes hooks in stable insertion order.
type Middleware interface {
	OnStep(h *Host, frame *Frame) error
	OnReturn(h *Host, frame *Frame, ret []byte) error
	OnInsert(h *Host, code []byte, addr evmtypes.Address) error
	Type() string
}

// StorageOracle is the interface Host.Code falls back to for an address
// with no registered bytecode. SLOAD/SSTORE, BALANCE and block-context
// queries do not go through it, and the OnChain middleware does not
// implement it.
type StorageOracle interface {
	Code(addr evmtypes.Address) ([]byte, bool)
	CodeHash(addr evmtypes.Address) evmtypes.Hash
	BlockHash(number uint64) evmtypes.Hash
}

// ArithObserver is notified of every ADD/SUB/MUL result the interpreter
// computes (DIV and EXP results are not reported), so a middleware like
// math-overflow detection can
// flag a wrapped result without the interpreter importing the middleware
// package directly (middleware already imports evmvm for Host/Frame, so
// the reverse import would cycle).
type ArithObserver interface {
	Observe(addr evmtypes.Address, pc uint64, op OpCode, a, b, result *uint256.Int, wrapped bool)
}

// CallSite aggregates the distinct callees and selectors ever observed at
// one (caller-contract, pc) call instruction, the bookkeeping that backs
// the control-leak and unbound-call thresholds (§4.B).
type CallSite struct {
	Targets   mapset.Set
	Selectors mapset.Set
}

func newCallSite() *CallSite {
	return &CallSite{Targets: mapset.NewSet(), Selectors: mapset.NewSet()}
}

// Frame is the active call context, captured into a PostExecutionContext on
// a control leak (§4.B "host owns the currently active call context on a
// process-wide slot").
type Frame struct {
	Interp   *Interpreter
	PC       uint64
	Op       OpCode
	Caller   evmtypes.Address
	Address  evmtypes.Address
	CodeAddr evmtypes.Address
	Value    evmtypes.U256
	Scheme   evmstate.CallScheme
	Depth    int
}

// Host is the interpreter's execution environment: known code index,
// call-site bookkeeping, coverage maps, middleware pipeline and the
// process-wide active-frame slot.
type Host struct {
	State   *evmstate.VMState
	Cov     *CoverageMaps
	Oracle  StorageOracle
	Pipeline []Middleware

	Origin evmtypes.Address

	addressToHash map[evmtypes.Address]evmtypes.Hash
	hashToAddress map[evmtypes.Hash]evmtypes.Address
	codeByAddr    map[evmtypes.Address][]byte
	knownSelectorsByAddr map[evmtypes.Address]mapset.Set

	callSites map[uint64]*CallSite

	activeFrame *Frame

	SelfdestructHit bool
	StateChanged    bool

	ArithObserver ArithObserver // optional; set by the fuzzer wiring when math-overflow detection is enabled

	// RunNovelCoverage is set whenever the current run is the first to hit a
	// given (pc, branch) edge, storage read, or storage write slot index —
	// the JMP_MAP/READ_MAP/WRITE_MAP "first touch" signal execJumpi,
	// execSload and execSstore feed into it. The fuzzer wiring resets it via
	// ResetRunNovelty before each run and reads it back to gate corpus
	// promotion (§4.E "only when novel").
	RunNovelCoverage bool
}

func NewHost(state *evmstate.VMState, cov *CoverageMaps) *Host {
	return &Host{
		State:                state,
		Cov:                  cov,
		addressToHash:        make(map[evmtypes.Address]evmtypes.Hash),
		hashToAddress:        make(map[evmtypes.Hash]evmtypes.Address),
		codeByAddr:           make(map[evmtypes.Address][]byte),
		knownSelectorsByAddr: make(map[evmtypes.Address]mapset.Set),
		callSites:            make(map[uint64]*CallSite),
	}
}

// ResetRunNovelty clears the per-run novelty flag; called once before each
// execution so RunNovelCoverage reflects only the run about to happen.
func (h *Host) ResetRunNovelty() { h.RunNovelCoverage = false }

// NoteCoverageTouch records a first-touch coverage signal from the
// interpreter's JMP_MAP/READ_MAP/WRITE_MAP bookkeeping.
func (h *Host) NoteCoverageTouch(novel bool) {
	if novel {
		h.RunNovelCoverage = true
	}
}

// RegisterCode installs known bytecode for an address and runs on_insert on
// every middleware (§4.C), updating the address/hash indices used by
// dispatch resolution step 3.
func (h *Host) RegisterCode(addr evmtypes.Address, code []byte) {
	h.codeByAddr[addr] = code
	hash := evmtypes.Keccak256(code)
	h.addressToHash[addr] = hash
	h.hashToAddress[hash] = addr
	h.knownSelectorsByAddr[addr] = extractSelectors(code)
	for _, mw := range h.Pipeline {
		if err := mw.OnInsert(h, code, addr); err != nil {
			logger.Debug("middleware on_insert failed", "type", mw.Type(), "err", err)
		}
	}
}

func (h *Host) Code(addr evmtypes.Address) ([]byte, bool) {
	if c, ok := h.codeByAddr[addr]; ok {
		return c, true
	}
	if h.Oracle != nil {
		return h.Oracle.Code(addr)
	}
	return nil, false
}

// KnownSelectors returns the 4-byte dispatcher selectors harvested from
// addr's registered bytecode, for campaign seeding from a deployed target
// with no separately supplied ABI.
func (h *Host) KnownSelectors(addr evmtypes.Address) [][4]byte {
	set, ok := h.knownSelectorsByAddr[addr]
	if !ok {
		return nil
	}
	out := make([][4]byte, 0, set.Cardinality())
	for _, v := range set.ToSlice() {
		out = append(out, v.([4]byte))
	}
	return out
}

func (h *Host) ActiveFrame() *Frame { return h.activeFrame }

// pushFrame/popFrame implement the save/restore of the process-wide active
// slot around nested calls, per §4.B.
func (h *Host) pushFrame(f *Frame) *Frame {
	prev := h.activeFrame
	h.activeFrame = f
	return prev
}

func (h *Host) popFrame(prev *Frame) { h.activeFrame = prev }

// CallOutcome is what resolveCall decides for a CALL-family instruction.
type CallOutcome int

const (
	CallControlLeak CallOutcome = iota
	CallCheatcode
	CallCrossContract
	CallKnown
	CallUnknownZeroSelector
	CallRevert
)

func siteKey(callerContext evmtypes.Address, pc uint64) uint64 {
	h := evmtypes.Keccak256(callerContext[:], uint64ToBytes(pc))
	return bytesToUint64(h[:8])
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
	return b
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

// ResolveCall implements the four-step dispatch resolution of §4.B. When the
// unbound-call substitution fires, the returned call data is a rewritten
// copy; the callData argument itself is left unchanged.
func (h *Host) ResolveCall(callerFrame *Frame, target evmtypes.Address, callData []byte, cheatAddr evmtypes.Address) (CallOutcome, []byte) {
	// 1. calling back into the transaction origin is always a control leak.
	if target == h.Origin {
		return CallControlLeak, callData
	}

	// 2. cheatcode sentinel match.
	if target == cheatAddr {
		return CallCheatcode, callData
	}

	key := siteKey(callerFrame.Address, callerFrame.PC)
	site, ok := h.callSites[key]
	if !ok {
		site = newCallSite()
		h.callSites[key] = site
	}
	site.Targets.Add(target)

	if len(callData) >= 4 {
		var sel [4]byte
		copy(sel[:], callData[:4])
		site.Selectors.Add(sel)
	}

	// control-leak threshold: too many distinct callees at this site.
	if site.Targets.Cardinality() > ControlLeakThreshold {
		return CallControlLeak, callData
	}

	// unbound-call threshold: too many distinct selectors seen at this call
	// site; substitute with a deterministic known selector, §9(c). The count
	// is kept per call site across all of its callees, not per callee.
	if site.Selectors.Cardinality() > UnboundCallThreshold {
		if known := h.knownSelectorsByAddr[target]; known != nil && known.Cardinality() > 0 {
			callData = substituteSelector(callData, known, site)
		}
	}

	// 3. single-selector cross-contract resolution.
	if len(callData) >= 4 {
		var sel [4]byte
		copy(sel[:], callData[:4])
		matches := 0
		var matchAddr evmtypes.Address
		for addr, sels := range h.knownSelectorsByAddr {
			if addr == target {
				continue
			}
			if sels.Contains(sel) {
				matches++
				matchAddr = addr
			}
		}
		if matches == 1 {
			h.callSites[key].Targets.Add(matchAddr)
			return CallCrossContract, callData
		}
	}

	// 4. known callee, else unknown-zero-selector / revert.
	if _, ok := h.Code(target); ok {
		return CallKnown, callData
	}
	if len(callData) == 0 {
		return CallUnknownZeroSelector, callData
	}
	return CallRevert, callData
}

// substituteSelector deterministically picks a known selector by summing
// the call data bytes mod the candidate count, per §9(c) ("not random").
func substituteSelector(callData []byte, known mapset.Set, site *CallSite) []byte {
	candidates := known.ToSlice()
	var sum int
	for _, b := range callData {
		sum += int(b)
	}
	chosen := candidates[sum%len(candidates)].([4]byte)
	out := append([]byte(nil), callData...)
	if len(out) < 4 {
		out = append(out, make([]byte, 4-len(out))...)
	}
	copy(out[:4], chosen[:])
	return out
}

func extractSelectors(code []byte) mapset.Set {
	// Coarse selector harvesting: scan for PUSH4 literals immediately
	// preceding an EQ, the classic Solidity dispatcher pattern.
	set := mapset.NewSet()
	for i := 0; i+5 <= len(code); i++ {
		if OpCode(code[i]) == OpCode(0x63) { // PUSH4
			var sel [4]byte
			copy(sel[:], code[i+1:i+5])
			if i+5 < len(code) && OpCode(code[i+5]) == EQ {
				set.Add(sel)
			}
		}
	}
	return set
}

// recordLeak captures the current frame into a PostExecutionContext and
// pushes it on the state's LIFO stack (§4.B, testable property 5).
func (h *Host) recordLeak(frame *Frame, pc uint64, stack []uint256.Int, mem []byte, outOffset, outLen uint64, callData []byte) {
	words := make([]evmtypes.U256, len(stack))
	for i := range stack {
		words[i] = stack[i]
	}
	h.State.PushPostExecution(&evmstate.PostExecutionContext{
		PC:           pc,
		Stack:        words,
		Memory:       append([]byte(nil), mem...),
		OutputOffset: outOffset,
		OutputLength: outLen,
		CallData:     append([]byte(nil), callData...),
		Ctx: evmstate.CallContext{
			Caller:        frame.Caller,
			Address:       frame.Address,
			CodeAddress:   frame.CodeAddr,
			ApparentValue: frame.Value,
			Scheme:        frame.Scheme,
		},
	})
}
