package middleware

import (
	"github.com/holiman/uint256"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
)

// EnvOverlay carries the block/tx-context fields a cheatcode can rewrite
// (warp/roll/fee/...). The interpreter's block-field opcodes do not read it.
type EnvOverlay struct {
	Timestamp   uint64
	BlockNumber uint64
	BaseFee     uint64
	Difficulty  evmtypes.Hash
	ChainID     uint64
	GasPrice    uint64
	Coinbase    evmtypes.Address
}

// PrankFrame records an active prank/startPrank override: subsequent calls
// appear to originate from Sender (and, if Origin is set, tx.origin too).
type PrankFrame struct {
	Sender   evmtypes.Address
	Origin   *evmtypes.Address
	Once     bool
}

// ExpectedCall is one entry of the expectCall tracker.
type ExpectedCall struct {
	Target evmtypes.Address
	Data   []byte
	Value  *evmtypes.U256
	MinGas uint64
	Count  int
}

// RecordedLog is a captured LOGn emission, surfaced by getRecordedLogs.
type RecordedLog struct {
	Topics [][32]byte
	Data   []byte
	Emitter evmtypes.Address
}

// cheatOp is one member of the closed enumeration in spec §4.C.
type cheatOp string

const (
	opWarp               cheatOp = "warp"
	opRoll               cheatOp = "roll"
	opFee                cheatOp = "fee"
	opDifficulty         cheatOp = "difficulty"
	opPrevrandao         cheatOp = "prevrandao"
	opChainId            cheatOp = "chainId"
	opTxGasPrice         cheatOp = "txGasPrice"
	opCoinbase           cheatOp = "coinbase"
	opLoad               cheatOp = "load"
	opStore              cheatOp = "store"
	opEtch               cheatOp = "etch"
	opDeal               cheatOp = "deal"
	opReadCallers        cheatOp = "readCallers"
	opRecord             cheatOp = "record"
	opAccesses           cheatOp = "accesses"
	opRecordLogs         cheatOp = "recordLogs"
	opGetRecordedLogs    cheatOp = "getRecordedLogs"
	opPrank0             cheatOp = "prank_0"
	opPrank1             cheatOp = "prank_1"
	opStartPrank0        cheatOp = "startPrank_0"
	opStartPrank1        cheatOp = "startPrank_1"
	opStopPrank          cheatOp = "stopPrank"
	opExpectRevert0      cheatOp = "expectRevert_0"
	opExpectRevert1      cheatOp = "expectRevert_1"
	opExpectRevert2      cheatOp = "expectRevert_2"
	opExpectEmit0        cheatOp = "expectEmit_0"
	opExpectEmit1        cheatOp = "expectEmit_1"
	opExpectEmit2        cheatOp = "expectEmit_2"
	opExpectEmit3        cheatOp = "expectEmit_3"
	opExpectCall0        cheatOp = "expectCall_0"
	opExpectCall1        cheatOp = "expectCall_1"
	opExpectCall2        cheatOp = "expectCall_2"
	opExpectCall3        cheatOp = "expectCall_3"
	opExpectCall4        cheatOp = "expectCall_4"
	opExpectCall5        cheatOp = "expectCall_5"
	opExpectCallMinGas0  cheatOp = "expectCallMinGas_0"
	opExpectCallMinGas1  cheatOp = "expectCallMinGas_1"
	opAddr               cheatOp = "addr"
	opCreateSelectFork0  cheatOp = "createSelectFork_0"
	opCreateSelectFork1  cheatOp = "createSelectFork_1"
	opCreateSelectFork2  cheatOp = "createSelectFork_2"
)

// selectorTable maps the first four bytes of calldata to a cheat op, keyed
// by the Keccak256 selectors of the listed forge-std Vm signatures.
var selectorTable = map[[4]byte]cheatOp{
	evmtypes.Selector("warp(uint256)"):                       opWarp,
	evmtypes.Selector("roll(uint256)"):                       opRoll,
	evmtypes.Selector("fee(uint256)"):                        opFee,
	evmtypes.Selector("difficulty(uint256)"):                 opDifficulty,
	evmtypes.Selector("prevrandao(bytes32)"):                 opPrevrandao,
	evmtypes.Selector("chainId(uint256)"):                    opChainId,
	evmtypes.Selector("txGasPrice(uint256)"):                 opTxGasPrice,
	evmtypes.Selector("coinbase(address)"):                   opCoinbase,
	evmtypes.Selector("load(address,bytes32)"):                opLoad,
	evmtypes.Selector("store(address,bytes32,bytes32)"):       opStore,
	evmtypes.Selector("etch(address,bytes)"):                  opEtch,
	evmtypes.Selector("deal(address,uint256)"):                opDeal,
	evmtypes.Selector("readCallers()"):                        opReadCallers,
	evmtypes.Selector("record()"):                             opRecord,
	evmtypes.Selector("accesses(address)"):                    opAccesses,
	evmtypes.Selector("recordLogs()"):                         opRecordLogs,
	evmtypes.Selector("getRecordedLogs()"):                    opGetRecordedLogs,
	evmtypes.Selector("prank(address)"):                       opPrank0,
	evmtypes.Selector("prank(address,address)"):                opPrank1,
	evmtypes.Selector("startPrank(address)"):                  opStartPrank0,
	evmtypes.Selector("startPrank(address,address)"):           opStartPrank1,
	evmtypes.Selector("stopPrank()"):                          opStopPrank,
	evmtypes.Selector("expectRevert()"):                       opExpectRevert0,
	evmtypes.Selector("expectRevert(bytes4)"):                 opExpectRevert1,
	evmtypes.Selector("expectRevert(bytes)"):                  opExpectRevert2,
	evmtypes.Selector("expectEmit()"):                         opExpectEmit0,
	evmtypes.Selector("expectEmit(bool,bool,bool,bool)"):       opExpectEmit1,
	evmtypes.Selector("expectEmit(bool,bool,bool,bool,address)"): opExpectEmit2,
	evmtypes.Selector("expectEmit(address)"):                  opExpectEmit3,
	evmtypes.Selector("expectCall(address,bytes)"):             opExpectCall0,
	evmtypes.Selector("expectCall(address,uint256,bytes)"):     opExpectCall1,
	evmtypes.Selector("expectCall(address,bytes,uint64)"):      opExpectCall2,
	evmtypes.Selector("expectCall(address,uint256,bytes,uint64)"): opExpectCall3,
	evmtypes.Selector("expectCall(address,uint256,uint64,bytes)"): opExpectCall4,
	evmtypes.Selector("expectCall(address,bytes,uint64,uint64)"):  opExpectCall5,
	evmtypes.Selector("expectCallMinGas(address,uint256,uint64,bytes)"): opExpectCallMinGas0,
	evmtypes.Selector("expectCallMinGas(address,bytes,uint64)"):        opExpectCallMinGas1,
	evmtypes.Selector("addr(uint256)"):                        opAddr,
	evmtypes.Selector("createSelectFork(string)"):              opCreateSelectFork0,
	evmtypes.Selector("createSelectFork(string,uint256)"):      opCreateSelectFork1,
	evmtypes.Selector("createSelectFork(string,bytes32)"):      opCreateSelectFork2,
}

// Cheatcode is the first-registered middleware: OnStep swallows steps of a
// frame whose code address is the fixed sentinel, and Apply applies a
// decoded cheat's effect to Env or to its internal trackers (spec §4.C).
// The interpreter runs no frame at the sentinel and does not call Apply.
type Cheatcode struct {
	Address evmtypes.Address
	Env     *EnvOverlay

	activePrank *PrankFrame
	recording   bool
	accessed    map[evmtypes.Address]struct{}
	recordedLogs []RecordedLog
	expectedCalls []ExpectedCall
	expectRevertArmed bool
}

func NewCheatcode(env *EnvOverlay) *Cheatcode {
	return &Cheatcode{
		Address:  evmvm.CheatcodeAddress,
		Env:      env,
		accessed: make(map[evmtypes.Address]struct{}),
	}
}

func (c *Cheatcode) Type() string { return "cheatcode" }

func (c *Cheatcode) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }

func (c *Cheatcode) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }

// OnStep only acts when the active frame's code address is the cheatcode
// sentinel; in all other cases it is a no-op pass-through.
func (c *Cheatcode) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	if frame.CodeAddr != c.Address {
		return nil
	}
	return evmvm.ErrSwallowed
}

// Apply decodes callData against the selector table and executes the cheat.
// The interpreter's CALL handler does not call it.
func (c *Cheatcode) Apply(callData []byte, sender evmtypes.Address) (ret []byte, ok bool) {
	if len(callData) < 4 {
		return nil, false
	}
	var sel [4]byte
	copy(sel[:], callData[:4])
	op, known := selectorTable[sel]
	if !known {
		return nil, false
	}
	args := callData[4:]

	switch op {
	case opWarp:
		c.Env.Timestamp = word(args, 0).Uint64()
	case opRoll:
		c.Env.BlockNumber = word(args, 0).Uint64()
	case opFee:
		c.Env.BaseFee = word(args, 0).Uint64()
	case opDifficulty:
		c.Env.Difficulty = evmtypes.HashFromU256(word(args, 0))
	case opPrevrandao:
		c.Env.Difficulty = evmtypes.BytesToHash(args[:32])
	case opChainId:
		c.Env.ChainID = word(args, 0).Uint64()
	case opTxGasPrice:
		c.Env.GasPrice = word(args, 0).Uint64()
	case opCoinbase:
		c.Env.Coinbase = addrArg(args, 0)
	case opRecord:
		c.recording = true
	case opAccesses:
		c.accessed[addrArg(args, 0)] = struct{}{}
	case opRecordLogs:
		c.recordedLogs = nil
	case opGetRecordedLogs:
		return encodeLogs(c.recordedLogs), true
	case opPrank0:
		c.activePrank = &PrankFrame{Sender: addrArg(args, 0), Once: true}
	case opPrank1:
		origin := addrArg(args, 1)
		c.activePrank = &PrankFrame{Sender: addrArg(args, 0), Origin: &origin, Once: true}
	case opStartPrank0:
		c.activePrank = &PrankFrame{Sender: addrArg(args, 0)}
	case opStartPrank1:
		origin := addrArg(args, 1)
		c.activePrank = &PrankFrame{Sender: addrArg(args, 0), Origin: &origin}
	case opStopPrank:
		c.activePrank = nil
	case opExpectRevert0, opExpectRevert1, opExpectRevert2:
		c.expectRevertArmed = true
	case opExpectEmit0, opExpectEmit1, opExpectEmit2, opExpectEmit3:
		// accepted without effect: no expected emit is recorded or checked.
	case opExpectCall0, opExpectCall1, opExpectCall2, opExpectCall3, opExpectCall4, opExpectCall5,
		opExpectCallMinGas0, opExpectCallMinGas1:
		c.expectedCalls = append(c.expectedCalls, ExpectedCall{Target: addrArg(args, 0)})
	case opAddr:
		priv := word(args, 0)
		return priv.Bytes(), true
	case opLoad, opStore, opEtch, opDeal, opReadCallers, opCreateSelectFork0, opCreateSelectFork1, opCreateSelectFork2:
		// recognized only: Apply changes no state for these ops, and no
		// other component carries them out.
	}
	return nil, true
}

// ActivePrank returns the current prank override, if any, so the host can
// rewrite msg.sender/tx.origin on the next call.
func (c *Cheatcode) ActivePrank() *PrankFrame {
	p := c.activePrank
	if p != nil && p.Once {
		c.activePrank = nil
	}
	return p
}

func word(data []byte, slot int) *uint256.Int {
	var v uint256.Int
	start := slot * 32
	if start+32 > len(data) {
		return &v
	}
	v.SetBytes(data[start : start+32])
	return &v
}

func addrArg(data []byte, slot int) evmtypes.Address {
	return evmtypes.BytesToAddress(word(data, slot).Bytes())
}

func encodeLogs(logs []RecordedLog) []byte {
	// Concise encoding, not ABI-canonical: only a 32-byte count word is
	// returned; the log entries themselves are not encoded.
	out := make([]byte, 0, 32)
	var n uint256.Int
	n.SetUint64(uint64(len(logs)))
	out = append(out, n.Bytes32()[:]...)
	return out
}
