package evmvm

import (
	"github.com/holiman/uint256"

	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// effectiveGasLimit is the "huge constant" gas disables effectively, per
// §4.B "Failure semantics": gas is never charged, and no opcode (memory
// expansion included) produces OutOfGas.
const effectiveGasLimit = 1 << 40

// ContractCtx names the contract/account a run executes against.
type ContractCtx struct {
	Caller  evmtypes.Address
	Address evmtypes.Address
	Code    evmtypes.Address
	Value   evmtypes.U256
	Scheme  evmstate.CallScheme
	Static  bool
}

// ExecutionResult is the outcome of a top-level run, carrying everything
// §4.B's `run` contract promises.
type ExecutionResult struct {
	Exit       ExitCode
	ReturnData []byte
	Reverted   bool
	Err        error
}

// Interpreter executes one call frame's bytecode against a Host.
type Interpreter struct {
	Host     *Host
	Ctx      ContractCtx
	Code     []byte
	Input    []byte
	Depth    int

	pc     uint64
	stack  []uint256.Int
	memory []byte
	retBuf []byte // RETURNDATA of the most recent sub-call
}

func NewInterpreter(h *Host, ctx ContractCtx, code, input []byte, depth int) *Interpreter {
	return &Interpreter{Host: h, Ctx: ctx, Code: code, Input: input, Depth: depth}
}

// NewInterpreterFromPostExecution rebuilds an interpreter mid-execution
// from a popped PostExecutionContext, spec §4.A/§5's "resuming a step
// input pops exactly one entry and reconstructs stack/memory/pc before
// re-entering the interpreter." The caller derives ctx/code from the
// context's CallContext the same way a fresh call would.
func NewInterpreterFromPostExecution(h *Host, ctx ContractCtx, code []byte, pec *evmstate.PostExecutionContext, depth int) *Interpreter {
	in := &Interpreter{
		Host:   h,
		Ctx:    ctx,
		Code:   code,
		Input:  pec.CallData,
		Depth:  depth,
		pc:     pec.PC,
		memory: append([]byte(nil), pec.Memory...),
	}
	in.stack = make([]uint256.Int, len(pec.Stack))
	copy(in.stack, pec.Stack)
	return in
}

func (in *Interpreter) push(v uint256.Int) error {
	if len(in.stack) >= StackLimit {
		return ErrStackOverflow
	}
	in.stack = append(in.stack, v)
	return nil
}

func (in *Interpreter) pop() (uint256.Int, error) {
	n := len(in.stack)
	if n == 0 {
		return uint256.Int{}, ErrStackUnderflow
	}
	v := in.stack[n-1]
	in.stack = in.stack[:n-1]
	return v, nil
}

func (in *Interpreter) peek(fromTop int) (*uint256.Int, error) {
	n := len(in.stack)
	if fromTop >= n {
		return nil, ErrStackUnderflow
	}
	return &in.stack[n-1-fromTop], nil
}

func (in *Interpreter) ensureMem(offset, size uint64) {
	need := offset + size
	if uint64(len(in.memory)) >= need {
		return
	}
	grown := make([]byte, need)
	copy(grown, in.memory)
	in.memory = grown
}

func (in *Interpreter) memSet(offset uint64, data []byte) {
	in.ensureMem(offset, uint64(len(data)))
	copy(in.memory[offset:], data)
}

func (in *Interpreter) memGet(offset, size uint64) []byte {
	in.ensureMem(offset, size)
	out := make([]byte, size)
	copy(out, in.memory[offset:offset+size])
	return out
}

// Run drives the fetch/decode/execute loop until a terminal exit code.
func (in *Interpreter) Run() ExecutionResult {
	if in.Depth > MaxCallDepth {
		return ExecutionResult{Exit: ExitError, Err: ErrDepthLimit, Reverted: true}
	}
	frame := &Frame{
		Interp: in, Caller: in.Ctx.Caller, Address: in.Ctx.Address,
		CodeAddr: in.Ctx.Code, Value: in.Ctx.Value, Scheme: in.Ctx.Scheme, Depth: in.Depth,
	}
	prevFrame := in.Host.pushFrame(frame)
	defer in.Host.popFrame(prevFrame)

	for {
		if in.pc >= uint64(len(in.Code)) {
			return ExecutionResult{Exit: ExitStop}
		}
		op := OpCode(in.Code[in.pc])
		frame.PC = in.pc
		frame.Op = op

		swallowed := false
		for _, mw := range in.Host.Pipeline {
			if err := mw.OnStep(in.Host, frame); err != nil {
				if err == ErrSwallowed {
					swallowed = true
					break
				}
				return ExecutionResult{Exit: ExitError, Err: err, Reverted: true}
			}
		}
		if swallowed {
			in.pc++
			continue
		}

		res, done := in.step(frame, op)
		if done {
			for _, mw := range in.Host.Pipeline {
				_ = mw.OnReturn(in.Host, frame, res.ReturnData)
			}
			return res
		}
	}
}

// step executes one opcode; done=true means the run has reached a terminal
// exit code and res is the final result.
func (in *Interpreter) step(frame *Frame, op OpCode) (ExecutionResult, bool) {
	switch {
	case op.IsPush():
		n := op.PushSize()
		start := in.pc + 1
		end := start + uint64(n)
		var buf [32]byte
		if end > uint64(len(in.Code)) {
			end = uint64(len(in.Code))
		}
		copy(buf[32-n:], in.Code[start:end])
		var v uint256.Int
		v.SetBytes(buf[:])
		if err := in.push(v); err != nil {
			return errResult(err), true
		}
		in.pc += uint64(n) + 1
		return ExecutionResult{}, false

	case op.IsDup():
		idx := int(op - DUP1)
		v, err := in.peek(idx)
		if err != nil {
			return errResult(err), true
		}
		if err := in.push(*v); err != nil {
			return errResult(err), true
		}
		in.pc++
		return ExecutionResult{}, false

	case op.IsSwap():
		idx := int(op-SWAP1) + 1
		n := len(in.stack)
		if idx >= n {
			return errResult(ErrStackUnderflow), true
		}
		in.stack[n-1], in.stack[n-1-idx] = in.stack[n-1-idx], in.stack[n-1]
		in.pc++
		return ExecutionResult{}, false

	case op.IsLog():
		return in.execLog(frame, op)
	}

	switch op {
	case STOP:
		return ExecutionResult{Exit: ExitStop}, true

	case ADD, SUB, MUL, DIV, SDIV, MOD, SMOD, AND, OR, XOR, BYTE, SHL, SHR, SAR:
		return in.execArith(op)

	case LT, GT, SLT, SGT, EQ:
		return in.execCompare(frame, op)

	case ISZERO:
		a, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		var out uint256.Int
		if a.IsZero() {
			out.SetOne()
		}
		in.push(out)
		in.pc++
		return ExecutionResult{}, false

	case NOT:
		a, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		var out uint256.Int
		out.Not(&a)
		in.push(out)
		in.pc++
		return ExecutionResult{}, false

	case ADDMOD, MULMOD, EXP:
		return in.execTernaryArith(op)

	case POP:
		if _, err := in.pop(); err != nil {
			return errResult(err), true
		}
		in.pc++
		return ExecutionResult{}, false

	case MLOAD:
		off, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		data := in.memGet(off.Uint64(), 32)
		var v uint256.Int
		v.SetBytes(data)
		in.push(v)
		in.pc++
		return ExecutionResult{}, false

	case MSTORE:
		off, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		val, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		in.memSet(off.Uint64(), val.Bytes32()[:])
		in.pc++
		return ExecutionResult{}, false

	case MSTORE8:
		off, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		val, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		in.memSet(off.Uint64(), []byte{byte(val.Uint64())})
		in.pc++
		return ExecutionResult{}, false

	case SLOAD:
		return in.execSload(frame)

	case SSTORE:
		return in.execSstore(frame)

	case JUMP:
		dest, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		return in.doJump(dest.Uint64())

	case JUMPI:
		return in.execJumpi(frame)

	case JUMPDEST:
		in.pc++
		return ExecutionResult{}, false

	case PC:
		in.push(*uint256.NewInt(in.pc))
		in.pc++
		return ExecutionResult{}, false

	case MSIZE:
		in.push(*uint256.NewInt(uint64(len(in.memory))))
		in.pc++
		return ExecutionResult{}, false

	case GAS:
		in.push(*uint256.NewInt(effectiveGasLimit))
		in.pc++
		return ExecutionResult{}, false

	case ADDRESS:
		in.pushAddr(in.Ctx.Address)
		in.pc++
		return ExecutionResult{}, false

	case CALLER:
		in.pushAddr(in.Ctx.Caller)
		in.pc++
		return ExecutionResult{}, false

	case ORIGIN:
		in.pushAddr(in.Host.Origin)
		in.pc++
		return ExecutionResult{}, false

	case CALLVALUE:
		v := in.Ctx.Value
		in.push(v)
		in.pc++
		return ExecutionResult{}, false

	case CALLDATALOAD:
		off, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		var buf [32]byte
		o := off.Uint64()
		for i := 0; i < 32; i++ {
			if o+uint64(i) < uint64(len(in.Input)) {
				buf[i] = in.Input[o+uint64(i)]
			}
		}
		var v uint256.Int
		v.SetBytes(buf[:])
		in.push(v)
		in.pc++
		return ExecutionResult{}, false

	case CALLDATASIZE:
		in.push(*uint256.NewInt(uint64(len(in.Input))))
		in.pc++
		return ExecutionResult{}, false

	case CALLDATACOPY:
		return in.execCopy(in.Input)

	case CODESIZE:
		in.push(*uint256.NewInt(uint64(len(in.Code))))
		in.pc++
		return ExecutionResult{}, false

	case CODECOPY:
		return in.execCopy(in.Code)

	case RETURNDATASIZE:
		in.push(*uint256.NewInt(uint64(len(in.retBuf))))
		in.pc++
		return ExecutionResult{}, false

	case RETURNDATACOPY:
		return in.execCopy(in.retBuf)

	case BALANCE, SELFBALANCE:
		var addr evmtypes.Address
		if op == SELFBALANCE {
			addr = in.Ctx.Address
		} else {
			a, err := in.pop()
			if err != nil {
				return errResult(err), true
			}
			addr = evmtypes.BytesToAddress(a.Bytes())
		}
		bal := in.Host.State.GetBalance(addr)
		in.push(bal)
		in.pc++
		return ExecutionResult{}, false

	case TIMESTAMP, NUMBER, COINBASE, GASLIMIT, CHAINID, BASEFEE, DIFFICULTY, GASPRICE, BLOCKHASH:
		return in.execBlockField(op)

	case SHA3:
		return in.execSha3()

	case CALL, CALLCODE, DELEGATECALL, STATICCALL:
		return in.execCall(frame, op)

	case RETURN:
		off, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		size, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		data := in.memGet(off.Uint64(), size.Uint64())
		return ExecutionResult{Exit: ExitReturn, ReturnData: data}, true

	case REVERT:
		off, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		size, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		data := in.memGet(off.Uint64(), size.Uint64())
		return ExecutionResult{Exit: ExitRevert, ReturnData: data, Reverted: true}, true

	case SELFDESTRUCT:
		in.Host.SelfdestructHit = true
		if _, err := in.pop(); err != nil {
			return errResult(err), true
		}
		return ExecutionResult{Exit: ExitStop}, true

	case EXTCODESIZE, EXTCODEHASH, EXTCODECOPY:
		return in.execExtCode(op)

	case INVALID:
		return errResult(ErrInvalidOpcode), true

	default:
		return errResult(ErrInvalidOpcode), true
	}
}

func errResult(err error) ExecutionResult {
	return ExecutionResult{Exit: ExitError, Err: err, Reverted: true}
}

func (in *Interpreter) pushAddr(a evmtypes.Address) {
	var v uint256.Int
	v.SetBytes(a[:])
	in.push(v)
}

func (in *Interpreter) doJump(dest uint64) (ExecutionResult, bool) {
	if dest >= uint64(len(in.Code)) || OpCode(in.Code[dest]) != JUMPDEST {
		return errResult(ErrInvalidJump), true
	}
	in.pc = dest
	return ExecutionResult{}, false
}

// execJumpi records JMP_MAP and CMP_MAP feedback for the branch condition,
// per §4.B's JUMPI policy.
func (in *Interpreter) execJumpi(frame *Frame) (ExecutionResult, bool) {
	dest, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	cond, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	taken := !cond.IsZero()
	_, novel := in.Host.Cov.RecordJump(frame.PC, taken)
	in.Host.NoteCoverageTouch(novel)
	var zero uint256.Int
	dist := CmpDistance(&cond, &zero)
	in.Host.Cov.RecordCmp(frame.PC, dist)

	if !taken {
		in.pc++
		return ExecutionResult{}, false
	}
	return in.doJump(dest.Uint64())
}

func (in *Interpreter) execCompare(frame *Frame, op OpCode) (ExecutionResult, bool) {
	b, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	a, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	var result bool
	switch op {
	case LT:
		result = a.Lt(&b)
	case GT:
		result = a.Gt(&b)
	case SLT:
		result = a.Slt(&b)
	case SGT:
		result = a.Sgt(&b)
	case EQ:
		result = a.Eq(&b)
	}
	dist := CmpDistance(&a, &b)
	in.Host.Cov.RecordCmp(frame.PC, dist)

	var out uint256.Int
	if result {
		out.SetOne()
	}
	in.push(out)
	in.pc++
	return ExecutionResult{}, false
}

func (in *Interpreter) execArith(op OpCode) (ExecutionResult, bool) {
	b, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	a, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	var out uint256.Int
	wrapped := false
	switch op {
	case ADD:
		_, wrapped = out.AddOverflow(&a, &b)
	case SUB:
		_, wrapped = out.SubOverflow(&a, &b)
	case MUL:
		_, wrapped = out.MulOverflow(&a, &b)
	case DIV:
		if b.IsZero() {
			out.Clear()
		} else {
			out.Div(&a, &b)
		}
	case SDIV:
		if b.IsZero() {
			out.Clear()
		} else {
			out.SDiv(&a, &b)
		}
	case MOD:
		if b.IsZero() {
			out.Clear()
		} else {
			out.Mod(&a, &b)
		}
	case SMOD:
		if b.IsZero() {
			out.Clear()
		} else {
			out.SMod(&a, &b)
		}
	case AND:
		out.And(&a, &b)
	case OR:
		out.Or(&a, &b)
	case XOR:
		out.Xor(&a, &b)
	case BYTE:
		out = *byteAt(&a, &b)
	case SHL:
		out.Lsh(&b, uint(clampShift(&a)))
	case SHR:
		out.Rsh(&b, uint(clampShift(&a)))
	case SAR:
		out.SRsh(&b, uint(clampShift(&a)))
	}
	if obs := in.Host.ArithObserver; obs != nil {
		switch op {
		case ADD, SUB, MUL:
			obs.Observe(in.Ctx.Address, in.pc, op, &a, &b, &out, wrapped)
		}
	}
	in.push(out)
	in.pc++
	return ExecutionResult{}, false
}

func clampShift(shift *uint256.Int) uint64 {
	if shift.GtUint64(256) {
		return 256
	}
	return shift.Uint64()
}

func byteAt(index, value *uint256.Int) *uint256.Int {
	var out uint256.Int
	if index.GtUint64(31) {
		return &out
	}
	i := index.Uint64()
	b := value.Bytes32()
	out.SetUint64(uint64(b[i]))
	return &out
}

func (in *Interpreter) execTernaryArith(op OpCode) (ExecutionResult, bool) {
	switch op {
	case ADDMOD, MULMOD:
		a, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		b, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		n, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		var out uint256.Int
		if n.IsZero() {
			out.Clear()
		} else if op == ADDMOD {
			out.AddMod(&a, &b, &n)
		} else {
			out.MulMod(&a, &b, &n)
		}
		in.push(out)
	case EXP:
		base, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		exp, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		var out uint256.Int
		out.Exp(&base, &exp)
		in.push(out)
	}
	in.pc++
	return ExecutionResult{}, false
}

func (in *Interpreter) execCopy(src []byte) (ExecutionResult, bool) {
	destOff, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	srcOff, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	size, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	s := srcOff.Uint64()
	n := size.Uint64()
	buf := make([]byte, n)
	for i := uint64(0); i < n; i++ {
		if s+i < uint64(len(src)) {
			buf[i] = src[s+i]
		}
	}
	in.memSet(destOff.Uint64(), buf)
	in.pc++
	return ExecutionResult{}, false
}

func (in *Interpreter) execSha3() (ExecutionResult, bool) {
	off, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	size, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	data := in.memGet(off.Uint64(), size.Uint64())
	h := evmtypes.Keccak256(data)
	var v uint256.Int
	v.SetBytes(h[:])
	in.push(v)
	in.pc++
	return ExecutionResult{}, false
}

func (in *Interpreter) execBlockField(op OpCode) (ExecutionResult, bool) {
	// Block-context fields always read as zero: the cheatcode EnvOverlay is
	// not consulted here, and no middleware rewrites the pushed value.
	if op == BLOCKHASH {
		if _, err := in.pop(); err != nil {
			return errResult(err), true
		}
	}
	in.push(uint256.Int{})
	in.pc++
	return ExecutionResult{}, false
}

// execSload applies READ_MAP bookkeeping before reading from the VM state,
// per §4.B's SLOAD policy. An unset slot reads as zero; no on-chain fetch
// is made.
func (in *Interpreter) execSload(frame *Frame) (ExecutionResult, bool) {
	slot, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	_, novel := in.Host.Cov.RecordRead(slot.Uint64())
	in.Host.NoteCoverageTouch(novel)
	val := in.Host.State.GetStorage(frame.Address, slot)
	in.push(val)
	in.pc++
	return ExecutionResult{}, false
}

// execSstore applies WRITE_MAP bookkeeping and sets StateChanged, per
// §4.B's SSTORE policy.
func (in *Interpreter) execSstore(frame *Frame) (ExecutionResult, bool) {
	slot, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	val, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	prev := in.Host.State.GetStorage(frame.Address, slot)
	_, novel := in.Host.Cov.RecordWrite(slot.Uint64(), &val)
	in.Host.NoteCoverageTouch(novel)
	if !prev.Eq(&val) {
		in.Host.StateChanged = true
	}
	in.Host.State.SetStorage(frame.Address, slot, val)
	in.pc++
	return ExecutionResult{}, false
}

func (in *Interpreter) execLog(frame *Frame, op OpCode) (ExecutionResult, bool) {
	off, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	size, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	topics := make([]uint256.Int, op.LogTopics())
	for i := range topics {
		t, err := in.pop()
		if err != nil {
			return errResult(err), true
		}
		topics[i] = t
	}
	_ = in.memGet(off.Uint64(), size.Uint64())

	for _, t := range topics {
		last := byte(t.Uint64() & 0xff)
		switch last {
		case 0x37:
			in.Host.State.AddTypedBug(0xffffffff) // synchronous bug flag sentinel, §4.B LOG policy
		case 0x78:
			in.Host.State.AddTypedBug(t.Uint64() >> 8)
		}
	}
	in.pc++
	return ExecutionResult{}, false
}

func (in *Interpreter) execExtCode(op OpCode) (ExecutionResult, bool) {
	a, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	addr := evmtypes.BytesToAddress(a.Bytes())
	switch op {
	case EXTCODESIZE:
		code, _ := in.Host.Code(addr)
		in.push(*uint256.NewInt(uint64(len(code))))
		in.pc++
	case EXTCODEHASH:
		code, ok := in.Host.Code(addr)
		var v uint256.Int
		if ok {
			h := evmtypes.Keccak256(code)
			v.SetBytes(h[:])
		}
		in.push(v)
		in.pc++
	case EXTCODECOPY:
		code, _ := in.Host.Code(addr)
		return in.execCopy(code)
	}
	return ExecutionResult{}, false
}

// execCall implements the four call-family opcodes via Host.ResolveCall,
// including the control-leak short-circuit and the unbound-call selector
// substitution, per §4.B.
func (in *Interpreter) execCall(frame *Frame, op OpCode) (ExecutionResult, bool) {
	var gas, value uint256.Int
	var err error
	gas, err = in.pop()
	if err != nil {
		return errResult(err), true
	}
	addrWord, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	if op == CALL || op == CALLCODE {
		value, err = in.pop()
		if err != nil {
			return errResult(err), true
		}
	}
	argsOff, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	argsSize, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	retOff, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	retSize, err := in.pop()
	if err != nil {
		return errResult(err), true
	}
	_ = gas

	target := evmtypes.BytesToAddress(addrWord.Bytes())
	callData := in.memGet(argsOff.Uint64(), argsSize.Uint64())

	outcome, rewritten := in.Host.ResolveCall(frame, target, callData, CheatcodeAddress)
	callData = rewritten

	switch outcome {
	case CallControlLeak:
		in.Host.recordLeak(frame, in.pc, in.stack, in.memory, retOff.Uint64(), retSize.Uint64(), callData)
		return ExecutionResult{Exit: ExitControlLeak}, true

	case CallCheatcode:
		// No frame is run for the sentinel address and the cheat is not
		// applied (Cheatcode.Apply is not called); the call simply
		// succeeds with empty return data.
		in.push(*uint256.NewInt(1))
		in.pc++
		return ExecutionResult{}, false

	case CallUnknownZeroSelector:
		in.push(*uint256.NewInt(1))
		in.pc++
		return ExecutionResult{}, false

	case CallRevert:
		in.push(uint256.Int{})
		in.pc++
		return ExecutionResult{}, false

	case CallKnown, CallCrossContract:
		code, _ := in.Host.Code(target)
		sub := NewInterpreter(in.Host, ContractCtx{
			Caller:  frame.Address,
			Address: callAddress(op, frame.Address, target),
			Code:    target,
			Value:   value,
			Scheme:  callScheme(op),
			Static:  op == STATICCALL || in.Ctx.Static,
		}, code, callData, in.Depth+1)
		res := sub.Run()
		in.retBuf = res.ReturnData
		n := uint64(len(res.ReturnData))
		if n > retSize.Uint64() {
			n = retSize.Uint64()
		}
		in.memSet(retOff.Uint64(), res.ReturnData[:n])

		var success uint256.Int
		if !res.Reverted {
			success.SetOne()
		}
		in.push(success)
		in.pc++
		return ExecutionResult{}, false
	}

	in.push(uint256.Int{})
	in.pc++
	return ExecutionResult{}, false
}

func callAddress(op OpCode, callerAddr, target evmtypes.Address) evmtypes.Address {
	if op == DELEGATECALL || op == CALLCODE {
		return callerAddr
	}
	return target
}

func callScheme(op OpCode) evmstate.CallScheme {
	switch op {
	case CALLCODE:
		return evmstate.SchemeCallCode
	case DELEGATECALL:
		return evmstate.SchemeDelegateCall
	case STATICCALL:
		return evmstate.SchemeStaticCall
	default:
		return evmstate.SchemeCall
	}
}

// CheatcodeAddress is the fixed sentinel address the Cheatcode middleware
// matches calls against (spec §4.C), conventionally the Foundry VM address.
var CheatcodeAddress = func() evmtypes.Address {
	h := evmtypes.Keccak256([]byte("hevm cheat code"))
	return evmtypes.BytesToAddress(h[:])
}()
