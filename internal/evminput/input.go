// Package evminput implements the Input model (spec §3 "Input", §4.D): ABI
// inputs, their access pattern, and the environment overrides a run may
// observe and the mutator may rewrite.
package evminput

import (
	"github.com/fuzzland/ityfuzz-go/internal/abitree"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// Type is the input_type enumeration from spec §3.
type Type uint8

const (
	TypeABI Type = iota
	TypeBorrow
	TypeArbitraryCallBoundedAddr
	TypeLiquidate
)

// Env carries the environment overrides an Input can set and the mutator
// can rewrite, per spec §3 "environment overrides".
type Env struct {
	BlockNumber uint64
	Timestamp   uint64
	Coinbase    evmtypes.Address
	BaseFee     uint64
	ChainID     uint64
	GasLimit    uint64
	Prevrandao  evmtypes.Hash
	GasPrice    uint64
}

// AccessPattern records which env fields and balances an input's run
// actually consumed, so the mutator avoids mutating fields with no effect
// (spec §3, §9 "Access pattern tracking").
type AccessPattern struct {
	Caller      bool
	Balance     []evmtypes.Address
	CallValue   bool
	GasPrice    bool
	Number      bool
	Coinbase    bool
	Timestamp   bool
	Prevrandao  bool
	GasLimit    bool
	ChainID     bool
	BaseFee     bool
}

// Observe is the single entry point recommended by spec §9 ("Access
// pattern tracking") so the list of tracked opcodes lives in one place.
func (a *AccessPattern) Observe(field string, extra evmtypes.Address) {
	switch field {
	case "caller":
		a.Caller = true
	case "balance":
		a.Balance = append(a.Balance, extra)
	case "call_value":
		a.CallValue = true
	case "gas_price":
		a.GasPrice = true
	case "number":
		a.Number = true
	case "coinbase":
		a.Coinbase = true
	case "timestamp":
		a.Timestamp = true
	case "prevrandao":
		a.Prevrandao = true
	case "gas_limit":
		a.GasLimit = true
	case "chain_id":
		a.ChainID = true
	case "basefee":
		a.BaseFee = true
	}
}

// Input binds everything spec §3 names for one fuzzing call.
type Input struct {
	Type Type

	Caller   evmtypes.Address
	Contract evmtypes.Address
	ABI      *abitree.Node // tagged tree, the function selector is ABI's first static word by convention

	TxnValue *evmtypes.U256 // nil iff the function is not payable ("None" in spec terms)

	Step bool // resume from post-exec when true
	Env  Env

	Access AccessPattern

	SStateIdx int // pointer into the infant corpus

	LiquidationPercent uint8 // 0-100
	Randomness         []byte
	Repeat             int
}

// NewABIInput builds the corpus-initializer shape described in §4.D: random
// eligible caller, fixed contract, default ABI tree, `txn_value = 0 iff
// payable else nil`.
func NewABIInput(caller, contract evmtypes.Address, tree *abitree.Node, payable bool) *Input {
	in := &Input{
		Type:      TypeABI,
		Caller:    caller,
		Contract:  contract,
		ABI:       tree,
		SStateIdx: -1,
	}
	if payable {
		zero := evmtypes.U256{}
		in.TxnValue = &zero
	}
	return in
}

// PromoteToStep converts in into a step input resuming the staged state's
// top post-execution context, per §4.D "Step inputs": txn_value is forced
// to zero.
func (in *Input) PromoteToStep() {
	in.Step = true
	zero := evmtypes.U256{}
	in.TxnValue = &zero
}

// Clone deep-copies an Input so the mutator can rewrite a fresh copy
// without disturbing the corpus entry it was drawn from.
func (in *Input) Clone() *Input {
	cp := *in
	if in.TxnValue != nil {
		v := *in.TxnValue
		cp.TxnValue = &v
	}
	cp.Randomness = append([]byte(nil), in.Randomness...)
	cp.Access.Balance = append([]evmtypes.Address(nil), in.Access.Balance...)
	if in.ABI != nil {
		cp.ABI = cloneNode(in.ABI)
	}
	return &cp
}

func cloneNode(n *abitree.Node) *abitree.Node {
	cp := *n
	cp.Bytes = append([]byte(nil), n.Bytes...)
	cp.Children = make([]*abitree.Node, len(n.Children))
	for i, c := range n.Children {
		cp.Children[i] = cloneNode(c)
	}
	return &cp
}

// ConciseInput is the replay-format projection, per §6 "Serialization":
// just enough fields to replay a transaction.
type ConciseInput struct {
	InputType  Type              `json:"input_type"`
	Caller     evmtypes.Address  `json:"caller"`
	Contract   evmtypes.Address  `json:"contract"`
	ABIOrSel   []byte            `json:"abi_or_selector"`
	TxnValue   *string           `json:"txn_value,omitempty"`
	Step       bool              `json:"step"`
	Env        Env               `json:"env"`
	Liq        uint8             `json:"liquidation_percent"`
	Randomness []byte            `json:"randomness"`
	Repeat     int               `json:"repeat"`
	Layer      int               `json:"layer"`
	CallLeak   bool              `json:"call_leak"`
	ReturnData []byte            `json:"return_data,omitempty"`
}

// FromConcise reconstructs a calldata-only Input from its replay
// projection. The original ABI tree's type template is not recoverable
// from the encoded bytes alone, so the ABI field becomes a raw Unknown
// node carrying exactly the bytes that were sent on the wire — sufficient
// to replay the run deterministically even though it cannot be mutated as
// a typed tree afterward.
func FromConcise(ci ConciseInput) *Input {
	in := &Input{
		Type:               ci.InputType,
		Caller:             ci.Caller,
		Contract:           ci.Contract,
		Step:               ci.Step,
		Env:                ci.Env,
		LiquidationPercent: ci.Liq,
		Randomness:         ci.Randomness,
		Repeat:             ci.Repeat,
		SStateIdx:          -1,
	}
	if len(ci.ABIOrSel) > 0 {
		in.ABI = abitree.NewUnknown(ci.ABIOrSel, len(ci.ABIOrSel))
	}
	if ci.TxnValue != nil {
		var v evmtypes.U256
		if err := v.SetFromHex(*ci.TxnValue); err == nil {
			in.TxnValue = &v
		}
	}
	return in
}

// ToConcise projects a full Input down to its replay-relevant fields.
func (in *Input) ToConcise(layer int, callLeak bool, returnData []byte) ConciseInput {
	var abiBytes []byte
	if in.ABI != nil {
		abiBytes = abitree.Encode(in.ABI)
	}
	var value *string
	if in.TxnValue != nil {
		s := in.TxnValue.Hex()
		value = &s
	}
	return ConciseInput{
		InputType:  in.Type,
		Caller:     in.Caller,
		Contract:   in.Contract,
		ABIOrSel:   abiBytes,
		TxnValue:   value,
		Step:       in.Step,
		Env:        in.Env,
		Liq:        in.LiquidationPercent,
		Randomness: in.Randomness,
		Repeat:     in.Repeat,
		Layer:      layer,
		CallLeak:   callLeak,
		ReturnData: returnData,
	}
}
