package middleware

import (
	mapset "github.com/deckarep/golang-set"

	"github.com/fuzzland/ityfuzz-go/internal/evmstate"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
	"github.com/fuzzland/ityfuzz-go/internal/evmvm"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var onchainLog = ilog.New("component", "middleware.onchain")

// Connector is the subset of internal/onchain.Connector this middleware
// consumes (spec §4.I's "consumed interface"), kept local so middleware
// does not import the connector package directly.
type Connector interface {
	FetchSlot(addr evmtypes.Address, slot evmtypes.U256) (evmtypes.U256, error)
	FetchCode(addr evmtypes.Address) ([]byte, error)
	FetchBalance(addr evmtypes.Address) (evmtypes.U256, error)
}

// ForceCacheThreshold bounds how many distinct targets are fetched per call
// site before the OnChain middleware stops refetching, per §4.C.
const ForceCacheThreshold = 16

// OnChain lazily fetches unknown state from a Connector and caches it on
// the VMState, per spec §4.C.
type OnChain struct {
	State     *evmstate.VMState
	Conn      Connector
	fetchedSites map[evmtypes.Address]mapset.Set
}

func NewOnChain(state *evmstate.VMState, conn Connector) *OnChain {
	return &OnChain{State: state, Conn: conn, fetchedSites: make(map[evmtypes.Address]mapset.Set)}
}

func (o *OnChain) Type() string { return "onchain" }

func (o *OnChain) OnStep(h *evmvm.Host, frame *evmvm.Frame) error {
	if o.Conn == nil {
		return nil
	}
	switch frame.Op {
	case evmvm.SLOAD:
		// The interpreter has not yet popped the slot off the stack at
		// OnStep time, so this hook only ensures code for the active
		// address is warm; no slot is fetched here or in the
		// interpreter's SLOAD, which reads unset slots as zero.
		o.ensureCode(h, frame.Address)
	case evmvm.EXTCODESIZE, evmvm.EXTCODECOPY, evmvm.EXTCODEHASH,
		evmvm.CALL, evmvm.CALLCODE, evmvm.DELEGATECALL, evmvm.STATICCALL:
		o.ensureCode(h, frame.Address)
	}
	return nil
}

func (o *OnChain) ensureCode(h *evmvm.Host, addr evmtypes.Address) {
	if _, ok := h.Code(addr); ok {
		return
	}
	set, ok := o.fetchedSites[addr]
	if !ok {
		set = mapset.NewSet()
		o.fetchedSites[addr] = set
	}
	if set.Cardinality() >= ForceCacheThreshold {
		return
	}
	set.Add(addr)
	code, err := o.Conn.FetchCode(addr)
	if err != nil {
		onchainLog.Debug("fetch code failed", "addr", addr.Hex(), "err", err)
		return
	}
	h.RegisterCode(addr, code)
}

// FetchSlotIfMissing fetches (addr, slot) from the connector and caches it
// on the VMState. The interpreter's SLOAD does not call it.
func (o *OnChain) FetchSlotIfMissing(addr evmtypes.Address, slot evmtypes.U256) evmtypes.U256 {
	if o.Conn == nil {
		return evmtypes.U256{}
	}
	v, err := o.Conn.FetchSlot(addr, slot)
	if err != nil {
		onchainLog.Debug("fetch slot failed", "addr", addr.Hex(), "err", err)
		return evmtypes.U256{}
	}
	o.State.SetStorage(addr, slot, v)
	return v
}

func (o *OnChain) OnReturn(h *evmvm.Host, frame *evmvm.Frame, ret []byte) error { return nil }

func (o *OnChain) OnInsert(h *evmvm.Host, code []byte, addr evmtypes.Address) error { return nil }
