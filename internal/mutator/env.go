package mutator

import (
	"github.com/fuzzland/ityfuzz-go/internal/evminput"
	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// mutateEnv rewrites environment fields, but only those the access pattern
// observed being consumed (spec §4.F "Environment fields are only mutated
// if the access pattern saw them consumed"). Timestamp and block number
// are monotonic: they can only increase.
func (m *Mutator) mutateEnv(in *evminput.Input) {
	a := in.Access
	if a.Timestamp {
		in.Env.Timestamp += uint64(m.Rand.Intn(3600))
	}
	if a.Number {
		in.Env.BlockNumber += uint64(m.Rand.Intn(100))
	}
	if a.GasLimit {
		in.Env.GasLimit = uint64(m.Rand.Intn(30_000_000))
	}
	if a.BaseFee {
		in.Env.BaseFee = uint64(m.Rand.Intn(1_000_000_000))
	}
	if a.Coinbase {
		var addr evmtypes.Address
		m.Rand.Read(addr[:])
		in.Env.Coinbase = addr
	}
	if a.ChainID {
		in.Env.ChainID = uint64(m.Rand.Intn(10))
	}
	if a.Prevrandao {
		var h evmtypes.Hash
		m.Rand.Read(h[:])
		in.Env.Prevrandao = h
	}
	if a.GasPrice {
		in.Env.GasPrice = uint64(m.Rand.Intn(200) + 1)
	}
	if a.CallValue && in.TxnValue != nil {
		v := in.TxnValue.Uint64()
		v += uint64(m.Rand.Intn(1000))
		in.TxnValue.SetUint64(v)
	}
	if a.Caller && m.Callers != nil && len(m.Callers.Addresses) > 0 {
		in.Caller = m.Callers.Random(m.Rand.Int())
	}
}
