package evminput

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// CallerPool derives a fixed set of "eligible caller" EOAs deterministically
// from a campaign mnemonic, per the DOMAIN STACK wiring of btcsuite/btcd and
// tyler-smith/go-bip39: the fuzzer needs reproducible attacker addresses
// across runs of the same seed, the way a test harness derives funded test
// accounts from a fixed mnemonic.
type CallerPool struct {
	Addresses []evmtypes.Address
	keys      []*btcec.PrivateKey
}

// NewCallerPool derives n addresses from mnemonic using BIP-39 seed bytes
// as sequential HMAC-style key material: seed || index is hashed down to a
// secp256k1 scalar, avoiding a full BIP-32 derivation tree since the
// fuzzer only needs a flat pool of independent keys, not a wallet hierarchy.
func NewCallerPool(mnemonic string, n int) (*CallerPool, error) {
	seed := bip39.NewSeed(mnemonic, "")
	pool := &CallerPool{}
	for i := 0; i < n; i++ {
		material := append(append([]byte(nil), seed...), byte(i), byte(i>>8))
		h := sha3.NewLegacyKeccak256()
		h.Write(material)
		digest := h.Sum(nil)
		priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), digest)
		pool.keys = append(pool.keys, priv)
		pool.Addresses = append(pool.Addresses, addressFromPubkey(priv))
	}
	return pool, nil
}

func addressFromPubkey(priv *btcec.PrivateKey) evmtypes.Address {
	pub := priv.PubKey().SerializeUncompressed()[1:] // drop the 0x04 prefix
	hash := evmtypes.Keccak256(pub)
	return evmtypes.BytesToAddress(hash[12:])
}

// Random returns a uniformly chosen caller using the supplied index
// function (typically a PRNG's Intn(len(pool.Addresses))).
func (p *CallerPool) Random(idx int) evmtypes.Address {
	if len(p.Addresses) == 0 {
		return evmtypes.Address{}
	}
	return p.Addresses[idx%len(p.Addresses)]
}
