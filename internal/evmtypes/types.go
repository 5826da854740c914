// Package evmtypes defines the primitive value types shared across the
// fuzzing core: addresses, hashes and 256-bit words. They mirror the
// go-ethereum family's common.Address/common.Hash shape so the rest of the
// tree reads the way the example corpus does, without pulling in the full
// go-ethereum module for a handful of fixed-size arrays.
package evmtypes

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

const (
	AddressLength = 20
	HashLength    = 32
)

// Address is a 20-byte EVM account address.
type Address [AddressLength]byte

// Hash is a 32-byte word, used for storage keys and block/tx hashes.
type Hash [HashLength]byte

// U256 is a 256-bit unsigned word used for storage values, stack items and
// balances.
type U256 = uint256.Int

func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func (a Address) Bytes() []byte { return a[:] }
func (h Hash) Bytes() []byte    { return h[:] }

func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (a Address) String() string { return a.Hex() }
func (h Hash) String() string    { return h.Hex() }

// IsZero reports whether the address is the all-zero sentinel used
// throughout the fuzzing core to mean "unset" / "zero address".
func (a Address) IsZero() bool {
	return a == Address{}
}

// Big returns the value of a hash interpreted as a big-endian integer.
func (h Hash) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// U256FromHash reinterprets a 32-byte hash as a 256-bit word, the
// representation used for storage slots and values alike.
func U256FromHash(h Hash) *U256 {
	var u U256
	u.SetBytes(h[:])
	return &u
}

func HashFromU256(u *U256) Hash {
	return BytesToHash(u.Bytes())
}

// Keccak256 hashes the concatenation of the given byte slices, the hash
// function backing ABI selectors, storage key derivation, and state
// fingerprints throughout the core.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// Selector returns the 4-byte function selector for a Solidity signature,
// e.g. Selector("transfer(address,uint256)").
func Selector(signature string) [4]byte {
	h := Keccak256([]byte(signature))
	var sel [4]byte
	copy(sel[:], h[:4])
	return sel
}

// Checksum renders an address using EIP-55 mixed-case checksumming, used
// purely for human-facing logs and the relations log.
func Checksum(a Address) string {
	hexAddr := hex.EncodeToString(a[:])
	hash := Keccak256([]byte(hexAddr))
	out := make([]byte, len(hexAddr))
	for i, c := range hexAddr {
		if c >= '0' && c <= '9' {
			out[i] = byte(c)
			continue
		}
		// nth hex digit of the hash controls the case of the nth address digit.
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0xf
		}
		if nibble >= 8 {
			out[i] = byte(c - 32) // upper-case
		} else {
			out[i] = byte(c)
		}
	}
	return "0x" + string(out)
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("evmtypes: invalid address %q: %w", text, err)
	}
	*a = BytesToAddress(b)
	return nil
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	s := string(text)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("evmtypes: invalid hash %q: %w", text, err)
	}
	*h = BytesToHash(b)
	return nil
}
