// Package chainhash implements the single canonical hashing scheme used
// throughout the chain: every consensus-relevant value is hashed by
// CBOR-encoding it in deterministic form and taking SHA-256 of the result.
package chainhash

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Size is the length in bytes of a Hash.
const Size = 32

// canonicalMode is the single CBOR encoder used for every hashed type and
// every wire message. Deterministic map key ordering and shortest-form
// integers make two independently-built nodes agree bit-for-bit.
var canonicalMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// Hash is a 256-bit unsigned integer, stored big-endian, interpreted as a
// SHA-256 digest. It is compared numerically against a Target.
type Hash [Size]byte

// Zero is the all-zero hash, used as the previous-block-hash of genesis.
var Zero = Hash{}

// MinTarget is the easiest permitted difficulty: the upper 16 bits zero,
// the remaining 240 bits one (2^240 - 1).
var MinTarget = func() Hash {
	var t Hash
	for i := 2; i < Size; i++ {
		t[i] = 0xff
	}
	return t
}()

// Canonicalize encodes v using the fixed canonical CBOR encoding shared by
// hashing and wire framing.
func Canonicalize(v interface{}) ([]byte, error) {
	return canonicalMode.Marshal(v)
}

// Sum hashes v's canonical encoding with SHA-256. It panics if v cannot be
// encoded, which indicates a programmer error (an un-encodable consensus
// type), not a runtime condition callers should recover from.
func Sum(v interface{}) Hash {
	encoded, err := Canonicalize(v)
	if err != nil {
		panic("chainhash: cannot canonicalize value: " + err.Error())
	}
	digest := sha256.Sum256(encoded)
	return Hash(digest)
}

// Matches reports whether h, read as a big-endian unsigned integer, is at
// most target — the proof-of-work and retargeting comparison used
// everywhere in the chain.
func (h Hash) Matches(target Hash) bool {
	return h.Big().Cmp(target.Big()) <= 0
}

// Big returns h as a big-endian unsigned integer.
func (h Hash) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Zero
}

// String returns h as a lowercase hex string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// FromBig converts an unsigned integer no larger than 2^256-1 into a Hash,
// left-padding with zero bytes. Used by the difficulty retargeting math in
// package chain, which operates on big.Int/big.Rat intermediates.
func FromBig(n *big.Int) Hash {
	var h Hash
	b := n.Bytes()
	if len(b) > Size {
		b = b[len(b)-Size:]
	}
	copy(h[Size-len(b):], b)
	return h
}
