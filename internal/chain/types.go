// Package chain implements the chain state engine: the transaction and
// block data model, block admission, mempool management, and difficulty
// retargeting.
package chain

import (
	"time"

	"github.com/google/uuid"

	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/pkg/chainhash"
)

// TransactionOutput is a single spendable value locked to a public key. The
// UniqueID exists purely so that two outputs identical in value and owner
// (most commonly two coinbase outputs) still hash to distinct values.
type TransactionOutput struct {
	Value    uint64        `cbor:"1,keyasint"`
	UniqueID uuid.UUID     `cbor:"2,keyasint"`
	Pubkey   keys.PublicKey `cbor:"3,keyasint"`
}

// Hash returns the canonical hash identifying this output, used both as a
// UTXO set key and as the value a TransactionInput references.
func (o TransactionOutput) Hash() chainhash.Hash {
	return chainhash.Sum(o)
}

// NewTransactionOutput builds an output with a fresh random unique ID.
func NewTransactionOutput(value uint64, pubkey keys.PublicKey) TransactionOutput {
	return TransactionOutput{
		Value:    value,
		UniqueID: uuid.New(),
		Pubkey:   pubkey,
	}
}

// TransactionInput references a prior output by hash and proves the right
// to spend it with a signature over that same hash.
type TransactionInput struct {
	PrevOutputHash chainhash.Hash  `cbor:"1,keyasint"`
	Signature      keys.Signature `cbor:"2,keyasint"`
}

// Transaction is an ordered list of inputs spending prior outputs and an
// ordered list of new outputs they create.
type Transaction struct {
	Inputs  []TransactionInput  `cbor:"1,keyasint"`
	Outputs []TransactionOutput `cbor:"2,keyasint"`
}

// Hash returns the canonical hash of the transaction.
func (t Transaction) Hash() chainhash.Hash {
	return chainhash.Sum(t)
}

// SignInput signs input i of tx, placing the resulting signature in
// tx.Inputs[i].Signature. The referenced output's hash is the digest
// signed, per the data model.
func (t *Transaction) SignInput(i int, prevOutputHash chainhash.Hash, priv keys.PrivateKey) {
	t.Inputs[i].PrevOutputHash = prevOutputHash
	t.Inputs[i].Signature = priv.Sign(prevOutputHash)
}

// BlockHeader carries everything proof-of-work and chain linkage depend on,
// separately hashable from the block body.
type BlockHeader struct {
	Timestamp     int64          `cbor:"1,keyasint"`
	Nonce         uint64         `cbor:"2,keyasint"`
	PrevBlockHash chainhash.Hash `cbor:"3,keyasint"`
	MerkleRoot    chainhash.Hash `cbor:"4,keyasint"`
	Target        chainhash.Hash `cbor:"5,keyasint"`
}

// Hash returns the canonical hash of the header alone; this is the value
// compared against Target for proof-of-work and used as PrevBlockHash by
// the next block.
func (h BlockHeader) Hash() chainhash.Hash {
	return chainhash.Sum(h)
}

// MatchesTarget reports whether the header's hash satisfies its own target.
func (h BlockHeader) MatchesTarget() bool {
	return h.Hash().Matches(h.Target)
}

// Block is a header plus a non-empty, ordered list of transactions whose
// first element is always the coinbase.
type Block struct {
	Header       BlockHeader   `cbor:"1,keyasint"`
	Transactions []Transaction `cbor:"2,keyasint"`
}

// Hash returns the block's identity, which is simply its header's hash —
// the body is authenticated indirectly via MerkleRoot.
func (b Block) Hash() chainhash.Hash {
	return b.Header.Hash()
}

// Coinbase returns the block's first transaction, the miner-reward entry.
// Callers must only invoke this on a block already known to have at least
// one transaction (enforced during verification).
func (b Block) Coinbase() Transaction {
	return b.Transactions[0]
}

// RecomputeMerkleRoot hashes b.Transactions into a fresh Merkle root,
// independent of whatever value currently sits in b.Header.MerkleRoot.
func (b Block) RecomputeMerkleRoot() chainhash.Hash {
	return chainhash.MerkleRoot(b.Transactions)
}

// Mine performs up to steps nonce increments looking for a header hash that
// satisfies its target, mutating b.Header.Nonce as it searches. It returns
// true if a satisfying nonce was found within steps attempts. On 64-bit
// nonce overflow it wraps to zero and advances Timestamp to now, widening
// the effective search space, matching the mining control loop's overflow
// handling (package miner drives the yielding/looping around this call).
func (b *Block) Mine(steps uint64) bool {
	for i := uint64(0); i < steps; i++ {
		if b.Header.MatchesTarget() {
			return true
		}
		if b.Header.Nonce == ^uint64(0) {
			b.Header.Nonce = 0
			b.Header.Timestamp = time.Now().Unix()
			continue
		}
		b.Header.Nonce++
	}
	return b.Header.MatchesTarget()
}
