package chain

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/djkazic/gopow/pkg/chainhash"
)

// Consensus-critical constants. Every peer validating blocks must agree on
// these values.
const (
	InitialReward            = 50
	RewardScale               = 100_000_000
	HalvingInterval           = 210
	IdealBlockTimeSeconds     = 10
	DifficultyUpdateInterval  = 50
)

// MaxMempoolTransactionAge is a local policy knob, not consensus-critical:
// peers may run cleanup_mempool on different schedules without disagreeing
// about which blocks are valid.
const MaxMempoolTransactionAge = 600 * time.Second

// utxoEntry is the value half of the UTXO map: the output itself plus
// whether some mempool transaction currently proposes to spend it.
type utxoEntry struct {
	Marked bool
	Output TransactionOutput
}

// mempoolEntry pairs a pending transaction with its admission time, so
// cleanup_mempool can evict stale entries.
type mempoolEntry struct {
	AdmittedAt time.Time
	Tx         Transaction
}

// Blockchain is the full mutable chain state: the admitted block list,
// current difficulty target, UTXO set, and mempool. All mutating methods
// assume external synchronization (package node's single mutex); this type
// is not safe for concurrent use on its own.
type Blockchain struct {
	blocks  []Block
	target  chainhash.Hash
	utxos   map[chainhash.Hash]utxoEntry
	mempool []mempoolEntry
}

// New returns an empty chain state, with difficulty seeded at the easiest
// permissible target.
func New() *Blockchain {
	return &Blockchain{
		target: chainhash.MinTarget,
		utxos:  make(map[chainhash.Hash]utxoEntry),
	}
}

// Height returns the number of admitted blocks.
func (bc *Blockchain) Height() int {
	return len(bc.blocks)
}

// Target returns the current difficulty target.
func (bc *Blockchain) Target() chainhash.Hash {
	return bc.target
}

// UTXOSetSize returns the number of entries in the UTXO set, including
// unspent outputs currently marked by a mempool transaction.
func (bc *Blockchain) UTXOSetSize() int {
	return len(bc.utxos)
}

// Block returns the admitted block at height, or false if out of range.
func (bc *Blockchain) Block(height int) (Block, bool) {
	if height < 0 || height >= len(bc.blocks) {
		return Block{}, false
	}
	return bc.blocks[height], true
}

// LastBlock returns the most recently admitted block, or false on an empty
// chain.
func (bc *Blockchain) LastBlock() (Block, bool) {
	if len(bc.blocks) == 0 {
		return Block{}, false
	}
	return bc.blocks[len(bc.blocks)-1], true
}

// LastBlockHash returns the hash of the most recently admitted block, or
// chainhash.Zero for an empty chain (the expected prev-hash of genesis).
func (bc *Blockchain) LastBlockHash() chainhash.Hash {
	if b, ok := bc.LastBlock(); ok {
		return b.Hash()
	}
	return chainhash.Zero
}

// UTXO looks up the entry for outputHash, reporting whether it exists.
func (bc *Blockchain) UTXO(outputHash chainhash.Hash) (output TransactionOutput, marked bool, ok bool) {
	e, found := bc.utxos[outputHash]
	if !found {
		return TransactionOutput{}, false, false
	}
	return e.Output, e.Marked, true
}

// UTXOsFor returns every unspent output locked to pubkey, along with its
// marked status — the data backing a FetchUTXOS response.
func (bc *Blockchain) UTXOsFor(pubkeyBytes []byte) []UTXOView {
	var out []UTXOView
	for _, e := range bc.utxos {
		if bytes.Equal(e.Output.Pubkey.Bytes(), pubkeyBytes) {
			out = append(out, UTXOView{Output: e.Output, Marked: e.Marked})
		}
	}
	return out
}

// UTXOView is a read-only projection of a UTXO set entry.
type UTXOView struct {
	Output TransactionOutput
	Marked bool
}

// BlockReward computes the coinbase subsidy for a block admitted at height
// h, per the halving schedule. Integer division; the subsidy reaches zero
// once 2^(h/HalvingInterval) exceeds InitialReward*RewardScale.
func BlockReward(height int) uint64 {
	halvings := height / HalvingInterval
	reward := uint64(InitialReward) * uint64(RewardScale)
	if halvings >= 64 {
		return 0
	}
	return reward >> uint(halvings)
}

// AddBlock validates block against the current chain state and, on
// success, admits it: pruning the mempool, applying the UTXO delta,
// appending the block, and retargeting difficulty. Validation runs to
// completion before any mutation, so a rejected block leaves all state
// untouched.
func (bc *Blockchain) AddBlock(block Block) error {
	height := bc.Height()

	// 1. Linkage.
	expectedPrev := chainhash.Zero
	var prevTimestamp int64
	if height > 0 {
		last := bc.blocks[height-1]
		expectedPrev = last.Hash()
		prevTimestamp = last.Header.Timestamp
	}
	if block.Header.PrevBlockHash != expectedPrev {
		return newErr(InvalidBlock, "prev_block_hash does not match chain tip")
	}

	// 2. Proof of work.
	if !block.Header.MatchesTarget() {
		return newErr(InvalidBlock, "header hash does not satisfy its target")
	}

	// 3. Merkle root.
	if len(block.Transactions) == 0 {
		return newErr(InvalidBlock, "block has no transactions")
	}
	if block.RecomputeMerkleRoot() != block.Header.MerkleRoot {
		return newErr(InvalidBlock, "merkle root mismatch")
	}

	// 4. Timestamp: strictly greater than the previous block's, checked as
	// its own unconditional step (see REDESIGN FLAGS).
	if height > 0 && block.Header.Timestamp <= prevTimestamp {
		return newErr(InvalidBlock, "timestamp does not strictly advance")
	}

	// 5. Transaction set.
	if err := verifyTransactions(block, bc.utxos, height); err != nil {
		return err
	}

	// All checks passed: apply the UTXO delta, prune the mempool, append.
	for _, tx := range block.Transactions[1:] {
		for _, in := range tx.Inputs {
			delete(bc.utxos, in.PrevOutputHash)
		}
	}
	for _, tx := range block.Transactions {
		for _, out := range tx.Outputs {
			bc.utxos[out.Hash()] = utxoEntry{Output: out}
		}
	}

	bc.pruneMempool(block.Transactions)
	bc.blocks = append(bc.blocks, block)
	bc.retarget()

	return nil
}

// pruneMempool removes every mempool entry whose transaction hash appears
// in included, leaving the rest (and their UTXO marks) untouched.
func (bc *Blockchain) pruneMempool(included []Transaction) {
	if len(bc.mempool) == 0 {
		return
	}
	includedHashes := make(map[chainhash.Hash]struct{}, len(included))
	for _, tx := range included {
		includedHashes[tx.Hash()] = struct{}{}
	}
	kept := bc.mempool[:0]
	for _, e := range bc.mempool {
		if _, done := includedHashes[e.Tx.Hash()]; done {
			continue
		}
		kept = append(kept, e)
	}
	bc.mempool = kept
}

// VerifyTransactionsForValidation re-runs the transaction-set checks from
// §4.4/§4.5 against bc's current UTXO view, without touching proof-of-work
// or mutating any state. Used by the node dispatcher's ValidateTemplate,
// which must judge a template before the miner has found a satisfying
// nonce.
func VerifyTransactionsForValidation(block Block, bc *Blockchain, height int) error {
	return verifyTransactions(block, bc.utxos, height)
}

// verifyTransactions validates block.Transactions against utxos and the
// predicted admission height, per §4.4/§4.5. It never mutates utxos.
func verifyTransactions(block Block, utxos map[chainhash.Hash]utxoEntry, height int) error {
	if len(block.Transactions) == 0 {
		return newErr(InvalidBlock, "block has no transactions")
	}

	var totalFees uint64
	seenInputs := make(map[chainhash.Hash]struct{})

	for i, tx := range block.Transactions[1:] {
		idx := i + 1
		if len(tx.Inputs) == 0 {
			return newErr(InvalidTransaction, "transaction has no inputs")
		}

		var sumInputs, sumOutputs uint64
		for _, in := range tx.Inputs {
			if _, dup := seenInputs[in.PrevOutputHash]; dup {
				return newErr(InvalidTransaction, "double spend within block")
			}
			seenInputs[in.PrevOutputHash] = struct{}{}

			entry, ok := utxos[in.PrevOutputHash]
			if !ok {
				return newErr(InvalidTransaction, "referenced output does not exist")
			}
			if !in.Signature.Verify(in.PrevOutputHash, entry.Output.Pubkey) {
				return newErr(InvalidSignature, "input signature does not verify")
			}
			sumInputs += entry.Output.Value
		}
		for _, out := range tx.Outputs {
			sumOutputs += out.Value
		}
		if sumOutputs > sumInputs {
			return wrapErr(InvalidTransaction, "outputs exceed inputs", fmt.Errorf("transaction index %d", idx))
		}
		totalFees += sumInputs - sumOutputs
	}

	coinbase := block.Coinbase()
	if len(coinbase.Inputs) == 0 {
		return newErr(InvalidTransaction, "coinbase has no inputs")
	}
	if len(coinbase.Outputs) == 0 {
		return newErr(InvalidTransaction, "coinbase has no outputs")
	}
	var coinbaseValue uint64
	for _, out := range coinbase.Outputs {
		coinbaseValue += out.Value
	}
	want := BlockReward(height) + totalFees
	if coinbaseValue != want {
		return newErr(InvalidTransaction, "coinbase value does not equal reward plus fees")
	}

	return nil
}

// retarget recomputes bc.target if the chain has just reached a difficulty
// update boundary, per §4.6. Uses math/big.Rat throughout because
// current_target * actual_seconds can overflow 256 bits.
func (bc *Blockchain) retarget() {
	length := len(bc.blocks)
	if length == 0 || length%DifficultyUpdateInterval != 0 {
		return
	}

	startIdx := length - DifficultyUpdateInterval
	tStart := bc.blocks[startIdx].Header.Timestamp
	tEnd := bc.blocks[length-1].Header.Timestamp
	actualSeconds := tEnd - tStart
	targetSeconds := int64(IdealBlockTimeSeconds * DifficultyUpdateInterval)

	current := new(big.Rat).SetInt(bc.target.Big())
	ratio := big.NewRat(actualSeconds, targetSeconds)
	newTarget := new(big.Rat).Mul(current, ratio)

	minAllowed := new(big.Rat).Quo(current, big.NewRat(4, 1))
	maxAllowed := new(big.Rat).Mul(current, big.NewRat(4, 1))
	if newTarget.Cmp(minAllowed) < 0 {
		newTarget = minAllowed
	}
	if newTarget.Cmp(maxAllowed) > 0 {
		newTarget = maxAllowed
	}

	floored := new(big.Int).Quo(newTarget.Num(), newTarget.Denom())
	result := chainhash.FromBig(floored)

	minTargetBig := chainhash.MinTarget.Big()
	if floored.Cmp(minTargetBig) > 0 {
		result = chainhash.MinTarget
	}

	bc.target = result
}

// RebuildUTXOs recomputes the UTXO set from scratch by replaying every
// admitted block in order, discarding any prior marks (mempool state is
// not replayed — this is a cold-start operation run after loading chain
// state from storage, before any mempool entries exist).
func (bc *Blockchain) RebuildUTXOs() {
	utxos := make(map[chainhash.Hash]utxoEntry)
	for _, block := range bc.blocks {
		for i, tx := range block.Transactions {
			if i > 0 {
				for _, in := range tx.Inputs {
					delete(utxos, in.PrevOutputHash)
				}
			}
			for _, out := range tx.Outputs {
				utxos[out.Hash()] = utxoEntry{Output: out}
			}
		}
	}
	bc.utxos = utxos
}

// sortMempoolByFee keeps bc.mempool ascending by implied fee, so the tail
// holds the most profitable candidates for template composition.
func (bc *Blockchain) sortMempoolByFee() {
	sort.SliceStable(bc.mempool, func(i, j int) bool {
		return impliedFee(bc.mempool[i].Tx, bc.utxos) < impliedFee(bc.mempool[j].Tx, bc.utxos)
	})
}

// impliedFee computes sum_inputs - sum_outputs for tx against utxos. Inputs
// whose referenced output is missing contribute zero — this happens for a
// mempool entry whose input an admitted block spent through a different
// transaction; such an entry stays until CleanupMempool drops it.
func impliedFee(tx Transaction, utxos map[chainhash.Hash]utxoEntry) int64 {
	var sumInputs, sumOutputs uint64
	for _, in := range tx.Inputs {
		if e, ok := utxos[in.PrevOutputHash]; ok {
			sumInputs += e.Output.Value
		}
	}
	for _, out := range tx.Outputs {
		sumOutputs += out.Value
	}
	return int64(sumInputs) - int64(sumOutputs)
}
