package chain

import (
	"time"

	"github.com/djkazic/gopow/pkg/chainhash"
)

// AddToMempool validates tx against the current UTXO set and, on success,
// admits it to the mempool. Conflict-resolution mutations (unmarking a
// UTXO, evicting the transaction that previously marked it) are staged in
// local copies and only committed after the value-balance check passes —
// see REDESIGN FLAGS: the reference implementation applies these mutations
// before the balance check and can leave utxos/mempool inconsistent on a
// late rejection.
func (bc *Blockchain) AddToMempool(tx Transaction) error {
	seen := make(map[chainhash.Hash]struct{}, len(tx.Inputs))
	var sumInputs, sumOutputs uint64

	toUnmark := make(map[chainhash.Hash]struct{})
	evict := make(map[chainhash.Hash]struct{})

	for _, in := range tx.Inputs {
		if _, dup := seen[in.PrevOutputHash]; dup {
			return newErr(InvalidTransaction, "transaction references the same output twice")
		}
		seen[in.PrevOutputHash] = struct{}{}

		entry, ok := bc.utxos[in.PrevOutputHash]
		if !ok {
			return newErr(InvalidTransaction, "referenced output does not exist")
		}
		sumInputs += entry.Output.Value

		if entry.Marked {
			marker, found := bc.findMempoolMarker(in.PrevOutputHash)
			if found {
				evict[marker] = struct{}{}
				for _, pin := range bc.mempoolTx(marker).Inputs {
					toUnmark[pin.PrevOutputHash] = struct{}{}
				}
			} else {
				toUnmark[in.PrevOutputHash] = struct{}{}
			}
		}
	}

	for _, out := range tx.Outputs {
		sumOutputs += out.Value
	}
	if sumOutputs > sumInputs {
		return newErr(InvalidTransaction, "outputs exceed inputs")
	}

	// Every check has passed: commit the staged conflict-resolution
	// mutations, then admit tx.
	for txHash := range evict {
		bc.removeMempoolEntry(txHash)
	}
	for outputHash := range toUnmark {
		if e, ok := bc.utxos[outputHash]; ok {
			e.Marked = false
			bc.utxos[outputHash] = e
		}
	}
	for _, in := range tx.Inputs {
		if e, ok := bc.utxos[in.PrevOutputHash]; ok {
			e.Marked = true
			bc.utxos[in.PrevOutputHash] = e
		}
	}

	bc.mempool = append(bc.mempool, mempoolEntry{AdmittedAt: time.Now(), Tx: tx})
	bc.sortMempoolByFee()
	return nil
}

// findMempoolMarker returns the hash of the single mempool transaction
// that currently marks outputHash — the one spending it as one of its own
// inputs — if any. That transaction is the one a conflicting resubmission
// must evict, regardless of whether outputHash itself was produced by a
// confirmed block or by another mempool transaction.
func (bc *Blockchain) findMempoolMarker(outputHash chainhash.Hash) (chainhash.Hash, bool) {
	for _, e := range bc.mempool {
		for _, in := range e.Tx.Inputs {
			if in.PrevOutputHash == outputHash {
				return e.Tx.Hash(), true
			}
		}
	}
	return chainhash.Hash{}, false
}

// mempoolTx returns the transaction in the mempool whose hash is txHash.
// Callers only invoke this after confirming existence via
// findMempoolMarker.
func (bc *Blockchain) mempoolTx(txHash chainhash.Hash) Transaction {
	for _, e := range bc.mempool {
		if e.Tx.Hash() == txHash {
			return e.Tx
		}
	}
	return Transaction{}
}

// removeMempoolEntry drops the mempool entry whose transaction hash is
// txHash.
func (bc *Blockchain) removeMempoolEntry(txHash chainhash.Hash) {
	kept := bc.mempool[:0]
	for _, e := range bc.mempool {
		if e.Tx.Hash() == txHash {
			continue
		}
		kept = append(kept, e)
	}
	bc.mempool = kept
}

// CleanupMempool drops every entry older than MaxMempoolTransactionAge,
// unmarking the UTXOs each dropped entry's inputs had marked.
func (bc *Blockchain) CleanupMempool(now time.Time) {
	kept := bc.mempool[:0]
	for _, e := range bc.mempool {
		if now.Sub(e.AdmittedAt) > MaxMempoolTransactionAge {
			for _, in := range e.Tx.Inputs {
				if entry, ok := bc.utxos[in.PrevOutputHash]; ok {
					entry.Marked = false
					bc.utxos[in.PrevOutputHash] = entry
				}
			}
			continue
		}
		kept = append(kept, e)
	}
	bc.mempool = kept
}

// MempoolSize returns the number of pending transactions.
func (bc *Blockchain) MempoolSize() int {
	return len(bc.mempool)
}

// MempoolTail returns up to n transactions from the back of the
// fee-sorted mempool — the highest-fee candidates for template
// composition — without removing them.
func (bc *Blockchain) MempoolTail(n int) []Transaction {
	if n > len(bc.mempool) {
		n = len(bc.mempool)
	}
	out := make([]Transaction, 0, n)
	for i := len(bc.mempool) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, bc.mempool[i].Tx)
	}
	return out
}
