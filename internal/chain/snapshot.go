package chain

import "github.com/djkazic/gopow/pkg/chainhash"

// Snapshot is the CBOR-serializable projection of chain state persisted by
// package storage. The mempool is deliberately excluded: it is
// reconstructed from live traffic, not replayed from disk.
type Snapshot struct {
	Blocks []Block        `cbor:"1,keyasint"`
	Target chainhash.Hash `cbor:"2,keyasint"`
}

// Snapshot captures the current blocks and target for persistence.
func (bc *Blockchain) Snapshot() Snapshot {
	blocks := make([]Block, len(bc.blocks))
	copy(blocks, bc.blocks)
	return Snapshot{Blocks: blocks, Target: bc.target}
}

// LoadSnapshot replaces bc's blocks and target with snap's, then rebuilds
// the UTXO set from the restored blocks. The mempool is left empty.
func (bc *Blockchain) LoadSnapshot(snap Snapshot) {
	bc.blocks = snap.Blocks
	bc.target = snap.Target
	bc.mempool = nil
	bc.RebuildUTXOs()
}
