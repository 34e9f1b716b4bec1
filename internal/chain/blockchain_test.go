package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/djkazic/gopow/pkg/chainhash"
)

func TestGenesisAcceptance(t *testing.T) {
	bc := New()
	minerPriv := mustKey(t)
	minerPub := minerPriv.PublicKey()

	block := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(block); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	if bc.Height() != 1 {
		t.Fatalf("height = %d, want 1", bc.Height())
	}

	utxos := bc.UTXOsFor(minerPub.Bytes())
	if len(utxos) != 1 {
		t.Fatalf("expected exactly one new UTXO, got %d", len(utxos))
	}
	if utxos[0].Output.Value != 50*RewardScale {
		t.Fatalf("coinbase value = %d, want %d", utxos[0].Output.Value, 50*RewardScale)
	}
	if utxos[0].Marked {
		t.Fatal("fresh coinbase UTXO should not be marked")
	}
}

func TestEmptyBlockRejected(t *testing.T) {
	bc := New()
	block := Block{Header: BlockHeader{Target: chainhash.MinTarget}, Transactions: nil}
	if err := bc.AddBlock(block); err == nil {
		t.Fatal("expected empty block to be rejected")
	}
}

func TestBadLinkageRejected(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()
	block := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	block.Header.PrevBlockHash[0] ^= 0xff
	block.Header.Nonce = 0
	mineHeader(t, &block.Header)
	if err := bc.AddBlock(block); err == nil {
		t.Fatal("expected bad prev_block_hash to be rejected")
	}
}

func TestStaleTimestampRejected(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()
	genesis := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis AddBlock: %v", err)
	}

	stale := nextBlock(t, bc, minerPub, nil, 1000)
	err := bc.AddBlock(stale)
	if err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
	if k, ok := KindOf(err); !ok || k != InvalidBlock {
		t.Fatalf("expected InvalidBlock, got %v", err)
	}
	if bc.Height() != 1 {
		t.Fatal("rejected block must not mutate chain height")
	}
}

func TestMerkleRootMismatchRejected(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()
	block := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	block.Header.MerkleRoot[0] ^= 0xff
	block.Header.Nonce = 0
	mineHeader(t, &block.Header)
	if err := bc.AddBlock(block); err == nil {
		t.Fatal("expected merkle root mismatch to be rejected")
	}
}

func TestCoinbaseOnlyBlockAcceptedWithZeroFees(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()
	genesis := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	next := nextBlock(t, bc, minerPub, nil, 1001)
	if err := bc.AddBlock(next); err != nil {
		t.Fatalf("coinbase-only block rejected: %v", err)
	}
}

func TestCoinbaseWrongValueRejected(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()
	genesis := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	coinbase := Transaction{
		Inputs:  []TransactionInput{{PrevOutputHash: chainhash.Zero}},
		Outputs: []TransactionOutput{NewTransactionOutput(BlockReward(1)+1, minerPub)},
	}
	header := BlockHeader{
		Timestamp:     1001,
		PrevBlockHash: bc.LastBlockHash(),
		MerkleRoot:    chainhash.MerkleRoot([]Transaction{coinbase}),
		Target:        bc.Target(),
	}
	mineHeader(t, &header)
	block := Block{Header: header, Transactions: []Transaction{coinbase}}

	err := bc.AddBlock(block)
	if err == nil {
		t.Fatal("expected over-paid coinbase to be rejected")
	}
	if k, ok := KindOf(err); !ok || k != InvalidTransaction {
		t.Fatalf("expected InvalidTransaction, got %v", err)
	}
}

func TestSpendAndFeeAccounting(t *testing.T) {
	bc := New()
	aliceePriv := mustKey(t)
	alicePub := aliceePriv.PublicKey()
	bobPub := mustKey(t).PublicKey()

	genesis := genesisBlock(t, alicePub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	coinbaseOut := genesis.Coinbase().Outputs[0]
	const spendValue = 100
	tx := spend(coinbaseOut, aliceePriv, bobPub, coinbaseOut.Value-spendValue)

	next := nextBlock(t, bc, alicePub, []Transaction{tx}, 1001)
	if err := bc.AddBlock(next); err != nil {
		t.Fatalf("spend block rejected: %v", err)
	}

	if _, _, ok := bc.UTXO(coinbaseOut.Hash()); ok {
		t.Fatal("spent output should have been removed from the UTXO set")
	}
	bobUTXOs := bc.UTXOsFor(bobPub.Bytes())
	if len(bobUTXOs) != 1 || bobUTXOs[0].Output.Value != coinbaseOut.Value-spendValue {
		t.Fatalf("unexpected bob UTXOs: %+v", bobUTXOs)
	}
}

func TestSameBlockCrossTransactionDoubleSpendRejected(t *testing.T) {
	bc := New()
	aliceePriv := mustKey(t)
	alicePub := aliceePriv.PublicKey()
	bobPub := mustKey(t).PublicKey()
	carolPub := mustKey(t).PublicKey()

	genesis := genesisBlock(t, alicePub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	coinbaseOut := genesis.Coinbase().Outputs[0]

	txA := spend(coinbaseOut, aliceePriv, bobPub, 100)
	txB := spend(coinbaseOut, aliceePriv, carolPub, 200)

	next := nextBlock(t, bc, alicePub, []Transaction{txA, txB}, 1001)
	err := bc.AddBlock(next)
	if err == nil {
		t.Fatal("expected same-block cross-transaction double spend to be rejected")
	}
	if k, ok := KindOf(err); !ok || k != InvalidTransaction {
		t.Fatalf("expected InvalidTransaction, got %v", err)
	}
}

// TestMempoolDoubleSpendReplacesEarlierTransaction covers the mempool
// conflict-resolution scenario against a *confirmed* UTXO: TxA admits
// spending the genesis coinbase, marking it; TxB, submitted later,
// spends the same coinbase output. TxB must evict TxA rather than
// leaving both transactions admitted.
func TestMempoolDoubleSpendReplacesEarlierTransaction(t *testing.T) {
	bc := New()
	alicePriv := mustKey(t)
	alicePub := alicePriv.PublicKey()
	bobPub := mustKey(t).PublicKey()
	carolPub := mustKey(t).PublicKey()

	genesis := genesisBlock(t, alicePub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	coinbaseOut := genesis.Coinbase().Outputs[0]

	txA := spend(coinbaseOut, alicePriv, bobPub, 100)
	if err := bc.AddToMempool(txA); err != nil {
		t.Fatalf("AddToMempool(txA): %v", err)
	}

	txB := spend(coinbaseOut, alicePriv, carolPub, 200)
	if err := bc.AddToMempool(txB); err != nil {
		t.Fatalf("AddToMempool(txB): %v", err)
	}

	if bc.MempoolSize() != 1 {
		t.Fatalf("mempool size = %d, want 1 (txA should have been evicted)", bc.MempoolSize())
	}
	tail := bc.MempoolTail(bc.MempoolSize())
	if len(tail) != 1 || tail[0].Hash() != txB.Hash() {
		t.Fatalf("mempool should contain only txB, got %+v", tail)
	}

	_, marked, ok := bc.UTXO(coinbaseOut.Hash())
	if !ok {
		t.Fatal("coinbase UTXO should still exist, marked by txB")
	}
	if !marked {
		t.Fatal("coinbase UTXO should be marked as spent by txB")
	}
}

func TestInvalidSignatureRejected(t *testing.T) {
	bc := New()
	alicePriv := mustKey(t)
	alicePub := alicePriv.PublicKey()
	bobPriv := mustKey(t)
	bobPub := bobPriv.PublicKey()

	genesis := genesisBlock(t, alicePub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	coinbaseOut := genesis.Coinbase().Outputs[0]

	tx := spend(coinbaseOut, bobPriv, bobPub, coinbaseOut.Value)
	next := nextBlock(t, bc, alicePub, []Transaction{tx}, 1001)
	err := bc.AddBlock(next)
	if err == nil {
		t.Fatal("expected wrong-signer transaction to be rejected")
	}
	if k, ok := KindOf(err); !ok || k != InvalidSignature {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}
}

func TestHalving(t *testing.T) {
	if BlockReward(HalvingInterval-1) != 50*RewardScale {
		t.Fatalf("reward before first halving = %d, want %d", BlockReward(HalvingInterval-1), 50*RewardScale)
	}
	if BlockReward(HalvingInterval) != 25*RewardScale {
		t.Fatalf("reward at first halving = %d, want %d", BlockReward(HalvingInterval), 25*RewardScale)
	}
	if BlockReward(2*HalvingInterval) != (50*RewardScale)/4 {
		t.Fatalf("reward at height 2*HalvingInterval = %d, want %d", BlockReward(2*HalvingInterval), (50*RewardScale)/4)
	}
}

func TestDifficultyDecreaseOnSlowBlocks(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()

	ts := int64(1000)
	genesis := genesisBlock(t, minerPub, chainhash.MinTarget, ts)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	for i := 1; i < DifficultyUpdateInterval; i++ {
		ts += 40
		b := nextBlock(t, bc, minerPub, nil, ts)
		if err := bc.AddBlock(b); err != nil {
			t.Fatalf("block %d: %v", i, err)
		}
	}

	if bc.Target() != chainhash.MinTarget {
		t.Fatalf("target should remain capped at MinTarget when actual_seconds/target_seconds would increase it beyond the easiest target, got %s", bc.Target())
	}
}

func TestDifficultyClampsAtQuadruple(t *testing.T) {
	// Seed a chain whose target is at most a quarter of MinTarget so a
	// slowdown can actually be observed increasing by the full 4x (not
	// just re-capped at MinTarget).
	bc := New()
	bc.target = chainhash.FromBig(chainhash.MinTarget.Big())
	quarter := new(bigIntHelper).halve(new(bigIntHelper).halve(bc.target.Big()))
	bc.target = chainhash.FromBig(quarter)

	minerPub := mustKey(t).PublicKey()
	ts := int64(1000)
	genesis := genesisBlock(t, minerPub, bc.target, ts)
	bc.blocks = append(bc.blocks, genesis)

	startTarget := bc.target
	for i := 1; i < DifficultyUpdateInterval; i++ {
		ts += 45
		b := nextBlock(t, bc, minerPub, nil, ts)
		bc.blocks = append(bc.blocks, b)
		for _, out := range b.Transactions[0].Outputs {
			bc.utxos[out.Hash()] = utxoEntry{Output: out}
		}
	}
	bc.retarget()

	quadrupled := new(bigIntHelper).mulN(startTarget.Big(), 4)
	if bc.Target().Big().Cmp(quadrupled) != 0 {
		t.Fatalf("target = %s, want exactly 4x start (%s)", bc.Target().Big(), quadrupled)
	}
}

func TestRebuildUTXOsIdempotent(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()
	genesis := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	bc.RebuildUTXOs()
	first := len(bc.utxos)
	bc.RebuildUTXOs()
	second := len(bc.utxos)
	if first != second {
		t.Fatalf("RebuildUTXOs not idempotent: %d != %d", first, second)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	bc := New()
	minerPub := mustKey(t).PublicKey()
	genesis := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}

	snap := bc.Snapshot()
	restored := New()
	restored.LoadSnapshot(snap)

	if restored.Height() != bc.Height() {
		t.Fatalf("restored height = %d, want %d", restored.Height(), bc.Height())
	}
	utxos := restored.UTXOsFor(minerPub.Bytes())
	if len(utxos) != 1 {
		t.Fatalf("restored chain should have one UTXO for the miner, got %d", len(utxos))
	}
}

func TestCleanupMempoolDropsStaleEntries(t *testing.T) {
	bc := New()
	minerPriv := mustKey(t)
	minerPub := minerPriv.PublicKey()
	recipient := mustKey(t).PublicKey()

	genesis := genesisBlock(t, minerPub, chainhash.MinTarget, 1000)
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	coinbaseOut := genesis.Coinbase().Outputs[0]
	tx := spend(coinbaseOut, minerPriv, recipient, coinbaseOut.Value)
	if err := bc.AddToMempool(tx); err != nil {
		t.Fatalf("AddToMempool: %v", err)
	}
	bc.mempool[0].AdmittedAt = time.Now().Add(-2 * MaxMempoolTransactionAge)

	bc.CleanupMempool(time.Now())
	if bc.MempoolSize() != 0 {
		t.Fatalf("expected stale entry to be dropped, mempool size = %d", bc.MempoolSize())
	}
	out, marked, ok := bc.UTXO(coinbaseOut.Hash())
	if !ok || marked {
		t.Fatalf("expected coinbase UTXO to be unmarked after cleanup, got marked=%v value=%v", marked, out.Value)
	}
}

// bigIntHelper is a tiny adapter around math/big used only by the
// difficulty clamp test.
type bigIntHelper struct{}

func (bigIntHelper) halve(n *big.Int) *big.Int {
	return new(big.Int).Rsh(n, 1)
}

func (bigIntHelper) mulN(n *big.Int, factor int64) *big.Int {
	return new(big.Int).Mul(n, big.NewInt(factor))
}
