package chain

import (
	"testing"

	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/pkg/chainhash"
)

// mineHeader brute-forces a nonce (and, on overflow, a timestamp bump)
// until the header satisfies its own target. Tests use MinTarget almost
// everywhere so this converges immediately.
func mineHeader(t *testing.T, h *BlockHeader) {
	t.Helper()
	for i := 0; i < 10_000_000; i++ {
		if h.Hash().Matches(h.Target) {
			return
		}
		h.Nonce++
	}
	t.Fatal("failed to mine a header within the test's attempt budget")
}

// genesisBlock builds a valid genesis block paying reward to pub, mined
// against target.
func genesisBlock(t *testing.T, pub keys.PublicKey, target chainhash.Hash, timestamp int64) Block {
	t.Helper()
	coinbase := Transaction{
		Inputs:  []TransactionInput{{PrevOutputHash: chainhash.Zero}},
		Outputs: []TransactionOutput{NewTransactionOutput(BlockReward(0), pub)},
	}
	header := BlockHeader{
		Timestamp:     timestamp,
		PrevBlockHash: chainhash.Zero,
		MerkleRoot:    chainhash.MerkleRoot([]Transaction{coinbase}),
		Target:        target,
	}
	mineHeader(t, &header)
	return Block{Header: header, Transactions: []Transaction{coinbase}}
}

// nextBlock builds a block extending bc's current tip, with the given
// non-coinbase transactions and a coinbase paying minerPub the exact
// reward+fees owed at the predicted height.
func nextBlock(t *testing.T, bc *Blockchain, minerPub keys.PublicKey, txs []Transaction, timestamp int64) Block {
	t.Helper()
	var fees uint64
	for _, tx := range txs {
		var in, out uint64
		for _, i := range tx.Inputs {
			o, _, ok := bc.UTXO(i.PrevOutputHash)
			if !ok {
				t.Fatalf("nextBlock: input references unknown output")
			}
			in += o.Value
		}
		for _, o := range tx.Outputs {
			out += o.Value
		}
		fees += in - out
	}

	height := bc.Height()
	coinbase := Transaction{
		Inputs:  []TransactionInput{{PrevOutputHash: chainhash.Zero}},
		Outputs: []TransactionOutput{NewTransactionOutput(BlockReward(height)+fees, minerPub)},
	}
	all := append([]Transaction{coinbase}, txs...)

	header := BlockHeader{
		Timestamp:     timestamp,
		PrevBlockHash: bc.LastBlockHash(),
		MerkleRoot:    chainhash.MerkleRoot(all),
		Target:        bc.Target(),
	}
	mineHeader(t, &header)
	return Block{Header: header, Transactions: all}
}

// spend builds a single-input, single-output transaction spending
// prevOutput (owned by prevPriv) entirely to recipient.
func spend(prevOutput TransactionOutput, prevPriv keys.PrivateKey, recipient keys.PublicKey, value uint64) Transaction {
	outputHash := prevOutput.Hash()
	tx := Transaction{
		Inputs:  []TransactionInput{{PrevOutputHash: outputHash}},
		Outputs: []TransactionOutput{NewTransactionOutput(value, recipient)},
	}
	tx.Inputs[0].Signature = prevPriv.Sign(outputHash)
	return tx
}

func mustKey(t *testing.T) keys.PrivateKey {
	t.Helper()
	k, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return k
}
