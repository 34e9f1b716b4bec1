// Package testutil provides fixture builders shared across package tests:
// sample keys, transactions, blocks, and small chains, so each _test.go
// file doesn't reinvent its own genesis plumbing.
package testutil

import (
	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/pkg/chainhash"
)

// SampleKey returns a freshly generated private key, panicking on error
// since key generation only fails if the system RNG is broken.
func SampleKey() keys.PrivateKey {
	priv, err := keys.NewPrivateKey()
	if err != nil {
		panic(err)
	}
	return priv
}

// SampleCoinbase builds an unsigned coinbase transaction paying reward to
// pub, spending the conventional zero-hash input.
func SampleCoinbase(reward uint64, pub keys.PublicKey) chain.Transaction {
	return chain.Transaction{
		Inputs:  []chain.TransactionInput{{PrevOutputHash: chainhash.Zero}},
		Outputs: []chain.TransactionOutput{chain.NewTransactionOutput(reward, pub)},
	}
}

// SampleGenesisBlock mines and returns a genesis block paying minerPub the
// height-0 block reward, against EasyTarget.
func SampleGenesisBlock(minerPub keys.PublicKey) chain.Block {
	coinbase := SampleCoinbase(chain.BlockReward(0), minerPub)
	header := chain.BlockHeader{
		Timestamp:     1,
		PrevBlockHash: chainhash.Zero,
		MerkleRoot:    chainhash.MerkleRoot([]chain.Transaction{coinbase}),
		Target:        EasyTarget(),
	}
	block := chain.Block{Header: header, Transactions: []chain.Transaction{coinbase}}
	if !block.Mine(1 << 32) {
		panic("testutil: failed to mine sample genesis block")
	}
	return block
}

// SampleChain returns a Blockchain with a mined genesis block already
// admitted, paying minerPub, plus the genesis block itself for reference.
func SampleChain(minerPub keys.PublicKey) (*chain.Blockchain, chain.Block) {
	bc := chain.New()
	genesis := SampleGenesisBlock(minerPub)
	if err := bc.AddBlock(genesis); err != nil {
		panic(err)
	}
	return bc, genesis
}

// EasyTarget returns a target so loose that essentially any nonce
// satisfies it, keeping fixture mining fast.
func EasyTarget() chainhash.Hash {
	target := chainhash.Hash{}
	for i := range target {
		target[i] = 0xff
	}
	return target
}
