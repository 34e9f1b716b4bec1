// Command blockgen emits a genesis block paying a freshly generated (or
// supplied) public key, mined against MIN_TARGET, and writes it as CBOR.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/pkg/chainhash"
)

func main() {
	pubkeyFile := flag.String("public-key-file", "", "PEM public key to pay the genesis coinbase to; generates a fresh key if omitted")
	out := flag.String("out", "genesis.block.cbor", "output path for the CBOR-encoded block")
	flag.Parse()

	var pub keys.PublicKey
	if *pubkeyFile != "" {
		var err error
		pub, err = keys.LoadPublicKeyPEM(*pubkeyFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "blockgen: load public key: %v\n", err)
			os.Exit(1)
		}
	} else {
		priv, err := keys.NewPrivateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "blockgen: generate key: %v\n", err)
			os.Exit(1)
		}
		pub = priv.PublicKey()
		if err := priv.SaveCBOR("genesis.priv.cbor"); err != nil {
			fmt.Fprintf(os.Stderr, "blockgen: save generated private key: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("generated genesis.priv.cbor for the fresh key")
	}

	coinbase := chain.Transaction{
		Inputs:  []chain.TransactionInput{{PrevOutputHash: chainhash.Zero}},
		Outputs: []chain.TransactionOutput{chain.NewTransactionOutput(chain.BlockReward(0), pub)},
	}
	header := chain.BlockHeader{
		Timestamp:     0,
		PrevBlockHash: chainhash.Zero,
		MerkleRoot:    chainhash.MerkleRoot([]chain.Transaction{coinbase}),
		Target:        chainhash.MinTarget,
	}
	block := chain.Block{Header: header, Transactions: []chain.Transaction{coinbase}}
	if !block.Mine(1 << 32) {
		fmt.Fprintln(os.Stderr, "blockgen: failed to mine genesis block")
		os.Exit(1)
	}

	data, err := chainhash.Canonicalize(block)
	if err != nil {
		fmt.Fprintf(os.Stderr, "blockgen: encode block: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "blockgen: write block: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s (hash %s)\n", *out, block.Hash())
}
