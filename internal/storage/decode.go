package storage

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/pkg/chainhash"
)

func decodeBlock(data []byte, out *chain.Block) error {
	return cbor.Unmarshal(data, out)
}

func decodeHash(data []byte, out *chainhash.Hash) error {
	return cbor.Unmarshal(data, out)
}
