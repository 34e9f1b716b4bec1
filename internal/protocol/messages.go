// Package protocol implements the wire message vocabulary exchanged
// between miners, wallets, and nodes: a tagged-union Message type,
// CBOR-encoded with the same canonical encoder used for consensus
// hashing, and framed with an 8-byte length prefix.
package protocol

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/pkg/chainhash"
)

// Kind identifies which payload a Message carries.
type Kind uint8

const (
	KindFetchUTXOs Kind = iota + 1
	KindUTXOs
	KindSubmitTransaction
	KindNewTransaction
	KindFetchTemplate
	KindTemplate
	KindValidateTemplate
	KindTemplateValidity
	KindSubmitTemplate
	KindDiscoverNodes
	KindNodeList
	KindAskDifference
	KindDifference
	KindFetchBlock
	KindNewBlock
)

func (k Kind) String() string {
	switch k {
	case KindFetchUTXOs:
		return "FetchUTXOs"
	case KindUTXOs:
		return "UTXOs"
	case KindSubmitTransaction:
		return "SubmitTransaction"
	case KindNewTransaction:
		return "NewTransaction"
	case KindFetchTemplate:
		return "FetchTemplate"
	case KindTemplate:
		return "Template"
	case KindValidateTemplate:
		return "ValidateTemplate"
	case KindTemplateValidity:
		return "TemplateValidity"
	case KindSubmitTemplate:
		return "SubmitTemplate"
	case KindDiscoverNodes:
		return "DiscoverNodes"
	case KindNodeList:
		return "NodeList"
	case KindAskDifference:
		return "AskDifference"
	case KindDifference:
		return "Difference"
	case KindFetchBlock:
		return "FetchBlock"
	case KindNewBlock:
		return "NewBlock"
	default:
		return "Unknown"
	}
}

// UTXOEntry pairs an output with whether some mempool transaction marks it
// spent — the element type of a UTXOs response.
type UTXOEntry struct {
	Output chain.TransactionOutput `cbor:"1,keyasint"`
	Marked bool                    `cbor:"2,keyasint"`
}

// Message is the tagged union carried over the wire. Exactly the field(s)
// relevant to Kind are populated; the rest are zero — a flat
// MessageType-tagged struct rather than a Go interface-based union, so one
// CBOR struct tag set covers every message kind.
type Message struct {
	Kind Kind `cbor:"1,keyasint"`

	PublicKey   keys.PublicKey    `cbor:"2,keyasint"`
	UTXOs       []UTXOEntry       `cbor:"3,keyasint"`
	Transaction chain.Transaction `cbor:"4,keyasint"`
	Block       chain.Block       `cbor:"5,keyasint"`
	Valid       bool              `cbor:"6,keyasint"`
	Addresses   []string          `cbor:"7,keyasint"`
	Height      int64             `cbor:"8,keyasint"`
	Difference  int64             `cbor:"9,keyasint"`
}

// Encode serializes msg using the chain's canonical CBOR encoding — the
// same encoder hashing goes through, per the single-encoder design.
func Encode(msg Message) ([]byte, error) {
	return chainhash.Canonicalize(msg)
}

// Decode parses a Message previously produced by Encode.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
