// Package node implements the dispatcher that turns wire messages into
// calls against a chain.Blockchain: one Node per running process, guarding
// a single Blockchain behind a mutex.
package node

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/internal/metrics"
	"github.com/djkazic/gopow/internal/protocol"
	"github.com/djkazic/gopow/pkg/chainhash"
)

// maxTemplateTransactions bounds how many mempool transactions a composed
// template may include. Not consensus-critical — a local policy knob, per
// SPEC_FULL's note that two nodes may legitimately compose different
// templates for the same mempool state.
const maxTemplateTransactions = 2000

// Node owns the chain state for one process and serializes every access
// to it behind a single mutex, matching the chain engine's documented
// single-threaded contract.
type Node struct {
	mu      sync.Mutex
	chain   *chain.Blockchain
	logger  *zap.Logger
	onBlock func(height int, block chain.Block)
}

// New returns a Node wrapping bc. Pass a fresh chain.New() for a cold
// start, or one already restored via LoadSnapshot.
func New(bc *chain.Blockchain, logger *zap.Logger) *Node {
	return &Node{chain: bc, logger: logger}
}

// OnBlockAdmitted registers fn to be called, outside the chain mutex,
// immediately after a block is admitted via SubmitTemplate — the hook
// cmd/node uses to persist each new block to storage.Store as it arrives,
// rather than only on shutdown.
func (n *Node) OnBlockAdmitted(fn func(height int, block chain.Block)) {
	n.onBlock = fn
}

// Snapshot returns a point-in-time copy of the underlying chain state,
// suitable for handing to package storage.
func (n *Node) Snapshot() chain.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chain.Snapshot()
}

// CleanupMempool drops stale mempool entries. Intended to be called
// periodically by cmd/node.
func (n *Node) CleanupMempool() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.chain.CleanupMempool(time.Now())
}

// FetchUTXOs handles a KindFetchUTXOs request, returning the UTXOs response.
func (n *Node) FetchUTXOs(pub keys.PublicKey) protocol.Message {
	n.mu.Lock()
	views := n.chain.UTXOsFor(pub.Bytes())
	n.mu.Unlock()

	entries := make([]protocol.UTXOEntry, len(views))
	for i, v := range views {
		entries[i] = protocol.UTXOEntry{Output: v.Output, Marked: v.Marked}
	}
	return protocol.Message{Kind: protocol.KindUTXOs, UTXOs: entries}
}

// SubmitTransaction handles a KindSubmitTransaction request: it admits tx
// to the mempool, or logs the rejection at debug level and returns it (the
// server reports it to the sender as TemplateValidity(false)).
func (n *Node) SubmitTransaction(tx chain.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.chain.AddToMempool(tx); err != nil {
		n.logger.Debug("mempool rejected transaction", zap.Error(err))
		metrics.MempoolAdmissions.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.MempoolAdmissions.WithLabelValues("accepted").Inc()
	metrics.MempoolSize.Set(float64(n.chain.MempoolSize()))
	return nil
}

// FetchTemplate handles a KindFetchTemplate request, composing a block
// template paying requester the block reward plus the fees of whichever
// mempool transactions it includes.
func (n *Node) FetchTemplate(requester keys.PublicKey) protocol.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	block := n.composeTemplate(requester)
	return protocol.Message{Kind: protocol.KindTemplate, Block: block}
}

// composeTemplate builds a template under the caller's lock.
func (n *Node) composeTemplate(requester keys.PublicKey) chain.Block {
	txs := n.chain.MempoolTail(maxTemplateTransactions)

	var fees uint64
	for _, tx := range txs {
		var in, out uint64
		for _, input := range tx.Inputs {
			if o, _, ok := n.chain.UTXO(input.PrevOutputHash); ok {
				in += o.Value
			}
		}
		for _, o := range tx.Outputs {
			out += o.Value
		}
		fees += in - out
	}

	coinbase := chain.Transaction{
		Inputs: []chain.TransactionInput{{PrevOutputHash: chainhash.Zero}},
		Outputs: []chain.TransactionOutput{
			chain.NewTransactionOutput(chain.BlockReward(n.chain.Height())+fees, requester),
		},
	}
	all := append([]chain.Transaction{coinbase}, txs...)

	header := chain.BlockHeader{
		Timestamp:     time.Now().Unix(),
		PrevBlockHash: n.chain.LastBlockHash(),
		MerkleRoot:    chainhash.MerkleRoot(all),
		Target:        n.chain.Target(),
		Nonce:         0,
	}
	return chain.Block{Header: header, Transactions: all}
}

// ValidateTemplate handles a KindValidateTemplate request: it re-runs
// admission except proof-of-work (the miner is still searching for that)
// against the current chain state, without mutating anything.
func (n *Node) ValidateTemplate(block chain.Block) protocol.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	valid := n.validateTemplateLocked(block)
	return protocol.Message{Kind: protocol.KindTemplateValidity, Valid: valid}
}

func (n *Node) validateTemplateLocked(block chain.Block) bool {
	height := n.chain.Height()

	expectedPrev := chainhash.Zero
	var prevTimestamp int64
	if height > 0 {
		last, _ := n.chain.Block(height - 1)
		expectedPrev = last.Hash()
		prevTimestamp = last.Header.Timestamp
	}
	if block.Header.PrevBlockHash != expectedPrev {
		return false
	}
	if len(block.Transactions) == 0 {
		return false
	}
	if block.RecomputeMerkleRoot() != block.Header.MerkleRoot {
		return false
	}
	if height > 0 && block.Header.Timestamp <= prevTimestamp {
		return false
	}
	return chain.VerifyTransactionsForValidation(block, n.chain, height) == nil
}

// SubmitTemplate handles a KindSubmitTemplate request: the miner believes
// it has found a satisfying nonce. Admits the block to the chain.
func (n *Node) SubmitTemplate(block chain.Block) error {
	n.mu.Lock()
	if err := n.chain.AddBlock(block); err != nil {
		n.mu.Unlock()
		n.logger.Info("rejected submitted block", zap.Error(err))
		metrics.BlockSubmissions.WithLabelValues("rejected").Inc()
		return err
	}
	height := n.chain.Height() - 1
	n.logger.Info("admitted block", zap.Int("height", height))
	metrics.BlockSubmissions.WithLabelValues("accepted").Inc()
	metrics.BlocksAdmitted.Inc()
	metrics.ChainHeight.Set(float64(n.chain.Height()))
	metrics.MempoolSize.Set(float64(n.chain.MempoolSize()))
	metrics.UTXOSetSize.Set(float64(n.chain.UTXOSetSize()))
	metrics.DifficultyTarget.Set(float64(n.chain.Target().Big().BitLen()))
	onBlock := n.onBlock
	n.mu.Unlock()

	if onBlock != nil {
		onBlock(height, block)
	}
	return nil
}

// AskDifference handles a KindAskDifference request: reports how far
// localHeight is from this node's own height (positive means the node is
// ahead).
func (n *Node) AskDifference(localHeight int64) protocol.Message {
	n.mu.Lock()
	diff := int64(n.chain.Height()) - localHeight
	n.mu.Unlock()
	return protocol.Message{Kind: protocol.KindDifference, Difference: diff}
}

// FetchBlock handles a KindFetchBlock request.
func (n *Node) FetchBlock(height int64) (protocol.Message, error) {
	n.mu.Lock()
	block, ok := n.chain.Block(int(height))
	n.mu.Unlock()
	if !ok {
		return protocol.Message{}, fmt.Errorf("no block at height %d", height)
	}
	return protocol.Message{Kind: protocol.KindNewBlock, Block: block}, nil
}

// DiscoverNodes handles a KindDiscoverNodes request. Peer discovery is out
// of scope (§1 Non-goals); the dispatcher accepts and decodes the message
// so the wire vocabulary round-trips completely, but always answers with
// an empty node list.
func (n *Node) DiscoverNodes() protocol.Message {
	return protocol.Message{Kind: protocol.KindNodeList, Addresses: nil}
}
