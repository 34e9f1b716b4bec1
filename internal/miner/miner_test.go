package miner

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/internal/protocol"
	"github.com/djkazic/gopow/pkg/chainhash"
	"github.com/djkazic/gopow/testutil"
)

// fakeNodeConn answers miner requests directly against an in-memory
// chain.Blockchain, without any actual socket — it exercises the control
// loop's request/response cycle and the compute worker end to end.
type fakeNodeConn struct {
	mu      sync.Mutex
	bc      *chain.Blockchain
	pending *protocol.Message
}

func (f *fakeNodeConn) Send(req protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = &req
	return nil
}

func (f *fakeNodeConn) Receive() (protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := f.pending
	f.pending = nil

	switch req.Kind {
	case protocol.KindFetchTemplate:
		return protocol.Message{Kind: protocol.KindTemplate, Block: f.composeTemplate(req.PublicKey)}, nil
	case protocol.KindValidateTemplate:
		valid := chain.VerifyTransactionsForValidation(req.Block, f.bc, f.bc.Height()) == nil &&
			req.Block.Header.PrevBlockHash == f.bc.LastBlockHash()
		return protocol.Message{Kind: protocol.KindTemplateValidity, Valid: valid}, nil
	case protocol.KindSubmitTemplate:
		err := f.bc.AddBlock(req.Block)
		return protocol.Message{Kind: protocol.KindTemplateValidity, Valid: err == nil}, nil
	default:
		return protocol.Message{}, nil
	}
}

// height reports the chain height, guarded by the same mutex the fake
// uses for bc access from Receive — avoiding a race with the test
// goroutine's polling loop.
func (f *fakeNodeConn) height() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bc.Height()
}

func (f *fakeNodeConn) composeTemplate(pub keys.PublicKey) chain.Block {
	coinbase := chain.Transaction{
		Inputs:  []chain.TransactionInput{{PrevOutputHash: chainhash.Zero}},
		Outputs: []chain.TransactionOutput{chain.NewTransactionOutput(chain.BlockReward(f.bc.Height()), pub)},
	}
	txs := []chain.Transaction{coinbase}
	return chain.Block{
		Header: chain.BlockHeader{
			Timestamp:     time.Now().Unix(),
			PrevBlockHash: f.bc.LastBlockHash(),
			MerkleRoot:    chainhash.MerkleRoot(txs),
			Target:        f.bc.Target(),
		},
		Transactions: txs,
	}
}

var _ Conn = (*fakeNodeConn)(nil)

func TestMinerMinesAndSubmitsGenesis(t *testing.T) {
	bc := chain.New()
	conn := &fakeNodeConn{bc: bc}

	priv := testutil.SampleKey()

	m := New(conn, priv.PublicKey(), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for conn.height() == 0 {
		select {
		case <-deadline:
			t.Fatal("miner did not admit a block within the test deadline")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	cancel()
	<-errCh

	if conn.height() != 1 {
		t.Fatalf("height = %d, want 1", conn.height())
	}
}
