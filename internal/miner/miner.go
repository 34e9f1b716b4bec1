// Package miner implements the mining control loop: a persistent
// connection to one node, a ticker-driven control goroutine that fetches
// or validates templates, and a dedicated compute worker goroutine
// searching for a satisfying nonce.
package miner

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/djkazic/gopow/internal/chain"
	"github.com/djkazic/gopow/internal/keys"
	"github.com/djkazic/gopow/internal/metrics"
	"github.com/djkazic/gopow/internal/protocol"
)

// PollInterval is how often the control loop fetches a new template or
// checks the validity of the one it is currently mining.
const PollInterval = 5 * time.Second

// stepsPerQuantum is how many nonce increments the compute worker attempts
// before yielding its scheduling quantum back to the runtime, matching the
// spec's suggested N = 2,000,000.
const stepsPerQuantum = 2_000_000

// hashrateReportInterval is how often the compute worker turns its attempt
// counter into a metrics.LocalHashrate sample.
const hashrateReportInterval = time.Second

// Conn is the framed message link the control loop needs; DialNode returns
// one wrapping a TCP connection, and tests can substitute an in-memory fake.
type Conn interface {
	Send(protocol.Message) error
	Receive() (protocol.Message, error)
}

// Miner drives the three cooperating execution contexts described in the
// concurrency model: a network control goroutine owning conn, a ticker
// goroutine triggering fetch/validate, and a compute worker goroutine
// searching for a nonce.
type Miner struct {
	connMu sync.Mutex
	conn   Conn
	pubkey keys.PublicKey
	logger *zap.Logger

	templateMu      sync.Mutex
	currentTemplate *chain.Block

	mining atomic.Bool

	minedBlockCh chan chain.Block
}

// New returns a Miner that will request templates paying pubkey over conn.
func New(conn Conn, pubkey keys.PublicKey, logger *zap.Logger) *Miner {
	return &Miner{
		conn:         conn,
		pubkey:       pubkey,
		logger:       logger,
		minedBlockCh: make(chan chain.Block, 1),
	}
}

// Run drives the control loop until ctx is cancelled or an unrecoverable
// network error occurs. It starts the compute worker internally.
func (m *Miner) Run(ctx context.Context) error {
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go m.computeWorker(workerCtx)

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	if err := m.tick(); err != nil {
		return fmt.Errorf("initial template fetch: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case block := <-m.minedBlockCh:
			if err := m.submit(block); err != nil {
				return fmt.Errorf("submit mined block: %w", err)
			}
			m.mining.Store(false)

		case <-ticker.C:
			if err := m.tick(); err != nil {
				return fmt.Errorf("control loop tick: %w", err)
			}
		}
	}
}

// tick performs one request/response cycle: fetch a fresh template if idle,
// or ask the node to validate the one currently being mined.
func (m *Miner) tick() error {
	if m.mining.Load() {
		return m.validateCurrent()
	}
	return m.fetchTemplate()
}

func (m *Miner) fetchTemplate() error {
	resp, err := m.request(protocol.Message{Kind: protocol.KindFetchTemplate, PublicKey: m.pubkey})
	if err != nil {
		return err
	}
	if resp.Kind != protocol.KindTemplate {
		return fmt.Errorf("miner: expected Template response, got %s", resp.Kind)
	}

	m.templateMu.Lock()
	block := resp.Block
	m.currentTemplate = &block
	m.templateMu.Unlock()

	m.mining.Store(true)
	return nil
}

func (m *Miner) validateCurrent() error {
	m.templateMu.Lock()
	tmpl := m.currentTemplate
	m.templateMu.Unlock()
	if tmpl == nil {
		return m.fetchTemplate()
	}

	resp, err := m.request(protocol.Message{Kind: protocol.KindValidateTemplate, Block: *tmpl})
	if err != nil {
		return err
	}
	if resp.Kind != protocol.KindTemplateValidity {
		return fmt.Errorf("miner: expected TemplateValidity response, got %s", resp.Kind)
	}
	if !resp.Valid {
		m.mining.Store(false)
	}
	return nil
}

func (m *Miner) submit(block chain.Block) error {
	resp, err := m.request(protocol.Message{Kind: protocol.KindSubmitTemplate, Block: block})
	if err != nil {
		return err
	}
	if resp.Kind != protocol.KindTemplateValidity {
		return fmt.Errorf("miner: expected TemplateValidity response, got %s", resp.Kind)
	}
	if !resp.Valid {
		m.logger.Warn("node rejected submitted block")
	}
	return nil
}

// request performs one request/response cycle, holding connMu for its
// duration to preserve framing on the shared connection.
func (m *Miner) request(req protocol.Message) (protocol.Message, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if err := m.conn.Send(req); err != nil {
		return protocol.Message{}, fmt.Errorf("send %s: %w", req.Kind, err)
	}
	resp, err := m.conn.Receive()
	if err != nil {
		return protocol.Message{}, fmt.Errorf("receive response to %s: %w", req.Kind, err)
	}
	return resp, nil
}

// computeWorker repeatedly attempts stepsPerQuantum nonce increments
// against the current template while mining is true, yielding the
// scheduling quantum between batches so it never starves the control
// goroutine or ticker on a GOMAXPROCS=1 build.
func (m *Miner) computeWorker(ctx context.Context) {
	var attempts uint64
	windowStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !m.mining.Load() {
			runtime.Gosched()
			continue
		}

		m.templateMu.Lock()
		tmpl := m.currentTemplate
		var candidate chain.Block
		if tmpl != nil {
			candidate = *tmpl
		}
		m.templateMu.Unlock()
		if tmpl == nil {
			runtime.Gosched()
			continue
		}

		found := candidate.Mine(stepsPerQuantum)
		attempts += stepsPerQuantum
		if elapsed := time.Since(windowStart); elapsed >= hashrateReportInterval {
			metrics.LocalHashrate.Set(float64(attempts) / elapsed.Seconds())
			attempts = 0
			windowStart = time.Now()
		}

		if found {
			select {
			case m.minedBlockCh <- candidate:
				m.mining.Store(false)
			case <-ctx.Done():
				return
			}
		} else {
			// Carry the advanced nonce/timestamp forward so the next quantum
			// resumes the search instead of repeating it.
			m.templateMu.Lock()
			if m.currentTemplate == tmpl {
				advanced := *tmpl
				advanced.Header = candidate.Header
				m.currentTemplate = &advanced
			}
			m.templateMu.Unlock()
		}
		runtime.Gosched()
	}
}
