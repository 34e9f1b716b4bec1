package node

import (
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/djkazic/gopow/internal/metrics"
	"github.com/djkazic/gopow/internal/protocol"
)

// Server accepts TCP connections and dispatches each decoded frame to the
// owning Node, one handler goroutine per connection — a plain-net.Conn
// one-stream-handler-per-peer model, since this protocol is a single
// direct miner/wallet-to-node link rather than a gossiping peer mesh.
type Server struct {
	node     *Node
	listener net.Listener
	logger   *zap.Logger
}

// Listen binds addr and returns a Server ready to Serve.
func Listen(addr string, n *Node, logger *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{node: n, listener: ln, logger: logger}, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Serve accepts connections until the listener is closed, handling each on
// its own goroutine. It returns nil when Close causes Accept to fail.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn services one connection until it closes or sends a frame the
// dispatcher cannot decode, logging and returning on any read/decode error
// rather than tearing down the whole server.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	metrics.ConnectedPeers.Inc()
	defer metrics.ConnectedPeers.Dec()

	for {
		req, err := protocol.Receive(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("connection read error", zap.Error(err))
			}
			return
		}

		resp, err := s.dispatch(req)
		if err != nil {
			s.logger.Debug("dispatch error", zap.Stringer("kind", req.Kind), zap.Error(err))
			continue
		}

		if err := protocol.Send(conn, resp); err != nil {
			s.logger.Debug("connection write error", zap.Error(err))
			return
		}
	}
}

// dispatch routes one decoded message to the matching Node method.
func (s *Server) dispatch(req protocol.Message) (protocol.Message, error) {
	switch req.Kind {
	case protocol.KindFetchUTXOs:
		return s.node.FetchUTXOs(req.PublicKey), nil

	case protocol.KindSubmitTransaction, protocol.KindNewTransaction:
		err := s.node.SubmitTransaction(req.Transaction)
		return protocol.Message{Kind: protocol.KindTemplateValidity, Valid: err == nil}, nil

	case protocol.KindFetchTemplate:
		return s.node.FetchTemplate(req.PublicKey), nil

	case protocol.KindValidateTemplate:
		return s.node.ValidateTemplate(req.Block), nil

	case protocol.KindSubmitTemplate, protocol.KindNewBlock:
		err := s.node.SubmitTemplate(req.Block)
		return protocol.Message{Kind: protocol.KindTemplateValidity, Valid: err == nil}, nil

	case protocol.KindDiscoverNodes:
		return s.node.DiscoverNodes(), nil

	case protocol.KindAskDifference:
		return s.node.AskDifference(req.Height), nil

	case protocol.KindFetchBlock:
		return s.node.FetchBlock(req.Height)

	default:
		return protocol.Message{}, errUnknownKind(req.Kind)
	}
}
