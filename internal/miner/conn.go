package miner

import (
	"net"

	"github.com/djkazic/gopow/internal/protocol"
)

// netConn adapts a net.Conn to the Miner's Conn interface using the
// standard length-prefixed framing.
type netConn struct {
	conn net.Conn
}

// DialNode opens a TCP connection to a node and wraps it as a Conn.
func DialNode(addr string) (Conn, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &netConn{conn: c}, nil
}

func (c *netConn) Send(msg protocol.Message) error {
	return protocol.Send(c.conn, msg)
}

func (c *netConn) Receive() (protocol.Message, error) {
	return protocol.Receive(c.conn)
}
