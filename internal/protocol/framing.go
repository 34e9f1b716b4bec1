package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageSize bounds a single frame, guarding against a malicious or
// confused peer claiming an enormous length prefix.
const maxMessageSize = 16 * 1024 * 1024 // 16MB

// Send writes msg to w as an 8-byte big-endian length prefix followed by
// its canonical CBOR encoding. Callers sharing a single net.Conn across
// goroutines must hold their own mutex around Send — framing is only
// atomic within one call.
func Send(w io.Writer, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(body)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write message body: %w", err)
	}
	return nil
}

// Receive reads one length-prefixed frame from r and decodes it.
// io.ReadFull absorbs short reads from a stream socket.
func Receive(r io.Reader) (Message, error) {
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, fmt.Errorf("read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint64(prefix[:])
	if length > maxMessageSize {
		return Message{}, fmt.Errorf("frame of %d bytes exceeds maximum %d", length, maxMessageSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("read message body: %w", err)
	}

	msg, err := Decode(body)
	if err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
