package node

import (
	"fmt"

	"github.com/djkazic/gopow/internal/protocol"
)

func errUnknownKind(k protocol.Kind) error {
	return fmt.Errorf("node: unknown message kind %s", k)
}
