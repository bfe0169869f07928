package session

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

var (
	// ErrReadTimeout means no frame arrived within the read timeout. It is a
	// liveness tick, not a failure.
	ErrReadTimeout = errors.New("read timed out")
	// ErrConnectionClosed means the peer closed the connection or the socket
	// can no longer be written.
	ErrConnectionClosed = errors.New("connection closed")
)

// Conn is the client connection of one streaming session. Only the session
// reads and only the dispatcher writes.
type Conn interface {
	ReadFrame(timeout time.Duration) ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// FatalConnectionError ends a session: the client connection can no longer be
// written or read.
type FatalConnectionError struct {
	Op  string
	Err error
}

func (e *FatalConnectionError) Error() string {
	return fmt.Sprintf("fatal connection error on %s: %v", e.Op, e.Err)
}

func (e *FatalConnectionError) Unwrap() error {
	return e.Err
}

func isSocketClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
