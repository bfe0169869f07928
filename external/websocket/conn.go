package websocket

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/session"
	"github.com/gorilla/websocket"
)

const (
	writeWait       = 5 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameBytes   = 1 << 20
	frameBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn adapts a gorilla websocket connection to session.Conn. A read pump
// owns all reads so that ReadFrame can wait with a timeout without poisoning
// the connection with an expired read deadline.
type Conn struct {
	ws *websocket.Conn

	frames  chan []byte
	readErr error
	done    chan struct{}

	writeMu   sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Upgrade switches an HTTP request to the websocket protocol.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade websocket: %w", err)
	}
	return NewConn(ws), nil
}

func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		frames: make(chan []byte, frameBufferSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.readPump()
	go c.pingLoop()
	return c
}

func (c *Conn) readPump() {
	defer close(c.done)
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.readErr = c.mapReadError(err)
			return
		}
		// Any inbound traffic proves the peer is alive.
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.BinaryMessage {
			slog.Debug("ignoring non-binary websocket message", "type", msgType, "bytes", len(data))
			continue
		}
		select {
		case c.frames <- data:
		case <-c.closed:
			c.readErr = session.ErrConnectionClosed
			return
		}
	}
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Debug("websocket ping failed", "error", err)
				return
			}
		case <-c.closed:
			return
		case <-c.done:
			return
		}
	}
}

// ReadFrame returns the next binary frame. Frames already received are
// delivered before a terminal read error.
func (c *Conn) ReadFrame(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		select {
		case frame := <-c.frames:
			return frame, nil
		default:
		}
		return nil, c.readErr
	case <-timer.C:
		return nil, session.ErrReadTimeout
	}
}

func (c *Conn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return session.ErrConnectionClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		if isClosedError(err) {
			return fmt.Errorf("%w: %v", session.ErrConnectionClosed, err)
		}
		return err
	}
	return nil
}

// Close sends a normal close frame and closes the socket. It is safe to call
// more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func (c *Conn) mapReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return session.ErrConnectionClosed
	}
	select {
	case <-c.closed:
		return session.ErrConnectionClosed
	default:
	}
	if errors.Is(err, net.ErrClosed) {
		return session.ErrConnectionClosed
	}
	return err
}

func isClosedError(err error) bool {
	var closeErr *websocket.CloseError
	return errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &closeErr)
}
