package websocket

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/session"
	"github.com/gorilla/websocket"
)

func newConnPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	serverConns := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConns <- c
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	select {
	case c := <-serverConns:
		t.Cleanup(func() {
			_ = c.Close()
		})
		return c, client
	case <-time.After(2 * time.Second):
		t.Fatal("server connection not established")
		return nil, nil
	}
}

func TestConn_ReadFrameDeliversBinaryFrames(t *testing.T) {
	conn, client := newConnPair(t)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("write text failed: %v", err)
	}
	if err := client.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary failed: %v", err)
	}

	frame, err := conn.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("expected frame, got %v", err)
	}
	if len(frame) != 2 || frame[0] != 0x01 || frame[1] != 0x02 {
		t.Fatalf("unexpected frame: %v", frame)
	}
}

func TestConn_ReadFrameTimeout(t *testing.T) {
	conn, _ := newConnPair(t)

	if _, err := conn.ReadFrame(20 * time.Millisecond); !errors.Is(err, session.ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout, got %v", err)
	}
	// A timed out read must not break the connection.
	if _, err := conn.ReadFrame(20 * time.Millisecond); !errors.Is(err, session.ErrReadTimeout) {
		t.Fatalf("expected ErrReadTimeout on second read, got %v", err)
	}
}

func TestConn_EmptyFrameIsDelivered(t *testing.T) {
	conn, client := newConnPair(t)

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	frame, err := conn.ReadFrame(2 * time.Second)
	if err != nil {
		t.Fatalf("expected empty frame, got %v", err)
	}
	if len(frame) != 0 {
		t.Fatalf("expected empty frame, got %d bytes", len(frame))
	}
}

func TestConn_WriteJSON(t *testing.T) {
	conn, client := newConnPair(t)

	if err := conn.WriteJSON(session.StatusMessage(session.StatusStarted)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if got := string(data); !strings.Contains(got, `"type":"status"`) || !strings.Contains(got, `"started"`) {
		t.Fatalf("unexpected message: %s", got)
	}
}

func TestConn_ClientCloseIsConnectionClosed(t *testing.T) {
	conn, client := newConnPair(t)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	if err := client.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		t.Fatalf("write close failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err := conn.ReadFrame(50 * time.Millisecond)
		if errors.Is(err, session.ErrReadTimeout) {
			continue
		}
		if !errors.Is(err, session.ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
		return
	}
	t.Fatal("close was not observed")
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	conn, _ := newConnPair(t)

	if err := conn.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	_ = conn.Close()
	if err := conn.WriteJSON(map[string]string{"type": "status"}); !errors.Is(err, session.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed after close, got %v", err)
	}
	if _, err := conn.ReadFrame(time.Second); !errors.Is(err, session.ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed from read after close, got %v", err)
	}
}
