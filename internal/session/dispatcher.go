package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxseedlab/kaigiroku/internal/telemetry"
)

const maxConsecutiveWriteFailures = 3

// Dispatcher is the only writer of a session's connection.
type Dispatcher struct {
	sessionID    string
	outbox       *Outbox
	conn         Conn
	pollInterval time.Duration
	metrics      *telemetry.Metrics
}

func NewDispatcher(sessionID string, outbox *Outbox, conn Conn, pollInterval time.Duration, metrics *telemetry.Metrics) *Dispatcher {
	return &Dispatcher{
		sessionID:    sessionID,
		outbox:       outbox,
		conn:         conn,
		pollInterval: pollInterval,
		metrics:      metrics,
	}
}

// Run writes queued messages in order until the outbox is closed and drained
// or ctx is done. It returns a *FatalConnectionError when the socket is gone.
func (d *Dispatcher) Run(ctx context.Context) error {
	failures := 0
	for {
		msg, err := d.outbox.Take(ctx, d.pollInterval)
		switch {
		case errors.Is(err, ErrTakeTimeout):
			continue
		case errors.Is(err, ErrOutboxClosed):
			slog.Debug("dispatcher drained", "session_id", d.sessionID)
			return nil
		case err != nil:
			return err
		}

		if err := d.conn.WriteJSON(msg); err != nil {
			if isSocketClosed(err) {
				slog.Info("client connection closed; dispatcher stopping", "session_id", d.sessionID, "error", err)
				return &FatalConnectionError{Op: "write", Err: err}
			}
			failures++
			slog.Warn("failed to send message to client", "session_id", d.sessionID, "type", string(msg.Type), "error", err, "consecutive_failures", failures)
			if failures >= maxConsecutiveWriteFailures {
				return &FatalConnectionError{Op: "write", Err: err}
			}
			continue
		}
		failures = 0
		d.metrics.MessageSent(string(msg.Type))
	}
}
