package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/nats-io/nats.go"
)

// SessionStream captures every session event when JetStream is available.
const SessionStream = "READER_SESSIONS"

// EnsureSessionStream creates the JetStream stream for session events. maxAge
// of zero keeps messages until the server limits apply.
func (c *Client) EnsureSessionStream(maxAge time.Duration) error {
	_, err := c.js.StreamInfo(SessionStream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("lookup stream: %w", err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     SessionStream,
		Subjects: []string{protocol.SubjectAll},
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
	})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	c.log.Info("session stream created", slog.String("stream", SessionStream))
	return nil
}

// Record publishes evt as JSON on its subject.
func (c *Client) Record(ctx context.Context, evt protocol.SessionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.PublishJSON(evt.Subject(), evt)
}

// SubscribeSessions delivers decoded session events to fn until the returned
// subscription is drained.
func (c *Client) SubscribeSessions(fn func(protocol.SessionEvent)) (*nats.Subscription, error) {
	return c.conn.Subscribe(protocol.SubjectAll, func(msg *nats.Msg) {
		var evt protocol.SessionEvent
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			c.log.Warn("dropping malformed session event", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
			return
		}
		fn(evt)
	})
}
