package bus

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/natsserver"
	"github.com/loqalabs/loqa-reader/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startClient(t *testing.T) *Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestRecordPublishesOnTypedSubject(t *testing.T) {
	client := startClient(t)
	if !client.Healthy() {
		t.Fatal("expected healthy connection")
	}
	if err := client.EnsureSessionStream(time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	if err := client.EnsureSessionStream(time.Hour); err != nil {
		t.Fatalf("ensure stream twice: %v", err)
	}

	got := make(chan protocol.SessionEvent, 1)
	sub, err := client.SubscribeSessions(func(evt protocol.SessionEvent) { got <- evt })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := client.conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := protocol.SessionEvent{
		SessionID: "abc",
		Type:      protocol.EventSentenceStarted,
		State:     "reading",
		Sentence:  1,
		Total:     2,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := client.Record(context.Background(), want); err != nil {
		t.Fatalf("record: %v", err)
	}

	select {
	case evt := <-got:
		if evt.SessionID != want.SessionID || evt.Type != want.Type || evt.Sentence != 1 || !evt.Timestamp.Equal(want.Timestamp) {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
