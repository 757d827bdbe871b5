package runtime

import (
	"context"
	"sync"

	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/protocol"
)

// journal stores session events and tags each session with what was read.
type journal struct {
	store *eventstore.Store

	mu     sync.Mutex
	source string
}

func (j *journal) setSource(source string) {
	j.mu.Lock()
	j.source = source
	j.mu.Unlock()
}

func (j *journal) Record(ctx context.Context, evt protocol.SessionEvent) error {
	if evt.Type == protocol.EventSessionStarted {
		j.mu.Lock()
		source := j.source
		j.mu.Unlock()
		if err := j.store.BeginSession(ctx, evt.SessionID, source, evt.Total); err != nil {
			return err
		}
	}
	return j.store.Record(ctx, evt)
}
