package reader

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-reader/internal/protocol"
)

// Recorder receives session events. Errors are logged by the controller and
// never interrupt narration.
type Recorder interface {
	Record(ctx context.Context, evt protocol.SessionEvent) error
}

type fanout []Recorder

// Fanout records every event on each non-nil recorder.
func Fanout(recorders ...Recorder) Recorder {
	var out fanout
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (f fanout) Record(ctx context.Context, evt protocol.SessionEvent) error {
	var errs []error
	for _, r := range f {
		if err := r.Record(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type discard struct{}

func (discard) Record(context.Context, protocol.SessionEvent) error { return nil }
