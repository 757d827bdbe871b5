package audio

import "log/slog"

const (
	LaneMain    = "main"
	LaneSummary = "summary"
	LanePrompt  = "prompt"
)

// Lanes holds the three playback channels of a reader process. Only one
// goroutine issues commands to them.
type Lanes struct {
	Main    *Channel
	Summary *Channel
	Prompt  *Channel
}

func NewLanes(sink Sink, opts Options, log *slog.Logger) *Lanes {
	return &Lanes{
		Main:    NewChannel(LaneMain, sink, opts, log),
		Summary: NewChannel(LaneSummary, sink, opts, log),
		Prompt:  NewChannel(LanePrompt, sink, opts, log),
	}
}

func (l *Lanes) All() []*Channel { return []*Channel{l.Main, l.Summary, l.Prompt} }

// StopAll stops every lane and returns once all of them are quiescent.
func (l *Lanes) StopAll() {
	for _, ch := range l.All() {
		ch.Stop()
	}
}

// Playing lists the names of lanes that are currently playing.
func (l *Lanes) Playing() []string {
	var names []string
	for _, ch := range l.All() {
		if ch.IsPlaying() {
			names = append(names, ch.Name())
		}
	}
	return names
}
