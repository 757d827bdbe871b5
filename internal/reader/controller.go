// Package reader narrates page text sentence by sentence and lets the
// listener pause, summarize or steer by voice at any point.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/command"
	"github.com/loqalabs/loqa-reader/internal/prompts"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/sentence"
	"github.com/loqalabs/loqa-reader/internal/tts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/loqalabs/loqa-reader/internal/reader"

// Interrupts is the keyboard side channel.
type Interrupts interface {
	// Poll returns a pending line without blocking.
	Poll() (string, bool)
	// ReadLine blocks for the next line; io.EOF ends input.
	ReadLine(ctx context.Context) (string, error)
	// Drain drops lines typed ahead and returns how many.
	Drain() int
}

// Announcer plays a fixed prompt on the prompt lane and waits for it.
type Announcer interface {
	Say(ctx context.Context, key string) error
}

type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// CommandListener is the voice retry loop. ok is false when it gave up.
type CommandListener interface {
	ListenForCommand(ctx context.Context, maxAttempts int) (cmd command.Command, ok bool)
}

// Options tune the controller. Zero values take the defaults.
type Options struct {
	MinSentenceLength   int
	PollInterval        time.Duration
	VoiceAttempts       int
	VoiceFailureCeiling int
	Voice               string
}

func (o Options) withDefaults() Options {
	if o.MinSentenceLength <= 0 {
		o.MinSentenceLength = sentence.DefaultMinLength
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.VoiceAttempts <= 0 {
		o.VoiceAttempts = 3
	}
	if o.VoiceFailureCeiling <= 0 {
		o.VoiceFailureCeiling = 5
	}
	return o
}

// Deps are the collaborators of a Controller. Recorder may be nil.
type Deps struct {
	Lanes      *audio.Lanes
	Synth      tts.Synthesizer
	Announcer  Announcer
	Summarizer Summarizer
	Listener   CommandListener
	Input      Interrupts
	Recorder   Recorder
	Logger     *slog.Logger
}

// Controller runs reading sessions. Run must not be called concurrently.
type Controller struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer

	narrated   metric.Int64Counter
	interrupts metric.Int64Counter
	voiceFails metric.Int64Counter
	summaries  metric.Int64Counter
}

func NewController(deps Deps, opts Options) (*Controller, error) {
	switch {
	case deps.Lanes == nil:
		return nil, errors.New("reader: lanes are required")
	case deps.Synth == nil:
		return nil, errors.New("reader: synthesizer is required")
	case deps.Announcer == nil:
		return nil, errors.New("reader: announcer is required")
	case deps.Summarizer == nil:
		return nil, errors.New("reader: summarizer is required")
	case deps.Listener == nil:
		return nil, errors.New("reader: command listener is required")
	case deps.Input == nil:
		return nil, errors.New("reader: interrupt source is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Controller{
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: deps.Logger.With(slog.String("component", "reader")),
		tracer: otel.Tracer(instrumentation),
	}
	meter := otel.Meter(instrumentation)
	var err error
	if c.narrated, err = meter.Int64Counter("reader.sentences.narrated",
		metric.WithDescription("Sentences played to the end")); err != nil {
		return nil, err
	}
	if c.interrupts, err = meter.Int64Counter("reader.interrupts",
		metric.WithDescription("Keyboard interrupts during narration")); err != nil {
		return nil, err
	}
	if c.voiceFails, err = meter.Int64Counter("reader.voice.failures",
		metric.WithDescription("Voice control rounds without a usable command")); err != nil {
		return nil, err
	}
	if c.summaries, err = meter.Int64Counter("reader.summaries",
		metric.WithDescription("Summaries requested")); err != nil {
		return nil, err
	}
	return c, nil
}

// Run narrates text until it is exhausted, the listener quits or ctx is
// cancelled. Collaborator failures are absorbed; the returned error is
// reserved for broken state machine wiring.
func (c *Controller) Run(ctx context.Context, text string) (Result, error) {
	r := &run{
		Controller: c,
		state:      Reading,
		prev:       Reading,
	}
	id := uuid.NewString()
	r.logger = c.logger.With(slog.String("session_id", id))

	if strings.TrimSpace(text) == "" {
		r.session = NewSession(id, nil)
		return r.finishEmpty(ctx, prompts.EmptyPage), nil
	}
	sentences := sentence.Split(text, c.opts.MinSentenceLength)
	r.session = NewSession(id, sentences)
	if len(sentences) == 0 {
		return r.finishEmpty(ctx, prompts.NoSentences), nil
	}

	r.logger.Info("session started", slog.Int("sentences", len(sentences)))
	r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSessionStarted})

	for r.state != Terminated {
		var next State
		switch r.state {
		case Reading:
			next = r.reading(ctx)
		case PauseMenu:
			next = r.pauseMenu(ctx)
		case SummarySub:
			next = r.summary(ctx)
		case VoiceControl:
			next = r.voiceControl(ctx)
		default:
			return r.result(), fmt.Errorf("reader: no handler for state %s", r.state)
		}
		if ctx.Err() != nil {
			c.deps.Lanes.StopAll()
			r.outcome = OutcomeCancelled
			next = Terminated
		}
		if err := r.transition(ctx, next); err != nil {
			c.deps.Lanes.StopAll()
			return r.result(), err
		}
	}

	r.logger.Info("session ended",
		slog.String("outcome", string(r.outcome)),
		slog.Int("narrated", r.session.Index()-r.skipped),
		slog.Int("skipped", r.skipped))
	r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSessionEnded, Detail: string(r.outcome)})
	return r.result(), nil
}

// run is the state of one Run call.
type run struct {
	*Controller
	logger  *slog.Logger
	session *Session
	state   State
	prev    State
	outcome Outcome

	// caller is the state SummarySub returns to.
	caller   State
	failures int
	skipped  int
}

func (r *run) result() Result {
	return Result{
		SessionID: r.session.ID,
		Outcome:   r.outcome,
		Narrated:  r.session.Index() - r.skipped,
		Skipped:   r.skipped,
	}
}

func (r *run) finishEmpty(ctx context.Context, key string) Result {
	r.logger.Info("nothing to read", slog.String("prompt", key))
	r.say(ctx, key)
	r.outcome = OutcomeEmpty
	if ctx.Err() != nil {
		r.outcome = OutcomeCancelled
	}
	r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSessionEnded, Detail: string(r.outcome)})
	return r.result()
}

func (r *run) transition(ctx context.Context, next State) error {
	from := r.state
	if next == from {
		return nil
	}
	if !CanTransition(from, next) {
		return fmt.Errorf("reader: illegal transition %s -> %s", from, next)
	}
	if next == SummarySub {
		r.caller = from
	}
	r.prev, r.state = from, next
	r.logger.Debug("state changed", slog.String("from", from.String()), slog.String("to", next.String()))
	r.emit(ctx, protocol.SessionEvent{Type: protocol.EventStateChanged, From: from.String()})
	return nil
}

func (r *run) reading(ctx context.Context) State {
	if r.prev != Reading {
		r.discardTypeahead()
	}
	for {
		current, ok := r.session.Current()
		if !ok {
			r.say(ctx, prompts.Completed)
			r.outcome = OutcomeCompleted
			return Terminated
		}

		r.deps.Lanes.StopAll()
		r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSentenceStarted, Detail: current.Text})
		clip, err := r.render(ctx, "sentence", current.Text)
		if err != nil {
			if ctx.Err() != nil {
				return Terminated
			}
			// Skipped sentences still join the history.
			r.logger.Warn("sentence synthesis failed, skipping", slog.Int("sentence", current.Index), slogError(err))
			r.skipped++
			r.session.Advance()
			r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSentenceSkipped, Sentence: current.Index, Detail: err.Error()})
			if next, interrupted := r.watchMain(ctx); interrupted {
				return next
			}
			continue
		}
		r.deps.Lanes.Main.Play(clip)

		if next, interrupted := r.watchMain(ctx); interrupted {
			return next
		}

		r.session.Advance()
		r.narrated.Add(ctx, 1)
		r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSentenceFinished, Sentence: current.Index})
	}
}

// discardTypeahead drops keys pressed while another state was listening so
// they are not taken as a choice here.
func (r *run) discardTypeahead() {
	if n := r.deps.Input.Drain(); n > 0 {
		r.logger.Debug("discarded stale input", slog.Int("lines", n), slog.String("state", r.state.String()))
	}
}

// watchMain polls the interrupt source and then the main lane until the
// sentence ends or the listener interrupts it.
func (r *run) watchMain(ctx context.Context) (State, bool) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if line, ok := r.deps.Input.Poll(); ok {
			switch line {
			case "p", "v":
				r.interrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("key", line)))
				r.emit(ctx, protocol.SessionEvent{Type: protocol.EventInterrupt, Detail: line})
				if line == "p" {
					return PauseMenu, true
				}
				return VoiceControl, true
			default:
				r.logger.Debug("ignoring input while reading", slog.String("input", line))
			}
		}
		if !r.deps.Lanes.Main.IsPlaying() {
			return Reading, false
		}
		select {
		case <-ctx.Done():
			return Terminated, true
		case <-ticker.C:
		}
	}
}

func (r *run) pauseMenu(ctx context.Context) State {
	r.discardTypeahead()
	if r.prev == SummarySub {
		r.say(ctx, prompts.BackPauseMenu)
	} else {
		r.deps.Lanes.StopAll()
		r.say(ctx, prompts.PauseBeep)
		r.say(ctx, prompts.Paused)
	}

	for {
		line, err := r.deps.Input.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Terminated
			}
			if !errors.Is(err, io.EOF) {
				r.logger.Warn("reading pause menu choice failed", slogError(err))
			}
			return r.quit(ctx)
		}

		switch menuChoice(line) {
		case command.Resume:
			r.resumeCue(ctx)
			return Reading
		case command.Summary:
			if r.session.Index() == 0 {
				r.say(ctx, prompts.NoContentYet)
				continue
			}
			return SummarySub
		case command.Quit:
			return r.quit(ctx)
		default:
			r.logger.Info("invalid pause menu option", slog.String("input", line))
			r.say(ctx, prompts.InvalidOption)
		}
		if ctx.Err() != nil {
			return Terminated
		}
	}
}

// menuChoice maps the single key menu to commands and falls back to spoken
// words so "resume" works as well as "r".
func menuChoice(line string) command.Command {
	switch line {
	case "r":
		return command.Resume
	case "m":
		return command.Summary
	case "q":
		return command.Quit
	case "":
		return command.None
	}
	return command.Normalize(line)
}

func (r *run) summary(ctx context.Context) State {
	caller := r.caller
	r.summaries.Add(ctx, 1, metric.WithAttributes(attribute.String("from", caller.String())))
	r.say(ctx, prompts.GeneratingSummary)

	input := r.session.HistoryText()
	text, err := r.summarize(ctx, input)
	if err != nil {
		return r.summaryFailed(ctx, caller, err)
	}
	clip, err := r.render(ctx, "summary", text)
	if err != nil {
		return r.summaryFailed(ctx, caller, err)
	}

	r.deps.Lanes.StopAll()
	r.deps.Lanes.Summary.Play(clip)
	r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSummary, Detail: text})

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		if line, ok := r.deps.Input.Poll(); ok && line == "s" {
			r.deps.Lanes.Summary.Stop()
			r.say(ctx, prompts.StoppingSummary)
			break
		}
		if !r.deps.Lanes.Summary.IsPlaying() {
			break
		}
		select {
		case <-ctx.Done():
			return Terminated
		case <-ticker.C:
		}
	}

	if caller == VoiceControl {
		r.say(ctx, prompts.BackVoice)
	} else {
		r.say(ctx, prompts.SummaryFinished)
	}
	return caller
}

func (r *run) summaryFailed(ctx context.Context, caller State, err error) State {
	if ctx.Err() != nil {
		return Terminated
	}
	r.logger.Warn("summary unavailable", slogError(err))
	r.emit(ctx, protocol.SessionEvent{Type: protocol.EventSummaryFailed, Detail: err.Error()})
	r.say(ctx, prompts.SummaryFailed)
	return caller
}

func (r *run) voiceControl(ctx context.Context) State {
	if r.prev == Reading {
		r.deps.Lanes.StopAll()
		r.failures = 0
		r.say(ctx, prompts.VoiceIntro)
	}

	for ctx.Err() == nil {
		cmd, ok := r.deps.Listener.ListenForCommand(ctx, r.opts.VoiceAttempts)
		if ctx.Err() != nil {
			break
		}
		if ok {
			r.emit(ctx, protocol.SessionEvent{Type: protocol.EventVoiceCommand, Detail: cmd.String()})
		}

		switch {
		case !ok:
			if r.voiceFailed(ctx, "exhausted") {
				r.say(ctx, prompts.ReturnToReading)
				return Reading
			}
			r.say(ctx, prompts.VoiceRetry)
		case cmd == command.Resume:
			r.deps.Lanes.StopAll()
			r.say(ctx, prompts.Resuming)
			return Reading
		case cmd == command.Quit:
			return r.quit(ctx)
		case cmd == command.Summary:
			if r.session.Index() == 0 {
				r.say(ctx, prompts.NoContentYet)
				continue
			}
			return SummarySub
		default:
			r.say(ctx, prompts.VoiceUnknown)
			if r.voiceFailed(ctx, "unknown") {
				r.say(ctx, prompts.ReturnToReading)
				return Reading
			}
		}
	}
	return Terminated
}

// voiceFailed counts a failed round and reports whether the ceiling was hit.
func (r *run) voiceFailed(ctx context.Context, reason string) bool {
	r.failures++
	r.voiceFails.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	r.emit(ctx, protocol.SessionEvent{Type: protocol.EventVoiceFailure, Detail: fmt.Sprintf("%s %d/%d", reason, r.failures, r.opts.VoiceFailureCeiling)})
	return r.failures >= r.opts.VoiceFailureCeiling
}

func (r *run) quit(ctx context.Context) State {
	r.say(ctx, prompts.Exiting)
	r.deps.Lanes.StopAll()
	r.outcome = OutcomeQuit
	return Terminated
}

func (r *run) resumeCue(ctx context.Context) {
	r.deps.Lanes.StopAll()
	r.say(ctx, prompts.ResumeBeep)
	r.say(ctx, prompts.Resuming)
}

func (r *run) say(ctx context.Context, key string) {
	if ctx.Err() != nil {
		return
	}
	if err := r.deps.Announcer.Say(ctx, key); err != nil && ctx.Err() == nil {
		r.logger.Warn("prompt failed", slog.String("key", key), slogError(err))
	}
}

func (r *run) render(ctx context.Context, kind, text string) (*audio.Clip, error) {
	ctx, span := r.tracer.Start(ctx, "reader.synthesize", trace.WithAttributes(
		attribute.String("reader.kind", kind),
		attribute.Int("reader.chars", len(text)),
	))
	defer span.End()
	clip, err := tts.Render(ctx, r.deps.Synth, tts.SynthRequest{
		SessionID: r.session.ID,
		Text:      text,
		Voice:     r.opts.Voice,
	})
	if err != nil {
		span.RecordError(err)
	}
	return clip, err
}

func (r *run) summarize(ctx context.Context, text string) (string, error) {
	ctx, span := r.tracer.Start(ctx, "reader.summarize", trace.WithAttributes(
		attribute.Int("reader.history_sentences", r.session.Index()),
	))
	defer span.End()
	summary, err := r.deps.Summarizer.Summarize(ctx, text)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		span.RecordError(err)
	}
	return summary, err
}

func (r *run) emit(ctx context.Context, evt protocol.SessionEvent) {
	evt.SessionID = r.session.ID
	if evt.State == "" {
		evt.State = r.state.String()
	}
	if evt.Type != protocol.EventSentenceFinished && evt.Type != protocol.EventSentenceSkipped {
		evt.Sentence = r.session.Index()
	}
	evt.Total = r.session.Len()
	evt.Timestamp = time.Now().UTC()
	if err := r.deps.Recorder.Record(context.WithoutCancel(ctx), evt); err != nil {
		r.logger.Warn("failed to record session event", slog.String("type", string(evt.Type)), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
