package reader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/command"
	"github.com/loqalabs/loqa-reader/internal/prompts"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/tts"
)

const (
	sentenceZero = "Hi. Dr."
	sentenceOne  = "Smith left. Ok."
	twoSentences = "Hi. Dr. Smith left. Ok."
	summaryText  = "Summary text here."
)

var testFormat = audio.Format{SampleRate: 8000, Channels: 1}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// countingSink tracks how many streams are open across every lane.
type countingSink struct {
	mu      sync.Mutex
	open    int
	maxOpen int
}

func (s *countingSink) Open(format audio.Format) (audio.Stream, error) {
	inner, err := audio.NullSink{}.Open(format)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.open++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	s.mu.Unlock()
	return &countingStream{Stream: inner, sink: s}, nil
}

func (s *countingSink) max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOpen
}

type countingStream struct {
	audio.Stream
	sink   *countingSink
	closed bool
}

func (s *countingStream) Close() error {
	if !s.closed {
		s.closed = true
		s.sink.mu.Lock()
		s.sink.open--
		s.sink.mu.Unlock()
	}
	return s.Stream.Close()
}

type recordingSynth struct {
	inner tts.Synthesizer
	mu    sync.Mutex
	texts []string
	fail  map[string]bool
}

func (r *recordingSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	r.mu.Lock()
	r.texts = append(r.texts, req.Text)
	fail := r.fail[req.Text]
	r.mu.Unlock()
	if fail {
		chunks := make(chan tts.SynthChunk)
		errs := make(chan error, 1)
		errs <- errors.New("synthesis offline")
		close(chunks)
		close(errs)
		return chunks, errs
	}
	return r.inner.Synthesize(ctx, req)
}

func (r *recordingSynth) rendered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *recordingSynth) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

type recordingAnnouncer struct {
	inner *prompts.Announcer
	mu    sync.Mutex
	keys  []string
}

func (r *recordingAnnouncer) Say(ctx context.Context, key string) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return r.inner.Say(ctx, key)
}

func (r *recordingAnnouncer) said() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

type fakeSummarizer struct {
	mu     sync.Mutex
	inputs []string
	err    error
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, text)
	if f.err != nil {
		return "", f.err
	}
	return summaryText, nil
}

type heard struct {
	cmd command.Command
	ok  bool
}

type scriptedListener struct {
	mu     sync.Mutex
	script []heard
	calls  int
}

func (s *scriptedListener) ListenForCommand(_ context.Context, _ int) (command.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.script) == 0 {
		return command.None, false
	}
	h := s.script[0]
	s.script = s.script[1:]
	return h.cmd, h.ok
}

// pollStep fires line once when holds. ahead is typed right after it and
// sits in the buffer until read or drained.
type pollStep struct {
	when  func() bool
	line  string
	ahead []string
}

type scriptedInput struct {
	mu      sync.Mutex
	polls   []pollStep
	lines   []string
	pending []string
	drained int
}

func (s *scriptedInput) Poll() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		line := s.pending[0]
		s.pending = s.pending[1:]
		return line, true
	}
	if len(s.polls) == 0 || !s.polls[0].when() {
		return "", false
	}
	step := s.polls[0]
	s.polls = s.polls[1:]
	s.pending = append(s.pending, step.ahead...)
	return step.line, true
}

func (s *scriptedInput) Drain() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	s.drained += n
	s.pending = nil
	return n
}

func (s *scriptedInput) ReadLine(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.pending) > 0 {
		line := s.pending[0]
		s.pending = s.pending[1:]
		return line, nil
	}
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []protocol.SessionEvent
}

func (e *eventLog) Record(_ context.Context, evt protocol.SessionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

func (e *eventLog) sentences(typ protocol.EventType) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []int
	for _, evt := range e.events {
		if evt.Type == typ {
			out = append(out, evt.Sentence)
		}
	}
	return out
}

type harness struct {
	sink       *countingSink
	lanes      *audio.Lanes
	synth      *recordingSynth
	announcer  *recordingAnnouncer
	summarizer *fakeSummarizer
	listener   *scriptedListener
	input      *scriptedInput
	events     *eventLog
	opts       Options
}

func newHarness() *harness {
	sink := &countingSink{}
	lanes := audio.NewLanes(sink, audio.Options{BlockFrames: 80, StopTimeout: time.Second}, newLogger())
	promptSynth := tts.NewMockSynth(testFormat.SampleRate, testFormat.Channels, time.Millisecond)
	cache := prompts.NewCache(promptSynth, prompts.CacheOptions{Format: testFormat}, newLogger())
	return &harness{
		sink:  sink,
		lanes: lanes,
		synth: &recordingSynth{
			inner: tts.NewMockSynth(testFormat.SampleRate, testFormat.Channels, 20*time.Millisecond),
			fail:  map[string]bool{},
		},
		announcer:  &recordingAnnouncer{inner: prompts.NewAnnouncer(cache, lanes.Prompt, 2*time.Millisecond, newLogger())},
		summarizer: &fakeSummarizer{},
		listener:   &scriptedListener{},
		input:      &scriptedInput{},
		events:     &eventLog{},
		opts:       Options{MinSentenceLength: 10, PollInterval: 2 * time.Millisecond},
	}
}

// whileNarrating fires once text is the sentence on the main lane.
func (h *harness) whileNarrating(text string) func() bool {
	return func() bool { return h.synth.last() == text && h.lanes.Main.IsPlaying() }
}

func (h *harness) run(t *testing.T, ctx context.Context, text string) Result {
	t.Helper()
	c, err := NewController(Deps{
		Lanes:      h.lanes,
		Synth:      h.synth,
		Announcer:  h.announcer,
		Summarizer: h.summarizer,
		Listener:   h.listener,
		Input:      h.input,
		Recorder:   h.events,
		Logger:     newLogger(),
	}, h.opts)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	res, err := c.Run(ctx, text)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if playing := h.lanes.Playing(); len(playing) != 0 {
		t.Fatalf("lanes still playing after run: %v", playing)
	}
	if h.sink.max() > 1 {
		t.Fatalf("saw %d streams open at once", h.sink.max())
	}
	return res
}

func assertKeys(t *testing.T, got []string, want ...string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("prompts\n got %v\nwant %v", got, want)
	}
}

func TestReadsToCompletion(t *testing.T) {
	h := newHarness()
	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted || res.Narrated != 2 || res.SessionID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.synth.rendered(); !reflect.DeepEqual(got, []string{sentenceZero, sentenceOne}) {
		t.Fatalf("unexpected narration %v", got)
	}
	assertKeys(t, h.announcer.said(), prompts.Completed)
	if got := h.events.sentences(protocol.EventSentenceFinished); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("unexpected finished events %v", got)
	}
}

func TestPauseSummaryResumeReplaysSentence(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{
		{when: h.whileNarrating(sentenceOne), line: "p"},
		{when: h.lanes.Summary.IsPlaying, line: "s"},
	}
	h.input.lines = []string{"m", "r"}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted || res.Narrated != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := []string{sentenceZero, sentenceOne, summaryText, sentenceOne}
	if got := h.synth.rendered(); !reflect.DeepEqual(got, want) {
		t.Fatalf("narration\n got %v\nwant %v", got, want)
	}
	if !reflect.DeepEqual(h.summarizer.inputs, []string{sentenceZero}) {
		t.Fatalf("summary input %v", h.summarizer.inputs)
	}
	if got := h.events.sentences(protocol.EventSentenceStarted); !reflect.DeepEqual(got, []int{0, 1, 1}) {
		t.Fatalf("sentence starts %v", got)
	}
	if got := h.events.sentences(protocol.EventSummary); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("summary must not move the index, got %v", got)
	}
	assertKeys(t, h.announcer.said(),
		prompts.PauseBeep, prompts.Paused,
		prompts.GeneratingSummary, prompts.StoppingSummary, prompts.SummaryFinished,
		prompts.BackPauseMenu, prompts.ResumeBeep, prompts.Resuming,
		prompts.Completed)
}

func TestPauseMenuWithoutHistory(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceZero), line: "p"}}
	h.input.lines = []string{"m", "resume"}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(h.summarizer.inputs) != 0 {
		t.Fatal("summarizer must not run with empty history")
	}
	assertKeys(t, h.announcer.said(),
		prompts.PauseBeep, prompts.Paused, prompts.NoContentYet,
		prompts.ResumeBeep, prompts.Resuming, prompts.Completed)
	if got := h.synth.rendered(); !reflect.DeepEqual(got, []string{sentenceZero, sentenceZero, sentenceOne}) {
		t.Fatalf("unexpected narration %v", got)
	}
}

func TestPauseMenuInvalidThenQuit(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceZero), line: "p"}}
	h.input.lines = []string{"x", "q"}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeQuit || res.Narrated != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	assertKeys(t, h.announcer.said(), prompts.PauseBeep, prompts.Paused, prompts.InvalidOption, prompts.Exiting)
}

func TestPauseMenuIgnoresTypeahead(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceZero), line: "p", ahead: []string{"x"}}}
	h.input.lines = []string{"q"}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeQuit {
		t.Fatalf("unexpected result %+v", res)
	}
	assertKeys(t, h.announcer.said(), prompts.PauseBeep, prompts.Paused, prompts.Exiting)
	if h.input.drained != 1 {
		t.Fatalf("expected the stale line drained, got %d", h.input.drained)
	}
}

func TestReadingIgnoresKeysFromVoiceControl(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceOne), line: "v", ahead: []string{"p"}}}
	h.listener.script = []heard{{command.Resume, true}}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted || res.Narrated != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	assertKeys(t, h.announcer.said(), prompts.VoiceIntro, prompts.Resuming, prompts.Completed)
}

func TestPauseMenuEndOfInputQuits(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceOne), line: "p"}}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeQuit || res.Narrated != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSummaryFailureReturnsToMenu(t *testing.T) {
	h := newHarness()
	h.summarizer.err = errors.New("model offline")
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceOne), line: "p"}}
	h.input.lines = []string{"m", "r"}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted || res.Narrated != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	assertKeys(t, h.announcer.said(),
		prompts.PauseBeep, prompts.Paused, prompts.GeneratingSummary, prompts.SummaryFailed,
		prompts.BackPauseMenu, prompts.ResumeBeep, prompts.Resuming, prompts.Completed)
}

func TestVoiceSummaryThenResume(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceOne), line: "v"}}
	h.listener.script = []heard{{command.Summary, true}, {command.Resume, true}}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted || res.Narrated != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	assertKeys(t, h.announcer.said(),
		prompts.VoiceIntro, prompts.GeneratingSummary, prompts.BackVoice,
		prompts.Resuming, prompts.Completed)
	want := []string{sentenceZero, sentenceOne, summaryText, sentenceOne}
	if got := h.synth.rendered(); !reflect.DeepEqual(got, want) {
		t.Fatalf("narration\n got %v\nwant %v", got, want)
	}
}

func TestVoiceFailureCeilingOfOne(t *testing.T) {
	h := newHarness()
	h.opts.VoiceFailureCeiling = 1
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceZero), line: "v"}}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.listener.calls != 1 {
		t.Fatalf("expected one listen round, got %d", h.listener.calls)
	}
	assertKeys(t, h.announcer.said(), prompts.VoiceIntro, prompts.ReturnToReading, prompts.Completed)
	if got := h.synth.rendered(); !reflect.DeepEqual(got, []string{sentenceZero, sentenceZero, sentenceOne}) {
		t.Fatalf("unexpected narration %v", got)
	}
}

func TestVoiceUnknownCountsTowardsCeiling(t *testing.T) {
	h := newHarness()
	h.opts.VoiceFailureCeiling = 2
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceZero), line: "v"}}
	h.listener.script = []heard{{command.None, true}, {command.None, false}}

	h.run(t, context.Background(), twoSentences)
	assertKeys(t, h.announcer.said(),
		prompts.VoiceIntro, prompts.VoiceUnknown, prompts.ReturnToReading, prompts.Completed)
	if got := h.events.sentences(protocol.EventVoiceFailure); len(got) != 2 {
		t.Fatalf("expected 2 voice failures, got %v", got)
	}
}

func TestVoiceQuitAndEmptySummary(t *testing.T) {
	h := newHarness()
	h.input.polls = []pollStep{{when: h.whileNarrating(sentenceZero), line: "v"}}
	h.listener.script = []heard{{command.Summary, true}, {command.None, false}, {command.Quit, true}}

	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeQuit || res.Narrated != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	assertKeys(t, h.announcer.said(),
		prompts.VoiceIntro, prompts.NoContentYet, prompts.VoiceRetry, prompts.Exiting)
}

func TestSynthesisFailureSkipsSentence(t *testing.T) {
	h := newHarness()
	h.synth.fail[sentenceZero] = true
	res := h.run(t, context.Background(), twoSentences)
	if res.Outcome != OutcomeCompleted || res.Narrated != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := h.events.sentences(protocol.EventSentenceSkipped); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("skipped events %v", got)
	}
	if got := h.events.sentences(protocol.EventSentenceFinished); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("finished events %v", got)
	}
}

func TestEmptyText(t *testing.T) {
	h := newHarness()
	res := h.run(t, context.Background(), " \n\t ")
	if res.Outcome != OutcomeEmpty || res.Narrated != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	assertKeys(t, h.announcer.said(), prompts.EmptyPage)
	if len(h.synth.rendered()) != 0 {
		t.Fatal("nothing should be narrated")
	}
}

func TestCancellationStopsEverything(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.input.polls = []pollStep{{when: func() bool {
		if h.synth.last() == sentenceOne {
			cancel()
		}
		return false
	}, line: ""}}

	res := h.run(t, ctx, twoSentences)
	if res.Outcome != OutcomeCancelled || res.Narrated != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNewControllerRequiresDeps(t *testing.T) {
	if _, err := NewController(Deps{}, Options{}); err == nil {
		t.Fatal("expected error for missing deps")
	}
}
