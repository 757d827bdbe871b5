// Package runtime assembles the reader from configuration and owns the
// lifetime of every long-lived resource.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-reader/internal/audio"
	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/capability"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/console"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/llm"
	"github.com/loqalabs/loqa-reader/internal/natsserver"
	"github.com/loqalabs/loqa-reader/internal/ocr"
	"github.com/loqalabs/loqa-reader/internal/prompts"
	"github.com/loqalabs/loqa-reader/internal/reader"
	"github.com/loqalabs/loqa-reader/internal/tts"
	"github.com/loqalabs/loqa-reader/internal/voice"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	stdin  io.Reader

	httpServer     *http.Server
	metricsServer  *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup

	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	registry   *capability.Registry
	store      *eventstore.Store
	journal    *journal
	lanes      *audio.Lanes
	announcer  *prompts.Announcer
	input      *console.Lines
	extractor  ocr.Extractor
	controller *reader.Controller
}

// New prepares a runtime reading keyboard interrupts from stdin.
func New(cfg config.Config, logger *slog.Logger, stdin io.Reader) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "runtime")),
		stdin:  stdin,
	}
}

// Start builds every backend and returns once the reader is ready. On error
// whatever was already started is shut down again.
func (r *Runtime) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.Shutdown(shutdownCtx)
		}
	}()

	telemetryClose, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = telemetryClose
	r.serveHTTP(metricHandler)

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.store = store
	r.journal = &journal{store: store}

	client := &http.Client{Timeout: 5 * time.Minute}

	sink, err := newSink(r.cfg.Audio, r.logger)
	if err != nil {
		return fmt.Errorf("audio sink: %w", err)
	}
	r.lanes = audio.NewLanes(sink, audio.Options{
		BlockFrames: r.cfg.Audio.BlockFrames,
		StopTimeout: time.Duration(r.cfg.Audio.StopTimeoutMS) * time.Millisecond,
	}, r.logger)

	synth, err := NewSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("tts backend: %w", err)
	}
	listener, err := newListener(r.cfg.STT, r.logger)
	if err != nil {
		return fmt.Errorf("stt backend: %w", err)
	}
	generator, err := newGenerator(r.cfg.LLM, client)
	if err != nil {
		return fmt.Errorf("llm backend: %w", err)
	}
	if r.extractor, err = newExtractor(r.cfg, client, r.logger); err != nil {
		return fmt.Errorf("ocr backend: %w", err)
	}

	cache, err := NewPromptCache(ctx, r.cfg, synth, r.logger)
	if err != nil {
		return err
	}
	poll := time.Duration(r.cfg.Reader.PollIntervalMS) * time.Millisecond
	r.announcer = prompts.NewAnnouncer(cache, r.lanes.Prompt, poll, r.logger)

	if r.input, err = console.NewLines(r.stdin, r.logger); err != nil {
		return fmt.Errorf("console input: %w", err)
	}
	listen := time.Duration(r.cfg.STT.ListenSeconds) * time.Second
	loop := voice.NewLoop(listener, r.announcer, listen, r.logger)

	recorders := []reader.Recorder{r.journal}
	if r.bus != nil {
		recorders = append(recorders, r.bus)
	}
	r.controller, err = reader.NewController(reader.Deps{
		Lanes:      r.lanes,
		Synth:      synth,
		Announcer:  r.announcer,
		Summarizer: llm.NewSummarizer(generator, r.cfg.LLM, r.logger),
		Listener:   loop,
		Input:      r.input,
		Recorder:   reader.Fanout(recorders...),
		Logger:     r.logger,
	}, reader.Options{
		MinSentenceLength:   r.cfg.Reader.MinSentenceLength,
		PollInterval:        poll,
		VoiceAttempts:       r.cfg.Reader.VoiceAttempts,
		VoiceFailureCeiling: r.cfg.Reader.VoiceFailureCeiling,
		Voice:               r.cfg.TTS.Voice,
	})
	if err != nil {
		return fmt.Errorf("reader controller: %w", err)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("tts", r.cfg.TTS.Mode),
		slog.String("stt", r.cfg.STT.Mode),
		slog.String("llm", r.cfg.LLM.Mode),
		slog.String("ocr", r.cfg.OCR.Mode))
	return nil
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		return nil
	}
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return err
		}
		r.nats = ns
		busCfg.Servers = []string{ns.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	var maxAge time.Duration
	if r.cfg.EventStore.RetentionDays > 0 {
		maxAge = time.Duration(r.cfg.EventStore.RetentionDays) * 24 * time.Hour
	}
	// Plain NATS servers without JetStream still get the live events.
	if err := client.EnsureSessionStream(maxAge); err != nil {
		r.logger.Warn("session stream unavailable", slogError(err))
	}
	registry, err := capability.NewRegistry(ctx, r.cfg.Node, capability.FromConfig(r.cfg), client, r.logger)
	if err != nil {
		return fmt.Errorf("capability registry: %w", err)
	}
	r.registry = registry
	return nil
}

// PromptCatalog merges the configured manifest over the built-in prompts
// and returns the voice prompts are spoken in.
func PromptCatalog(cfg config.Config) (prompts.Catalog, string, error) {
	catalog, voice := prompts.Defaults(), cfg.TTS.Voice
	if cfg.Prompts.Manifest == "" {
		return catalog, voice, nil
	}
	manifest, err := prompts.LoadManifest(cfg.Prompts.Manifest)
	if err != nil {
		return nil, "", err
	}
	if err := prompts.Validate(manifest); err != nil {
		return nil, "", fmt.Errorf("prompt manifest %s: %w", cfg.Prompts.Manifest, err)
	}
	if manifest.Voice != "" {
		voice = manifest.Voice
	}
	return catalog.With(manifest), voice, nil
}

// NewPromptCache builds the prompt cache for cfg and prerenders it when
// configured.
func NewPromptCache(ctx context.Context, cfg config.Config, synth tts.Synthesizer, logger *slog.Logger) (*prompts.Cache, error) {
	catalog, voice, err := PromptCatalog(cfg)
	if err != nil {
		return nil, err
	}
	cache := prompts.NewCache(synth, prompts.CacheOptions{
		Dir:     cfg.Prompts.CacheDir,
		Catalog: catalog,
		Voice:   voice,
		Backend: cfg.TTS.Mode + " " + cfg.TTS.Command,
		Format:  audio.Format{SampleRate: cfg.TTS.SampleRate, Channels: cfg.TTS.Channels},
	}, logger)
	if cfg.Prompts.Prerender {
		if _, err := cache.Prerender(ctx); err != nil {
			return nil, fmt.Errorf("prerender prompts: %w", err)
		}
	}
	return cache, nil
}

func (r *Runtime) serveHTTP(metrics http.Handler) {
	if r.cfg.HTTP.Enabled {
		addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
		r.httpServer = r.listen(addr, r.routes(metrics))
	}
	if bind := strings.TrimSpace(r.cfg.Telemetry.PrometheusBind); bind != "" && metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		r.metricsServer = r.listen(bind, mux)
	}
}

func (r *Runtime) routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

func (r *Runtime) listen(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("addr", addr), slogError(err))
		}
	}()
	r.logger.Info("http listening", slog.String("addr", addr))
	return srv
}

// ReadImage transcribes the page at path and narrates it. A page that cannot
// be transcribed is announced and ends with OutcomeEmpty.
func (r *Runtime) ReadImage(ctx context.Context, path string) (reader.Result, error) {
	if r.controller == nil {
		return reader.Result{}, errors.New("runtime not started")
	}
	r.say(ctx, prompts.Processing)
	text, err := r.extractor.ExtractText(ctx, path)
	if err != nil {
		r.logger.Error("page transcription failed", slog.String("image", path), slogError(err))
		r.say(ctx, prompts.NoImage)
		return reader.Result{Outcome: reader.OutcomeEmpty}, nil
	}
	return r.ReadText(ctx, text, path)
}

// ReadText narrates text. source is journaled with the session.
func (r *Runtime) ReadText(ctx context.Context, text, source string) (reader.Result, error) {
	if r.controller == nil {
		return reader.Result{}, errors.New("runtime not started")
	}
	r.journal.setSource(source)
	return r.controller.Run(ctx, text)
}

func (r *Runtime) say(ctx context.Context, key string) {
	if err := r.announcer.Say(ctx, key); err != nil {
		r.logger.Warn("prompt failed", slog.String("prompt", key), slogError(err))
	}
}

// Shutdown stops playback and releases resources in reverse start order.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.ready.Store(false)
	var errs []error
	if r.lanes != nil {
		r.lanes.StopAll()
	}
	if r.input != nil {
		if err := r.input.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	r.wg.Wait()
	if r.telemetryClose != nil {
		if err := r.telemetryClose(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	r.logger.Info("runtime stopped")
	return errors.Join(errs...)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.registry.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
