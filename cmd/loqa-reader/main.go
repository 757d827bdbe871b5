package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/reader"
	"github.com/loqalabs/loqa-reader/internal/runtime"
)

var version = "0.1.0-dev"

const defaultConfig = "loqa-reader.yaml"

func main() {
	var (
		configPath  string
		imagePath   string
		textPath    string
		history     int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", defaultConfig, "Path to configuration file")
	flag.StringVar(&imagePath, "image", "", "Photo of the page to read aloud")
	flag.StringVar(&textPath, "text", "", "Text file to read aloud instead of an image")
	flag.IntVar(&history, "history", 0, "List the N most recent journaled sessions and exit")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}
	if history <= 0 && (imagePath == "") == (textPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -image or -text is required")
		flag.Usage()
		os.Exit(2)
	}

	// LOQA_* overrides may live in a local .env file.
	_ = godotenv.Load()

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(configPath, !explicit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Telemetry.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if history > 0 {
		if err := printHistory(context.Background(), cfg.EventStore, history, os.Stdout, logger); err != nil {
			logger.Error("history failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt := runtime.New(cfg, logger, os.Stdin)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	res, runErr := read(ctx, rt, imagePath, textPath)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rt.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("reading failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("session finished",
		slog.String("session_id", res.SessionID),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("narrated", res.Narrated),
		slog.Int("skipped", res.Skipped))
}

func read(ctx context.Context, rt *runtime.Runtime, imagePath, textPath string) (reader.Result, error) {
	if imagePath != "" {
		return rt.ReadImage(ctx, imagePath)
	}
	data, err := os.ReadFile(textPath)
	if err != nil {
		return reader.Result{}, err
	}
	return rt.ReadText(ctx, string(data), textPath)
}

func printHistory(ctx context.Context, cfg config.EventStoreConfig, n int, w io.Writer, logger *slog.Logger) error {
	if cfg.RetentionMode == "ephemeral" {
		return fmt.Errorf("event store is ephemeral; nothing is journaled")
	}
	store, err := eventstore.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.RecentSessions(ctx, n)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSESSION\tSOURCE\tSENTENCES\tOUTCOME")
	for _, s := range sessions {
		outcome := s.Outcome
		if s.EndedAt.IsZero() {
			outcome = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.CreatedAt.Local().Format(time.DateTime), s.ID, s.Source, s.Sentences, outcome)
	}
	return tw.Flush()
}
