package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/prompts"
	"github.com/loqalabs/loqa-reader/internal/runtime"
)

var version = "0.1.0-dev"

const usage = `usage: loqa-prompts <command> [flags]

commands:
  validate -file prompts.yaml     check a prompt manifest
  list     -config loqa-reader.yaml   show the effective prompt catalog
  render   -config loqa-reader.yaml   synthesize every spoken prompt into the cache
  version                         print the version`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Println(version)
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	var err error
	switch cmd {
	case "validate":
		file := fs.String("file", "prompts.yaml", "Path to prompt manifest")
		fs.Parse(args)
		if err = runValidate(*file); err == nil {
			fmt.Println("manifest valid")
		}
	case "list":
		configPath := fs.String("config", "loqa-reader.yaml", "Path to configuration file")
		fs.Parse(args)
		_ = godotenv.Load()
		err = runList(*configPath, os.Stdout)
	case "render":
		configPath := fs.String("config", "loqa-reader.yaml", "Path to configuration file")
		fs.Parse(args)
		_ = godotenv.Load()
		var n int
		if n, err = runRender(context.Background(), *configPath); err == nil {
			fmt.Printf("%d prompts rendered\n", n)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(path string) error {
	m, err := prompts.LoadManifest(path)
	if err != nil {
		return err
	}
	return prompts.Validate(m)
}

func runList(configPath string, w io.Writer) error {
	cfg, err := config.Load(configPath, true)
	if err != nil {
		return err
	}
	catalog, voice, err := runtime.PromptCatalog(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "voice: %s\n", voice)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, key := range catalog.Keys() {
		p := catalog[key]
		switch {
		case p.Tone != nil:
			fmt.Fprintf(tw, "%s\ttone\t%.0f Hz, %d ms\n", key, p.Tone.Hz, p.Tone.DurationMS)
		case p.File != "":
			fmt.Fprintf(tw, "%s\tfile\t%s\n", key, p.File)
		default:
			fmt.Fprintf(tw, "%s\ttext\t%s\n", key, p.Text)
		}
	}
	return tw.Flush()
}

func runRender(ctx context.Context, configPath string) (int, error) {
	cfg, err := config.Load(configPath, true)
	if err != nil {
		return 0, err
	}
	cfg.Prompts.Prerender = false
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	synth, err := runtime.NewSynthesizer(cfg.TTS)
	if err != nil {
		return 0, err
	}
	cache, err := runtime.NewPromptCache(ctx, cfg, synth, logger)
	if err != nil {
		return 0, err
	}
	return cache.Prerender(ctx)
}
