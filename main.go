package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/tokengauge/tokengauge/cache"
	"github.com/tokengauge/tokengauge/internal/config"
	"github.com/tokengauge/tokengauge/store"
	"github.com/tokengauge/tokengauge/tokenizer"
)

func main() {
	if err := runCLI(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func runCLI(args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "help", "--help", "-h":
			fmt.Println("Usage: tokengauge [command] [file]")
			fmt.Println("Counts tokens in file (or stdin) against a model's context limit.")
			fmt.Println("Commands:")
			fmt.Println("  help, --help, -h    Show this help message")
			fmt.Println("  version             Show version")
			fmt.Println("  warm                Prefetch tokenizer assets into the cache")
			fmt.Println("Environment:")
			fmt.Println("  TOKENGAUGE_MODEL        Model to count against (default claude-sonnet-4)")
			fmt.Println("  TOKENGAUGE_STORE        Record store driver: bolt or sqlite")
			fmt.Println("  TOKENGAUGE_DATA_DIR     Store location (default ~/.tokengauge)")
			fmt.Println("  TOKENGAUGE_MODELS_FILE  TOML model registry overrides")
			return nil
		case "version", "--version", "-v":
			fmt.Println("tokengauge v0.1.0")
			return nil
		case "warm":
			return runWarm()
		default:
			return runCount(args[0])
		}
	}
	return runCount("")
}

// runCount counts tokens in path (stdin when empty) and prints the result
// against the configured model's limit.
func runCount(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	var text []byte
	if path == "" {
		text, err = io.ReadAll(os.Stdin)
	} else {
		text, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}

	ctx := context.Background()
	worker, engine, err := setupWorker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := worker.Count(ctx, cfg.Model, string(text))
	if err != nil {
		return err
	}
	marker := ""
	if result.Estimated {
		marker = " (estimated)"
	}
	fmt.Printf("%d / %d tokens%s [%s]\n", result.Tokens, result.Limit, marker, result.Model)
	if !result.Within() {
		fmt.Println("over limit")
	}
	return nil
}

// runWarm prefetches every registered model's tokenizer asset into the cache.
func runWarm() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	engine, assetCache, registry, err := setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	var models []tokenizer.Model
	for _, name := range registry.Names() {
		if m, ok := registry.Lookup(name); ok {
			models = append(models, m)
		}
	}
	if err := tokenizer.NewLoader(assetCache).Warm(ctx, models); err != nil {
		return err
	}
	fmt.Println("tokenizer assets cached")
	return nil
}

func newLogger(cfg config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

func setup(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Engine, *cache.Cache, *tokenizer.Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, nil, err
	}
	engine, err := store.Open(cfg.StoreDriver, cfg.StorePath())
	if err != nil {
		return nil, nil, nil, err
	}
	assetCache, err := cache.Open(ctx, engine, cfg.CacheName)
	if err != nil {
		_ = engine.Close()
		return nil, nil, nil, err
	}
	registry := tokenizer.NewRegistry(logger)
	if cfg.ModelsFile != "" {
		if err := registry.LoadFile(cfg.ModelsFile); err != nil {
			_ = engine.Close()
			return nil, nil, nil, err
		}
	}
	return engine, assetCache, registry, nil
}

func setupWorker(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*tokenizer.Worker, store.Engine, error) {
	engine, assetCache, registry, err := setup(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	worker := tokenizer.NewWorker(registry, tokenizer.NewLoader(assetCache), nil, logger)
	worker.Start(ctx)
	return worker, engine, nil
}
