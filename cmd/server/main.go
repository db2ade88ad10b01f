// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/tokengauge/tokengauge/cache"
	"github.com/tokengauge/tokengauge/internal/config"
	"github.com/tokengauge/tokengauge/internal/http/routes"
	"github.com/tokengauge/tokengauge/store"
	"github.com/tokengauge/tokengauge/tokenizer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		logger.Fatal().Err(err).Msg("create data dir")
	}
	engine, err := store.Open(cfg.StoreDriver, cfg.StorePath())
	if err != nil {
		logger.Fatal().Err(err).Msg("open record store")
	}
	defer engine.Close()

	ctx := context.Background()
	storage := cache.NewStorage(engine)
	assetCache, err := storage.Open(ctx, cfg.CacheName)
	if err != nil {
		logger.Fatal().Err(err).Msg("open asset cache")
	}

	registry := tokenizer.NewRegistry(logger)
	if cfg.ModelsFile != "" {
		if err := registry.LoadFile(cfg.ModelsFile); err != nil {
			logger.Fatal().Err(err).Msg("load model registry")
		}
		if err := registry.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("watch model registry")
		}
	}

	worker := tokenizer.NewWorker(registry, tokenizer.NewLoader(assetCache), nil, logger)
	worker.Start(ctx)

	s := routes.New(routes.ServerOptions{
		Worker:       worker,
		Registry:     registry,
		Storage:      storage,
		DefaultModel: cfg.Model,
	})
	h := hlog.NewHandler(logger)(s.Router)

	logger.Info().Str("addr", cfg.Listen).Msg("starting tokengauge server")
	srv := &http.Server{Addr: cfg.Listen, Handler: h}
	logger.Fatal().Err(srv.ListenAndServe()).Msg("server stopped")
}
