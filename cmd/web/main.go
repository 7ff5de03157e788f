package main

import (
	"context"
	"embed"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gemini-media-chat/internal/app"
	"gemini-media-chat/internal/config"
	"gemini-media-chat/internal/metrics"
	"gemini-media-chat/internal/session"
	"gemini-media-chat/internal/web"
)

//go:embed static/*
var staticFS embed.FS

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg)
	services := app.New(cfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Register(reg); err != nil {
		logger.Error("metrics init failed", "err", err)
		os.Exit(1)
	}

	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}

	sessions := session.NewStore(session.Options{
		NewManager:    services.NewManager,
		IdleTimeout:   cfg.SessionIdle,
		RatePerMinute: cfg.WebRatePerMinute,
	})

	srv := web.New(web.Options{
		Sessions:       sessions,
		Ingesters:      func(apiKey string) web.Ingester { return services.Ingester(apiKey) },
		Remotes:        services.Remote,
		Sampler:        services.Sampler,
		Catalog:        cfg.Catalog,
		Generation:     cfg.Generation,
		Safety:         cfg.Safety,
		Prompts:        cfg.Prompts,
		FrameInterval:  cfg.FrameInterval,
		MaxFrames:      cfg.MaxFrames,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RequestTimeout: cfg.RequestTimeout,
		Static:         staticSub,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepEvery := cfg.SessionIdle / 4
	if err := srv.Run(ctx, cfg.WebAddr, sweepEvery); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("shutting down")
}
