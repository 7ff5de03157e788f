package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"gemini-media-chat/internal/app"
	"gemini-media-chat/internal/config"
	"gemini-media-chat/internal/handlers"
	"gemini-media-chat/internal/httpclient"
	"gemini-media-chat/internal/mediagroup"
	"gemini-media-chat/internal/session"
	"gemini-media-chat/internal/telegram"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.ValidateBot(); err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg)
	services := app.New(cfg, logger)

	tg, err := telegram.New(telegram.Options{
		Token: cfg.TelegramToken,
		HTTPClient: httpclient.New(httpclient.Options{
			PreferIPv4: cfg.PreferIPv4,
			Timeout:    cfg.HTTPTimeout,
		}),
		Logger: logger,
		Debug:  cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	workspaces := session.NewStore(session.Options{
		NewManager:    services.NewManager,
		IdleTimeout:   cfg.SessionIdle,
		RatePerMinute: cfg.WebRatePerMinute,
	})

	handler := handlers.New(handlers.Options{
		Telegram:      tg,
		Workspaces:    workspaces,
		Ingester:      services.Ingester(""),
		Sampler:       services.Sampler,
		Catalog:       cfg.Catalog,
		Generation:    cfg.Generation,
		Safety:        cfg.Safety,
		Prompts:       cfg.Prompts,
		FrameInterval: cfg.FrameInterval,
		MaxFrames:     cfg.MaxFrames,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	onGroupFlush := func(group mediagroup.Group) {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		go func() {
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()

			handler.HandleMediaGroup(reqCtx, group)
		}()
	}

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush:  onGroupFlush,
	})
	handler.SetMediaGroupAggregator(aggregator)

	go func() {
		ticker := time.NewTicker(cfg.SessionIdle / 4)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := workspaces.Sweep(); n > 0 {
					logger.Info("idle sessions evicted", "count", n)
				}
			}
		}
	}()

	logger.Info("bot started", "username", tg.Username())

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "pending_albums", aggregator.Pending())
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			go func(update telegram.Update) {
				defer func() { <-sem }()

				reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
				defer cancel()

				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err)
				}
			}(update)
		}
	}
}
