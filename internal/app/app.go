// Package app wires the shared services both front-ends run on.
package app

import (
	"log/slog"
	"os"
	"strings"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/config"
	"gemini-media-chat/internal/gemini"
	"gemini-media-chat/internal/httpclient"
	"gemini-media-chat/internal/media"
)

type Services struct {
	Config     config.Config
	Logger     *slog.Logger
	Gemini     *gemini.Client
	Sampler    *media.FrameSampler
	Dispatcher *chat.Dispatcher
}

func New(cfg config.Config, logger *slog.Logger) *Services {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4:        cfg.PreferIPv4,
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.GeminiRPS,
		Burst:             cfg.MaxConcurrent,
	})

	gem := gemini.New(gemini.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		APIVersion: cfg.GeminiAPIVersion,
		HTTPClient: httpClient,
		Logger:     logger,
	})

	sampler := media.NewFrameSampler(media.SamplerOptions{
		Decoder: media.FFmpeg{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
		},
		StagingDir:   cfg.StagingDir,
		MaxDimension: cfg.MaxImageDimension,
		Parallelism:  cfg.MaxConcurrent,
		Logger:       logger,
	})

	return &Services{
		Config:     cfg,
		Logger:     logger,
		Gemini:     gem,
		Sampler:    sampler,
		Dispatcher: chat.NewDispatcher(chat.DispatcherOptions{Logger: logger}),
	}
}

// Client returns the Gemini client for apiKey, or the configured one when
// apiKey is blank.
func (s *Services) Client(apiKey string) *gemini.Client {
	if apiKey = strings.TrimSpace(apiKey); apiKey == "" {
		return s.Gemini
	}
	return s.Gemini.WithAPIKey(apiKey)
}

func (s *Services) Remote(apiKey string) chat.Remote {
	return chat.NewRemote(s.Client(apiKey))
}

// Ingester builds an ingester whose uploads use apiKey.
func (s *Services) Ingester(apiKey string) *media.Ingester {
	uploader := media.NewUploader(media.UploaderOptions{
		Files:        s.Client(apiKey),
		StagingDir:   s.Config.StagingDir,
		PollInterval: s.Config.UploadPollInterval,
		Timeout:      s.Config.UploadTimeout,
		Logger:       s.Logger,
		OnProgress: func(f gemini.File) {
			s.Logger.Debug("upload state", "name", f.Name, "state", f.State)
		},
	})
	return media.NewIngester(media.IngestOptions{
		Uploader:          uploader,
		MaxImageDimension: s.Config.MaxImageDimension,
		Logger:            s.Logger,
	})
}

// NewManager returns a chat manager on the configured credential.
func (s *Services) NewManager() *chat.Manager {
	return chat.NewManager(chat.ManagerOptions{
		Remote:     s.Remote(""),
		Catalog:    s.Config.Catalog,
		Dispatcher: s.Dispatcher,
		Logger:     s.Logger,
	})
}

func NewLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if cfg.Debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}
