package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/media"
	"gemini-media-chat/internal/prompts"
)

type Config struct {
	TelegramToken string
	GeminiAPIKey  string

	LogLevel string
	Debug    bool

	PreferIPv4 bool

	RequestTimeout   time.Duration
	HTTPTimeout      time.Duration
	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiRPS        float64

	UploadPollInterval time.Duration
	UploadTimeout      time.Duration
	FrameInterval      time.Duration
	FFmpegPath         string
	FFprobePath        string
	StagingDir         string
	MaxImageDimension  int

	WebAddr          string
	MaxUploadBytes   int64
	SessionIdle      time.Duration
	WebRatePerMinute int

	MediaGroupDebounce time.Duration
	MaxConcurrent      int
	MaxFrames          int

	ConfigFile string
	Catalog    chat.Catalog
	Generation chat.GenerationParams
	Safety     chat.SafetyThresholds
	Prompts    prompts.Catalog
}

func Load() (Config, error) {
	cfg := Config{
		LogLevel:           strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:              getEnvBool("DEBUG", false),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT_SECONDS", 180*time.Second, time.Second),
		HTTPTimeout:        getEnvDuration("HTTP_TIMEOUT_SECONDS", 180*time.Second, time.Second),
		GeminiBaseURL:      strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion:   strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		GeminiRPS:          getEnvFloat("GEMINI_RPS", 2),
		UploadPollInterval: getEnvDuration("UPLOAD_POLL_SECONDS", media.DefaultPollInterval, time.Second),
		UploadTimeout:      getEnvDuration("UPLOAD_TIMEOUT_SECONDS", media.DefaultUploadTimeout, time.Second),
		FrameInterval:      getEnvDuration("FRAME_INTERVAL_SECONDS", 5*time.Second, time.Second),
		FFmpegPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		StagingDir:         getEnv("STAGING_DIR", os.TempDir()),
		MaxImageDimension:  getEnvInt("MAX_IMAGE_DIMENSION", 2048),
		WebAddr:            getEnv("WEB_ADDR", ":8080"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 200)) << 20,
		SessionIdle:        getEnvDuration("SESSION_IDLE_MINUTES", 60*time.Minute, time.Minute),
		WebRatePerMinute:   getEnvInt("WEB_RATE_PER_MINUTE", 30),
		MediaGroupDebounce: getEnvDuration("MEDIA_GROUP_DEBOUNCE_MS", 1200*time.Millisecond, time.Millisecond),
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		MaxFrames:          getEnvInt("MAX_FRAMES", 30),
		ConfigFile:         strings.TrimSpace(os.Getenv("CHAT_CONFIG_FILE")),
		Catalog:            chat.DefaultCatalog(),
		Generation:         chat.DefaultGenerationParams(),
		Safety:             chat.DefaultSafetyThresholds(),
		Prompts:            prompts.Default(),
	}

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))

	if cfg.MaxFrames < 1 {
		cfg.MaxFrames = 1
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxImageDimension < 64 {
		cfg.MaxImageDimension = 64
	}
	if cfg.FrameInterval < time.Second {
		cfg.FrameInterval = time.Second
	}
	if cfg.WebRatePerMinute < 1 {
		cfg.WebRatePerMinute = 1
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// ValidateBot checks the settings only the Telegram front-end needs.
func (c Config) ValidateBot() error {
	switch {
	case c.TelegramToken == "":
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	case c.GeminiAPIKey == "":
		return errors.New("GEMINI_API_KEY is required")
	}
	return nil
}

type fileOverlay struct {
	Models     []chat.Model                `toml:"models"`
	Generation chat.GenerationParams       `toml:"generation"`
	Safety     map[string]string           `toml:"safety"`
	Prompts    map[string][]prompts.Preset `toml:"prompts"`
}

// applyFile overlays a TOML file on cfg. Generation keys left out of the file
// keep their defaults.
func (c *Config) applyFile(path string) error {
	overlay := fileOverlay{Generation: c.Generation}
	if _, err := toml.DecodeFile(path, &overlay); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := overlay.Generation.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	c.Generation = overlay.Generation

	if len(overlay.Models) > 0 {
		catalog := make(chat.Catalog, 0, len(overlay.Models))
		for _, m := range overlay.Models {
			if strings.TrimSpace(m.ID) == "" {
				return fmt.Errorf("%s: model %q has no id", path, m.Name)
			}
			if m.Name == "" {
				m.Name = m.ID
			}
			catalog = append(catalog, m)
		}
		c.Catalog = catalog
	}

	for category, threshold := range overlay.Safety {
		c.Safety[chat.HarmCategory(strings.ToUpper(category))] = chat.Threshold(strings.ToUpper(threshold))
	}
	if err := c.Safety.Validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	if len(overlay.Prompts) > 0 {
		extra := make(prompts.Catalog, len(overlay.Prompts))
		for kind, presets := range overlay.Prompts {
			extra[media.Kind(strings.ToLower(kind))] = presets
		}
		c.Prompts = c.Prompts.Merge(extra)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration reads an integer count of unit. Non-positive values fall
// back.
func getEnvDuration(key string, fallback, unit time.Duration) time.Duration {
	n := getEnvInt(key, 0)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * unit
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
