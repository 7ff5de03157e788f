package web

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/media"
	"gemini-media-chat/internal/prompts"
	"gemini-media-chat/internal/session"
)

const sessionCookie = "gemchat_session"

type Ingester interface {
	Ingest(ctx context.Context, data []byte, mimeType string) (media.Handle, error)
}

type Sampler interface {
	SampleAtMost(ctx context.Context, video []byte, mimeType string, interval time.Duration, maxFrames int) (media.FrameSet, error)
}

type Options struct {
	Sessions *session.Store

	// Ingesters and Remotes build per-credential services. A blank key means
	// the server's configured key.
	Ingesters func(apiKey string) Ingester
	Remotes   func(apiKey string) chat.Remote
	Sampler   Sampler

	Catalog    chat.Catalog
	Generation chat.GenerationParams
	Safety     chat.SafetyThresholds
	Prompts    prompts.Catalog

	FrameInterval  time.Duration
	MaxFrames      int
	MaxUploadBytes int64
	RequestTimeout time.Duration

	Static  fs.FS
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	sessions   *session.Store
	ingesters  func(apiKey string) Ingester
	remotes    func(apiKey string) chat.Remote
	sampler    Sampler
	catalog    chat.Catalog
	generation chat.GenerationParams
	safety     chat.SafetyThresholds
	prompts    prompts.Catalog

	frameInterval  time.Duration
	maxFrames      int
	maxUploadBytes int64
	requestTimeout time.Duration

	static  fs.FS
	metrics http.Handler
	logger  *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	catalog := opts.Catalog
	if len(catalog) == 0 {
		catalog = chat.DefaultCatalog()
	}
	generation := opts.Generation
	if generation == (chat.GenerationParams{}) {
		generation = chat.DefaultGenerationParams()
	}
	safety := opts.Safety
	if safety == nil {
		safety = chat.DefaultSafetyThresholds()
	}
	catalogPrompts := opts.Prompts
	if catalogPrompts == nil {
		catalogPrompts = prompts.Default()
	}
	frameInterval := opts.FrameInterval
	if frameInterval < time.Second {
		frameInterval = 5 * time.Second
	}
	maxFrames := opts.MaxFrames
	if maxFrames <= 0 {
		maxFrames = 30
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 200 << 20
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}

	return &Server{
		sessions:       opts.Sessions,
		ingesters:      opts.Ingesters,
		remotes:        opts.Remotes,
		sampler:        opts.Sampler,
		catalog:        catalog,
		generation:     generation,
		safety:         safety,
		prompts:        catalogPrompts,
		frameInterval:  frameInterval,
		maxFrames:      maxFrames,
		maxUploadBytes: maxUpload,
		requestTimeout: timeout,
		static:         opts.Static,
		metrics:        opts.Metrics,
		logger:         logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	mux.HandleFunc("POST /api/bind", s.handleBind)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("GET /api/frames/{index}", s.handleFrame)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/transcript", s.handleTranscript)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.static != nil {
		mux.Handle("/", http.FileServer(http.FS(s.static)))
	}
	return withLogging(mux, s.logger)
}

// Run serves until ctx is cancelled, evicting idle sessions in the
// background.
func (s *Server) Run(ctx context.Context, addr string, sweepEvery time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sessions.Sweep(); n > 0 {
					s.logger.Info("idle sessions evicted", "count", n)
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("web started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// workspace resolves the caller's session cookie, issuing a new one when
// absent.
func (s *Server) workspace(w http.ResponseWriter, r *http.Request) *session.Workspace {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return s.sessions.Get(c.Value)
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s.sessions.Get(id)
}
