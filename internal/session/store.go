package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/media"
)

// Workspace is one user's state: the chat manager plus the media currently
// attached to the conversation.
type Workspace struct {
	Key  string
	Chat *chat.Manager

	mu           sync.Mutex
	apiKey       string
	upload       media.Handle
	frames       media.FrameSet
	lastActivity time.Time
	limiter      *rate.Limiter
}

// SetMedia replaces the current upload and its sampled frames.
func (w *Workspace) SetMedia(h media.Handle, frames media.FrameSet) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.upload = h
	w.frames = frames
}

func (w *Workspace) Media() (media.Handle, media.FrameSet) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.upload, w.frames
}

// AnalysisAttachment is what a quick analysis runs over: the frames when the
// upload is a sampled video or an album, otherwise the upload itself.
func (w *Workspace) AnalysisAttachment() chat.Attachment {
	h, frames := w.Media()
	if len(frames) > 1 || (len(frames) == 1 && h != nil && h.Kind() == media.KindVideo) {
		return chat.Attachment{Frames: frames}
	}
	return chat.Attachment{Media: h}
}

func (w *Workspace) ClearMedia() {
	w.SetMedia(nil, nil)
}

// SetAPIKey records a credential supplied by the user for this workspace.
func (w *Workspace) SetAPIKey(key string) {
	w.mu.Lock()
	w.apiKey = key
	w.mu.Unlock()
}

func (w *Workspace) APIKey() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.apiKey
}

// Allow reports whether another model call fits the workspace's rate budget.
func (w *Workspace) Allow() bool {
	return w.limiter.Allow()
}

func (w *Workspace) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastActivity = now
	w.mu.Unlock()
}

type Options struct {
	// NewManager builds the chat manager for a fresh workspace.
	NewManager    func() *chat.Manager
	IdleTimeout   time.Duration
	RatePerMinute int
}

type Store struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
	newManager func() *chat.Manager
	idle       time.Duration
	perMinute  int
	now        func() time.Time
}

func NewStore(opts Options) *Store {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = time.Hour
	}
	perMinute := opts.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	newManager := opts.NewManager
	if newManager == nil {
		newManager = func() *chat.Manager { return chat.NewManager(chat.ManagerOptions{}) }
	}

	return &Store{
		workspaces: make(map[string]*Workspace),
		newManager: newManager,
		idle:       idle,
		perMinute:  perMinute,
		now:        time.Now,
	}
}

// Get returns the workspace for key, creating it on first use.
func (s *Store) Get(key string) *Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if ws, ok := s.workspaces[key]; ok {
		ws.touch(now)
		return ws
	}

	ws := &Workspace{
		Key:          key,
		Chat:         s.newManager(),
		lastActivity: now,
		limiter:      rate.NewLimiter(rate.Limit(float64(s.perMinute)/60), s.perMinute),
	}
	s.workspaces[key] = ws
	return ws
}

func (s *Store) Lookup(key string) (*Workspace, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[key]
	if ok {
		ws.touch(s.now())
	}
	return ws, ok
}

func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaces, key)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workspaces)
}

// Sweep evicts workspaces idle for longer than the idle timeout and returns
// how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idle)
	removed := 0
	for key, ws := range s.workspaces {
		if ws.LastActivity().Before(cutoff) {
			delete(s.workspaces, key)
			removed++
		}
	}
	return removed
}
