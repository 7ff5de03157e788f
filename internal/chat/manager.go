package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gemini-media-chat/internal/media"
)

type State int

const (
	StateUnbound State = iota
	StateBound
	StateAwaitingResponse
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateAwaitingResponse:
		return "awaiting_response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Attachment is the media sent with a prompt. Frames take precedence over
// Media; the zero value sends text only.
type Attachment struct {
	Media  media.Handle
	Frames media.FrameSet
}

type ManagerOptions struct {
	Remote     Remote
	Catalog    Catalog
	Dispatcher *Dispatcher
	Logger     *slog.Logger
}

type binding struct {
	model  Model
	params GenerationParams
	safety SafetyThresholds
}

// Manager owns one user's Conversation. It is safe for concurrent use; at
// most one Submit or Analyze may be in flight per conversation.
type Manager struct {
	mu         sync.Mutex
	remote     Remote
	catalog    Catalog
	dispatcher *Dispatcher
	logger     *slog.Logger

	conv    *Conversation
	last    *binding
	pending *Conversation

	// credential counts Configure calls; a conversation opened under an
	// older credential is replaced on the next Bind.
	credential uint64
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	catalog := opts.Catalog
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher(DispatcherOptions{Logger: logger})
	}
	return &Manager{
		remote:     opts.Remote,
		catalog:    catalog,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Configure replaces the credential used by later Bind and Reset calls. The
// current conversation keeps its remote session until the next Bind or Reset.
func (m *Manager) Configure(remote Remote) {
	if remote == nil {
		return
	}
	m.mu.Lock()
	m.remote = remote
	m.credential++
	m.mu.Unlock()
}

func (m *Manager) Catalog() Catalog {
	return m.catalog
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() State {
	switch {
	case m.conv == nil:
		return StateUnbound
	case m.pending != nil && m.pending == m.conv:
		return StateAwaitingResponse
	default:
		return StateBound
	}
}

// Conversation returns the bound conversation or ErrState.
func (m *Manager) Conversation() (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conv == nil {
		return nil, fmt.Errorf("%w: no model bound", ErrState)
	}
	return m.conv, nil
}

// Transcript is empty while unbound.
func (m *Manager) Transcript() []TranscriptEntry {
	m.mu.Lock()
	conv := m.conv
	m.mu.Unlock()
	if conv == nil {
		return nil
	}
	return conv.Transcript()
}

// Bind selects the model and parameters. Rebinding with the same model,
// parameters and credential keeps the conversation; if only the safety
// thresholds differ they are applied in place. Anything else starts a fresh
// conversation. On error the previous state is untouched.
func (m *Manager) Bind(modelKey string, params GenerationParams, safety SafetyThresholds) (*Conversation, error) {
	return m.BindWith(nil, modelKey, params, safety)
}

// BindWith is Bind under a new credential. The credential replaces the
// current one only if the bind succeeds; a nil remote keeps the current one.
func (m *Manager) BindWith(remote Remote, modelKey string, params GenerationParams, safety SafetyThresholds) (*Conversation, error) {
	model, ok := m.catalog.Lookup(modelKey)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported model %q", ErrConfig, modelKey)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	safety, err := safety.normalized()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := m.remote
	if remote != nil {
		candidate = remote
	}
	if candidate == nil || !candidate.HasCredentials() {
		return nil, fmt.Errorf("%w: missing API key", ErrConfig)
	}
	if remote != nil {
		m.remote = remote
		m.credential++
	}

	if m.conv != nil && m.conv.credential == m.credential && m.conv.Model.ID == model.ID && m.conv.Params == params {
		if !m.conv.Safety().Equal(safety) {
			m.conv.setSafety(safety)
			m.logger.Info("safety thresholds updated", "conversation", m.conv.ID)
		}
		m.last = &binding{model: model, params: params, safety: safety.clone()}
		return m.conv, nil
	}

	m.last = &binding{model: model, params: params, safety: safety.clone()}
	m.conv = m.openLocked(*m.last)
	m.logger.Info("conversation bound", "conversation", m.conv.ID, "model", model.ID)
	return m.conv, nil
}

// Reset discards the transcript and opens a new conversation with the last
// successful binding.
func (m *Manager) Reset() (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil {
		return nil, fmt.Errorf("%w: nothing to reset, no model bound", ErrState)
	}
	m.conv = m.openLocked(*m.last)
	m.logger.Info("conversation reset", "conversation", m.conv.ID, "model", m.last.model.ID)
	return m.conv, nil
}

func (m *Manager) openLocked(b binding) *Conversation {
	return &Conversation{
		ID:         uuid.NewString(),
		Model:      b.model,
		Params:     b.params,
		CreatedAt:  time.Now(),
		safety:     b.safety.clone(),
		credential: m.credential,
		remote:     m.remote.StartChat(b.model.ID, b.params.wire(), b.safety.wire()),
	}
}

// AppendEntry adds a display-only entry; nothing is sent to the model.
func (m *Manager) AppendEntry(role Role, text string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	conv, err := m.Conversation()
	if err != nil {
		return err
	}
	conv.append(TranscriptEntry{Role: role, Text: text})
	return nil
}

// Submit sends a user prompt. On success the user entry and the reply are
// appended together; on failure the transcript is unchanged.
func (m *Manager) Submit(ctx context.Context, text string, att Attachment) (string, error) {
	return m.run(ctx, text, att, true)
}

// Analyze runs a canned prompt. Only the reply is recorded in the transcript.
func (m *Manager) Analyze(ctx context.Context, prompt string, att Attachment) (string, error) {
	return m.run(ctx, prompt, att, false)
}

func (m *Manager) run(ctx context.Context, text string, att Attachment, recordUser bool) (string, error) {
	m.mu.Lock()
	conv := m.conv
	switch {
	case conv == nil:
		m.mu.Unlock()
		return "", fmt.Errorf("%w: no model bound", ErrState)
	case m.pending == conv:
		m.mu.Unlock()
		return "", fmt.Errorf("%w: a response is already pending", ErrState)
	}
	m.pending = conv
	m.mu.Unlock()

	var (
		reply string
		err   error
	)
	if len(att.Frames) > 0 {
		reply, err = m.dispatcher.DispatchFrames(ctx, conv, text, att.Frames)
	} else {
		reply, err = m.dispatcher.Dispatch(ctx, conv, text, att.Media)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == conv {
		m.pending = nil
	}
	if err != nil {
		return "", err
	}

	if m.conv != conv {
		m.logger.Info("conversation replaced during dispatch, reply not recorded", "conversation", conv.ID)
		return reply, nil
	}
	if recordUser {
		conv.append(TranscriptEntry{Role: RoleUser, Text: text}, TranscriptEntry{Role: RoleAssistant, Text: reply})
	} else {
		conv.append(TranscriptEntry{Role: RoleAssistant, Text: reply})
	}
	return reply, nil
}
