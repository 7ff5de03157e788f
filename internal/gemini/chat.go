package gemini

import (
	"context"
	"sync"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// ChatSession keeps the API-side history of a multi-turn conversation. The
// REST API is stateless, so every turn resends the accumulated contents.
type ChatSession struct {
	client *Client
	model  string
	config GenerationConfig

	mu      sync.Mutex
	safety  []SafetySetting
	history []Content
}

func (c *Client) StartChat(model string, cfg GenerationConfig, safety []SafetySetting) *ChatSession {
	return &ChatSession{
		client: c,
		model:  model,
		config: cfg,
		safety: append([]SafetySetting(nil), safety...),
	}
}

func (s *ChatSession) Model() string {
	return s.model
}

// SetSafety replaces the safety settings used by subsequent turns.
func (s *ChatSession) SetSafety(safety []SafetySetting) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.safety = append([]SafetySetting(nil), safety...)
}

// SendTurn sends parts as one user turn. History is only extended when the
// model produced text; blocked or failed turns leave it unchanged.
func (s *ChatSession) SendTurn(ctx context.Context, parts ...Part) (string, error) {
	s.mu.Lock()
	contents := make([]Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	safety := s.safety
	s.mu.Unlock()

	turn := Content{Role: roleUser, Parts: parts}
	contents = append(contents, turn)

	text, err := s.client.GenerateContent(ctx, s.model, contents, s.config, safety)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.history = append(s.history, turn, Content{Role: roleModel, Parts: []Part{TextPart(text)}})
	s.mu.Unlock()

	return text, nil
}

// History returns a copy of the contents exchanged so far.
func (s *ChatSession) History() []Content {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Content, len(s.history))
	copy(out, s.history)
	return out
}
