package chat

import (
	"context"
	"sync"
	"time"

	"gemini-media-chat/internal/gemini"
)

// RemoteSession is the stateful remote side of a Conversation. It keeps the
// history it sends to the model.
type RemoteSession interface {
	SendTurn(ctx context.Context, parts ...gemini.Part) (string, error)
	SetSafety(safety []gemini.SafetySetting)
}

// Remote opens RemoteSessions against one credential.
type Remote interface {
	StartChat(model string, cfg gemini.GenerationConfig, safety []gemini.SafetySetting) RemoteSession
	HasCredentials() bool
}

type clientRemote struct {
	client *gemini.Client
}

// NewRemote adapts a gemini.Client to Remote.
func NewRemote(client *gemini.Client) Remote {
	return clientRemote{client: client}
}

func (r clientRemote) StartChat(model string, cfg gemini.GenerationConfig, safety []gemini.SafetySetting) RemoteSession {
	return r.client.StartChat(model, cfg, safety)
}

func (r clientRemote) HasCredentials() bool {
	return r.client != nil && r.client.HasKey()
}

// Conversation is a bound model plus its transcript and remote session.
type Conversation struct {
	ID        string
	Model     Model
	Params    GenerationParams
	CreatedAt time.Time

	mu         sync.RWMutex
	safety     SafetyThresholds
	transcript []TranscriptEntry
	remote     RemoteSession
	credential uint64
}

func (c *Conversation) Safety() SafetyThresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.safety.clone()
}

func (c *Conversation) Transcript() []TranscriptEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]TranscriptEntry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

func (c *Conversation) append(entries ...TranscriptEntry) {
	c.mu.Lock()
	c.transcript = append(c.transcript, entries...)
	c.mu.Unlock()
}

func (c *Conversation) setSafety(safety SafetyThresholds) {
	c.mu.Lock()
	c.safety = safety.clone()
	c.mu.Unlock()
	c.remote.SetSafety(safety.wire())
}
