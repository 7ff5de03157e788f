package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/gemini"
	"gemini-media-chat/internal/media"
	"gemini-media-chat/internal/mediagroup"
	"gemini-media-chat/internal/session"
	"gemini-media-chat/internal/telegram"
)

type fakeMessenger struct {
	mu      sync.Mutex
	texts   []string
	buttons [][]telegram.Button
	photos  []string
	files   map[string]string
}

func (m *fakeMessenger) SendTyping(int64) {}

func (m *fakeMessenger) SendText(_ int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	return nil
}

func (m *fakeMessenger) SendButtons(_ int64, text string, buttons []telegram.Button) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.texts = append(m.texts, text)
	m.buttons = append(m.buttons, buttons)
	return nil
}

func (m *fakeMessenger) SendPhoto(_ int64, data []byte, _ string, caption string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, string(data)+"|"+caption)
	return nil
}

func (m *fakeMessenger) AnswerCallback(string, string) error { return nil }

func (m *fakeMessenger) DownloadFile(_ context.Context, fileID, mimeHint string) ([]byte, string, error) {
	if mimeType, ok := m.files[fileID]; ok {
		return []byte(fileID), mimeType, nil
	}
	if mimeHint == "" {
		return nil, "", errors.New("not found")
	}
	return []byte(fileID), mimeHint, nil
}

func (m *fakeMessenger) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts[len(m.texts)-1]
}

type echoSession struct{}

func (echoSession) SendTurn(_ context.Context, parts ...gemini.Part) (string, error) {
	return "reply: " + parts[0].Text, nil
}

func (echoSession) SetSafety([]gemini.SafetySetting) {}

type echoRemote struct{}

func (echoRemote) StartChat(string, gemini.GenerationConfig, []gemini.SafetySetting) chat.RemoteSession {
	return echoSession{}
}

func (echoRemote) HasCredentials() bool { return true }

type stubIngester struct{}

func (stubIngester) Ingest(_ context.Context, data []byte, mimeType string) (media.Handle, error) {
	switch media.KindOf(mimeType) {
	case media.KindImage:
		return &media.InlineImage{MIME: mimeType, Data: data}, nil
	case media.KindVideo, media.KindAudio:
		return &media.RemoteFile{Name: "files/x", URI: "https://files/x", MIME: mimeType, State: gemini.FileStateActive}, nil
	}
	return nil, media.ErrUnsupportedType
}

type stubSampler struct {
	mu     sync.Mutex
	limits []int
}

func (s *stubSampler) SampleAtMost(_ context.Context, _ []byte, _ string, _ time.Duration, maxFrames int) (media.FrameSet, error) {
	s.mu.Lock()
	s.limits = append(s.limits, maxFrames)
	s.mu.Unlock()
	return media.FrameSet{
		{Timestamp: 0, Image: &media.InlineImage{MIME: "image/jpeg", Data: []byte("f1")}},
		{Timestamp: 5 * time.Second, Image: &media.InlineImage{MIME: "image/jpeg", Data: []byte("f2")}},
	}, nil
}

func newTestHandler() (*Handler, *fakeMessenger, *session.Store) {
	tg := &fakeMessenger{files: map[string]string{}}
	store := session.NewStore(session.Options{
		NewManager: func() *chat.Manager {
			return chat.NewManager(chat.ManagerOptions{Remote: echoRemote{}})
		},
	})
	h := New(Options{
		Telegram:   tg,
		Workspaces: store,
		Ingester:   stubIngester{},
		Sampler:    &stubSampler{},
		MaxFrames:  12,
	})
	return h, tg, store
}

func textUpdate(userID int64, text string) telegram.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: userID},
		Chat:      &tgbotapi.Chat{ID: userID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return telegram.Update{Message: msg}
}

func TestTextBindsDefaultModel(t *testing.T) {
	h, tg, store := newTestHandler()

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "hello")))
	assert.Equal(t, "reply: hello", tg.last())

	ws, ok := store.Lookup("tg:7")
	require.True(t, ok)
	conv, err := ws.Chat.Conversation()
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", conv.Model.ID)
	assert.Len(t, conv.Transcript(), 2)
}

func TestPhotoOffersPresetsThenAnalyzes(t *testing.T) {
	h, tg, _ := newTestHandler()
	update := telegram.Update{Message: &tgbotapi.Message{
		MessageID: 2,
		From:      &tgbotapi.User{ID: 7},
		Chat:      &tgbotapi.Chat{ID: 7},
		Photo:     []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}

	require.NoError(t, h.HandleUpdate(context.Background(), update))
	require.Len(t, tg.buttons, 1)
	assert.Len(t, tg.buttons[0], 5)
	assert.Equal(t, "preset:describe", tg.buttons[0][0].Data)

	callback := telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
		Data:    "preset:describe",
	}}
	require.NoError(t, h.HandleUpdate(context.Background(), callback))
	assert.Equal(t, "🔎 Describe\n\nreply: Describe this image in detail.", tg.last())
}

func TestPhotoWithCaptionAnswers(t *testing.T) {
	h, tg, _ := newTestHandler()
	update := telegram.Update{Message: &tgbotapi.Message{
		From:    &tgbotapi.User{ID: 7},
		Chat:    &tgbotapi.Chat{ID: 7},
		Photo:   []tgbotapi.PhotoSize{{FileID: "p"}},
		Caption: "what is this?",
	}}

	require.NoError(t, h.HandleUpdate(context.Background(), update))
	assert.Equal(t, "reply: what is this?", tg.last())
}

func TestVideoFramesAndFrameCommand(t *testing.T) {
	h, tg, _ := newTestHandler()
	update := telegram.Update{Message: &tgbotapi.Message{
		From:  &tgbotapi.User{ID: 7},
		Chat:  &tgbotapi.Chat{ID: 7},
		Video: &tgbotapi.Video{FileID: "v", MimeType: "video/mp4"},
	}}

	require.NoError(t, h.HandleUpdate(context.Background(), update))
	assert.Contains(t, tg.last(), "2 frames sampled")
	assert.Equal(t, []int{12}, h.sampler.(*stubSampler).limits)

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "/frame 2")))
	require.Len(t, tg.photos, 1)
	assert.Equal(t, "f2|Frame 2 at 5s", tg.photos[0])

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "/frame 1 who is this?")))
	assert.Equal(t, "reply: who is this?", tg.last())

	callback := telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
		Data:    "preset:describe",
	}}
	require.NoError(t, h.HandleUpdate(context.Background(), callback))
	assert.Contains(t, tg.last(), "Frame 1: reply: Describe what happens in this scene. (Frame 1)\n\nFrame 2: ")
}

func TestUnsupportedDocument(t *testing.T) {
	h, tg, _ := newTestHandler()
	update := telegram.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: 7},
		Chat:     &tgbotapi.Chat{ID: 7},
		Document: &tgbotapi.Document{FileID: "d", MimeType: "application/pdf"},
	}}

	require.NoError(t, h.HandleUpdate(context.Background(), update))
	assert.Contains(t, tg.last(), "Unsupported file type")
}

func TestAlbumDispatchedAsFrames(t *testing.T) {
	h, tg, store := newTestHandler()

	h.HandleMediaGroup(context.Background(), mediagroup.Group{
		ChatID:  7,
		UserID:  7,
		Caption: "compare these",
		FileIDs: []string{"a", "b"},
	})
	assert.Equal(t, "Frame 1: reply: compare these (Frame 1)\n\nFrame 2: reply: compare these (Frame 2)", tg.last())

	ws, ok := store.Lookup("tg:7")
	require.True(t, ok)
	_, frames := ws.Media()
	assert.Len(t, frames, 2)

	callback := telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
		Data:    "preset:describe",
	}}
	require.NoError(t, h.HandleUpdate(context.Background(), callback))
	assert.Equal(t, "🔎 Describe\n\nFrame 1: reply: Describe this image in detail. (Frame 1)\n\nFrame 2: reply: Describe this image in detail. (Frame 2)", tg.last())
}

func TestModelAndClearCommands(t *testing.T) {
	h, tg, store := newTestHandler()

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "/model gemini-1.5-pro")))
	assert.Equal(t, "✅ Using Gemini 1.5 Pro.", tg.last())

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "/model gpt-4")))
	assert.True(t, strings.HasPrefix(tg.last(), "⚠️"))

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "hello")))
	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "/clear")))
	assert.Equal(t, "✅ Conversation cleared.", tg.last())

	ws, _ := store.Lookup("tg:7")
	assert.Empty(t, ws.Chat.Transcript())
	conv, err := ws.Chat.Conversation()
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", conv.Model.ID)
}

func TestAskWithoutUpload(t *testing.T) {
	h, tg, _ := newTestHandler()

	require.NoError(t, h.HandleUpdate(context.Background(), textUpdate(7, "/ask what?")))
	assert.Contains(t, tg.last(), "Send a photo")
}

func TestUserMessage(t *testing.T) {
	err := &chat.DispatchError{Model: "m", Err: errors.New("quota exceeded")}
	assert.Equal(t, "❌ Gemini request failed: quota exceeded", userMessage(err))
	assert.Contains(t, userMessage(chat.ErrMediaNotReady), "still processing")
	assert.Contains(t, userMessage(errors.New("x")), "Something went wrong")
}
