package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini-media-chat/internal/gemini"
	"gemini-media-chat/internal/media"
)

type fakeSession struct {
	model  string
	cfg    gemini.GenerationConfig
	safety []gemini.SafetySetting

	mu      sync.Mutex
	calls   [][]gemini.Part
	replies []string
	err     error
	gate    chan struct{}
}

func (s *fakeSession) SendTurn(ctx context.Context, parts ...gemini.Part) (string, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, parts)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "ok", nil
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

func (s *fakeSession) SetSafety(safety []gemini.SafetySetting) {
	s.mu.Lock()
	s.safety = safety
	s.mu.Unlock()
}

type fakeRemote struct {
	noKey    bool
	sessions []*fakeSession
	next     func(*fakeSession)
}

func (r *fakeRemote) StartChat(model string, cfg gemini.GenerationConfig, safety []gemini.SafetySetting) RemoteSession {
	s := &fakeSession{model: model, cfg: cfg, safety: safety}
	if r.next != nil {
		r.next(s)
	}
	r.sessions = append(r.sessions, s)
	return s
}

func (r *fakeRemote) HasCredentials() bool { return !r.noKey }

func (r *fakeRemote) last() *fakeSession { return r.sessions[len(r.sessions)-1] }

func newBoundManager(t *testing.T) (*Manager, *fakeRemote) {
	t.Helper()
	remote := &fakeRemote{}
	m := NewManager(ManagerOptions{Remote: remote})
	_, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	return m, remote
}

func TestGenerationParamsValidate(t *testing.T) {
	assert.NoError(t, DefaultGenerationParams().Validate())

	edges := GenerationParams{Temperature: 0, TopP: 1, TopK: 100, MaxOutputTokens: 8192}
	assert.NoError(t, edges.Validate())

	bad := []GenerationParams{
		{Temperature: 1.5, TopP: 0.9, TopK: 40, MaxOutputTokens: 100},
		{Temperature: 0.5, TopP: -0.1, TopK: 40, MaxOutputTokens: 100},
		{Temperature: 0.5, TopP: 0.9, TopK: 0, MaxOutputTokens: 100},
		{Temperature: 0.5, TopP: 0.9, TopK: 40, MaxOutputTokens: 9000},
	}
	for _, p := range bad {
		assert.ErrorIs(t, p.Validate(), ErrConfig, "%+v", p)
	}
}

func TestBindUnsupportedModel(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{}})

	_, err := m.Bind("gpt-4", DefaultGenerationParams(), nil)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, StateUnbound, m.State())
}

func TestBindMissingKeyKeepsPriorState(t *testing.T) {
	m, _ := newBoundManager(t)
	before, err := m.Conversation()
	require.NoError(t, err)

	m.Configure(&fakeRemote{noKey: true})
	_, err = m.Bind("gemini-1.5-pro", DefaultGenerationParams(), nil)
	assert.ErrorIs(t, err, ErrConfig)

	after, err := m.Conversation()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestBindInvalidSafety(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{}})

	_, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), SafetyThresholds{CategoryHarassment: "BLOCK_SOME"})
	assert.ErrorIs(t, err, ErrConfig)
	_, err = m.Bind("gemini-1.5-flash", DefaultGenerationParams(), SafetyThresholds{"HARM_CATEGORY_SPAM": BlockNone})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestBindAcceptsDisplayName(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{}})

	conv, err := m.Bind("Gemini 1.5 Pro", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", conv.Model.ID)
}

func TestBindSendsConfigToRemote(t *testing.T) {
	m, remote := newBoundManager(t)
	require.Equal(t, StateBound, m.State())

	s := remote.last()
	assert.Equal(t, "gemini-1.5-flash", s.model)
	assert.Equal(t, 0.7, s.cfg.Temperature)
	assert.Equal(t, 4096, s.cfg.MaxOutputTokens)
	require.Len(t, s.safety, 4)
	assert.Equal(t, string(CategoryHarassment), s.safety[0].Category)
	assert.Equal(t, string(BlockMediumAndAbove), s.safety[0].Threshold)
}

func TestRebindSameConfigKeepsTranscript(t *testing.T) {
	m, remote := newBoundManager(t)
	_, err := m.Submit(context.Background(), "hello", Attachment{})
	require.NoError(t, err)

	conv, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	assert.Len(t, conv.Transcript(), 2)
	assert.Len(t, remote.sessions, 1)
}

func TestRebindSafetyOnlyUpdatesInPlace(t *testing.T) {
	m, remote := newBoundManager(t)
	_, err := m.Submit(context.Background(), "hello", Attachment{})
	require.NoError(t, err)

	conv, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), SafetyThresholds{CategoryHateSpeech: BlockNone})
	require.NoError(t, err)

	assert.Len(t, conv.Transcript(), 2)
	assert.Len(t, remote.sessions, 1)
	assert.Equal(t, BlockNone, conv.Safety()[CategoryHateSpeech])
	assert.Equal(t, string(BlockNone), remote.last().safety[1].Threshold)
}

func TestRebindNewModelStartsFresh(t *testing.T) {
	m, remote := newBoundManager(t)
	first, _ := m.Conversation()
	_, err := m.Submit(context.Background(), "hello", Attachment{})
	require.NoError(t, err)

	conv, err := m.Bind("gemini-1.5-pro", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, conv.ID)
	assert.Empty(t, conv.Transcript())
	assert.Len(t, remote.sessions, 2)
}

func TestRebindNewCredentialStartsFresh(t *testing.T) {
	m, oldKey := newBoundManager(t)
	_, err := m.Submit(context.Background(), "hello", Attachment{})
	require.NoError(t, err)

	newKey := &fakeRemote{}
	m.Configure(newKey)
	conv, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	assert.Empty(t, conv.Transcript())

	_, err = m.Submit(context.Background(), "again", Attachment{})
	require.NoError(t, err)
	require.Len(t, newKey.sessions, 1)
	assert.Len(t, newKey.last().calls, 1)
	assert.Len(t, oldKey.sessions, 1)
	assert.Len(t, oldKey.last().calls, 1)
}

func TestBindWithAppliesCredentialOnlyOnSuccess(t *testing.T) {
	m, oldKey := newBoundManager(t)
	before, _ := m.Conversation()

	rejected := &fakeRemote{}
	_, err := m.BindWith(rejected, "gpt-4", DefaultGenerationParams(), nil)
	require.ErrorIs(t, err, ErrConfig)
	_, err = m.BindWith(&fakeRemote{noKey: true}, "gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.ErrorIs(t, err, ErrConfig)

	conv, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	assert.Same(t, before, conv)
	assert.Empty(t, rejected.sessions)

	accepted := &fakeRemote{}
	conv, err = m.BindWith(accepted, "gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	assert.NotSame(t, before, conv)
	assert.Len(t, accepted.sessions, 1)
	assert.Len(t, oldKey.sessions, 1)
}

func TestReset(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{}})
	_, err := m.Reset()
	assert.ErrorIs(t, err, ErrState)

	m, remote := newBoundManager(t)
	_, err = m.Submit(context.Background(), "hello", Attachment{})
	require.NoError(t, err)

	conv, err := m.Reset()
	require.NoError(t, err)
	assert.Empty(t, conv.Transcript())
	assert.Empty(t, m.Transcript())
	assert.Equal(t, "gemini-1.5-flash", conv.Model.ID)
	assert.Len(t, remote.sessions, 2)
}

func TestAppendEntry(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{}})
	assert.ErrorIs(t, m.AppendEntry(RoleUser, "x"), ErrState)

	m, remote := newBoundManager(t)
	assert.ErrorIs(t, m.AppendEntry("system", "x"), ErrInvalidRole)
	require.NoError(t, m.AppendEntry(RoleAssistant, "note"))

	assert.Equal(t, []TranscriptEntry{{Role: RoleAssistant, Text: "note"}}, m.Transcript())
	assert.Empty(t, remote.last().calls)
}

func TestSubmitUnbound(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{}})

	_, err := m.Submit(context.Background(), "hi", Attachment{})
	assert.ErrorIs(t, err, ErrState)
}

func TestSubmitAppendsBothEntries(t *testing.T) {
	m, remote := newBoundManager(t)
	remote.last().replies = []string{"hi there"}

	reply, err := m.Submit(context.Background(), "hello", Attachment{})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
	assert.Equal(t, []TranscriptEntry{
		{Role: RoleUser, Text: "hello"},
		{Role: RoleAssistant, Text: "hi there"},
	}, m.Transcript())
	assert.Equal(t, StateBound, m.State())
}

func TestSubmitFailureLeavesTranscript(t *testing.T) {
	m, remote := newBoundManager(t)
	remote.last().err = &gemini.APIError{Code: 500, Message: "internal"}

	_, err := m.Submit(context.Background(), "hello", Attachment{})
	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, "gemini-1.5-flash", dispatchErr.Model)
	assert.Contains(t, err.Error(), "internal")
	assert.Empty(t, m.Transcript())
	assert.Equal(t, StateBound, m.State())
}

func TestSubmitWhilePendingRejected(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{next: func(s *fakeSession) {
		s.gate = make(chan struct{})
	}}})
	_, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	conv, _ := m.Conversation()
	gate := conv.remote.(*fakeSession).gate

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "first", Attachment{})
		done <- err
	}()
	require.Eventually(t, func() bool { return m.State() == StateAwaitingResponse }, time.Second, time.Millisecond)

	_, err = m.Submit(context.Background(), "second", Attachment{})
	assert.ErrorIs(t, err, ErrState)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateBound, m.State())
	assert.Len(t, m.Transcript(), 2)
}

func TestResetDuringDispatchDropsReply(t *testing.T) {
	m := NewManager(ManagerOptions{Remote: &fakeRemote{next: func(s *fakeSession) {
		s.gate = make(chan struct{})
	}}})
	_, err := m.Bind("gemini-1.5-flash", DefaultGenerationParams(), nil)
	require.NoError(t, err)
	old, _ := m.Conversation()

	done := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), "first", Attachment{})
		done <- err
	}()
	require.Eventually(t, func() bool { return m.State() == StateAwaitingResponse }, time.Second, time.Millisecond)

	fresh, err := m.Reset()
	require.NoError(t, err)
	assert.Equal(t, StateBound, m.State())

	close(old.remote.(*fakeSession).gate)
	require.NoError(t, <-done)
	assert.Empty(t, fresh.Transcript())
	assert.Empty(t, old.Transcript())
}

func TestAnalyzeRecordsOnlyReply(t *testing.T) {
	m, remote := newBoundManager(t)
	remote.last().replies = []string{"a cat"}
	img := &media.InlineImage{MIME: "image/png", Data: []byte{1, 2, 3}}

	reply, err := m.Analyze(context.Background(), "Describe this image.", Attachment{Media: img})
	require.NoError(t, err)
	assert.Equal(t, "a cat", reply)
	assert.Equal(t, []TranscriptEntry{{Role: RoleAssistant, Text: "a cat"}}, m.Transcript())
}

func TestDispatchTextFirstThenMedia(t *testing.T) {
	m, remote := newBoundManager(t)
	img := &media.InlineImage{MIME: "image/jpeg", Data: []byte{0xff, 0xd8}}

	_, err := m.Submit(context.Background(), "what is this?", Attachment{Media: img})
	require.NoError(t, err)

	calls := remote.last().calls
	require.Len(t, calls, 1)
	require.Len(t, calls[0], 2)
	assert.Equal(t, "what is this?", calls[0][0].Text)
	require.NotNil(t, calls[0][1].InlineData)
	assert.Equal(t, "image/jpeg", calls[0][1].InlineData.MimeType)
}

func TestDispatchRemoteFile(t *testing.T) {
	m, remote := newBoundManager(t)
	file := &media.RemoteFile{Name: "files/abc", URI: "https://files/abc", MIME: "video/mp4", State: gemini.FileStateActive}

	_, err := m.Submit(context.Background(), "summarize", Attachment{Media: file})
	require.NoError(t, err)

	part := remote.last().calls[0][1]
	require.NotNil(t, part.FileData)
	assert.Equal(t, "https://files/abc", part.FileData.FileURI)
	assert.Equal(t, "video/mp4", part.FileData.MimeType)
}

func TestDispatchRemoteFileNotReady(t *testing.T) {
	m, remote := newBoundManager(t)
	file := &media.RemoteFile{Name: "files/abc", MIME: "video/mp4", State: gemini.FileStateProcessing}

	_, err := m.Submit(context.Background(), "summarize", Attachment{Media: file})
	assert.ErrorIs(t, err, ErrMediaNotReady)
	assert.Empty(t, remote.last().calls)
	assert.Empty(t, m.Transcript())
}

func TestDispatchTypedNilHandleSendsText(t *testing.T) {
	m, remote := newBoundManager(t)
	var img *media.InlineImage

	_, err := m.Submit(context.Background(), "hello", Attachment{Media: img})
	require.NoError(t, err)
	assert.Len(t, remote.last().calls[0], 1)
}

func TestDispatchBlockedExplains(t *testing.T) {
	m, remote := newBoundManager(t)
	remote.last().err = &gemini.BlockedError{
		Reason: "SAFETY",
		Ratings: []gemini.SafetyRating{
			{Category: string(CategoryHarassment), Probability: "HIGH"},
			{Category: string(CategoryHateSpeech), Probability: "NEGLIGIBLE"},
			{Category: string(CategoryDangerousContent), Probability: "MEDIUM"},
		},
	}

	reply, err := m.Submit(context.Background(), "say something mean", Attachment{})
	require.NoError(t, err)
	assert.Contains(t, reply, "Harassment: High probability")
	assert.Contains(t, reply, "Dangerous Content: Medium probability")
	assert.NotContains(t, reply, "Hate Speech")
	assert.Len(t, m.Transcript(), 2)
}

func TestExplainBlockUnknownCategory(t *testing.T) {
	out := ExplainBlock(&gemini.BlockedError{
		Reason:  "OTHER",
		Ratings: []gemini.SafetyRating{{Category: "HARM_CATEGORY_CIVIC_INTEGRITY", Probability: "LOW"}},
	})
	assert.Contains(t, out, "(OTHER)")
	assert.Contains(t, out, "Civic Integrity: Low probability")
}

func TestDispatchFramesAggregatesInOrder(t *testing.T) {
	m, remote := newBoundManager(t)
	remote.last().replies = []string{"a dog", "a ball", "a park"}
	frames := media.FrameSet{
		{Timestamp: 0, Image: &media.InlineImage{MIME: "image/jpeg", Data: []byte{1}}},
		{Timestamp: 10 * time.Second, Image: &media.InlineImage{MIME: "image/jpeg", Data: []byte{2}}},
		{Timestamp: 20 * time.Second, Image: &media.InlineImage{MIME: "image/jpeg", Data: []byte{3}}},
	}

	reply, err := m.Analyze(context.Background(), "Describe the scene.", Attachment{Frames: frames})
	require.NoError(t, err)
	assert.Equal(t, "Frame 1: a dog\n\nFrame 2: a ball\n\nFrame 3: a park", reply)

	calls := remote.last().calls
	require.Len(t, calls, 3)
	for i, call := range calls {
		assert.True(t, strings.HasSuffix(call[0].Text, "(Frame "+string(rune('1'+i))+")"))
	}
}

func TestDispatchFramesStopsOnFailure(t *testing.T) {
	m, remote := newBoundManager(t)
	remote.last().err = errors.New("unavailable")
	frames := media.FrameSet{
		{Image: &media.InlineImage{MIME: "image/jpeg", Data: []byte{1}}},
		{Image: &media.InlineImage{MIME: "image/jpeg", Data: []byte{2}}},
	}

	_, err := m.Analyze(context.Background(), "Describe.", Attachment{Frames: frames})
	var dispatchErr *DispatchError
	assert.ErrorAs(t, err, &dispatchErr)
	assert.Contains(t, err.Error(), "frame 1")
	assert.Len(t, remote.last().calls, 1)
	assert.Empty(t, m.Transcript())
}

func TestDispatchFramesEmpty(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{})
	m, _ := newBoundManager(t)
	conv, _ := m.Conversation()

	_, err := d.DispatchFrames(context.Background(), conv, "x", nil)
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestCategoryLabels(t *testing.T) {
	assert.Equal(t, "Hate Speech", CategoryHateSpeech.Label())
	assert.Equal(t, "Sexually Explicit", CategorySexuallyExplicit.Label())
	assert.Equal(t, "Civic Integrity", HarmCategory("HARM_CATEGORY_CIVIC_INTEGRITY").Label())
}
