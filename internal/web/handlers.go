package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/gemini"
	"gemini-media-chat/internal/media"
	"gemini-media-chat/internal/prompts"
	"gemini-media-chat/internal/session"
)

const maxFormMemory = 32 << 20

type apiError struct {
	Error string `json:"error"`
}

type categoryOption struct {
	ID    chat.HarmCategory `json:"id"`
	Label string            `json:"label"`
}

type catalogResponse struct {
	Models        []chat.Model                   `json:"models"`
	Generation    chat.GenerationParams          `json:"generation"`
	Safety        chat.SafetyThresholds          `json:"safety"`
	Categories    []categoryOption               `json:"categories"`
	Thresholds    []chat.Threshold               `json:"thresholds"`
	Prompts       map[media.Kind][]prompts.Preset `json:"prompts"`
	AcceptedTypes []string                       `json:"accepted_types"`
}

type bindRequest struct {
	Model  string            `json:"model"`
	Params json.RawMessage   `json:"params"`
	Safety map[string]string `json:"safety"`
	APIKey string            `json:"api_key"`
}

type conversationResponse struct {
	ID         string                 `json:"conversation_id,omitempty"`
	Model      *chat.Model            `json:"model,omitempty"`
	Params     *chat.GenerationParams `json:"params,omitempty"`
	Safety     chat.SafetyThresholds  `json:"safety,omitempty"`
	State      string                 `json:"state"`
	Transcript []chat.TranscriptEntry `json:"transcript"`
}

type frameInfo struct {
	Index       int   `json:"index"`
	TimestampMS int64 `json:"timestamp_ms"`
}

type uploadResponse struct {
	Kind    media.Kind  `json:"kind"`
	MIME    string      `json:"mime"`
	Name    string      `json:"name,omitempty"`
	Width   int         `json:"width,omitempty"`
	Height  int         `json:"height,omitempty"`
	Frames  []frameInfo `json:"frames,omitempty"`
	Warning string      `json:"warning,omitempty"`
}

type chatRequest struct {
	Text  string `json:"text"`
	Media string `json:"media"`
	Frame int    `json:"frame"`
}

type analyzeRequest struct {
	Preset string `json:"preset"`
}

type replyResponse struct {
	Reply      string                 `json:"reply"`
	State      string                 `json:"state"`
	Transcript []chat.TranscriptEntry `json:"transcript"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	categories := make([]categoryOption, 0, 4)
	for _, c := range chat.Categories() {
		categories = append(categories, categoryOption{ID: c, Label: c.Label()})
	}

	writeJSON(w, http.StatusOK, catalogResponse{
		Models:        s.catalog,
		Generation:    s.generation,
		Safety:        s.safety,
		Categories:    categories,
		Thresholds:    chat.Thresholds(),
		Prompts:       s.prompts,
		AcceptedTypes: media.AcceptedTypes(),
	})
}

func (s *Server) handleBind(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(w, r)

	var req bindRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	params := s.generation
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid params"})
			return
		}
	}

	safety := make(chat.SafetyThresholds, len(s.safety))
	for c, t := range s.safety {
		safety[c] = t
	}
	for c, t := range req.Safety {
		safety[chat.HarmCategory(strings.ToUpper(strings.TrimSpace(c)))] = chat.Threshold(strings.ToUpper(strings.TrimSpace(t)))
	}

	var remote chat.Remote
	key := strings.TrimSpace(req.APIKey)
	if key != "" && key != ws.APIKey() && s.remotes != nil {
		remote = s.remotes(key)
	}

	conv, err := ws.Chat.BindWith(remote, req.Model, params, safety)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if remote != nil {
		ws.SetAPIKey(key)
	}
	writeJSON(w, http.StatusOK, conversationView(conv, ws.Chat.State()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(w, r)
	ws.ClearMedia()

	conv, err := ws.Chat.Reset()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationView(conv, ws.Chat.State()))
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(w, r)

	conv, err := ws.Chat.Conversation()
	if err != nil {
		writeJSON(w, http.StatusOK, conversationResponse{
			State:      ws.Chat.State().String(),
			Transcript: []chat.TranscriptEntry{},
		})
		return
	}
	writeJSON(w, http.StatusOK, conversationView(conv, ws.Chat.State()))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(w, r)
	if !ws.Allow() {
		writeJSON(w, http.StatusTooManyRequests, apiError{Error: "rate limit exceeded"})
		return
	}
	if s.ingesters == nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "uploads are not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing file"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "failed to read file"})
		return
	}

	mimeType := media.NormalizeMIME(header.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = media.NormalizeMIME(http.DetectContentType(data))
	}

	interval := s.frameInterval
	if raw := strings.TrimSpace(r.FormValue("interval_seconds")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid interval_seconds"})
			return
		}
		interval = time.Duration(secs) * time.Second
	}

	handle, frames, warning, err := s.ingest(r.Context(), ws, data, mimeType, interval)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ws.SetMedia(handle, frames)

	resp := uploadResponse{
		Kind:    handle.Kind(),
		MIME:    handle.MIMEType(),
		Warning: warning,
	}
	switch h := handle.(type) {
	case *media.InlineImage:
		resp.Width, resp.Height = h.Bounds().Dx(), h.Bounds().Dy()
	case *media.RemoteFile:
		resp.Name = h.Name
	}
	for i, f := range frames {
		resp.Frames = append(resp.Frames, frameInfo{Index: i, TimestampMS: f.Timestamp.Milliseconds()})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ingest stores the upload and, for video, samples frames alongside it. A
// missing ffmpeg only costs the frames.
func (s *Server) ingest(ctx context.Context, ws *session.Workspace, data []byte, mimeType string, interval time.Duration) (media.Handle, media.FrameSet, string, error) {
	if media.KindOf(mimeType) == media.KindVideo && interval < time.Second {
		return nil, nil, "", media.ErrInvalidInterval
	}

	ingester := s.ingesters(ws.APIKey())

	var (
		handle  media.Handle
		frames  media.FrameSet
		warning string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := ingester.Ingest(gctx, data, mimeType)
		handle = h
		return err
	})
	if media.KindOf(mimeType) == media.KindVideo && s.sampler != nil {
		g.Go(func() error {
			fs, err := s.sampler.SampleAtMost(gctx, data, mimeType, interval, s.maxFrames)
			if errors.Is(err, media.ErrFFmpegNotFound) {
				s.logger.Warn("frame sampling unavailable", "err", err)
				warning = "frame extraction is unavailable on this server"
				return nil
			}
			frames = fs
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, "", err
	}
	return handle, frames, warning, nil
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(w, r)

	index, err := strconv.Atoi(r.PathValue("index"))
	_, frames := ws.Media()
	if err != nil || index < 0 || index >= len(frames) || frames[index].Image == nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: "frame not found"})
		return
	}

	img := frames[index].Image
	w.Header().Set("content-type", img.MIME)
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(img.Data)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(w, r)

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "text is required"})
		return
	}

	att, err := attachment(ws, req.Media, req.Frame)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	if !ws.Allow() {
		writeJSON(w, http.StatusTooManyRequests, apiError{Error: "rate limit exceeded"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	reply, err := ws.Chat.Submit(ctx, text, att)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{
		Reply:      reply,
		State:      ws.Chat.State().String(),
		Transcript: ws.Chat.Transcript(),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ws := s.workspace(w, r)

	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	handle, _ := ws.Media()
	if handle == nil {
		writeJSON(w, http.StatusConflict, apiError{Error: "upload media first"})
		return
	}
	preset, ok := s.prompts.Lookup(handle.Kind(), req.Preset)
	if !ok {
		writeJSON(w, http.StatusBadRequest, apiError{Error: fmt.Sprintf("unknown %s preset %q", handle.Kind(), req.Preset)})
		return
	}
	if !ws.Allow() {
		writeJSON(w, http.StatusTooManyRequests, apiError{Error: "rate limit exceeded"})
		return
	}

	att := ws.AnalysisAttachment()

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	reply, err := ws.Chat.Analyze(ctx, preset.Prompt, att)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{
		Reply:      reply,
		State:      ws.Chat.State().String(),
		Transcript: ws.Chat.Transcript(),
	})
}

// attachment resolves the media choice of a chat request: none, the current
// upload, or one sampled frame.
func attachment(ws *session.Workspace, choice string, frame int) (chat.Attachment, error) {
	handle, frames := ws.Media()
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "", "none":
		return chat.Attachment{}, nil
	case "file":
		if handle == nil {
			return chat.Attachment{}, errors.New("no media uploaded")
		}
		return chat.Attachment{Media: handle}, nil
	case "frame":
		if frame < 0 || frame >= len(frames) {
			return chat.Attachment{}, fmt.Errorf("frame %d not available", frame)
		}
		return chat.Attachment{Media: frames[frame].Image}, nil
	default:
		return chat.Attachment{}, fmt.Errorf("unknown media choice %q", choice)
	}
}

func conversationView(conv *chat.Conversation, state chat.State) conversationResponse {
	model := conv.Model
	params := conv.Params
	return conversationResponse{
		ID:         conv.ID,
		Model:      &model,
		Params:     &params,
		Safety:     conv.Safety(),
		State:      state.String(),
		Transcript: conv.Transcript(),
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}

func statusFor(err error) int {
	var (
		dispatchErr *chat.DispatchError
		uploadErr   *media.UploadError
		apiErr      *gemini.APIError
		maxBytesErr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, chat.ErrConfig), errors.Is(err, chat.ErrInvalidRole), errors.Is(err, media.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrState), errors.Is(err, chat.ErrMediaNotReady):
		return http.StatusConflict
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, media.ErrUnsupportedFormat), errors.Is(err, media.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, media.ErrUploadTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &dispatchErr), errors.As(err, &uploadErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
