package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/media"
	"gemini-media-chat/internal/mediagroup"
	"gemini-media-chat/internal/prompts"
	"gemini-media-chat/internal/session"
	"gemini-media-chat/internal/telegram"
)

const presetPrefix = "preset:"

// Messenger is the part of the Telegram client the handler talks to.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendButtons(chatID int64, text string, buttons []telegram.Button) error
	SendPhoto(chatID int64, data []byte, mimeType, caption string) error
	AnswerCallback(callbackID, text string) error
	DownloadFile(ctx context.Context, fileID, mimeHint string) ([]byte, string, error)
}

type Ingester interface {
	Ingest(ctx context.Context, data []byte, mimeType string) (media.Handle, error)
}

type Sampler interface {
	SampleAtMost(ctx context.Context, video []byte, mimeType string, interval time.Duration, maxFrames int) (media.FrameSet, error)
}

type Options struct {
	Telegram   Messenger
	Workspaces *session.Store
	Ingester   Ingester
	Sampler    Sampler

	Catalog       chat.Catalog
	Generation    chat.GenerationParams
	Safety        chat.SafetyThresholds
	Prompts       prompts.Catalog
	FrameInterval time.Duration
	MaxFrames     int

	Logger *slog.Logger
}

type Handler struct {
	tg         Messenger
	workspaces *session.Store
	ingester   Ingester
	sampler    Sampler

	catalog       chat.Catalog
	generation    chat.GenerationParams
	safety        chat.SafetyThresholds
	prompts       prompts.Catalog
	frameInterval time.Duration
	maxFrames     int

	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := opts.Catalog
	if len(catalog) == 0 {
		catalog = chat.DefaultCatalog()
	}
	generation := opts.Generation
	if generation == (chat.GenerationParams{}) {
		generation = chat.DefaultGenerationParams()
	}
	catalogPrompts := opts.Prompts
	if catalogPrompts == nil {
		catalogPrompts = prompts.Default()
	}
	interval := opts.FrameInterval
	if interval < time.Second {
		interval = 5 * time.Second
	}
	maxFrames := opts.MaxFrames
	if maxFrames <= 0 {
		maxFrames = 30
	}

	return &Handler{
		tg:            opts.Telegram,
		workspaces:    opts.Workspaces,
		ingester:      opts.Ingester,
		sampler:       opts.Sampler,
		catalog:       catalog,
		generation:    generation,
		safety:        opts.Safety,
		prompts:       catalogPrompts,
		frameInterval: interval,
		maxFrames:     maxFrames,
		logger:        logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil || update.Message.From == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID
	userID := msg.From.ID

	switch {
	case msg.IsCommand():
		return h.handleCommand(ctx, chatID, userID, msg)
	case len(msg.Photo) > 0:
		return h.handlePhoto(ctx, chatID, userID, msg)
	case msg.Video != nil:
		return h.handleMedia(ctx, chatID, userID, msg.Video.FileID, msg.Video.MimeType, msg.Caption)
	case msg.VideoNote != nil:
		return h.handleMedia(ctx, chatID, userID, msg.VideoNote.FileID, "video/mp4", msg.Caption)
	case msg.Audio != nil:
		return h.handleMedia(ctx, chatID, userID, msg.Audio.FileID, msg.Audio.MimeType, msg.Caption)
	case msg.Voice != nil:
		return h.handleMedia(ctx, chatID, userID, msg.Voice.FileID, msg.Voice.MimeType, msg.Caption)
	case msg.Document != nil:
		return h.handleMedia(ctx, chatID, userID, msg.Document.FileID, msg.Document.MimeType, msg.Caption)
	case msg.Text != "":
		return h.handleText(ctx, chatID, userID, msg.Text, chat.Attachment{})
	}
	return nil
}

func (h *Handler) handleCommand(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	ws := h.workspace(userID)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID,
			"🤖 Gemini media chat\n\n"+
				"Send a message to chat, or send a photo, album, video, audio or voice note to analyze it.\n\n"+
				"Commands:\n"+
				"/model [id] - show or switch the model\n"+
				"/ask <question> - ask about the last upload\n"+
				"/frame <n> [question] - show a video frame or ask about it\n"+
				"/analyze - quick analysis presets for the last upload\n"+
				"/clear - start a new conversation",
		)
	case "model":
		return h.handleModel(chatID, ws, args)
	case "clear":
		ws.ClearMedia()
		if _, err := ws.Chat.Reset(); err != nil && ws.Chat.State() != chat.StateUnbound {
			return h.tg.SendText(chatID, userMessage(err))
		}
		return h.tg.SendText(chatID, "✅ Conversation cleared.")
	case "ask":
		handle, _ := ws.Media()
		if handle == nil {
			return h.tg.SendText(chatID, "📎 Send a photo, video or audio first.")
		}
		if args == "" {
			return h.tg.SendText(chatID, "❌ Usage: /ask <question>")
		}
		return h.handleText(ctx, chatID, userID, args, chat.Attachment{Media: handle})
	case "frame":
		return h.handleFrame(ctx, chatID, userID, ws, args)
	case "analyze":
		handle, _ := ws.Media()
		if handle == nil {
			return h.tg.SendText(chatID, "📎 Send a photo, video or audio first.")
		}
		return h.offerPresets(chatID, handle.Kind(), "Pick an analysis:")
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleModel(chatID int64, ws *session.Workspace, arg string) error {
	if arg == "" {
		current := ""
		if conv, err := ws.Chat.Conversation(); err == nil {
			current = conv.Model.ID
		}
		var b strings.Builder
		b.WriteString("Available models:\n")
		for _, m := range h.catalog {
			marker := "  "
			if m.ID == current {
				marker = "▶ "
			}
			fmt.Fprintf(&b, "%s%s (%s)\n", marker, m.Name, m.ID)
		}
		b.WriteString("\nUse /model <id> to switch.")
		return h.tg.SendText(chatID, b.String())
	}

	params, safety := h.generation, h.safety
	if conv, err := ws.Chat.Conversation(); err == nil {
		params, safety = conv.Params, conv.Safety()
	}
	conv, err := ws.Chat.Bind(arg, params, safety)
	if err != nil {
		return h.tg.SendText(chatID, userMessage(err))
	}
	return h.tg.SendText(chatID, fmt.Sprintf("✅ Using %s.", conv.Model.Name))
}

func (h *Handler) handleFrame(ctx context.Context, chatID, userID int64, ws *session.Workspace, args string) error {
	_, frames := ws.Media()
	if len(frames) == 0 {
		return h.tg.SendText(chatID, "🎞 No frames available. Send a video first.")
	}

	fields := strings.SplitN(args, " ", 2)
	n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || n < 1 || n > len(frames) {
		return h.tg.SendText(chatID, fmt.Sprintf("❌ Usage: /frame <1-%d> [question]", len(frames)))
	}
	frame := frames[n-1]

	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		caption := fmt.Sprintf("Frame %d at %s", n, frame.Timestamp.Round(time.Second))
		return h.tg.SendPhoto(chatID, frame.Image.Data, frame.Image.MIME, caption)
	}
	return h.handleText(ctx, chatID, userID, strings.TrimSpace(fields[1]), chat.Attachment{Media: frame.Image})
}

func (h *Handler) handleText(ctx context.Context, chatID, userID int64, text string, att chat.Attachment) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	ws := h.workspace(userID)
	if !ws.Allow() {
		return h.tg.SendText(chatID, "⏳ Too many requests. Please wait a moment.")
	}
	if err := h.ensureBound(ws); err != nil {
		return h.tg.SendText(chatID, userMessage(err))
	}

	h.tg.SendTyping(chatID)
	reply, err := ws.Chat.Submit(ctx, text, att)
	if err != nil {
		h.logger.Error("chat submit failed", "user_id", userID, "err", err)
		return h.tg.SendText(chatID, userMessage(err))
	}
	return h.tg.SendText(chatID, reply)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb.From == nil || cb.Message == nil {
		return nil
	}
	_ = h.tg.AnswerCallback(cb.ID, "")

	key, ok := strings.CutPrefix(cb.Data, presetPrefix)
	if !ok {
		return nil
	}
	chatID := cb.Message.Chat.ID
	ws := h.workspace(cb.From.ID)

	handle, _ := ws.Media()
	if handle == nil {
		return h.tg.SendText(chatID, "📎 That upload is gone. Send it again.")
	}
	preset, ok := h.prompts.Lookup(handle.Kind(), key)
	if !ok {
		return h.tg.SendText(chatID, "❌ Unknown analysis.")
	}

	return h.analyze(ctx, chatID, ws, preset, ws.AnalysisAttachment())
}

func (h *Handler) analyze(ctx context.Context, chatID int64, ws *session.Workspace, preset prompts.Preset, att chat.Attachment) error {
	if !ws.Allow() {
		return h.tg.SendText(chatID, "⏳ Too many requests. Please wait a moment.")
	}
	if err := h.ensureBound(ws); err != nil {
		return h.tg.SendText(chatID, userMessage(err))
	}

	h.tg.SendTyping(chatID)
	reply, err := ws.Chat.Analyze(ctx, preset.Prompt, att)
	if err != nil {
		h.logger.Error("analysis failed", "preset", preset.Key, "err", err)
		return h.tg.SendText(chatID, userMessage(err))
	}
	return h.tg.SendText(chatID, fmt.Sprintf("🔎 %s\n\n%s", preset.Name, reply))
}

func (h *Handler) offerPresets(chatID int64, kind media.Kind, text string) error {
	presets := h.prompts.For(kind)
	buttons := make([]telegram.Button, 0, len(presets))
	for _, p := range presets {
		buttons = append(buttons, telegram.Button{Label: p.Name, Data: presetPrefix + p.Key})
	}
	return h.tg.SendButtons(chatID, text, buttons)
}

// ensureBound binds the first catalog model the first time a user talks to
// the bot.
func (h *Handler) ensureBound(ws *session.Workspace) error {
	if ws.Chat.State() != chat.StateUnbound {
		return nil
	}
	_, err := ws.Chat.Bind(h.catalog[0].ID, h.generation, h.safety)
	return err
}

func (h *Handler) workspace(userID int64) *session.Workspace {
	return h.workspaces.Get("tg:" + strconv.FormatInt(userID, 10))
}
