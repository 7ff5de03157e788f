package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"gemini-media-chat/internal/chat"
	"gemini-media-chat/internal/media"
	"gemini-media-chat/internal/mediagroup"
)

func (h *Handler) handlePhoto(ctx context.Context, chatID, userID int64, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Item{
			ChatID:    chatID,
			UserID:    userID,
			GroupID:   msg.MediaGroupID,
			MessageID: msg.MessageID,
			Caption:   msg.Caption,
			FileID:    photo.FileID,
		})
		return nil
	}

	return h.handleMedia(ctx, chatID, userID, photo.FileID, "image/jpeg", msg.Caption)
}

// handleMedia downloads and ingests one attachment, makes it the current
// upload and either answers the caption or offers quick-analysis presets.
func (h *Handler) handleMedia(ctx context.Context, chatID, userID int64, fileID, mimeHint, caption string) error {
	h.tg.SendTyping(chatID)

	data, mimeType, err := h.tg.DownloadFile(ctx, fileID, mimeHint)
	if err != nil {
		h.logger.Error("file download failed", "user_id", userID, "err", err)
		return h.tg.SendText(chatID, "❌ Could not download the file.")
	}
	mimeType = media.NormalizeMIME(mimeType)

	kind := media.KindOf(mimeType)
	if kind == media.KindVideo || kind == media.KindAudio {
		_ = h.tg.SendText(chatID, "⏳ Uploading to Gemini, this can take a minute...")
	}

	handle, frames, err := h.ingest(ctx, data, mimeType)
	if err != nil {
		h.logger.Error("media ingest failed", "user_id", userID, "mime", mimeType, "err", err)
		return h.tg.SendText(chatID, userMessage(err))
	}

	ws := h.workspace(userID)
	ws.SetMedia(handle, frames)

	if caption = strings.TrimSpace(caption); caption != "" {
		return h.handleText(ctx, chatID, userID, caption, chat.Attachment{Media: handle})
	}

	text := "📎 Got it. Pick an analysis, or use /ask <question>."
	if len(frames) > 0 {
		text = fmt.Sprintf("🎞 Got it, %d frames sampled. Pick an analysis, or use /ask or /frame.", len(frames))
	}
	return h.offerPresets(chatID, handle.Kind(), text)
}

// ingest converts the download to a handle. Video is sampled into frames
// alongside the upload; a missing ffmpeg only costs the frames.
func (h *Handler) ingest(ctx context.Context, data []byte, mimeType string) (media.Handle, media.FrameSet, error) {
	var (
		handle media.Handle
		frames media.FrameSet
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := h.ingester.Ingest(gctx, data, mimeType)
		handle = out
		return err
	})
	if media.KindOf(mimeType) == media.KindVideo && h.sampler != nil {
		g.Go(func() error {
			out, err := h.sampler.SampleAtMost(gctx, data, mimeType, h.frameInterval, h.maxFrames)
			if errors.Is(err, media.ErrFFmpegNotFound) {
				h.logger.Warn("frame sampling unavailable", "err", err)
				return nil
			}
			frames = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return handle, frames, nil
}

// HandleMediaGroup treats an album of photos as an ordered FrameSet and
// runs it through the per-frame aggregation.
func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.processAlbum(ctx, group); err != nil {
		h.logger.Error("media group processing failed", "err", err)
	}
}

func (h *Handler) processAlbum(ctx context.Context, group mediagroup.Group) error {
	chatID := group.ChatID
	h.tg.SendTyping(chatID)

	frames := make(media.FrameSet, len(group.FileIDs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, fileID := range group.FileIDs {
		eg.Go(func() error {
			data, mimeType, err := h.tg.DownloadFile(egCtx, fileID, "image/jpeg")
			if err != nil {
				return fmt.Errorf("download %s: %w", fileID, err)
			}
			handle, err := h.ingester.Ingest(egCtx, data, mimeType)
			if err != nil {
				return err
			}
			img, ok := handle.(*media.InlineImage)
			if !ok {
				return fmt.Errorf("%w: album item %d is not an image", media.ErrUnsupportedType, i+1)
			}
			frames[i] = media.Frame{Image: img}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		_ = h.tg.SendText(chatID, userMessage(err))
		return err
	}

	ws := h.workspace(group.UserID)
	ws.SetMedia(frames[0].Image, frames)

	if caption := strings.TrimSpace(group.Caption); caption != "" {
		return h.handleText(ctx, chatID, group.UserID, caption, chat.Attachment{Frames: frames})
	}

	preset, ok := h.prompts.Lookup(media.KindImage, "describe")
	if !ok {
		presets := h.prompts.For(media.KindImage)
		if len(presets) == 0 {
			return h.tg.SendText(chatID, "📎 Album saved. Use /ask or /frame to ask about it.")
		}
		preset = presets[0]
	}
	return h.analyze(ctx, chatID, ws, preset, chat.Attachment{Frames: frames})
}

// userMessage maps an error to a short reply.
func userMessage(err error) string {
	var (
		dispatchErr *chat.DispatchError
		uploadErr   *media.UploadError
	)
	switch {
	case errors.Is(err, chat.ErrConfig):
		return "⚠️ " + err.Error()
	case errors.Is(err, chat.ErrMediaNotReady):
		return "⏳ The file is still processing. Try again shortly."
	case errors.Is(err, chat.ErrState):
		return "⏳ Still working on your previous message."
	case errors.Is(err, media.ErrUnsupportedType):
		return "❌ Unsupported file type. Send PNG/JPEG images, MP4/AVI/MOV video or MP3/WAV/OGG audio."
	case errors.Is(err, media.ErrUnsupportedFormat), errors.Is(err, media.ErrDecode):
		return "❌ Could not read this media file."
	case errors.Is(err, media.ErrUploadTimeout):
		return "❌ Gemini took too long to process the file."
	case errors.As(err, &uploadErr):
		return "❌ Gemini could not process the file: " + uploadErr.Error()
	case errors.As(err, &dispatchErr):
		return "❌ Gemini request failed: " + dispatchErr.Err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "❌ The request timed out. Please try again."
	default:
		return "❌ Something went wrong. Please try again."
	}
}
