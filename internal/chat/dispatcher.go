package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gemini-media-chat/internal/gemini"
	"gemini-media-chat/internal/media"
	"gemini-media-chat/internal/metrics"
)

// probabilityFloor is the rating at or below which a category is not
// mentioned in a block explanation.
const probabilityFloor = "NEGLIGIBLE"

type DispatcherOptions struct {
	Logger *slog.Logger
}

// Dispatcher turns a prompt plus optional media into one remote turn.
type Dispatcher struct {
	logger *slog.Logger
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Dispatcher{logger: logger}
}

// Dispatch sends text and, when h is non-nil, its media to the conversation's
// remote session. A safety block is not an error: the returned text explains
// which categories triggered it.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *Conversation, text string, h media.Handle) (string, error) {
	if conv == nil || conv.remote == nil {
		return "", fmt.Errorf("%w: no model bound", ErrState)
	}

	parts := []gemini.Part{gemini.TextPart(text)}
	kind := "none"
	if h != nil {
		part, err := mediaPart(h)
		if err != nil {
			return "", err
		}
		if part != nil {
			parts = append(parts, *part)
			kind = string(h.Kind())
		}
	}

	started := time.Now()
	reply, err := conv.remote.SendTurn(ctx, parts...)
	elapsed := time.Since(started)

	var blocked *gemini.BlockedError
	switch {
	case errors.As(err, &blocked):
		metrics.ObserveDispatch(conv.Model.ID, kind, metrics.StatusBlocked, elapsed)
		d.logger.Warn("response blocked", "conversation", conv.ID, "model", conv.Model.ID, "reason", blocked.Reason)
		return ExplainBlock(blocked), nil
	case err != nil:
		metrics.ObserveDispatch(conv.Model.ID, kind, metrics.StatusError, elapsed)
		d.logger.Error("dispatch failed", "conversation", conv.ID, "model", conv.Model.ID, "error", err)
		return "", &DispatchError{Model: conv.Model.ID, Err: err}
	}

	metrics.ObserveDispatch(conv.Model.ID, kind, metrics.StatusSuccess, elapsed)
	d.logger.Debug("dispatch ok", "conversation", conv.ID, "media", kind, "duration", elapsed)
	return reply, nil
}

// DispatchFrames sends one turn per frame, in order, and joins the replies as
// "Frame i: ..." segments. The first failing frame aborts the run.
func (d *Dispatcher) DispatchFrames(ctx context.Context, conv *Conversation, prompt string, frames media.FrameSet) (string, error) {
	if len(frames) == 0 {
		return "", ErrNoFrames
	}

	segments := make([]string, 0, len(frames))
	for i, frame := range frames {
		n := i + 1
		reply, err := d.Dispatch(ctx, conv, fmt.Sprintf("%s (Frame %d)", prompt, n), frame.Image)
		if err != nil {
			return "", fmt.Errorf("frame %d: %w", n, err)
		}
		segments = append(segments, fmt.Sprintf("Frame %d: %s", n, reply))
	}
	return strings.Join(segments, "\n\n"), nil
}

// mediaPart returns nil for a typed-nil handle.
func mediaPart(h media.Handle) (*gemini.Part, error) {
	switch v := h.(type) {
	case *media.InlineImage:
		if v == nil {
			return nil, nil
		}
		if len(v.Data) == 0 {
			return nil, fmt.Errorf("inline image has no encoded data")
		}
		part := gemini.InlinePart(v.MIME, v.Data)
		return &part, nil
	case *media.RemoteFile:
		if v == nil {
			return nil, nil
		}
		if !v.Ready() {
			return nil, fmt.Errorf("%w: %s is %s", ErrMediaNotReady, v.Name, v.State)
		}
		part := gemini.FilePart(v.MIME, v.URI)
		return &part, nil
	default:
		return nil, fmt.Errorf("unsupported media handle %T", h)
	}
}

// ExplainBlock renders a safety block for display, listing every category
// rated above negligible probability.
func ExplainBlock(blocked *gemini.BlockedError) string {
	var b strings.Builder
	b.WriteString("The response was blocked by the safety filters")
	if blocked.Reason != "" {
		fmt.Fprintf(&b, " (%s)", blocked.Reason)
	}
	b.WriteString(".")

	var lines []string
	for _, r := range blocked.Ratings {
		prob := strings.TrimPrefix(r.Probability, "HARM_PROBABILITY_")
		if prob == "" || prob == probabilityFloor || prob == "UNSPECIFIED" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s probability", HarmCategory(r.Category).Label(), titleWords(prob)))
	}
	if len(lines) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	b.WriteString("\nTry rephrasing the request or relaxing the safety settings.")
	return b.String()
}
