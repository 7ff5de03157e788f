package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// acceptedTypes lists the upload types offered to users. Ingest itself
// dispatches on the top-level type only.
var acceptedTypes = []string{
	"image/png",
	"image/jpeg",
	"video/mp4",
	"video/x-msvideo",
	"video/quicktime",
	"audio/mpeg",
	"audio/wav",
	"audio/ogg",
}

func AcceptedTypes() []string {
	return append([]string(nil), acceptedTypes...)
}

func Accepted(mimeType string) bool {
	mimeType = NormalizeMIME(mimeType)
	for _, t := range acceptedTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

// NormalizeMIME lowercases a content type and drops its parameters.
func NormalizeMIME(value string) string {
	value = strings.TrimSpace(value)
	if idx := strings.IndexByte(value, ';'); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

// RemoteUploader stores large media remotely and returns a ready handle.
type RemoteUploader interface {
	Upload(ctx context.Context, data []byte, mimeType string) (*RemoteFile, error)
}

type IngestOptions struct {
	Uploader          RemoteUploader
	MaxImageDimension int
	Logger            *slog.Logger
}

type Ingester struct {
	uploader RemoteUploader
	maxDim   int
	logger   *slog.Logger
	decode   func(data []byte, maxDim int) (*InlineImage, error)
}

func NewIngester(opts IngestOptions) *Ingester {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Ingester{
		uploader: opts.Uploader,
		maxDim:   opts.MaxImageDimension,
		logger:   logger,
		decode:   decodeImage,
	}
}

// Ingest converts an uploaded blob into a Handle according to its declared
// MIME type: images are decoded in memory, video and audio are uploaded.
func (i *Ingester) Ingest(ctx context.Context, data []byte, declaredMIME string) (Handle, error) {
	mimeType := NormalizeMIME(declaredMIME)

	switch KindOf(mimeType) {
	case KindImage:
		img, err := i.decode(data, i.maxDim)
		if err != nil {
			return nil, err
		}
		i.logger.Debug("image ingested", "mime", img.MIME, "bytes", len(img.Data))
		return img, nil
	case KindVideo, KindAudio:
		if i.uploader == nil {
			return nil, fmt.Errorf("%w: no uploader configured for %s", ErrUnsupportedType, mimeType)
		}
		file, err := i.uploader.Upload(ctx, data, mimeType)
		if err != nil {
			return nil, err
		}
		return file, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, declaredMIME)
	}
}
