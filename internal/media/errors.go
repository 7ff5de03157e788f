package media

import (
	"errors"
	"fmt"

	"gemini-media-chat/internal/gemini"
)

var (
	ErrUnsupportedType   = errors.New("unsupported media type")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecode            = errors.New("video decode failed")
	ErrInvalidInterval   = errors.New("frame interval must be at least one second")
	ErrUploadTimeout     = errors.New("upload did not become active in time")
	ErrFFmpegNotFound    = errors.New("ffmpeg binary not found")
)

// UploadError reports a file that reached a terminal state other than ACTIVE.
type UploadError struct {
	Name    string
	State   gemini.FileState
	Message string
}

func (e *UploadError) Error() string {
	msg := fmt.Sprintf("file %s ended in state %s", e.Name, e.State)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}
