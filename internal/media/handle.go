// Package media turns uploaded bytes into parts the Gemini API accepts:
// decoded inline images, uploaded file references and sampled video frames.
package media

import (
	"image"
	"strings"
	"time"

	"gemini-media-chat/internal/gemini"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// KindOf returns the media kind for a MIME type, or "" when unsupported.
func KindOf(mimeType string) Kind {
	top, _, _ := strings.Cut(NormalizeMIME(mimeType), "/")
	switch top {
	case "image":
		return KindImage
	case "video":
		return KindVideo
	case "audio":
		return KindAudio
	default:
		return ""
	}
}

// Handle is media that can accompany a chat turn.
type Handle interface {
	MIMEType() string
	Kind() Kind
}

// InlineImage is a decoded bitmap together with the encoded bytes that are
// sent inline. It may be attached to any number of turns.
type InlineImage struct {
	Image image.Image
	MIME  string
	Data  []byte
}

func (i *InlineImage) MIMEType() string { return i.MIME }
func (i *InlineImage) Kind() Kind       { return KindImage }

func (i *InlineImage) Bounds() image.Rectangle {
	if i.Image == nil {
		return image.Rectangle{}
	}
	return i.Image.Bounds()
}

// RemoteFile references media stored by the Files API.
type RemoteFile struct {
	Name  string
	URI   string
	MIME  string
	State gemini.FileState
}

func (f *RemoteFile) MIMEType() string { return f.MIME }
func (f *RemoteFile) Kind() Kind       { return KindOf(f.MIME) }

// Ready reports whether the file may be referenced from a turn.
func (f *RemoteFile) Ready() bool {
	return f.State == gemini.FileStateActive
}

type Frame struct {
	Timestamp time.Duration
	Image     *InlineImage
}

// FrameSet is an ordered run of stills sampled from one video.
type FrameSet []Frame

func (fs FrameSet) Images() []*InlineImage {
	out := make([]*InlineImage, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Image)
	}
	return out
}
