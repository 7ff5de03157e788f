package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeUploader struct {
	calls int
	mime  string
}

func (f *fakeUploader) Upload(_ context.Context, _ []byte, mimeType string) (*RemoteFile, error) {
	f.calls++
	f.mime = mimeType
	return &RemoteFile{Name: "files/x", URI: "uri", MIME: mimeType, State: "ACTIVE"}, nil
}

func TestNormalizeMIME(t *testing.T) {
	assert.Equal(t, "image/png", NormalizeMIME(" Image/PNG; charset=binary "))
	assert.Equal(t, "", NormalizeMIME(""))
}

func TestKindOf(t *testing.T) {
	tests := map[string]Kind{
		"image/jpeg":      KindImage,
		"video/quicktime": KindVideo,
		"audio/ogg":       KindAudio,
		"application/pdf": "",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, KindOf(in), in)
	}
}

func TestAccepted(t *testing.T) {
	assert.True(t, Accepted("video/x-msvideo"))
	assert.True(t, Accepted("audio/wav; codecs=1"))
	assert.False(t, Accepted("image/webp"))
	assert.Len(t, AcceptedTypes(), 8)
}

func TestIngestImage(t *testing.T) {
	up := &fakeUploader{}
	ing := NewIngester(IngestOptions{Uploader: up})

	h, err := ing.Ingest(context.Background(), pngBytes(t, 4, 3), "image/png")
	require.NoError(t, err)

	img, ok := h.(*InlineImage)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType())
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Zero(t, up.calls)
}

func TestIngestImageDownscales(t *testing.T) {
	ing := NewIngester(IngestOptions{MaxImageDimension: 10})

	h, err := ing.Ingest(context.Background(), pngBytes(t, 40, 20), "image/png")
	require.NoError(t, err)

	img := h.(*InlineImage)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
	assert.Equal(t, "image/png", img.MIME)
}

func TestIngestCorruptImage(t *testing.T) {
	ing := NewIngester(IngestOptions{})

	_, err := ing.Ingest(context.Background(), []byte("not an image"), "image/jpeg")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIngestVideoAndAudioUpload(t *testing.T) {
	up := &fakeUploader{}
	ing := NewIngester(IngestOptions{Uploader: up})

	h, err := ing.Ingest(context.Background(), []byte("vid"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, KindVideo, h.Kind())
	assert.Equal(t, "video/mp4", up.mime)

	h, err = ing.Ingest(context.Background(), []byte("aud"), "audio/mpeg; rate=44100")
	require.NoError(t, err)
	assert.Equal(t, KindAudio, h.Kind())
	assert.Equal(t, "audio/mpeg", up.mime)
	assert.Equal(t, 2, up.calls)
}

func TestIngestUnsupportedTypeSkipsDecoders(t *testing.T) {
	up := &fakeUploader{}
	ing := NewIngester(IngestOptions{Uploader: up})
	decoded := 0
	ing.decode = func([]byte, int) (*InlineImage, error) {
		decoded++
		return nil, nil
	}

	_, err := ing.Ingest(context.Background(), []byte("%PDF-1.7"), "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedType)
	assert.Zero(t, decoded)
	assert.Zero(t, up.calls)
}

func TestRemoteFileReady(t *testing.T) {
	assert.True(t, (&RemoteFile{State: "ACTIVE"}).Ready())
	assert.False(t, (&RemoteFile{State: "PROCESSING"}).Ready())
	assert.Equal(t, KindAudio, (&RemoteFile{MIME: "audio/wav"}).Kind())
}
