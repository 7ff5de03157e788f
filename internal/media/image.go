package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif" // register GIF decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

const (
	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"

	jpegQuality = 85
)

// decodeImage decodes data and, when either side exceeds maxDim, downscales it
// and re-encodes. maxDim <= 0 keeps the original size.
func decodeImage(data []byte, maxDim int) (*InlineImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedFormat)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	mimeType := formatMIME(format)
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		if mimeType == mimeJPEG || mimeType == mimePNG {
			return &InlineImage{Image: img, MIME: mimeType, Data: data}, nil
		}
		return encodeInline(img, mimeJPEG)
	}

	tw, th := fitWithin(w, h, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	if mimeType != mimePNG {
		mimeType = mimeJPEG
	}
	return encodeInline(dst, mimeType)
}

func encodeInline(img image.Image, mimeType string) (*InlineImage, error) {
	var buf bytes.Buffer
	switch mimeType {
	case mimePNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	default:
		mimeType = mimeJPEG
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	}
	return &InlineImage{Image: img, MIME: mimeType, Data: buf.Bytes()}, nil
}

func fitWithin(w, h, maxDim int) (int, int) {
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}

func formatMIME(format string) string {
	switch format {
	case "jpeg":
		return mimeJPEG
	case "png":
		return mimePNG
	default:
		return "image/" + format
	}
}
