package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"gemini-media-chat/internal/metrics"
)

const (
	DefaultFrameInterval = 10 * time.Second

	defaultParallelism = 4
)

// Decoder reads video files from disk.
type Decoder interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	ExtractFrame(ctx context.Context, path string, at time.Duration, outPath string) error
}

type SamplerOptions struct {
	Decoder      Decoder
	StagingDir   string
	MaxDimension int
	Parallelism  int
	Logger       *slog.Logger
}

// FrameSampler turns a video blob into still frames taken at a fixed
// interval. Sample has no cap on the number of frames; callers that accept
// long videos bound it with SampleAtMost.
type FrameSampler struct {
	decoder     Decoder
	stagingDir  string
	maxDim      int
	parallelism int
	logger      *slog.Logger
}

func NewFrameSampler(opts SamplerOptions) *FrameSampler {
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = defaultParallelism
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &FrameSampler{
		decoder:     opts.Decoder,
		stagingDir:  opts.StagingDir,
		maxDim:      opts.MaxDimension,
		parallelism: parallelism,
		logger:      logger,
	}
}

// Timestamps returns 0, interval, 2*interval, ... strictly below duration.
func Timestamps(duration, interval time.Duration) []time.Duration {
	if duration <= 0 || interval <= 0 {
		return nil
	}
	out := make([]time.Duration, 0, int(duration/interval)+1)
	for at := time.Duration(0); at < duration; at += interval {
		out = append(out, at)
	}
	return out
}

// WidenInterval returns the smallest whole-second interval, no shorter than
// interval, that keeps Timestamps(duration, ...) within maxFrames. A
// maxFrames of zero or less leaves interval unchanged.
func WidenInterval(duration, interval time.Duration, maxFrames int) time.Duration {
	if maxFrames <= 0 || duration <= 0 || interval <= 0 {
		return interval
	}
	limit := time.Duration(maxFrames)
	if (duration+interval-1)/interval <= limit {
		return interval
	}
	widened := (duration + limit - 1) / limit
	widened = (widened + time.Second - 1) / time.Second * time.Second
	if widened < interval {
		return interval
	}
	return widened
}

// Sample decodes video and returns one frame per timestamp, in order.
func (s *FrameSampler) Sample(ctx context.Context, video []byte, mimeType string, interval time.Duration) (FrameSet, error) {
	return s.SampleAtMost(ctx, video, mimeType, interval, 0)
}

// SampleAtMost is Sample with the interval widened so no more than maxFrames
// frames are extracted. maxFrames <= 0 means no cap.
func (s *FrameSampler) SampleAtMost(ctx context.Context, video []byte, mimeType string, interval time.Duration, maxFrames int) (FrameSet, error) {
	if interval < time.Second {
		return nil, ErrInvalidInterval
	}
	if len(video) == 0 {
		return nil, fmt.Errorf("%w: empty video", ErrDecode)
	}
	if s.decoder == nil {
		return nil, errors.New("frame decoder is nil")
	}

	dir, err := os.MkdirTemp(s.stagingDir, "frames-")
	if err != nil {
		return nil, fmt.Errorf("create frames directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("remove frames directory failed", "path", dir, "err", err)
		}
	}()

	input := filepath.Join(dir, "input"+videoExtension(mimeType))
	if err := os.WriteFile(input, video, stagingPermission); err != nil {
		return nil, fmt.Errorf("write video: %w", err)
	}

	duration, err := s.decoder.Duration(ctx, input)
	if err != nil {
		return nil, decodeErr(err)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("%w: video has no duration", ErrDecode)
	}

	if widened := WidenInterval(duration, interval, maxFrames); widened != interval {
		s.logger.Info("frame interval widened", "requested", interval, "interval", widened, "max_frames", maxFrames)
		interval = widened
	}

	stamps := Timestamps(duration, interval)
	frames := make(FrameSet, len(stamps))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallelism)
	for i, at := range stamps {
		eg.Go(func() error {
			out := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i+1))
			if err := s.decoder.ExtractFrame(egCtx, input, at, out); err != nil {
				return decodeErr(fmt.Errorf("frame at %s: %w", at, err))
			}

			data, err := os.ReadFile(out)
			if err != nil {
				return fmt.Errorf("%w: read frame at %s: %w", ErrDecode, at, err)
			}

			img, err := decodeImage(data, s.maxDim)
			if err != nil {
				return fmt.Errorf("%w: frame at %s: %w", ErrDecode, at, err)
			}

			frames[i] = Frame{Timestamp: at, Image: img}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	metrics.AddFrames(len(frames))
	s.logger.Info("frames sampled", "count", len(frames), "duration", duration, "interval", interval)
	return frames, nil
}

func decodeErr(err error) error {
	if errors.Is(err, ErrFFmpegNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDecode, err)
}

func videoExtension(mimeType string) string {
	switch NormalizeMIME(mimeType) {
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "video/x-msvideo":
		return ".avi"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ".mp4"
	}
}
