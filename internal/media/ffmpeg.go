package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const defaultFFmpegTimeout = 2 * time.Minute

// FFmpeg implements Decoder with the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Timeout     time.Duration
}

func (f FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	out, err := f.run(ctx, f.probePath(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(out), err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (f FFmpeg) ExtractFrame(ctx context.Context, path string, at time.Duration, outPath string) error {
	_, err := f.run(ctx, f.ffmpegPath(),
		"-y",
		"-ss", strconv.FormatFloat(at.Seconds(), 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	return err
}

func (f FFmpeg) run(ctx context.Context, bin string, args ...string) (string, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = defaultFFmpegTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // binary path comes from configuration
	cmd := exec.CommandContext(runCtx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if (errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound)) || errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFFmpegNotFound, bin)
		}
		if runCtx.Err() != nil {
			return "", runCtx.Err()
		}
		return "", fmt.Errorf("%s: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (f FFmpeg) ffmpegPath() string {
	if f.FFmpegPath != "" {
		return f.FFmpegPath
	}
	return "ffmpeg"
}

func (f FFmpeg) probePath() string {
	if f.FFprobePath != "" {
		return f.FFprobePath
	}
	return "ffprobe"
}
