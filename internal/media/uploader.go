package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"gemini-media-chat/internal/gemini"
	"gemini-media-chat/internal/metrics"
)

const (
	DefaultPollInterval  = 5 * time.Second
	DefaultUploadTimeout = 5 * time.Minute

	stagingPermission = 0o600
)

// FileStore is the subset of the Files API the uploader needs.
type FileStore interface {
	UploadFile(ctx context.Context, r io.Reader, mimeType, displayName string) (gemini.File, error)
	GetFile(ctx context.Context, name string) (gemini.File, error)
}

type UploaderOptions struct {
	Files        FileStore
	StagingDir   string
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger

	// OnProgress, when set, receives every observed file state.
	OnProgress func(gemini.File)
}

type Uploader struct {
	files        FileStore
	stagingDir   string
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger
	onProgress   func(gemini.File)
}

func NewUploader(opts UploaderOptions) *Uploader {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultUploadTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Uploader{
		files:        opts.Files,
		stagingDir:   opts.StagingDir,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
		onProgress:   opts.OnProgress,
	}
}

// Upload stages data on disk, sends it to the Files API and blocks until the
// file is ACTIVE. The staging file is removed on every return path.
func (u *Uploader) Upload(ctx context.Context, data []byte, mimeType string) (*RemoteFile, error) {
	start := time.Now()
	kind := string(KindOf(mimeType))

	file, err := u.upload(ctx, data, mimeType)
	if err != nil {
		metrics.ObserveUpload(kind, metrics.StatusError, time.Since(start))
		return nil, err
	}

	metrics.ObserveUpload(kind, metrics.StatusSuccess, time.Since(start))
	u.logger.Info("file ready", "name", file.Name, "mime", file.MimeType, "wait_ms", time.Since(start).Milliseconds())

	mimeOut := file.MimeType
	if mimeOut == "" {
		mimeOut = mimeType
	}
	return &RemoteFile{
		Name:  file.Name,
		URI:   file.URI,
		MIME:  mimeOut,
		State: file.State,
	}, nil
}

func (u *Uploader) upload(ctx context.Context, data []byte, mimeType string) (gemini.File, error) {
	if u.files == nil {
		return gemini.File{}, errors.New("file store is nil")
	}

	path, err := u.stage(data, mimeType)
	if err != nil {
		return gemini.File{}, fmt.Errorf("stage upload: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			u.logger.Warn("remove staging file failed", "path", path, "err", err)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return gemini.File{}, fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	file, err := u.files.UploadFile(ctx, f, mimeType, filepath.Base(path))
	if err != nil {
		return gemini.File{}, fmt.Errorf("upload file: %w", err)
	}

	return u.waitActive(ctx, file)
}

func (u *Uploader) stage(data []byte, mimeType string) (string, error) {
	ext := ""
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		ext = exts[0]
	}

	dir := u.stagingDir
	if dir == "" {
		dir = os.TempDir()
	}

	path := filepath.Join(dir, "upload-"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, stagingPermission); err != nil {
		return "", err
	}
	return path, nil
}

// waitActive polls until the file leaves PROCESSING. An empty or unspecified
// state is treated as not yet known and polled like PROCESSING.
func (u *Uploader) waitActive(ctx context.Context, file gemini.File) (gemini.File, error) {
	deadline := time.NewTimer(u.timeout)
	defer deadline.Stop()

	for {
		if u.onProgress != nil {
			u.onProgress(file)
		}

		switch file.State {
		case gemini.FileStateActive:
			return file, nil
		case gemini.FileStateProcessing, gemini.FileStateUnspecified, "":
		default:
			uploadErr := &UploadError{Name: file.Name, State: file.State}
			if file.Error != nil {
				uploadErr.Message = file.Error.Message
			}
			return gemini.File{}, uploadErr
		}

		wait := time.NewTimer(u.pollInterval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return gemini.File{}, ctx.Err()
		case <-deadline.C:
			wait.Stop()
			return gemini.File{}, fmt.Errorf("%w: %s still %s after %s", ErrUploadTimeout, file.Name, file.State, u.timeout)
		case <-wait.C:
		}

		next, err := u.files.GetFile(ctx, file.Name)
		if err != nil {
			return gemini.File{}, fmt.Errorf("get file %s: %w", file.Name, err)
		}
		u.logger.Debug("file state polled", "name", next.Name, "state", next.State)
		file = next
	}
}
