package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// blockingFinishReasons are candidate finish reasons that mean the output was
// withheld by a content filter.
var blockingFinishReasons = map[string]bool{
	"SAFETY":             true,
	"PROHIBITED_CONTENT": true,
	"BLOCKLIST":          true,
	"SPII":               true,
}

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasKey reports whether an API key was configured.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// WithAPIKey returns a copy of the client that authenticates with key.
func (c *Client) WithAPIKey(key string) *Client {
	clone := *c
	clone.apiKey = strings.TrimSpace(key)
	return &clone
}

// GenerateContent runs a single generateContent call and returns the text of
// the first candidate. Safety suppression is reported as *BlockedError.
func (c *Client) GenerateContent(ctx context.Context, model string, contents []Content, cfg GenerationConfig, safety []SafetySetting) (string, error) {
	payload := generateContentRequest{
		Contents:         contents,
		GenerationConfig: cfg,
		SafetySettings:   safety,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")

	rawBody, err := c.do(httpReq)
	if err != nil {
		return "", err
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return extractText(decoded)
}

func extractText(resp generateContentResponse) (string, error) {
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		return "", &BlockedError{Reason: fb.BlockReason, Ratings: fb.SafetyRatings}
	}
	if len(resp.Candidates) == 0 {
		return "", ErrNoCandidates
	}

	first := resp.Candidates[0]
	if blockingFinishReasons[first.FinishReason] {
		return "", &BlockedError{Reason: first.FinishReason, Ratings: first.SafetyRatings}
	}

	text := candidateText(first)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// UploadFile sends media to the Files API using the multipart upload protocol.
// The returned File is usually still PROCESSING; poll GetFile for readiness.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, mimeType, displayName string) (File, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=utf-8")
	metaPart, err := mw.CreatePart(metaHeader)
	if err != nil {
		return File{}, fmt.Errorf("create metadata part: %w", err)
	}
	var meta uploadMetadata
	meta.File.DisplayName = displayName
	if err := json.NewEncoder(metaPart).Encode(meta); err != nil {
		return File{}, fmt.Errorf("encode metadata: %w", err)
	}

	mediaHeader := textproto.MIMEHeader{}
	mediaHeader.Set("Content-Type", mimeType)
	mediaPart, err := mw.CreatePart(mediaHeader)
	if err != nil {
		return File{}, fmt.Errorf("create media part: %w", err)
	}
	if _, err := io.Copy(mediaPart, r); err != nil {
		return File{}, fmt.Errorf("copy media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return File{}, fmt.Errorf("close multipart: %w", err)
	}

	url := fmt.Sprintf("%s/upload/%s/files", c.baseURL, c.apiVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return File{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "multipart/related; boundary="+mw.Boundary())
	httpReq.Header.Set("x-goog-upload-protocol", "multipart")

	rawBody, err := c.do(httpReq)
	if err != nil {
		return File{}, err
	}

	var decoded fileEnvelope
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return File{}, fmt.Errorf("decode upload response: %w", err)
	}
	if decoded.File.Name == "" {
		return File{}, errors.New("upload response has no file name")
	}

	c.logger.Debug("file uploaded", "name", decoded.File.Name, "state", decoded.File.State, "mime", mimeType)
	return decoded.File, nil
}

// GetFile fetches the current metadata of an uploaded file.
func (c *Client) GetFile(ctx context.Context, name string) (File, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" {
		return File{}, errors.New("file name is empty")
	}

	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, name)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return File{}, fmt.Errorf("create request: %w", err)
	}

	rawBody, err := c.do(httpReq)
	if err != nil {
		return File{}, err
	}

	var file File
	if err := json.Unmarshal(rawBody, &file); err != nil {
		return File{}, fmt.Errorf("decode file: %w", err)
	}
	return file, nil
}

func (c *Client) do(httpReq *http.Request) ([]byte, error) {
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		c.logger.Debug("gemini request failed", "method", httpReq.Method, "path", httpReq.URL.Path, "status", httpResp.StatusCode)
		return nil, parseAPIError(httpResp.StatusCode, httpResp.Status, rawBody)
	}

	return rawBody, nil
}
