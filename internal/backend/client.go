// Package backend implements the HTTP clients for the voice backend:
// transcription, dialogue, synthesis, voice listing, cloning, and
// enrollment video upload. No client retries internally; retry policy
// belongs to the caller.
package backend

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voicetwin/voicetwin/internal/capture"
)

// Config holds backend client configuration.
type Config struct {
	BaseURL           string
	TranscribeTimeout time.Duration
	DialogueTimeout   time.Duration
	SynthesisTimeout  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "http://localhost:8000",
		TranscribeTimeout: 30 * time.Second,
		DialogueTimeout:   30 * time.Second,
		SynthesisTimeout:  60 * time.Second,
	}
}

// Client talks to the voice backend. Its configuration can be swapped
// at runtime; in-flight requests keep the deadlines they started with.
type Client struct {
	mu     sync.RWMutex
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    normalize(cfg),
		http:   &http.Client{},
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

// Reconfigure applies updated settings. Used by the config hot-reload
// path; subsequent requests pick up the new base URL and timeouts.
func (c *Client) Reconfigure(cfg Config) {
	cfg = normalize(cfg)
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
	c.logger.Info().Str("baseURL", cfg.BaseURL).Msg("Backend client reconfigured")
}

func (c *Client) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func normalize(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	if cfg.DialogueTimeout <= 0 {
		cfg.DialogueTimeout = 30 * time.Second
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = 60 * time.Second
	}
	return cfg
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.config().BaseURL, "/") + path
}

// multipartBlob builds a multipart body with one file field plus extra
// string fields.
func multipartBlob(fieldName string, blob capture.Blob, fields map[string]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fieldName, blobFilename(blob.MediaType))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(blob.Data); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func blobFilename(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "webm"):
		return "capture.webm"
	case strings.Contains(mediaType, "wav"):
		return "capture.wav"
	case strings.HasPrefix(mediaType, "video/"):
		return "capture.mp4"
	default:
		return "capture.mp3"
	}
}

func (c *Client) postMultipart(ctx context.Context, path string, body *bytes.Buffer, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return c.http.Do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}
