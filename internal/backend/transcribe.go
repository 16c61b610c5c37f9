package backend

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/voicetwin/voicetwin/internal/capture"
)

// transcribeResponse is the /transcribe wire format.
type transcribeResponse struct {
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error,omitempty"`
}

// Transcribe uploads a captured audio blob and returns the transcript.
// The blob must be non-empty and declared as audio; both are checked
// before any network I/O. An empty transcript is a valid result for
// silence and is returned as-is.
func (c *Client) Transcribe(ctx context.Context, blob capture.Blob) (string, error) {
	if blob.Empty() {
		return "", ErrEmptyAudio
	}
	if !strings.HasPrefix(blob.MediaType, "audio/") {
		return "", ErrNotAudio
	}

	ctx, cancel := context.WithTimeout(ctx, c.config().TranscribeTimeout)
	defer cancel()

	body, contentType, err := multipartBlob("file", blob, nil)
	if err != nil {
		return "", apiErr("transcribe", ErrTranscriptionFailed, 0, []byte(err.Error()))
	}

	start := time.Now()
	c.logger.Debug().Int("audioBytes", len(blob.Data)).Msg("Sending audio for transcription")

	resp, err := c.postMultipart(ctx, "/transcribe", body, contentType)
	if err != nil {
		return "", apiErr("transcribe", ErrTranscriptionFailed, 0, []byte(err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apiErr("transcribe", ErrTranscriptionFailed, resp.StatusCode, []byte(err.Error()))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Transcription request failed")
		return "", apiErr("transcribe", ErrTranscriptionFailed, resp.StatusCode, raw)
	}

	var parsed transcribeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apiErr("transcribe", ErrTranscriptionFailed, resp.StatusCode, raw)
	}
	if parsed.Status != "success" {
		c.logger.Error().Str("status", parsed.Status).Str("error", parsed.Error).Msg("Transcription rejected")
		return "", apiErr("transcribe", ErrTranscriptionFailed, resp.StatusCode, raw)
	}

	text := strings.TrimSpace(parsed.Text)
	c.logger.Info().Str("text", text).Dur("time", time.Since(start)).Msg("Transcription complete")
	return text, nil
}
