package backend

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/voicetwin/voicetwin/internal/capture"
	"github.com/voicetwin/voicetwin/internal/convo"
)

// cloneResponse is the /clone wire format. Some backend versions answer
// with voice_id instead of id.
type cloneResponse struct {
	ID          string `json:"id"`
	VoiceID     string `json:"voice_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CloneVoice uploads a recorded voice sample and returns the new
// profile. Non-2xx responses are surfaced to the enrollment flow.
func (c *Client) CloneVoice(ctx context.Context, name, description string, blob capture.Blob) (*convo.VoiceProfile, error) {
	if blob.Empty() {
		return nil, ErrEmptyAudio
	}

	ctx, cancel := context.WithTimeout(ctx, c.config().SynthesisTimeout)
	defer cancel()

	body, contentType, err := multipartBlob("file", blob, map[string]string{
		"name":        name,
		"description": description,
	})
	if err != nil {
		return nil, apiErr("clone", ErrCloneFailed, 0, []byte(err.Error()))
	}

	start := time.Now()
	c.logger.Info().Str("name", name).Int("sampleBytes", len(blob.Data)).Msg("Uploading voice sample for cloning")

	resp, err := c.postMultipart(ctx, "/clone", body, contentType)
	if err != nil {
		return nil, apiErr("clone", ErrCloneFailed, 0, []byte(err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apiErr("clone", ErrCloneFailed, resp.StatusCode, []byte(err.Error()))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Clone request failed")
		return nil, apiErr("clone", ErrCloneFailed, resp.StatusCode, raw)
	}

	var parsed cloneResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apiErr("clone", ErrCloneFailed, resp.StatusCode, raw)
	}
	id := parsed.ID
	if id == "" {
		id = parsed.VoiceID
	}
	if id == "" {
		return nil, apiErr("clone", ErrCloneFailed, resp.StatusCode, raw)
	}

	profile := &convo.VoiceProfile{ID: id, Name: parsed.Name, Description: parsed.Description}
	if profile.Name == "" {
		profile.Name = name
	}
	if profile.Description == "" {
		profile.Description = description
	}

	c.logger.Info().Str("voiceID", id).Dur("time", time.Since(start)).Msg("Voice cloned")
	return profile, nil
}

// SaveVideo uploads a recorded enrollment video for the named voice.
func (c *Client) SaveVideo(ctx context.Context, name string, blob capture.Blob) error {
	if blob.Empty() {
		return ErrEmptyAudio
	}
	if !strings.HasPrefix(blob.MediaType, "video/") {
		return apiErr("save-video", ErrSaveVideoFailed, 0, []byte("blob is not video"))
	}

	ctx, cancel := context.WithTimeout(ctx, c.config().SynthesisTimeout)
	defer cancel()

	body, contentType, err := multipartBlob("file", blob, map[string]string{"name": name})
	if err != nil {
		return apiErr("save-video", ErrSaveVideoFailed, 0, []byte(err.Error()))
	}

	resp, err := c.postMultipart(ctx, "/save-video", body, contentType)
	if err != nil {
		return apiErr("save-video", ErrSaveVideoFailed, 0, []byte(err.Error()))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Save video failed")
		return apiErr("save-video", ErrSaveVideoFailed, resp.StatusCode, raw)
	}

	c.logger.Info().Str("name", name).Int("videoBytes", len(blob.Data)).Msg("Enrollment video saved")
	return nil
}
