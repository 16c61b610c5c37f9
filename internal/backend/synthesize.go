package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// Speech is a synthesis result: raw audio bytes for local playback and,
// optionally, a pre-rendered avatar video URL selected by voice identity.
// Either field may be empty; callers fall back to a default idle asset
// when both are.
type Speech struct {
	Audio    []byte
	VideoURL string
}

// generateRequest is the /generate wire format.
type generateRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Name    string `json:"name,omitempty"`
}

// generateResponse is the JSON shape of /generate. The endpoint may also
// answer with raw audio bytes, handled by content type below.
type generateResponse struct {
	Audio    string `json:"audio"` // base64
	VideoURL string `json:"video_url"`
}

// Synthesize converts reply text to speech in the given voice. Empty
// text fails fast with ErrEmptyUtterance without a network round trip.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, voiceName string) (*Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyUtterance
	}

	ctx, cancel := context.WithTimeout(ctx, c.config().SynthesisTimeout)
	defer cancel()

	payload, err := json.Marshal(generateRequest{Text: text, VoiceID: voiceID, Name: voiceName})
	if err != nil {
		return nil, apiErr("generate", ErrSynthesisFailed, 0, []byte(err.Error()))
	}

	start := time.Now()
	c.logger.Debug().Str("voice", voiceID).Int("textLen", len(text)).Msg("Sending synthesis request")

	resp, err := c.postJSON(ctx, "/generate", payload)
	if err != nil {
		return nil, apiErr("generate", ErrSynthesisFailed, 0, []byte(err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apiErr("generate", ErrSynthesisFailed, resp.StatusCode, []byte(err.Error()))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Synthesis request failed")
		return nil, apiErr("generate", ErrSynthesisFailed, resp.StatusCode, raw)
	}

	speech := &Speech{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var parsed generateResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return nil, apiErr("generate", ErrSynthesisFailed, resp.StatusCode, raw)
		}
		if parsed.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(parsed.Audio)
			if err != nil {
				return nil, apiErr("generate", ErrSynthesisFailed, resp.StatusCode, []byte(err.Error()))
			}
			speech.Audio = audio
		}
		speech.VideoURL = parsed.VideoURL
	} else {
		// Raw audio body.
		speech.Audio = raw
	}

	c.logger.Info().
		Int("audioBytes", len(speech.Audio)).
		Str("videoURL", speech.VideoURL).
		Dur("time", time.Since(start)).
		Msg("Synthesis complete")
	return speech, nil
}
