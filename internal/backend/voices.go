package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/voicetwin/voicetwin/internal/convo"
)

// voiceEntry is the /voices wire format. Description is nullable.
type voiceEntry struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

// Voices fetches the available cloned voice profiles. Callers treat an
// error as "no voices" per the session-start policy.
func (c *Client) Voices(ctx context.Context) ([]convo.VoiceProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config().DialogueTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/voices"), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Voices request failed")
		return nil, apiErr("voices", ErrVoicesFailed, resp.StatusCode, raw)
	}

	var entries []voiceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, apiErr("voices", ErrVoicesFailed, resp.StatusCode, raw)
	}

	voices := make([]convo.VoiceProfile, 0, len(entries))
	for _, e := range entries {
		v := convo.VoiceProfile{ID: e.ID, Name: e.Name}
		if e.Description != nil {
			v.Description = *e.Description
		}
		voices = append(voices, v)
	}

	c.logger.Info().Int("count", len(voices)).Msg("Voice profiles fetched")
	return voices, nil
}
