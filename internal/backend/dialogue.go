package backend

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/voicetwin/voicetwin/internal/convo"
)

// chatRequest is the /chat wire format. The full history is sent
// verbatim, oldest first; windowing is explicitly not done here.
type chatRequest struct {
	Messages    []convo.Message `json:"messages"`
	Description string          `json:"description"`
}

type chatResponse struct {
	Content string `json:"content"`
}

// Converse sends the running history plus persona description and
// returns the assistant's reply as-is. Empty replies are valid.
func (c *Client) Converse(ctx context.Context, history []convo.Message, persona string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config().DialogueTimeout)
	defer cancel()

	payload, err := json.Marshal(chatRequest{Messages: history, Description: persona})
	if err != nil {
		return "", apiErr("chat", ErrDialogueFailed, 0, []byte(err.Error()))
	}

	start := time.Now()
	c.logger.Debug().Int("historyLen", len(history)).Msg("Sending chat request")

	resp, err := c.postJSON(ctx, "/chat", payload)
	if err != nil {
		return "", apiErr("chat", ErrDialogueFailed, 0, []byte(err.Error()))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apiErr("chat", ErrDialogueFailed, resp.StatusCode, []byte(err.Error()))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("Chat request failed")
		return "", apiErr("chat", ErrDialogueFailed, resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", apiErr("chat", ErrDialogueFailed, resp.StatusCode, raw)
	}

	c.logger.Info().Int("replyLen", len(parsed.Content)).Dur("time", time.Since(start)).Msg("Chat reply received")
	return parsed.Content, nil
}
