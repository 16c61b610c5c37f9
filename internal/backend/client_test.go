package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicetwin/voicetwin/internal/capture"
	"github.com/voicetwin/voicetwin/internal/convo"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	return NewClient(cfg, zerolog.Nop())
}

func audioBlob(data string) capture.Blob {
	return capture.Blob{Data: []byte(data), MediaType: "audio/mp3"}
}

func TestTranscribeSuccess(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, []byte("fake-mp3"), body)
		assert.Equal(t, "capture.mp3", header.Filename)

		json.NewEncoder(w).Encode(map[string]string{"status": "success", "text": "  Hello world  "})
	}))

	text, err := c.Transcribe(context.Background(), audioBlob("fake-mp3"))
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
}

func TestTranscribeEmptyTranscriptIsValid(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "success", "text": ""})
	}))

	text, err := c.Transcribe(context.Background(), audioBlob("silence"))
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestTranscribeRejectedStatus(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": "unintelligible"})
	}))

	_, err := c.Transcribe(context.Background(), audioBlob("noise"))
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
}

func TestTranscribeHTTPError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := c.Transcribe(context.Background(), audioBlob("x"))
	assert.ErrorIs(t, err, ErrTranscriptionFailed)

	var apiError *APIError
	require.ErrorAs(t, err, &apiError)
	assert.Equal(t, http.StatusInternalServerError, apiError.Status)
}

func TestTranscribePrechecksSkipNetwork(t *testing.T) {
	hit := false
	c := testClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hit = true }))

	_, err := c.Transcribe(context.Background(), capture.Blob{MediaType: "audio/mp3"})
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = c.Transcribe(context.Background(), capture.Blob{Data: []byte("x"), MediaType: "video/webm"})
	assert.ErrorIs(t, err, ErrNotAudio)

	assert.False(t, hit)
}

func TestConverseSendsHistoryAndPersona(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)

		var req struct {
			Messages    []convo.Message `json:"messages"`
			Description string          `json:"description"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, convo.RoleUser, req.Messages[0].Role)
		assert.Equal(t, "Hello", req.Messages[0].Content)
		assert.Equal(t, "Cheerful pirate.", req.Description)

		json.NewEncoder(w).Encode(map[string]string{"content": "Ahoy!"})
	}))

	history := []convo.Message{
		{Role: convo.RoleUser, Content: "Hello"},
		{Role: convo.RoleAssistant, Content: "Hi"},
	}
	reply, err := c.Converse(context.Background(), history, "Cheerful pirate.")
	require.NoError(t, err)
	assert.Equal(t, "Ahoy!", reply)
}

func TestConverseHTTPError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))

	_, err := c.Converse(context.Background(), nil, convo.DefaultPersona)
	assert.ErrorIs(t, err, ErrDialogueFailed)
}

func TestSynthesizeJSONResponse(t *testing.T) {
	audio := []byte("mp3-bytes")
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)

		var req struct {
			Text    string `json:"text"`
			VoiceID string `json:"voice_id"`
			Name    string `json:"name"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hi there!", req.Text)
		assert.Equal(t, "v1", req.VoiceID)
		assert.Equal(t, "Alice", req.Name)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"audio":     base64.StdEncoding.EncodeToString(audio),
			"video_url": "http://cdn/video.mp4",
		})
	}))

	speech, err := c.Synthesize(context.Background(), "Hi there!", "v1", "Alice")
	require.NoError(t, err)
	assert.Equal(t, audio, speech.Audio)
	assert.Equal(t, "http://cdn/video.mp4", speech.VideoURL)
}

func TestSynthesizeRawAudioResponse(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("raw-audio"))
	}))

	speech, err := c.Synthesize(context.Background(), "words", "v1", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-audio"), speech.Audio)
	assert.Empty(t, speech.VideoURL)
}

func TestSynthesizeEmptyTextFastFail(t *testing.T) {
	hit := false
	c := testClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hit = true }))

	_, err := c.Synthesize(context.Background(), "   ", "v1", "")
	assert.ErrorIs(t, err, ErrEmptyUtterance)
	assert.False(t, hit)
}

func TestSynthesizeHTTPError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voice not found", http.StatusNotFound)
	}))

	_, err := c.Synthesize(context.Background(), "words", "missing", "")
	assert.ErrorIs(t, err, ErrSynthesisFailed)
}

func TestVoicesNullableDescription(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voices", r.URL.Path)
		w.Write([]byte(`[
			{"id":"v1","name":"Alice","description":"Warm."},
			{"id":"v2","name":"Bob","description":null}
		]`))
	}))

	voices, err := c.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, "Warm.", voices[0].Description)
	assert.Equal(t, "", voices[1].Description)
}

func TestVoicesHTTPError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	_, err := c.Voices(context.Background())
	assert.ErrorIs(t, err, ErrVoicesFailed)
}

func TestCloneVoice(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/clone", r.URL.Path)

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "MyVoice", r.FormValue("name"))
		assert.Equal(t, "Soft spoken.", r.FormValue("description"))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		file.Close()

		json.NewEncoder(w).Encode(map[string]string{"voice_id": "clone-7"})
	}))

	profile, err := c.CloneVoice(context.Background(), "MyVoice", "Soft spoken.", audioBlob("sample"))
	require.NoError(t, err)
	assert.Equal(t, "clone-7", profile.ID)
	// Fields missing from the response fall back to the request values.
	assert.Equal(t, "MyVoice", profile.Name)
	assert.Equal(t, "Soft spoken.", profile.Description)
}

func TestCloneVoiceFailure(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "sample too short", http.StatusUnprocessableEntity)
	}))

	_, err := c.CloneVoice(context.Background(), "MyVoice", "", audioBlob("x"))
	assert.ErrorIs(t, err, ErrCloneFailed)
}

func TestSaveVideoRequiresVideoBlob(t *testing.T) {
	hit := false
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusOK)
	}))

	err := c.SaveVideo(context.Background(), "MyVoice", audioBlob("not video"))
	assert.ErrorIs(t, err, ErrSaveVideoFailed)
	assert.False(t, hit)

	err = c.SaveVideo(context.Background(), "MyVoice", capture.Blob{Data: []byte("webm"), MediaType: "video/webm"})
	assert.NoError(t, err)
	assert.True(t, hit)
}

func TestReconfigureTimeoutTakesEffect(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
			json.NewEncoder(w).Encode(map[string]string{"content": "slow reply"})
		case <-r.Context().Done():
		}
	}))

	// Generous default timeout: the slow server still answers in time.
	reply, err := c.Converse(context.Background(), nil, convo.DefaultPersona)
	require.NoError(t, err)
	assert.Equal(t, "slow reply", reply)

	// After a reload the tighter deadline applies to the next request.
	cfg := c.config()
	cfg.DialogueTimeout = 50 * time.Millisecond
	c.Reconfigure(cfg)

	_, err = c.Converse(context.Background(), nil, convo.DefaultPersona)
	assert.ErrorIs(t, err, ErrDialogueFailed)
}

func TestReconfigureBaseURL(t *testing.T) {
	old := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "old"})
	}))
	t.Cleanup(old.Close)
	next := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"content": "new"})
	}))
	t.Cleanup(next.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = old.URL
	c := NewClient(cfg, zerolog.Nop())

	reply, err := c.Converse(context.Background(), nil, convo.DefaultPersona)
	require.NoError(t, err)
	assert.Equal(t, "old", reply)

	cfg.BaseURL = next.URL
	c.Reconfigure(cfg)

	reply, err = c.Converse(context.Background(), nil, convo.DefaultPersona)
	require.NoError(t, err)
	assert.Equal(t, "new", reply)
}
