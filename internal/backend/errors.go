package backend

import (
	"errors"
	"fmt"
)

// Common errors. Each network failure wraps one of these so callers can
// branch on the failure class with errors.Is.
var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrDialogueFailed      = errors.New("dialogue failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
	ErrVoicesFailed        = errors.New("voice listing failed")
	ErrCloneFailed         = errors.New("voice clone failed")
	ErrSaveVideoFailed     = errors.New("save video failed")

	// ErrEmptyUtterance is raised before any network round trip when
	// synthesis is asked to speak empty text.
	ErrEmptyUtterance = errors.New("empty utterance")
	// ErrEmptyAudio is raised before any network round trip when
	// transcription is given an empty capture.
	ErrEmptyAudio = errors.New("empty audio blob")
	// ErrNotAudio is raised when the blob's declared media type is not
	// an audio type.
	ErrNotAudio = errors.New("blob is not audio")
)

// APIError carries the upstream status and body of a failed call.
type APIError struct {
	Op     string // endpoint name, e.g. "transcribe"
	Status int    // HTTP status, 0 for transport faults
	Body   string // upstream response body, possibly truncated
	Kind   error  // the sentinel this failure wraps
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Body)
	}
	return fmt.Sprintf("%s: %v: status %d: %s", e.Op, e.Kind, e.Status, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Kind
}

const maxBodySnippet = 512

func apiErr(op string, kind error, status int, body []byte) *APIError {
	snippet := string(body)
	if len(snippet) > maxBodySnippet {
		snippet = snippet[:maxBodySnippet]
	}
	return &APIError{Op: op, Status: status, Body: snippet, Kind: kind}
}
