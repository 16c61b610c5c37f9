// Package enroll implements the voice-enrollment recording-and-upload
// flow: record a sample, clone it into a new voice profile, and
// optionally upload an enrollment video.
package enroll

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voicetwin/voicetwin/internal/bus"
	"github.com/voicetwin/voicetwin/internal/capture"
	"github.com/voicetwin/voicetwin/internal/convo"
)

// Step is the wizard's recording sub-flow position.
type Step string

const (
	StepIdle       Step = "idle"
	StepRecording  Step = "recording"
	StepProcessing Step = "processing"
	StepDone       Step = "done"
)

var (
	ErrNameRequired   = errors.New("enrollment name required")
	ErrNotRecording   = errors.New("no enrollment recording in progress")
	ErrFlowBusy       = errors.New("enrollment already in progress")
	ErrEmptyRecording = errors.New("enrollment recording is empty")
)

// Cloner is the backend surface the flow needs.
type Cloner interface {
	CloneVoice(ctx context.Context, name, description string, blob capture.Blob) (*convo.VoiceProfile, error)
	SaveVideo(ctx context.Context, name string, blob capture.Blob) error
}

// Flow drives one enrollment at a time. It records through the shared
// capture manager, so it cannot hold the microphone while a
// conversation turn is capturing, and vice versa.
type Flow struct {
	mu   sync.Mutex
	step Step
	name string
	desc string
	sess *capture.Session

	capture   *capture.Manager
	backend   Cloner
	session   *convo.Session
	events    *bus.Bus
	logger    zerolog.Logger
	mediaType string
}

// NewFlow creates an enrollment flow.
func NewFlow(cm *capture.Manager, backend Cloner, session *convo.Session, events *bus.Bus, logger zerolog.Logger, audioMediaType string) *Flow {
	if audioMediaType == "" {
		audioMediaType = "audio/mp3"
	}
	return &Flow{
		step:      StepIdle,
		capture:   cm,
		backend:   backend,
		session:   session,
		events:    events,
		logger:    logger.With().Str("component", "enroll").Logger(),
		mediaType: audioMediaType,
	}
}

// Step returns the flow's current step.
func (f *Flow) Step() Step {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.step
}

// StartRecording begins recording the voice sample for the named clone.
func (f *Flow) StartRecording(ctx context.Context, name, description string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepRecording || f.step == StepProcessing {
		return ErrFlowBusy
	}

	sess, err := f.capture.Open(ctx, capture.KindAudio, f.mediaType)
	if err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		sess.Abort()
		return err
	}

	f.sess = sess
	f.name = strings.TrimSpace(name)
	f.desc = strings.TrimSpace(description)
	f.setStepLocked(StepRecording)
	return nil
}

// Feed buffers one audio chunk into the active recording, if any.
func (f *Flow) Feed(data []byte) {
	f.mu.Lock()
	sess := f.sess
	f.mu.Unlock()
	if sess != nil {
		sess.AppendChunk(data)
	}
}

// StopRecording finalizes the sample and uploads it for cloning. On
// success the new voice profile is added to the session.
func (f *Flow) StopRecording(ctx context.Context) (*convo.VoiceProfile, error) {
	f.mu.Lock()
	if f.step != StepRecording || f.sess == nil {
		f.mu.Unlock()
		return nil, ErrNotRecording
	}
	sess := f.sess
	f.sess = nil
	f.setStepLocked(StepProcessing)
	f.mu.Unlock()

	if err := sess.Stop(); err != nil {
		f.fail(err)
		return nil, err
	}

	blob, ok := <-sess.Finalized()
	if !ok || blob.Empty() {
		f.fail(ErrEmptyRecording)
		return nil, ErrEmptyRecording
	}

	profile, err := f.backend.CloneVoice(ctx, f.name, f.desc, blob)
	if err != nil {
		f.fail(err)
		return nil, err
	}

	f.session.AddVoice(*profile)
	f.events.Publish(bus.Event{Type: bus.EventTypeVoicesUpdated})

	f.mu.Lock()
	f.setStepLocked(StepDone)
	f.mu.Unlock()

	f.logger.Info().Str("voiceID", profile.ID).Str("name", profile.Name).Msg("Enrollment complete")
	return profile, nil
}

// Abort discards an in-progress recording and resets the flow.
func (f *Flow) Abort() {
	f.mu.Lock()
	sess := f.sess
	f.sess = nil
	f.setStepLocked(StepIdle)
	f.mu.Unlock()

	if sess != nil {
		sess.Abort()
	}
}

// SubmitVideo uploads a recorded enrollment video for the named voice.
func (f *Flow) SubmitVideo(ctx context.Context, name string, blob capture.Blob) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	if blob.Empty() {
		return ErrEmptyRecording
	}
	if err := f.backend.SaveVideo(ctx, name, blob); err != nil {
		f.events.Publish(bus.Event{Type: bus.EventTypeEnrollFailed, Data: map[string]any{
			"error": err.Error(),
		}})
		return err
	}
	return nil
}

// Reset returns a completed or failed flow to idle.
func (f *Flow) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step == StepRecording {
		return
	}
	f.setStepLocked(StepIdle)
}

func (f *Flow) fail(err error) {
	f.mu.Lock()
	f.setStepLocked(StepIdle)
	f.mu.Unlock()

	f.logger.Error().Err(err).Msg("Enrollment failed")
	f.events.Publish(bus.Event{Type: bus.EventTypeEnrollFailed, Data: map[string]any{
		"error": err.Error(),
	}})
}

func (f *Flow) setStepLocked(next Step) {
	if f.step == next {
		return
	}
	f.step = next
	f.events.Publish(bus.Event{Type: bus.EventTypeEnrollStepChanged, Data: map[string]any{
		"step": string(next),
	}})
}
