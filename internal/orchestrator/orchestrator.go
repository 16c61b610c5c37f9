// Package orchestrator drives one conversation turn at a time through
// capture, transcription, dialogue, synthesis, and playback, and re-arms
// capture after playback when continuous mode is on.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicetwin/voicetwin/internal/backend"
	"github.com/voicetwin/voicetwin/internal/bus"
	"github.com/voicetwin/voicetwin/internal/capture"
	"github.com/voicetwin/voicetwin/internal/convo"
	"github.com/voicetwin/voicetwin/internal/playback"
)

// State is the single source of truth for the turn machine. UI flags
// are pure projections of this value.
type State string

const (
	StateIdle          State = "idle"
	StateCapturing     State = "capturing"
	StateTranscribing  State = "transcribing"
	StateAwaitingReply State = "awaiting_reply"
	StateSynthesizing  State = "synthesizing"
	StatePlaying       State = "playing"
)

var (
	// ErrTurnInFlight means an action that starts a turn arrived while
	// one was already running. Turns never interleave.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrNotCapturing means a capture stop arrived with no capture open.
	ErrNotCapturing = errors.New("no capture in progress")
	// ErrEmptyText rejects manual submission of blank text.
	ErrEmptyText = errors.New("empty message text")
)

// Transcriber converts a captured audio blob to text.
type Transcriber interface {
	Transcribe(ctx context.Context, blob capture.Blob) (string, error)
}

// Responder produces the assistant reply for the running history.
type Responder interface {
	Converse(ctx context.Context, history []convo.Message, persona string) (string, error)
}

// Synthesizer converts reply text to speech in a given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, voiceName string) (*backend.Speech, error)
}

// Config holds orchestrator configuration.
type Config struct {
	// AudioMediaType tags finalized capture blobs (default audio/mp3,
	// matching what the surface's recorder produces).
	AudioMediaType string
}

// Orchestrator is the conversation turn state machine. All message log
// mutation happens here and nowhere else.
type Orchestrator struct {
	mu       sync.Mutex
	state    State
	turn     string // token of the turn in flight, "" when idle
	cancelFn context.CancelFunc
	capSess  *capture.Session

	continuous bool

	capture *capture.Manager
	stt     Transcriber
	chat    Responder
	tts     Synthesizer
	player  *playback.Controller
	session *convo.Session
	events  *bus.Bus
	logger  zerolog.Logger
	cfg     Config
}

// New creates an orchestrator over the given collaborators.
func New(
	cm *capture.Manager,
	stt Transcriber,
	chat Responder,
	tts Synthesizer,
	player *playback.Controller,
	session *convo.Session,
	events *bus.Bus,
	logger zerolog.Logger,
	cfg Config,
) *Orchestrator {
	if cfg.AudioMediaType == "" {
		cfg.AudioMediaType = "audio/mp3"
	}
	return &Orchestrator{
		state:   StateIdle,
		capture: cm,
		stt:     stt,
		chat:    chat,
		tts:     tts,
		player:  player,
		session: session,
		events:  events,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
		cfg:     cfg,
	}
}

// State returns the current machine state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetContinuous toggles continuous mode. Disabling it mid-flight
// prevents the next automatic re-arm; the current turn is unaffected.
func (o *Orchestrator) SetContinuous(on bool) {
	o.mu.Lock()
	o.continuous = on
	o.mu.Unlock()
	o.logger.Info().Bool("continuous", on).Msg("Continuous mode changed")
}

// Continuous reports whether continuous mode is enabled.
func (o *Orchestrator) Continuous() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.continuous
}

// StartListening opens and starts an audio capture session, moving
// Idle -> Capturing. A second start while a turn is in flight fails.
func (o *Orchestrator) StartListening(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return ErrTurnInFlight
	}
	return o.armCaptureLocked(ctx)
}

// armCaptureLocked opens the microphone and enters Capturing. Caller
// holds the lock and has verified the machine can accept a new turn.
func (o *Orchestrator) armCaptureLocked(ctx context.Context) error {
	sess, err := o.capture.Open(ctx, capture.KindAudio, o.cfg.AudioMediaType)
	if err != nil {
		return err
	}
	if err := sess.Start(); err != nil {
		sess.Abort()
		return err
	}
	o.capSess = sess
	o.turn = uuid.NewString()
	o.setStateLocked(StateCapturing)
	return nil
}

// Feed buffers one audio chunk into the active capture, if any.
func (o *Orchestrator) Feed(data []byte) {
	o.mu.Lock()
	sess := o.capSess
	o.mu.Unlock()
	if sess != nil {
		sess.AppendChunk(data)
	}
}

// StopListening stops the capture and runs the rest of the turn:
// Capturing -> Transcribing -> ... A capture that buffered nothing is
// discarded back to Idle without touching the network or the log.
func (o *Orchestrator) StopListening() error {
	o.mu.Lock()
	if o.state != StateCapturing || o.capSess == nil {
		o.mu.Unlock()
		return ErrNotCapturing
	}
	sess := o.capSess
	o.capSess = nil
	token := o.turn
	turnCtx, cancel := context.WithCancel(context.Background())
	o.cancelFn = cancel
	o.setStateLocked(StateTranscribing)
	o.mu.Unlock()

	if err := sess.Stop(); err != nil {
		o.failTurn(token, "capture", err)
		return nil
	}

	go o.runCapturedTurn(turnCtx, token, sess.Finalized())
	return nil
}

// SubmitText enters the machine at the dialogue step with typed text,
// bypassing capture and transcription. The text is captured into the
// turn atomically at submit time.
func (o *Orchestrator) SubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	o.turn = uuid.NewString()
	token := o.turn
	turnCtx, cancel := context.WithCancel(context.Background())
	o.cancelFn = cancel
	o.setStateLocked(StateAwaitingReply)
	o.mu.Unlock()

	if o.appendUser(token, text) {
		go o.converseAndSpeak(turnCtx, token)
	}
	return nil
}

// Cancel aborts the turn in flight and returns to Idle immediately.
// Results of the cancelled turn that land later are dropped.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if o.state == StateIdle && o.turn == "" {
		o.mu.Unlock()
		return
	}
	sess := o.capSess
	o.capSess = nil
	o.turn = ""
	if o.cancelFn != nil {
		o.cancelFn()
		o.cancelFn = nil
	}
	playing := o.state == StatePlaying
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	if sess != nil {
		sess.Abort()
	}
	if playing {
		o.player.Stop()
	}
	o.logger.Info().Msg("Turn cancelled")
}

// runCapturedTurn finishes a spoken turn after capture stopped.
func (o *Orchestrator) runCapturedTurn(ctx context.Context, token string, finalized <-chan capture.Blob) {
	blob, ok := <-finalized
	if !ok {
		// Session was aborted.
		return
	}

	if blob.Empty() {
		o.logger.Warn().Msg("Empty capture discarded")
		o.events.Publish(bus.Event{Type: bus.EventTypeEmptyCapture})
		o.endTurn(token)
		return
	}

	text, err := o.stt.Transcribe(ctx, blob)
	if err != nil {
		// The log is untouched: nothing was said for the record yet.
		o.failTurn(token, "transcription", err)
		return
	}

	if !o.advance(token, StateAwaitingReply) {
		return
	}
	o.events.Publish(bus.Event{Type: bus.EventTypeTranscript, Data: map[string]any{"text": text}})
	if !o.appendUser(token, text) {
		return
	}
	o.converseAndSpeak(ctx, token)
}

// converseAndSpeak runs the dialogue, synthesis, and playback tail
// shared by spoken and typed turns. The latest user message is already
// in the log.
func (o *Orchestrator) converseAndSpeak(ctx context.Context, token string) {
	history := o.session.Log().Messages()
	persona := o.session.Persona()

	reply, err := o.chat.Converse(ctx, history, persona)
	if err != nil {
		// The user message stays in the log: the history must reflect
		// what was said even though the assistant could not respond.
		o.failTurn(token, "dialogue", err)
		return
	}

	if !o.appendAssistant(token, reply) {
		return
	}

	asset := playback.Asset{}
	if strings.TrimSpace(reply) == "" {
		// Nothing worth a synthesis round trip; play out zero-duration.
		o.logger.Debug().Msg("Empty reply, skipping synthesis")
	} else {
		if !o.advance(token, StateSynthesizing) {
			return
		}
		speech, err := o.tts.Synthesize(ctx, reply, o.session.VoiceID(), o.session.VoiceName())
		if err != nil {
			// Non-fatal: the reply text is already logged and shown,
			// only playback is skipped.
			o.logger.Error().Err(err).Msg("Synthesis failed, completing turn without audio")
			o.events.Publish(bus.Event{Type: bus.EventTypeAudioUnavailable, Data: map[string]any{
				"error": err.Error(),
			}})
		} else {
			asset = playback.Asset{Audio: speech.Audio, VideoURL: speech.VideoURL}
		}
	}

	o.playOut(token, asset)
}

// playOut enters Playing, waits for the ended signal, then either
// re-arms capture (continuous mode) or returns to Idle.
func (o *Orchestrator) playOut(token string, asset playback.Asset) {
	if !o.advance(token, StatePlaying) {
		return
	}
	if asset.Playable() {
		o.events.Publish(bus.Event{Type: bus.EventTypePlaybackStarted})
	}

	done := o.player.Play(asset)
	<-done
	o.events.Publish(bus.Event{Type: bus.EventTypePlaybackEnded})

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn != token {
		o.dropStale(token, "playback")
		return
	}
	o.turn = ""
	o.cancelFn = nil

	if !o.continuous {
		o.setStateLocked(StateIdle)
		return
	}

	// Re-arm: the next turn starts listening without user action.
	o.setStateLocked(StateIdle)
	if err := o.armCaptureLocked(context.Background()); err != nil {
		o.logger.Error().Err(err).Msg("Continuous re-arm failed")
		o.events.Publish(bus.Event{Type: bus.EventTypeTurnError, Data: map[string]any{
			"stage": "rearm",
			"error": err.Error(),
		}})
	}
}

// advance moves to the next state if the token still owns the turn.
func (o *Orchestrator) advance(token string, next State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn != token {
		o.logger.Debug().Str("stage", string(next)).Msg("Stale turn result dropped")
		return false
	}
	o.setStateLocked(next)
	return true
}

// dropStale records a late result from a superseded turn. Internal
// race guard, deliberately invisible to the user.
func (o *Orchestrator) dropStale(token, stage string) {
	o.logger.Debug().Str("stage", stage).Str("turn", token).Msg("Stale turn result dropped")
}

// appendUser appends a user message if the token still owns the turn.
// The token check and the append happen under the same lock: a Cancel
// landing in between must win, never the cancelled turn's message.
func (o *Orchestrator) appendUser(token, text string) bool {
	o.mu.Lock()
	if o.turn != token {
		o.mu.Unlock()
		o.dropStale(token, "append-user")
		return false
	}
	o.session.Log().AppendUser(text)
	o.mu.Unlock()

	o.events.Publish(bus.Event{Type: bus.EventTypeMessageAppended, Data: map[string]any{
		"role":    string(convo.RoleUser),
		"content": text,
	}})
	return true
}

func (o *Orchestrator) appendAssistant(token, text string) bool {
	o.mu.Lock()
	if o.turn != token {
		o.mu.Unlock()
		o.dropStale(token, "append-assistant")
		return false
	}
	o.session.Log().AppendAssistant(text)
	o.mu.Unlock()

	o.events.Publish(bus.Event{Type: bus.EventTypeMessageAppended, Data: map[string]any{
		"role":    string(convo.RoleAssistant),
		"content": text,
	}})
	return true
}

// failTurn surfaces an error and returns the machine to Idle, if the
// token still owns the turn.
func (o *Orchestrator) failTurn(token, stage string, err error) {
	o.mu.Lock()
	if o.turn != token {
		o.mu.Unlock()
		o.dropStale(token, stage)
		return
	}
	o.turn = ""
	o.cancelFn = nil
	o.setStateLocked(StateIdle)
	o.mu.Unlock()

	o.logger.Error().Err(err).Str("stage", stage).Msg("Turn failed")
	o.events.Publish(bus.Event{Type: bus.EventTypeTurnError, Data: map[string]any{
		"stage": stage,
		"error": err.Error(),
	}})
}

// endTurn returns to Idle without an error.
func (o *Orchestrator) endTurn(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turn != token {
		return
	}
	o.turn = ""
	o.cancelFn = nil
	o.setStateLocked(StateIdle)
}

// setStateLocked transitions the machine and publishes the change.
// Caller holds the lock.
func (o *Orchestrator) setStateLocked(next State) {
	if o.state == next {
		return
	}
	prev := o.state
	o.state = next
	o.logger.Info().Str("from", string(prev)).Str("to", string(next)).Msg("State changed")
	o.events.Publish(bus.Event{Type: bus.EventTypeStateChanged, Data: map[string]any{
		"from": string(prev),
		"to":   string(next),
	}})
}
