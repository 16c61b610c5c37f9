// Package capture manages microphone and camera capture sessions.
// Media I/O happens in the attached browser surface; this package owns
// the session state, the chunk buffer, and the device-exclusivity
// invariant.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Kind selects the device class a session records from.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

var (
	// ErrDeviceUnavailable means permission was denied or no device exists.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrDeviceBusy means a session of that kind is already open.
	// Opening never silently replaces an existing stream.
	ErrDeviceBusy = errors.New("capture device already in use")

	ErrAlreadyStarted = errors.New("capture already started")
	ErrNotStarted     = errors.New("capture not started")
	ErrSessionClosed  = errors.New("capture session closed")
)

// Blob is a finalized capture: the concatenated chunks tagged with the
// media type declared when the session was opened.
type Blob struct {
	Data      []byte
	MediaType string
}

// Empty reports whether the capture produced no data. Empty blobs must
// never be forwarded to transcription.
func (b Blob) Empty() bool {
	return len(b.Data) == 0
}

// Device acquires real device tracks. The production implementation asks
// the browser surface over the gateway; tests use in-process fakes.
type Device interface {
	// Acquire obtains a track of the given kind and returns its release
	// function. Acquisition failure maps to ErrDeviceUnavailable.
	Acquire(ctx context.Context, kind Kind) (release func(), err error)
}

// Manager enforces one open session per device kind.
type Manager struct {
	mu     sync.Mutex
	device Device
	open   map[Kind]*Session
	logger zerolog.Logger
}

// NewManager creates a manager backed by the given device.
func NewManager(device Device, logger zerolog.Logger) *Manager {
	return &Manager{
		device: device,
		open:   make(map[Kind]*Session),
		logger: logger.With().Str("component", "capture").Logger(),
	}
}

// Open acquires the device and returns a new session. Fails fast with
// ErrDeviceBusy while a session of the same kind is open.
func (m *Manager) Open(ctx context.Context, kind Kind, mediaType string) (*Session, error) {
	m.mu.Lock()
	if _, busy := m.open[kind]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", kind, ErrDeviceBusy)
	}
	// Reserve the slot before the (possibly slow) acquisition so a
	// concurrent Open fails fast instead of double-acquiring.
	m.open[kind] = nil
	m.mu.Unlock()

	release, err := m.device.Acquire(ctx, kind)
	if err != nil {
		m.mu.Lock()
		delete(m.open, kind)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	s := &Session{
		kind:      kind,
		mediaType: mediaType,
		release:   release,
		finalized: make(chan Blob, 1),
		mgr:       m,
		logger:    m.logger.With().Str("kind", string(kind)).Logger(),
	}

	m.mu.Lock()
	m.open[kind] = s
	m.mu.Unlock()

	s.logger.Debug().Str("mediaType", mediaType).Msg("Capture session opened")
	return s, nil
}

// Active returns the open session of the given kind, if any.
func (m *Manager) Active(kind Kind) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.open[kind]
	return s, s != nil
}

func (m *Manager) closed(kind Kind, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open[kind] == s {
		delete(m.open, kind)
	}
}

// Session owns one acquired device track and an accumulating chunk
// buffer. The buffer is finalized into a single immutable Blob on Stop
// and never reused; a new session always starts empty.
type Session struct {
	kind      Kind
	mediaType string

	mu      sync.Mutex
	chunks  [][]byte
	started bool
	stopped bool

	release   func()
	finalized chan Blob
	mgr       *Manager
	logger    zerolog.Logger
}

// Kind returns the device class this session records from.
func (s *Session) Kind() Kind {
	return s.kind
}

// Start begins buffering chunks.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrSessionClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	return nil
}

// AppendChunk buffers one media chunk. Chunks arriving after Stop are
// discarded: they belong to a capture that has already been finalized.
func (s *Session) AppendChunk(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.chunks = append(s.chunks, buf)
}

// Stop releases the device track synchronously and finalizes the buffer
// into one Blob, delivered on Finalized. Finalization is asynchronous
// relative to the stop request.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.stopped = true
	chunks := s.chunks
	s.chunks = nil
	s.mu.Unlock()

	s.releaseDevice()

	go func() {
		var size int
		for _, c := range chunks {
			size += len(c)
		}
		data := make([]byte, 0, size)
		for _, c := range chunks {
			data = append(data, c...)
		}
		s.logger.Debug().Int("bytes", size).Int("chunks", len(chunks)).Msg("Capture finalized")
		s.finalized <- Blob{Data: data, MediaType: s.mediaType}
		close(s.finalized)
	}()
	return nil
}

// Finalized yields the finalized blob after Stop. The channel is closed
// without a value if the session was aborted.
func (s *Session) Finalized() <-chan Blob {
	return s.finalized
}

// Abort discards the session without finalizing: the device is released
// and Finalized closes empty. Used when a turn is cancelled mid-capture.
func (s *Session) Abort() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.chunks = nil
	s.mu.Unlock()

	s.releaseDevice()
	close(s.finalized)
	s.logger.Debug().Msg("Capture session aborted")
}

func (s *Session) releaseDevice() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
	if s.mgr != nil {
		s.mgr.closed(s.kind, s)
	}
}
