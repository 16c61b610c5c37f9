// Package gateway bridges the core to the browser surface over a
// WebSocket: microphone chunks and UI commands come in, state
// projections and playable assets go out. It also implements device
// acquisition (an ack round trip to the browser) and the playback sink.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voicetwin/voicetwin/internal/bus"
	"github.com/voicetwin/voicetwin/internal/capture"
	"github.com/voicetwin/voicetwin/internal/convo"
	"github.com/voicetwin/voicetwin/internal/enroll"
	"github.com/voicetwin/voicetwin/internal/orchestrator"
	"github.com/voicetwin/voicetwin/internal/playback"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 20 // audio chunks are base64 in JSON frames
)

// inboundFrame is one message from the browser.
type inboundFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Data     string `json:"data,omitempty"` // base64 chunk payload
	Text     string `json:"text,omitempty"`
	VoiceID  string `json:"voice_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Desc     string `json:"description,omitempty"`
	Enabled  bool   `json:"enabled,omitempty"`
	Granted  bool   `json:"granted,omitempty"`
	Duration int    `json:"duration_ms,omitempty"`
	Media    string `json:"media_type,omitempty"`
	Target   string `json:"target,omitempty"` // "enroll" routes chunks to the enrollment recording
}

// outboundFrame is one message to the browser.
type outboundFrame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Server is the WebSocket gateway. One browser surface at a time; the
// spec has no multi-user concurrency.
type Server struct {
	logger   zerolog.Logger
	events   *bus.Bus
	upgrader websocket.Upgrader

	orch    *orchestrator.Orchestrator
	player  *playback.Controller
	session *convo.Session
	flow    *enroll.Flow

	deviceTimeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	send    chan outboundFrame
	pending map[string]chan bool // device acquisition acks by request id
}

// New creates a gateway. Bind must be called before Handler serves.
func New(events *bus.Bus, logger zerolog.Logger, deviceTimeout time.Duration) *Server {
	if deviceTimeout <= 0 {
		deviceTimeout = 10 * time.Second
	}
	s := &Server{
		logger: logger.With().Str("component", "gateway").Logger(),
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true }, // loopback-only listener
		},
		deviceTimeout: deviceTimeout,
		pending:       make(map[string]chan bool),
	}
	events.SubscribeAll(s.forwardEvent)
	return s
}

// Bind wires the gateway to the core once all collaborators exist.
func (s *Server) Bind(orch *orchestrator.Orchestrator, player *playback.Controller, session *convo.Session, flow *enroll.Flow) {
	s.orch = orch
	s.player = player
	s.session = session
	s.flow = flow
}

// Handler returns the HTTP handler for the /ws endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		s.attach(conn)
	})
}

func (s *Server) attach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn != nil {
		// A newer surface replaces the old one.
		s.conn.Close()
	}
	s.conn = conn
	s.send = make(chan outboundFrame, 64)
	send := s.send
	s.mu.Unlock()

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Surface connected")

	go s.writePump(conn, send)
	go s.readPump(conn)

	// Bring the new surface up to date.
	s.enqueue(outboundFrame{Type: "voices", Data: map[string]any{"voices": s.session.Voices()}})
	s.enqueue(outboundFrame{Type: "state", Data: map[string]any{"state": string(s.orch.State())}})
}

func (s *Server) detach(conn *websocket.Conn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
		s.send = nil
		// A vanished surface can never grant a pending device request.
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()
	conn.Close()
	s.logger.Info().Msg("Surface disconnected")
}

func (s *Server) readPump(conn *websocket.Conn) {
	defer s.detach(conn)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Surface read error")
			}
			return
		}
		s.handle(frame)
	}
}

func (s *Server) writePump(conn *websocket.Conn, send chan outboundFrame) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handle(frame inboundFrame) {
	switch frame.Type {
	case "mic_start":
		if err := s.orch.StartListening(context.Background()); err != nil {
			s.sendError("mic_start", err)
		}
	case "mic_stop":
		if err := s.orch.StopListening(); err != nil {
			s.sendError("mic_stop", err)
		}
	case "chunk":
		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Bad chunk payload")
			return
		}
		if frame.Target == "enroll" {
			s.flow.Feed(data)
		} else {
			s.orch.Feed(data)
		}
	case "text":
		if err := s.orch.SubmitText(frame.Text); err != nil {
			s.sendError("text", err)
		}
	case "cancel":
		s.orch.Cancel()
	case "continuous":
		s.orch.SetContinuous(frame.Enabled)
	case "select_voice":
		if frame.VoiceID == "" {
			s.session.ClearSelection()
		} else if !s.session.Select(frame.VoiceID) {
			s.sendError("select_voice", fmt.Errorf("unknown voice %q", frame.VoiceID))
			return
		}
		s.events.Publish(bus.Event{Type: bus.EventTypeVoiceSelected, Data: map[string]any{
			"voice_id": frame.VoiceID,
		}})
	case "enroll_start":
		if err := s.flow.StartRecording(context.Background(), frame.Name, frame.Desc); err != nil {
			s.sendError("enroll_start", err)
		}
	case "enroll_stop":
		go func() {
			if _, err := s.flow.StopRecording(context.Background()); err != nil {
				s.sendError("enroll_stop", err)
			}
		}()
	case "enroll_abort":
		s.flow.Abort()
	case "enroll_video":
		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Bad video payload")
			return
		}
		mediaType := frame.Media
		if mediaType == "" {
			mediaType = "video/webm"
		}
		go func() {
			blob := capture.Blob{Data: data, MediaType: mediaType}
			if err := s.flow.SubmitVideo(context.Background(), frame.Name, blob); err != nil {
				s.sendError("enroll_video", err)
			}
		}()
	case "enroll_reset":
		s.flow.Reset()
	case "device_result":
		s.resolveDevice(frame.ID, frame.Granted)
	case "playback_loaded":
		s.player.NotifyLoaded(frame.ID, time.Duration(frame.Duration)*time.Millisecond)
	case "playback_ended":
		s.player.NotifyEnded(frame.ID)
	default:
		s.logger.Warn().Str("type", frame.Type).Msg("Unknown frame type")
	}
}

func (s *Server) sendError(op string, err error) {
	s.logger.Warn().Err(err).Str("op", op).Msg("Surface command failed")
	s.enqueue(outboundFrame{Type: "error", Data: map[string]any{
		"op":    op,
		"error": err.Error(),
	}})
}

func (s *Server) enqueue(frame outboundFrame) {
	s.mu.Lock()
	send := s.send
	s.mu.Unlock()
	if send == nil {
		return
	}
	select {
	case send <- frame:
	default:
		s.logger.Warn().Str("type", frame.Type).Msg("Send queue full, dropping frame")
	}
}

// forwardEvent projects every bus event to the surface.
func (s *Server) forwardEvent(e bus.Event) {
	s.enqueue(outboundFrame{Type: string(e.Type), Data: e.Data})
}

// Acquire implements capture.Device: ask the browser for a device track
// and wait for the grant. No connected surface means no device.
func (s *Server) Acquire(ctx context.Context, kind capture.Kind) (func(), error) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("no surface connected")
	}
	id := uuid.NewString()
	ack := make(chan bool, 1)
	s.pending[id] = ack
	s.mu.Unlock()

	s.enqueue(outboundFrame{Type: "device_request", Data: map[string]any{
		"id":   id,
		"kind": string(kind),
	}})

	timeout := time.NewTimer(s.deviceTimeout)
	defer timeout.Stop()

	select {
	case granted, ok := <-ack:
		if !ok || !granted {
			return nil, fmt.Errorf("device %s denied", kind)
		}
	case <-timeout.C:
		s.forgetDevice(id)
		return nil, fmt.Errorf("device %s request timed out", kind)
	case <-ctx.Done():
		s.forgetDevice(id)
		return nil, ctx.Err()
	}

	release := func() {
		s.enqueue(outboundFrame{Type: "device_release", Data: map[string]any{
			"id":   id,
			"kind": string(kind),
		}})
	}
	return release, nil
}

func (s *Server) resolveDevice(id string, granted bool) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		ch <- granted
	}
}

func (s *Server) forgetDevice(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// Begin implements playback.Sink: ship the asset to the surface.
func (s *Server) Begin(id string, asset playback.Asset) {
	data := map[string]any{"id": id}
	if len(asset.Audio) > 0 {
		data["audio"] = base64.StdEncoding.EncodeToString(asset.Audio)
	}
	if asset.VideoURL != "" {
		data["video_url"] = asset.VideoURL
	}
	s.enqueue(outboundFrame{Type: "play", Data: data})
}

// Idle implements playback.Sink: nothing to play this turn, the surface
// shows its default idle presentation.
func (s *Server) Idle() {
	s.enqueue(outboundFrame{Type: "play", Data: map[string]any{"idle": true}})
}

// Halt implements playback.Sink.
func (s *Server) Halt(id string) {
	s.enqueue(outboundFrame{Type: "halt", Data: map[string]any{"id": id}})
}

// Discard implements playback.Sink: the surface revokes its object URL.
func (s *Server) Discard(id string) {
	s.enqueue(outboundFrame{Type: "revoke", Data: map[string]any{"id": id}})
}

// Serve runs the gateway HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", addr).Msg("Gateway listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
