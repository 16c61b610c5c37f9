// VoiceTwin core: hands-free voice conversation with an AI persona in a
// cloned voice. The browser surface owns the actual microphone and
// audio/video elements; this process owns state and coordination and
// talks to the surface over a local WebSocket gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voicetwin/voicetwin/internal/backend"
	"github.com/voicetwin/voicetwin/internal/bus"
	"github.com/voicetwin/voicetwin/internal/capture"
	"github.com/voicetwin/voicetwin/internal/config"
	"github.com/voicetwin/voicetwin/internal/convo"
	"github.com/voicetwin/voicetwin/internal/enroll"
	"github.com/voicetwin/voicetwin/internal/gateway"
	"github.com/voicetwin/voicetwin/internal/logging"
	"github.com/voicetwin/voicetwin/internal/orchestrator"
	"github.com/voicetwin/voicetwin/internal/playback"
	"github.com/voicetwin/voicetwin/internal/resource"
)

func main() {
	// .env is optional; the config file and VOICETWIN_* env cover the rest.
	_ = godotenv.Load()

	cfg, cfgErr := config.Load()

	logger, err := logging.New(&logging.Config{
		LogDir:     cfg.Log.Dir,
		Level:      cfg.Log.Level,
		MaxHistory: 500,
		Console:    cfg.Log.Console,
	})
	if err != nil {
		os.Exit(1)
	}
	defer logger.Close()

	log := logger.Component("main")
	if cfgErr != nil {
		log.Warn().Err(cfgErr).Msg("Config load failed, using defaults")
	}

	events := bus.New()

	// Mirror log entries onto the bus; the gateway projects the full
	// stream to the surface's log panel.
	logger.SetOnEntry(func(e logging.Entry) {
		events.Publish(bus.Event{Type: bus.EventTypeLogEntry, Data: map[string]any{
			"timestamp": e.Timestamp,
			"level":     e.Level,
			"component": e.Component,
			"message":   e.Message,
		}})
	})

	client := backend.NewClient(backend.Config{
		BaseURL:           cfg.Backend.BaseURL,
		TranscribeTimeout: cfg.Backend.TranscribeTimeout,
		DialogueTimeout:   cfg.Backend.DialogueTimeout,
		SynthesisTimeout:  cfg.Backend.SynthesisTimeout,
	}, logger.Zerolog())

	session := convo.NewSession()

	// Voice catalog load must not block startup; an unreachable backend
	// just means an empty picker until the next refresh.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		voices, err := client.Voices(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Voice catalog unavailable")
			return
		}
		session.SetVoices(voices)
		events.Publish(bus.Event{Type: bus.EventTypeVoicesUpdated})
	}()

	ledger := resource.NewLedger(logger.Zerolog())
	defer ledger.ReleaseAll()

	gw := gateway.New(events, logger.Zerolog(), cfg.Capture.DeviceTimeout)

	captureMgr := capture.NewManager(gw, logger.Zerolog())
	player := playback.NewController(gw, ledger, logger.Zerolog())

	orch := orchestrator.New(
		captureMgr,
		client, client, client,
		player,
		session,
		events,
		logger.Zerolog(),
		orchestrator.Config{AudioMediaType: cfg.Capture.AudioMediaType},
	)

	flow := enroll.NewFlow(captureMgr, client, session, events, logger.Zerolog(), cfg.Capture.AudioMediaType)

	gw.Bind(orch, player, session, flow)

	config.Watch(func(next *config.Config) {
		*cfg = *next
		client.Reconfigure(backend.Config{
			BaseURL:           next.Backend.BaseURL,
			TranscribeTimeout: next.Backend.TranscribeTimeout,
			DialogueTimeout:   next.Backend.DialogueTimeout,
			SynthesisTimeout:  next.Backend.SynthesisTimeout,
		})
		logger.SetLevel(next.Log.Level)
		log.Info().Msg("Configuration reloaded")
	}, func(err error) {
		log.Warn().Err(err).Msg("Config reload failed")
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Serve(ctx, cfg.Gateway.ListenAddr); err != nil {
		log.Error().Err(err).Msg("Gateway server failed")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}
