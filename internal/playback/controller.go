// Package playback sequences synthesized assets through the surface's
// audio/video elements and guarantees exactly one ended signal per play.
package playback

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voicetwin/voicetwin/internal/resource"
)

// Asset is one playable synthesis result: raw audio and/or a video URL.
type Asset struct {
	Audio    []byte
	VideoURL string
}

// Playable reports whether the asset has any media to play. Unplayable
// assets produce a zero-duration play whose ended signal fires at once.
func (a Asset) Playable() bool {
	return len(a.Audio) > 0 || a.VideoURL != ""
}

// Sink is the surface that physically plays assets. The production
// implementation forwards to the browser over the gateway; it must call
// NotifyLoaded/NotifyEnded with the play id it was given.
type Sink interface {
	// Begin starts playing the asset under the given play id.
	Begin(id string, asset Asset)
	// Halt stops the asset playing under the given id, if any.
	Halt(id string)
	// Discard tells the surface to free the object URL / element state
	// for a finished play.
	Discard(id string)
	// Idle shows the surface's default idle presentation when a turn
	// produced nothing playable.
	Idle()
}

type play struct {
	id    string
	done  chan struct{}
	token resource.Token
	ended bool
	guard *time.Timer
}

// Controller plays one asset at a time.
type Controller struct {
	mu      sync.Mutex
	sink    Sink
	ledger  *resource.Ledger
	logger  zerolog.Logger
	current *play
}

// NewController creates a playback controller over the given sink.
func NewController(sink Sink, ledger *resource.Ledger, logger zerolog.Logger) *Controller {
	return &Controller{
		sink:   sink,
		ledger: ledger,
		logger: logger.With().Str("component", "playback").Logger(),
	}
}

// Play starts the asset and returns its ended signal. Starting a new
// play while one is active implicitly stops the previous one, firing
// its pending ended first. The returned channel closes exactly once.
func (c *Controller) Play(asset Asset) <-chan struct{} {
	done := make(chan struct{})

	if !asset.Playable() {
		// Zero-duration play: the surface falls back to its idle
		// presentation and ended fires immediately.
		c.sink.Idle()
		close(done)
		return done
	}

	id := uuid.NewString()

	c.mu.Lock()
	if prev := c.current; prev != nil {
		c.finishLocked(prev, true)
	}
	p := &play{id: id, done: done}
	p.token = c.ledger.Register("playback:"+id, func() {
		c.sink.Discard(id)
	})
	c.current = p
	c.mu.Unlock()

	c.logger.Debug().Str("play", id).Int("audioBytes", len(asset.Audio)).Str("videoURL", asset.VideoURL).Msg("Playback started")
	c.sink.Begin(id, asset)
	return done
}

// Stop halts the active play, still firing its ended signal.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.finishLocked(c.current, true)
		c.current = nil
	}
}

// Playing reports whether an asset is currently playing.
func (c *Controller) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// NotifyLoaded records the observed duration of the loaded source.
// Degenerate near-zero-length sources may never fire ended promptly, so
// a guard timer synthesizes the end signal after the observed duration.
func (c *Controller) NotifyLoaded(id string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.current
	if p == nil || p.id != id || p.ended {
		return
	}
	if duration > 0 && duration < time.Second {
		p.guard = time.AfterFunc(duration, func() {
			c.NotifyEnded(id)
		})
	}
}

// NotifyEnded completes the play with the given id. Signals for plays
// that are no longer current are ignored.
func (c *Controller) NotifyEnded(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.current
	if p == nil || p.id != id {
		return
	}
	c.finishLocked(p, false)
	c.current = nil
}

// finishLocked fires the ended signal once and releases the handle.
// The handle is never released while the play is still reported active.
func (c *Controller) finishLocked(p *play, halt bool) {
	if p.ended {
		return
	}
	p.ended = true
	if p.guard != nil {
		p.guard.Stop()
	}
	if halt {
		c.sink.Halt(p.id)
	}
	close(p.done)
	c.ledger.Release(p.token)
	c.logger.Debug().Str("play", p.id).Msg("Playback ended")
}
