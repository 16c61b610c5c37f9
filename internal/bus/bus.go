// Package bus provides the in-process event bus that projects core
// state out to the gateway surface.
package bus

import "sync"

// EventType identifies different event types.
type EventType string

const (
	// Turn orchestration
	EventTypeStateChanged EventType = "turn.state_changed"
	EventTypeTranscript   EventType = "turn.transcript"
	EventTypeTurnError    EventType = "turn.error"
	EventTypeEmptyCapture EventType = "turn.empty_capture"

	// Conversation
	EventTypeMessageAppended EventType = "convo.message"
	EventTypeVoicesUpdated   EventType = "convo.voices_updated"
	EventTypeVoiceSelected   EventType = "convo.voice_selected"

	// Playback
	EventTypePlaybackStarted  EventType = "playback.started"
	EventTypePlaybackEnded    EventType = "playback.ended"
	EventTypeAudioUnavailable EventType = "playback.audio_unavailable"

	// Enrollment
	EventTypeEnrollStepChanged EventType = "enroll.step_changed"
	EventTypeEnrollFailed      EventType = "enroll.failed"

	// Log stream to the surface's log panel
	EventTypeLogEntry EventType = "log.entry"
)

// Event is one bus message.
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler consumes events.
type Handler func(Event)

// streamBuffer bounds a catch-all subscriber's backlog; events beyond
// it are dropped rather than blocking the publisher.
const streamBuffer = 256

// stream is one catch-all subscriber: a queue drained by a single
// goroutine so the subscriber sees events in publish order.
type stream struct {
	h Handler
	q chan Event
}

// Bus is a simple pub/sub event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	streams  []*stream
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe adds a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll adds a handler that receives every event, delivered in
// publish order through a dedicated queue. The gateway uses this to
// forward the full stream to the browser, where relative ordering of
// state frames matters.
func (b *Bus) SubscribeAll(h Handler) {
	s := &stream{h: h, q: make(chan Event, streamBuffer)}
	go func() {
		for e := range s.q {
			s.h(e)
		}
	}()
	b.mu.Lock()
	b.streams = append(b.streams, s)
	b.mu.Unlock()
}

// Publish delivers an event without blocking the publisher. Typed
// handlers run on their own goroutines; stream subscribers are enqueued
// in order, dropping the event if a stream's backlog is full.
func (b *Bus) Publish(e Event) {
	handlers, streams := b.snapshot(e.Type)
	for _, h := range handlers {
		go h(e)
	}
	for _, s := range streams {
		select {
		case s.q <- e:
		default:
		}
	}
}

// PublishSync delivers an event and waits for all handlers. Stream
// subscribers are invoked directly, bypassing their queues.
func (b *Bus) PublishSync(e Event) {
	handlers, streams := b.snapshot(e.Type)
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			h(e)
		}(h)
	}
	wg.Wait()
	for _, s := range streams {
		s.h(e)
	}
}

func (b *Bus) snapshot(t EventType) ([]Handler, []*stream) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := append([]Handler(nil), b.handlers[t]...)
	streams := append([]*stream(nil), b.streams...)
	return handlers, streams
}

// Clear removes all handlers and shuts down stream queues. Must not
// race with Publish.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
	for _, s := range b.streams {
		close(s.q)
	}
	b.streams = nil
}
