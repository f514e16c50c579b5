// Package delivery pairs reassembled samples with consumer requests, per
// logical stream, and signals when a playing stream runs out of samples.
package delivery

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/logging"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/rtp"
)

var log = logging.DefaultLogger.WithTag("delivery")

type StreamOptions struct {
	// Non-key samples are dropped once this many samples are queued.
	// Defaults to DefaultMaxQueueLength.
	MaxQueueLength int

	// Called with every sample the assembler commits, after it is queued.
	OnCommit func(*media.Sample)
}

// Engine owns the streams of one session. It mirrors the session state, which
// gates requests and buffering notifications.
type Engine struct {
	bus *event.Bus

	state atomic.Int32

	mu      sync.Mutex
	streams map[media.Kind]*Stream
}

func NewEngine(bus *event.Bus) *Engine {
	e := &Engine{
		bus:     bus,
		streams: make(map[media.Kind]*Stream),
	}
	e.state.Store(int32(media.Closed))
	return e
}

func (e *Engine) State() media.State {
	return media.State(e.state.Load())
}

// AddStream creates the delivery state for a logical stream. The stream
// starts inactive.
func (e *Engine) AddStream(kind media.Kind, a *rtp.Assembler, opts StreamOptions) *Stream {
	if opts.MaxQueueLength <= 0 {
		opts.MaxQueueLength = DefaultMaxQueueLength
	}
	s := &Stream{
		Kind:           kind,
		engine:         e,
		maxQueueLength: opts.MaxQueueLength,
		assembler:      a,
		samples:        newQueue[*media.Sample](),
		requests:       newQueue[Token](),
		onCommit:       opts.OnCommit,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.streams[kind]; ok {
		old.Deactivate()
	}
	e.streams[kind] = s
	return s
}

func (e *Engine) Stream(kind media.Kind) (*Stream, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.streams[kind]
	return s, ok
}

// Streams returns every stream, ordered by kind.
func (e *Engine) Streams() []*Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Stream
	for _, kind := range media.Kinds {
		if s, ok := e.streams[kind]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Activate marks a stream active with fresh state. It reports whether this
// is the stream's first activation.
func (e *Engine) Activate(kind media.Kind) (first bool, ok bool) {
	e.mu.Lock()
	s, ok := e.streams[kind]
	if ok {
		first = !s.activated
		s.activated = true
	}
	e.mu.Unlock()
	if ok {
		s.Activate()
	}
	return first, ok
}

// Push routes a received packet to its stream. Packets are ignored unless
// the session is playing or paused.
func (e *Engine) Push(kind media.Kind, p *rtp.Packet) {
	if !e.State().Started() {
		return
	}
	if s, ok := e.Stream(kind); ok {
		s.Push(p)
	}
}

func (e *Engine) RequestSample(kind media.Kind, token Token) error {
	if e.State() == media.Shutdown {
		return &media.ShutdownError{Op: "RequestSample"}
	}
	s, ok := e.Stream(kind)
	if !ok {
		return &media.InvalidRequestError{Stream: kind, Reason: "no such stream"}
	}
	return s.RequestSample(token)
}

// ClearOnSessionEvent applies a session state transition: Stopped clears every
// queue and resets tracking, Shutdown additionally deactivates every stream.
// It runs synchronously on the goroutine that changed the state.
func (e *Engine) ClearOnSessionEvent(state media.State) {
	e.state.Store(int32(state))

	switch state {
	case media.Stopped:
		for _, s := range e.Streams() {
			s.Reset()
		}
	case media.Shutdown:
		for _, s := range e.Streams() {
			s.Deactivate()
			s.Reset()
		}
	}
}
