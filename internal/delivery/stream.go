package delivery

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/rtp"
)

// DefaultMaxQueueLength bounds the sample queue for non-key frames.
const DefaultMaxQueueLength = 200

// A Token is an opaque consumer handle for one outstanding sample request.
type Token = interface{}

// Releaser is implemented by tokens that hold resources. Tokens of cancelled
// requests are released instead of delivered.
type Releaser interface {
	Release()
}

// Stats counts a stream's traffic since it was added to the engine.
type Stats struct {
	rtp.AssemblerStats

	PacketsReceived   uint64
	PacketsIgnored    uint64
	SamplesDropped    uint64
	SamplesDelivered  uint64
	RequestsCancelled uint64

	Queued  int
	Pending int
}

// Stream is the delivery state of one logical stream: the queue of committed
// samples, the queue of consumer requests, and the assembler feeding them.
type Stream struct {
	Kind media.Kind

	engine *Engine

	maxQueueLength int

	// Serializes the assembler against resets.
	feedMu    sync.Mutex
	assembler *rtp.Assembler

	samples  *queue[*media.Sample]
	requests *queue[Token]

	// Held only while a sample and a request are dequeued as a pair.
	pairMu sync.Mutex

	active    atomic.Bool
	activated bool // ever, guarded by engine.mu

	bufferingMu   sync.Mutex
	bufferingSent bool

	// Called with each sample committed by the assembler.
	onCommit func(*media.Sample)

	packetsReceived   atomic.Uint64
	packetsIgnored    atomic.Uint64
	samplesDropped    atomic.Uint64
	samplesDelivered  atomic.Uint64
	requestsCancelled atomic.Uint64
}

func (s *Stream) Active() bool {
	return s.active.Load()
}

// Push feeds a received packet to the stream's assembler and enqueues the
// sample it completes, if any. Packets are ignored while the stream is
// inactive or the session is neither playing nor paused.
func (s *Stream) Push(p *rtp.Packet) {
	s.packetsReceived.Add(1)

	s.feedMu.Lock()
	if !s.Active() || !s.engine.State().Started() {
		s.feedMu.Unlock()
		s.packetsIgnored.Add(1)
		return
	}
	sample := s.assembler.Feed(p)
	var events []event.Event
	if sample != nil {
		events = s.enqueue(sample)
	}
	s.feedMu.Unlock()

	if sample != nil && s.onCommit != nil {
		s.onCommit(sample)
	}
	s.emit(events)
}

// Enqueue adds a committed sample to the queue and delivers it if a request
// is waiting. Non-key samples are dropped while the queue is at its bound.
func (s *Stream) Enqueue(sample *media.Sample) {
	s.emit(s.enqueue(sample))
}

func (s *Stream) enqueue(sample *media.Sample) []event.Event {
	ok := s.samples.PushUnless(sample, func(n int) bool {
		return !sample.KeyFrame && n >= s.maxQueueLength
	})
	if !ok {
		if s.samplesDropped.Add(1)%100 == 1 {
			log.Debug("%v: sample queue full, dropped %d samples", s.Kind, s.samplesDropped.Load())
		}
		return nil
	}
	return s.deliver()
}

// RequestSample queues a consumer request. It fails unless the stream is
// active and the session is playing or paused.
func (s *Stream) RequestSample(token Token) error {
	state := s.engine.State()
	if state == media.Shutdown {
		return &media.ShutdownError{Op: "RequestSample"}
	}
	if !s.Active() {
		return &media.InvalidRequestError{Stream: s.Kind, Reason: "stream is not active"}
	}
	if !state.Started() {
		return &media.InvalidRequestError{Stream: s.Kind, Reason: "session is " + state.String()}
	}

	s.requests.Push(token)
	if !s.Active() || !s.engine.State().Started() {
		// Stopped or deactivated since the check above, possibly after its
		// Clear already ran.
		s.pairMu.Lock()
		tokens := s.requests.Drain()
		s.pairMu.Unlock()
		s.release(tokens)
		return nil
	}
	s.emit(s.deliver())
	return nil
}

// Pair queued samples with queued requests, oldest first, then evaluate the
// buffering state.
func (s *Stream) deliver() []event.Event {
	var events []event.Event
	for {
		s.pairMu.Lock()
		if s.samples.Len() == 0 || s.requests.Len() == 0 {
			s.pairMu.Unlock()
			break
		}
		sample, _ := s.samples.Pop()
		token, _ := s.requests.Pop()
		s.pairMu.Unlock()

		s.samplesDelivered.Add(1)
		events = append(events, event.MediaSample{Stream: s.Kind, Token: token, Sample: sample})
	}
	if e := s.evaluateBuffering(); e != nil {
		events = append(events, e)
	}
	return events
}

// Buffering notifications are one-shot: started when the sample queue is
// found empty, stopped when it is next found non-empty.
func (s *Stream) evaluateBuffering() event.Event {
	if !s.Active() || s.engine.State() != media.Playing {
		return nil
	}
	s.bufferingMu.Lock()
	defer s.bufferingMu.Unlock()
	empty := s.samples.Len() == 0
	switch {
	case empty && !s.bufferingSent:
		s.bufferingSent = true
		log.Debug("%v: buffering started", s.Kind)
		return event.BufferingStarted{Stream: s.Kind}
	case !empty && s.bufferingSent:
		s.bufferingSent = false
		log.Debug("%v: buffering stopped", s.Kind)
		return event.BufferingStopped{Stream: s.Kind}
	}
	return nil
}

// ClearBuffering re-arms the one-shot buffering notifications.
func (s *Stream) ClearBuffering() {
	s.bufferingMu.Lock()
	s.bufferingSent = false
	s.bufferingMu.Unlock()
}

func (s *Stream) emit(events []event.Event) {
	for _, e := range events {
		s.engine.bus.Emit(e)
	}
}

// Clear discards queued samples and releases pending requests.
func (s *Stream) Clear() {
	s.pairMu.Lock()
	samples := s.samples.Drain()
	tokens := s.requests.Drain()
	s.pairMu.Unlock()

	s.release(tokens)
	if len(samples) > 0 || len(tokens) > 0 {
		log.Debug("%v: cleared %d samples, %d requests", s.Kind, len(samples), len(tokens))
	}
}

func (s *Stream) release(tokens []Token) {
	for _, token := range tokens {
		if r, ok := token.(Releaser); ok {
			r.Release()
		}
	}
	s.requestsCancelled.Add(uint64(len(tokens)))
}

// Reset clears the queues and the assembler's tracking and fragment state.
func (s *Stream) Reset() {
	s.feedMu.Lock()
	s.assembler.Reset()
	s.Clear()
	s.feedMu.Unlock()
}

// Activate starts accepting packets and requests with fresh state.
func (s *Stream) Activate() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	s.assembler.Reset()
	s.Clear()
	s.ClearBuffering()
	s.active.Store(true)
}

// Deactivate stops accepting packets and requests and cancels pending ones.
func (s *Stream) Deactivate() {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	s.active.Store(false)
	s.Clear()
}

func (s *Stream) Stats() Stats {
	s.feedMu.Lock()
	as := s.assembler.Stats()
	s.feedMu.Unlock()
	return Stats{
		AssemblerStats:    as,
		PacketsReceived:   s.packetsReceived.Load(),
		PacketsIgnored:    s.packetsIgnored.Load(),
		SamplesDropped:    s.samplesDropped.Load(),
		SamplesDelivered:  s.samplesDelivered.Load(),
		RequestsCancelled: s.requestsCancelled.Load(),
		Queued:            s.samples.Len(),
		Pending:           s.requests.Len(),
	}
}
