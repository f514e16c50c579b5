// Package source implements the session state machine of a live RTP source:
// it opens streams from negotiated parameters, gates packet and request flow
// by session state, and publishes lifecycle events.
package source

import (
	"sync"
	"sync/atomic"

	"github.com/lanikai/rtspsource/internal/delivery"
	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/logging"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/rtp"
)

var log = logging.DefaultLogger.WithTag("source")

// Source is a live media source with a video and an audio stream.
//
//	Closed -> Stopped <-> {Playing, Paused}
//	any    -> Shutdown
//
// State transitions are serialized; Push and RequestSample may be called
// concurrently with them and with each other.
type Source struct {
	bus    *event.Bus
	engine *delivery.Engine

	// Held across state transitions.
	mu sync.Mutex

	state atomic.Int32

	video *VideoMetadata
	audio *AudioMetadata

	playStarted atomic.Bool
}

func New(bus *event.Bus) *Source {
	if bus == nil {
		bus = event.NewBus()
	}
	return &Source{
		bus:    bus,
		engine: delivery.NewEngine(bus),
	}
}

func (s *Source) Bus() *event.Bus {
	return s.bus
}

func (s *Source) State() media.State {
	return media.State(s.state.Load())
}

// Must be called with s.mu held.
func (s *Source) setState(to media.State) {
	from := s.State()
	s.state.Store(int32(to))
	s.engine.ClearOnSessionEvent(to)
	log.Info("%v -> %v", from, to)
	s.bus.Emit(event.StateChanged{From: from, To: to})
}

// Must be called with s.mu held.
func (s *Source) check(op string, allowed ...media.State) error {
	state := s.State()
	if state == media.Shutdown {
		return &media.ShutdownError{Op: op}
	}
	for _, a := range allowed {
		if state == a {
			return nil
		}
	}
	return &media.InvalidStateTransitionError{Op: op, From: state}
}

// Open parses the stream parameters and creates the streams. A stream whose
// ParameterString is empty is left out. On error the source stays Closed.
func (s *Source) Open(video, audio StreamConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Open", media.Closed); err != nil {
		return err
	}
	if !video.present() && !audio.present() {
		return &media.InvalidRequestError{Stream: media.Video, Reason: "no streams to open"}
	}

	var vm *VideoMetadata
	var am *AudioMetadata
	var err error
	if video.present() {
		if vm, err = openVideo(video); err != nil {
			return err
		}
	}
	if audio.present() {
		if am, err = openAudio(audio); err != nil {
			return err
		}
	}

	if vm != nil {
		d := rtp.NewH264Depacketizer(vm.SPS, vm.PPS)
		s.engine.AddStream(media.Video, rtp.NewAssembler(media.Video, vm.ClockRate, d), s.streamOptions(media.Video, video))
		log.Info("Video: %dx%d, profile %d level %d, SAR %v, frame rate %v",
			vm.Width, vm.Height, vm.Profile, vm.Level, vm.SampleAspectRatio, vm.FrameRate)
	}
	if am != nil {
		d := rtp.NewAACDepacketizer()
		s.engine.AddStream(media.Audio, rtp.NewAssembler(media.Audio, am.ClockRate, d), s.streamOptions(media.Audio, audio))
		log.Info("Audio: %d Hz, %d channels", am.SampleRate, am.ChannelCount)
	}
	s.video = vm
	s.audio = am

	s.setState(media.Stopped)
	return nil
}

func (s *Source) streamOptions(kind media.Kind, c StreamConfig) delivery.StreamOptions {
	return delivery.StreamOptions{
		MaxQueueLength: c.MaxQueueLength,
		OnCommit: func(*media.Sample) {
			if s.playStarted.CompareAndSwap(false, true) {
				s.bus.Emit(event.PlayStarted{Stream: kind})
			}
		},
	}
}

// Start begins or resumes playback of the selected streams, or of every
// stream if none are named. Unselected streams are deactivated.
func (s *Source) Start(selected ...media.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Start", media.Stopped, media.Paused); err != nil {
		return err
	}

	streams := s.engine.Streams()
	selection := make(map[media.Kind]bool)
	for _, kind := range selected {
		if _, ok := s.engine.Stream(kind); !ok {
			return &media.InvalidRequestError{Stream: kind, Reason: "stream not open"}
		}
		selection[kind] = true
	}
	if len(selected) == 0 {
		for _, st := range streams {
			selection[st.Kind] = true
		}
	}

	var events []event.Event
	for _, st := range streams {
		switch {
		case !selection[st.Kind]:
			st.Deactivate()
		case st.Active():
			events = append(events, event.UpdatedStream{Stream: st.Kind})
		default:
			if first, _ := s.engine.Activate(st.Kind); first {
				events = append(events, event.NewStream{Stream: st.Kind})
			} else {
				events = append(events, event.UpdatedStream{Stream: st.Kind})
			}
		}
		st.ClearBuffering()
	}
	for _, e := range events {
		s.bus.Emit(e)
	}

	s.playStarted.Store(false)
	s.setState(media.Playing)
	s.emitStreamEvents(func(kind media.Kind) event.Event { return event.StreamStarted{Stream: kind} })
	s.bus.Emit(event.SourceStarted{})
	return nil
}

// Pause suspends playback. Queued samples and requests are kept.
func (s *Source) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Pause", media.Playing); err != nil {
		return err
	}
	s.setState(media.Paused)
	s.emitStreamEvents(func(kind media.Kind) event.Event { return event.StreamPaused{Stream: kind} })
	s.bus.Emit(event.SourcePaused{})
	return nil
}

// Stop ends playback, discarding queued samples, pending requests and
// partially reassembled units.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Stop", media.Playing, media.Paused); err != nil {
		return err
	}
	s.setState(media.Stopped)
	s.emitStreamEvents(func(kind media.Kind) event.Event { return event.StreamStopped{Stream: kind} })
	s.bus.Emit(event.SourceStopped{})
	return nil
}

// Shutdown releases everything. Every later call fails with a ShutdownError.
func (s *Source) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() == media.Shutdown {
		return &media.ShutdownError{Op: "Shutdown"}
	}
	s.setState(media.Shutdown)
	return nil
}

func (s *Source) emitStreamEvents(f func(media.Kind) event.Event) {
	for _, st := range s.engine.Streams() {
		if st.Active() {
			s.bus.Emit(f(st.Kind))
		}
	}
}

// Push hands a received packet to the stream of the given kind. Packets are
// dropped unless the stream is active and the source is playing or paused.
func (s *Source) Push(kind media.Kind, p *rtp.Packet) {
	s.engine.Push(kind, p)
}

// RequestSample asks for the next sample of a stream. The sample is delivered
// as an event.MediaSample carrying token.
func (s *Source) RequestSample(kind media.Kind, token delivery.Token) error {
	return s.engine.RequestSample(kind, token)
}

// VideoMetadata returns the open video stream's description, or nil.
func (s *Source) VideoMetadata() *VideoMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// AudioMetadata returns the open audio stream's description, or nil.
func (s *Source) AudioMetadata() *AudioMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *Source) Stats(kind media.Kind) (delivery.Stats, bool) {
	st, ok := s.engine.Stream(kind)
	if !ok {
		return delivery.Stats{}, false
	}
	return st.Stats(), true
}
