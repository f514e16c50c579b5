package delivery

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/rtp"
)

type recorder struct {
	sync.Mutex
	events []event.Event
}

func (r *recorder) handle(e event.Event) {
	r.Lock()
	r.events = append(r.events, e)
	r.Unlock()
}

func (r *recorder) take() []event.Event {
	r.Lock()
	defer r.Unlock()
	events := r.events
	r.events = nil
	return events
}

func (r *recorder) deliveries() []event.MediaSample {
	var out []event.MediaSample
	for _, e := range r.take() {
		if ms, ok := e.(event.MediaSample); ok {
			out = append(out, ms)
		}
	}
	return out
}

type releaseToken struct {
	released bool
}

func (t *releaseToken) Release() {
	t.released = true
}

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1e, 0xf4, 0x05, 0x01, 0xef, 0xe8}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

func newTestEngine(t *testing.T, opts StreamOptions) (*Engine, *recorder) {
	bus := event.NewBus()
	rec := &recorder{}
	bus.Subscribe(rec.handle)

	e := NewEngine(bus)
	e.AddStream(media.Video, rtp.NewAssembler(media.Video, 90000, rtp.NewH264Depacketizer(testSPS, testPPS)), opts)
	e.AddStream(media.Audio, rtp.NewAssembler(media.Audio, 48000, rtp.NewAACDepacketizer()), opts)
	e.ClearOnSessionEvent(media.Stopped)
	e.ClearOnSessionEvent(media.Playing)
	for _, kind := range media.Kinds {
		first, ok := e.Activate(kind)
		require.True(t, ok)
		require.True(t, first)
	}
	return e, rec
}

func sample(i int, key bool) *media.Sample {
	return &media.Sample{Data: []byte{byte(i)}, Time: media.SampleTime(i), KeyFrame: key, Lengths: []int{1}}
}

// Every interleaving of three requests and three samples, keeping each side
// in order, pairs the nth request with the nth sample.
func TestPairingIsFIFO(t *testing.T) {
	var interleavings [][]bool
	var gen func(prefix []bool, r, s int)
	gen = func(prefix []bool, r, s int) {
		if r == 3 && s == 3 {
			interleavings = append(interleavings, append([]bool{}, prefix...))
			return
		}
		if r < 3 {
			gen(append(prefix, true), r+1, s)
		}
		if s < 3 {
			gen(append(prefix, false), r, s+1)
		}
	}
	gen(nil, 0, 0)
	require.Len(t, interleavings, 20)

	for _, order := range interleavings {
		e, rec := newTestEngine(t, StreamOptions{})
		s, _ := e.Stream(media.Video)
		r, n := 0, 0
		for _, isRequest := range order {
			if isRequest {
				r++
				require.NoError(t, s.RequestSample(r))
			} else {
				n++
				s.Enqueue(sample(n, false))
			}
		}

		got := rec.deliveries()
		require.Len(t, got, 3, "%v", order)
		for i, d := range got {
			assert.Equal(t, i+1, d.Token, "%v", order)
			assert.EqualValues(t, i+1, d.Sample.Time, "%v", order)
			assert.Equal(t, media.Video, d.Stream)
		}
	}
}

func TestConcurrentPairing(t *testing.T) {
	e, rec := newTestEngine(t, StreamOptions{MaxQueueLength: 10000})
	s, _ := e.Stream(media.Audio)

	const n = 2000
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s.Enqueue(sample(i, false))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, s.RequestSample(i))
		}
	}()
	wg.Wait()

	got := rec.deliveries()
	require.Len(t, got, n)
	for _, d := range got {
		assert.EqualValues(t, d.Token, d.Sample.Time)
	}
	stats := s.Stats()
	assert.EqualValues(t, n, stats.SamplesDelivered)
	assert.Zero(t, stats.Queued)
	assert.Zero(t, stats.Pending)
}

func TestQueueBound(t *testing.T) {
	e, _ := newTestEngine(t, StreamOptions{})
	s, _ := e.Stream(media.Video)

	for i := 0; i < 500; i++ {
		s.Enqueue(sample(i, false))
		require.True(t, s.Stats().Queued <= DefaultMaxQueueLength)
	}
	assert.Equal(t, DefaultMaxQueueLength, s.Stats().Queued)
	assert.EqualValues(t, 300, s.Stats().SamplesDropped)
}

func TestQueueBoundKeepsKeyFrames(t *testing.T) {
	e, rec := newTestEngine(t, StreamOptions{})
	s, _ := e.Stream(media.Video)

	for i := 0; i < 500; i++ {
		s.Enqueue(sample(i, i%100 == 0))
	}
	stats := s.Stats()
	assert.Equal(t, DefaultMaxQueueLength+3, stats.Queued)
	assert.EqualValues(t, 297, stats.SamplesDropped)

	keys := 0
	for i := 0; i < stats.Queued; i++ {
		require.NoError(t, s.RequestSample(i))
	}
	for _, d := range rec.deliveries() {
		if d.Sample.KeyFrame {
			keys++
		}
	}
	assert.Equal(t, 5, keys)
}

func TestBufferingEvents(t *testing.T) {
	e, rec := newTestEngine(t, StreamOptions{})
	s, _ := e.Stream(media.Video)
	rec.take()

	// A request that finds the queue empty starts buffering, once.
	require.NoError(t, s.RequestSample(1))
	require.NoError(t, s.RequestSample(2))
	assert.Equal(t, []event.Event{event.BufferingStarted{Stream: media.Video}}, rec.take())

	// Samples go straight to waiting requests; the queue stays empty.
	s.Enqueue(sample(1, false))
	s.Enqueue(sample(2, false))
	assert.Len(t, rec.deliveries(), 2)

	// The first sample that stays queued stops buffering.
	s.Enqueue(sample(3, false))
	assert.Equal(t, []event.Event{event.BufferingStopped{Stream: media.Video}}, rec.take())
	s.Enqueue(sample(4, false))
	assert.Empty(t, rec.take())

	require.NoError(t, s.RequestSample(3))
	require.NoError(t, s.RequestSample(4))
	events := rec.take()
	require.Len(t, events, 3)
	assert.Equal(t, event.BufferingStarted{Stream: media.Video}, events[2])

	// No notifications while paused.
	e.ClearOnSessionEvent(media.Paused)
	s.Enqueue(sample(5, false))
	require.NoError(t, s.RequestSample(5))
	require.NoError(t, s.RequestSample(6))
	assert.Len(t, rec.take(), 1)
}

func TestRequestSampleErrors(t *testing.T) {
	e, _ := newTestEngine(t, StreamOptions{})
	s, _ := e.Stream(media.Audio)

	s.Deactivate()
	var ire *media.InvalidRequestError
	err := e.RequestSample(media.Audio, 1)
	require.True(t, errors.As(err, &ire))
	assert.Equal(t, media.Audio, ire.Stream)

	first, _ := e.Activate(media.Audio)
	assert.False(t, first)
	e.ClearOnSessionEvent(media.Stopped)
	assert.True(t, errors.As(e.RequestSample(media.Audio, 1), &ire))

	e.ClearOnSessionEvent(media.Paused)
	assert.NoError(t, e.RequestSample(media.Audio, 1))

	e.ClearOnSessionEvent(media.Shutdown)
	var se *media.ShutdownError
	assert.True(t, errors.As(e.RequestSample(media.Audio, 1), &se))
	assert.True(t, errors.As(s.RequestSample(1), &se))
}

func TestStopClearsQueues(t *testing.T) {
	e, rec := newTestEngine(t, StreamOptions{})
	video, _ := e.Stream(media.Video)
	audio, _ := e.Stream(media.Audio)

	for i := 0; i < 10; i++ {
		video.Enqueue(sample(i, false))
	}
	tokens := []*releaseToken{{}, {}, {}}
	for _, tok := range tokens {
		require.NoError(t, audio.RequestSample(tok))
	}
	rec.take()

	e.ClearOnSessionEvent(media.Stopped)

	assert.Zero(t, video.Stats().Queued)
	assert.Zero(t, audio.Stats().Pending)
	assert.EqualValues(t, 3, audio.Stats().RequestsCancelled)
	for _, tok := range tokens {
		assert.True(t, tok.released)
	}
	assert.Empty(t, rec.deliveries())

	// Nothing stale is delivered after restarting.
	e.ClearOnSessionEvent(media.Playing)
	require.NoError(t, video.RequestSample(1))
	assert.Empty(t, rec.deliveries())
}

func TestRequestRacingStop(t *testing.T) {
	e, _ := newTestEngine(t, StreamOptions{})
	s, _ := e.Stream(media.Video)

	for i := 0; i < 200; i++ {
		tokens := make([]*releaseToken, 4)
		errs := make([]error, len(tokens))
		var wg sync.WaitGroup
		for j := range tokens {
			tokens[j] = &releaseToken{}
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				errs[j] = s.RequestSample(tokens[j])
			}(j)
		}
		e.ClearOnSessionEvent(media.Stopped)
		wg.Wait()

		// Every request was refused or released; none is left waiting.
		require.Zero(t, s.Stats().Pending)
		for j, tok := range tokens {
			require.True(t, tok.released || errs[j] != nil, "request %d of round %d", j, i)
		}
		e.ClearOnSessionEvent(media.Playing)
	}
}

func TestBufferingFollowsFinalQueue(t *testing.T) {
	e, _ := newTestEngine(t, StreamOptions{})
	s, _ := e.Stream(media.Video)

	const n = 500
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			s.Enqueue(sample(i, false))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, s.RequestSample(i))
		}
	}()
	wg.Wait()

	require.Zero(t, s.Stats().Queued)
	s.bufferingMu.Lock()
	defer s.bufferingMu.Unlock()
	assert.True(t, s.bufferingSent)
}

func TestPushThroughAssembler(t *testing.T) {
	e, rec := newTestEngine(t, StreamOptions{})

	au := []byte{0x21, 0x10, 0x05}
	payload := append([]byte{0x00, 0x10, 0x00, byte(len(au) << 3)}, au...)
	e.Push(media.Audio, &rtp.Packet{SequenceNumber: 1, Timestamp: 0, Payload: payload})
	e.Push(media.Audio, &rtp.Packet{SequenceNumber: 2, Timestamp: 1024, Payload: payload})
	require.NoError(t, e.RequestSample(media.Audio, "a"))
	require.NoError(t, e.RequestSample(media.Audio, "b"))

	got := rec.deliveries()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Token)
	assert.EqualValues(t, 0, got[0].Sample.Time)
	assert.True(t, got[0].Sample.Discontinuity)
	assert.Equal(t, au, got[0].Sample.Data)
	assert.EqualValues(t, 213333, got[1].Sample.Time)

	s, _ := e.Stream(media.Audio)
	stats := s.Stats()
	assert.EqualValues(t, 2, stats.PacketsReceived)
	assert.EqualValues(t, 2, stats.Samples)
}

func TestPushIgnoredWhenInactive(t *testing.T) {
	e, rec := newTestEngine(t, StreamOptions{})
	s, _ := e.Stream(media.Video)
	s.Deactivate()

	s.Push(&rtp.Packet{SequenceNumber: 1, Payload: []byte{0x65, 1, 2}})
	assert.Zero(t, s.Stats().Queued)
	assert.EqualValues(t, 1, s.Stats().PacketsIgnored)

	// Stopped sessions drop packets at the engine.
	e.Activate(media.Video)
	e.ClearOnSessionEvent(media.Stopped)
	e.Push(media.Video, &rtp.Packet{SequenceNumber: 2, Payload: []byte{0x65, 1, 2}})
	assert.Zero(t, s.Stats().Queued)
	assert.Empty(t, rec.deliveries())
}

func TestOnCommit(t *testing.T) {
	var committed []*media.Sample
	bus := event.NewBus()
	e := NewEngine(bus)
	e.AddStream(media.Video, rtp.NewAssembler(media.Video, 90000, rtp.NewH264Depacketizer(testSPS, testPPS)),
		StreamOptions{OnCommit: func(s *media.Sample) { committed = append(committed, s) }})
	e.ClearOnSessionEvent(media.Playing)
	e.Activate(media.Video)

	e.Push(media.Video, &rtp.Packet{SequenceNumber: 1, Payload: []byte{0x65, 1, 2}})
	e.Push(media.Video, &rtp.Packet{SequenceNumber: 2, Payload: []byte{0x7c, 0x85, 1, 2}})
	require.Len(t, committed, 1)
	assert.True(t, committed[0].KeyFrame)
}

func TestQueueGrowth(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 1000; i++ {
		q.Push(i)
		if i%3 == 0 {
			v, ok := q.Pop()
			require.True(t, ok)
			require.Equal(t, i/3, v)
		}
	}
	rest := q.Drain()
	require.Len(t, rest, 1000-334)
	assert.Equal(t, 334, rest[0])
	assert.Equal(t, 999, rest[len(rest)-1])
	_, ok := q.Pop()
	assert.False(t, ok)
}
