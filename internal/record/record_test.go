package record

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/media/h264"
	"github.com/lanikai/rtspsource/internal/rtp"
	"github.com/lanikai/rtspsource/internal/source"
)

const (
	testVideoParameters = "Z0IAHvQFAe/o,aM48gA=="
	testAudioConfig     = "1190"
)

var (
	testSPS = []byte{0x67, 0x42, 0x00, 0x1e, 0xf4, 0x05, 0x01, 0xef, 0xe8}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

func openSource(t *testing.T, video, audio string) *source.Source {
	s := source.New(nil)
	require.NoError(t, s.Open(
		source.StreamConfig{ParameterString: video},
		source.StreamConfig{ParameterString: audio},
	))
	return s
}

// An Annex B video sample of the given units.
func videoSample(i int, key bool, units ...[]byte) *media.Sample {
	s := &media.Sample{Time: media.SampleTime(i) * media.TimeBase / 25, KeyFrame: key}
	for _, u := range units {
		s.Data = append(s.Data, h264.StartCode...)
		s.Data = append(s.Data, u...)
		s.Lengths = append(s.Lengths, len(h264.StartCode)+len(u))
	}
	return s
}

func audioSample(i int) *media.Sample {
	data := bytes.Repeat([]byte{0x21, byte(i)}, 32)
	return &media.Sample{Time: media.SampleTime(i) * media.TimeBase * 1024 / 48000, KeyFrame: true, Data: data, Lengths: []int{len(data)}}
}

func recordSamples(t *testing.T, path string, md Metadata) *Recorder {
	r, err := New(path, md)
	require.NoError(t, err)

	// Skipped: no key frame yet.
	require.NoError(t, r.Write(media.Video, videoSample(0, false, []byte{0x41, 0x9a, 0x02})))
	require.NoError(t, r.Write(media.Audio, audioSample(0)))

	require.NoError(t, r.Write(media.Video, videoSample(1, true, testSPS, testPPS, []byte{0x65, 0x88, 0x84, 0x00, 0x33})))
	for i := 1; i < 10; i++ {
		require.NoError(t, r.Write(media.Audio, audioSample(i)))
		require.NoError(t, r.Write(media.Video, videoSample(i+1, false, []byte{0x41, 0x9a, byte(i)})))
	}
	require.NoError(t, r.Close())
	return r
}

func TestRecordTS(t *testing.T) {
	s := openSource(t, testVideoParameters, testAudioConfig)
	path := filepath.Join(t.TempDir(), "out.ts")
	r := recordSamples(t, path, Metadata{Video: s.VideoMetadata(), Audio: s.AudioMetadata()})
	assert.EqualValues(t, 19, r.Written())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Zero(t, len(data)%188)
	assert.EqualValues(t, 0x47, data[0])
}

func TestRecordMP4(t *testing.T) {
	s := openSource(t, testVideoParameters, testAudioConfig)
	path := filepath.Join(t.TempDir(), "out.mp4")
	recordSamples(t, path, Metadata{Video: s.VideoMetadata(), Audio: s.AudioMetadata()})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("moov")))
	assert.True(t, bytes.Contains(data, []byte("avcC")))
}

func TestRecordADTS(t *testing.T) {
	s := openSource(t, "", testAudioConfig)
	path := filepath.Join(t.TempDir(), "out.aac")
	r, err := New(path, Metadata{Audio: s.AudioMetadata()})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, r.Write(media.Audio, audioSample(i)))
	}
	// Not part of this recording.
	require.NoError(t, r.Write(media.Video, videoSample(0, true, testSPS)))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	frame := 7 + len(audioSample(0).Data)
	require.Len(t, data, 3*frame)
	for i := 0; i < 3; i++ {
		assert.EqualValues(t, 0xff, data[i*frame])
		assert.EqualValues(t, 0xf0, data[i*frame+1]&0xf0)
	}
}

func TestNewErrors(t *testing.T) {
	dir := t.TempDir()
	s := openSource(t, testVideoParameters, "")

	_, err := New(filepath.Join(dir, "out.ts"), Metadata{})
	assert.Error(t, err)
	_, err = New(filepath.Join(dir, "out.mkv"), Metadata{Video: s.VideoMetadata()})
	assert.Error(t, err)
	_, err = New(filepath.Join(dir, "out.aac"), Metadata{Video: s.VideoMetadata()})
	assert.Error(t, err)
}

type sampleWriter struct {
	sync.Mutex
	samples []*media.Sample
}

func (w *sampleWriter) Write(kind media.Kind, s *media.Sample) error {
	w.Lock()
	w.samples = append(w.samples, s)
	w.Unlock()
	return nil
}

func (w *sampleWriter) count() int {
	w.Lock()
	defer w.Unlock()
	return len(w.samples)
}

func TestPump(t *testing.T) {
	s := openSource(t, testVideoParameters, "")
	require.NoError(t, s.Start())

	for i := 0; i < 3; i++ {
		s.Push(media.Video, &rtp.Packet{
			SequenceNumber: uint16(i),
			Timestamp:      uint32(i * 3000),
			Marker:         true,
			Payload:        []byte{0x65, 0x88, byte(i)},
		})
	}

	w := &sampleWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Pump(ctx, s.Bus(), s, []media.Kind{media.Video}, w) }()

	require.Eventually(t, func() bool { return w.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	// Delivered as soon as it is committed.
	s.Push(media.Video, &rtp.Packet{SequenceNumber: 3, Timestamp: 9000, Marker: true, Payload: []byte{0x65, 0x88, 3}})
	require.Eventually(t, func() bool { return w.count() == 4 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)

	w.Lock()
	defer w.Unlock()
	for i, sample := range w.samples {
		assert.Equal(t, media.ToSampleTime(uint64(i*3000), 90000), sample.Time)
	}
}

func TestPumpRequestError(t *testing.T) {
	s := openSource(t, testVideoParameters, "")
	err := Pump(context.Background(), event.NewBus(), s, []media.Kind{media.Video}, &sampleWriter{})
	var ire *media.InvalidRequestError
	assert.ErrorAs(t, err, &ire)
}
