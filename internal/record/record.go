// Package record writes delivered samples to a media file.
package record

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/aacparser"
	"github.com/nareix/joy4/format/mp4"
	"github.com/nareix/joy4/format/ts"
	"github.com/pkg/errors"

	"github.com/lanikai/rtspsource/internal/logging"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/media/aac"
	"github.com/lanikai/rtspsource/internal/media/h264"
	"github.com/lanikai/rtspsource/internal/source"
)

var log = logging.DefaultLogger.WithTag("record")

// Metadata of the streams to record. Either may be nil.
type Metadata struct {
	Video *source.VideoMetadata
	Audio *source.AudioMetadata
}

// Recorder muxes samples into an MPEG-TS (.ts) or MP4 (.mp4) file, or writes
// an ADTS elementary stream (.aac) of the audio alone.
type Recorder struct {
	sync.Mutex

	file  *os.File
	muxer av.Muxer

	// Stream index of each recorded kind in the muxer.
	index map[media.Kind]int8

	// For .aac output.
	adts *aac.Parameters
	w    io.Writer

	// Time of the first sample, subtracted from every timestamp.
	start   media.SampleTime
	started bool

	// Video is written from its first key frame.
	waitKey bool

	written uint64
}

// New creates the file at path and writes the container header.
func New(path string, md Metadata) (*Recorder, error) {
	if md.Video == nil && md.Audio == nil {
		return nil, errors.New("nothing to record")
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".ts", ".mp4", ".aac":
	default:
		return nil, errors.Errorf("unsupported output format %q", ext)
	}
	if ext == ".aac" && md.Audio == nil {
		return nil, errors.New("no audio stream to record")
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	r := &Recorder{
		file:    f,
		index:   make(map[media.Kind]int8),
		waitKey: true,
	}

	if ext == ".aac" {
		cd, ok := md.Audio.CodecData.(aacparser.CodecData)
		if !ok {
			f.Close()
			return nil, errors.New("audio codec data is not AAC")
		}
		r.adts = &aac.Parameters{Config: md.Audio.Config, AudioParams: md.Audio.AudioParams, CodecData: cd}
		r.w = f
		r.index[media.Audio] = 0
		log.Info("Recording audio to %s", path)
		return r, nil
	}

	if ext == ".ts" {
		r.muxer = ts.NewMuxer(f)
	} else {
		r.muxer = mp4.NewMuxer(f)
	}
	var streams []av.CodecData
	if md.Video != nil {
		r.index[media.Video] = int8(len(streams))
		streams = append(streams, md.Video.CodecData)
	}
	if md.Audio != nil {
		r.index[media.Audio] = int8(len(streams))
		streams = append(streams, md.Audio.CodecData)
	}
	if err := r.muxer.WriteHeader(streams); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	if md.Video == nil {
		r.waitKey = false
	}
	log.Info("Recording %d streams to %s", len(streams), path)
	return r, nil
}

// Write adds one sample. Samples of streams the recorder was not created
// with are ignored, as is video before the first key frame.
func (r *Recorder) Write(kind media.Kind, s *media.Sample) error {
	r.Lock()
	defer r.Unlock()

	idx, ok := r.index[kind]
	if !ok {
		return nil
	}
	if r.waitKey {
		if kind != media.Video || !s.KeyFrame {
			return nil
		}
		r.waitKey = false
	}
	if !r.started {
		r.start = s.Time
		r.started = true
	}
	t := (s.Time - r.start).Duration()
	if t < 0 {
		t = 0
	}

	if r.adts != nil {
		if _, err := r.w.Write(r.adts.ADTSHeader(len(s.Data))); err != nil {
			return errors.WithStack(err)
		}
		if _, err := r.w.Write(s.Data); err != nil {
			return errors.WithStack(err)
		}
		r.written++
		return nil
	}

	data := s.Data
	if kind == media.Video {
		var err error
		if data, err = h264.AVCC(s); err != nil {
			return err
		}
	}
	err := r.muxer.WritePacket(av.Packet{
		Idx:        idx,
		IsKeyFrame: s.KeyFrame || kind == media.Audio,
		Time:       t,
		Data:       data,
	})
	if err != nil {
		return errors.Wrapf(err, "write %v sample at %v", kind, t)
	}
	r.written++
	return nil
}

// Written returns the number of samples written.
func (r *Recorder) Written() uint64 {
	r.Lock()
	defer r.Unlock()
	return r.written
}

// Close writes the container trailer and closes the file.
func (r *Recorder) Close() error {
	r.Lock()
	defer r.Unlock()

	var err error
	if r.muxer != nil {
		err = errors.Wrap(r.muxer.WriteTrailer(), "write trailer")
	}
	if cerr := r.file.Close(); err == nil {
		err = errors.WithStack(cerr)
	}
	log.Info("Recorded %d samples to %s", r.written, r.file.Name())
	return err
}
