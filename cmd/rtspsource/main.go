package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/logging"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/monitor"
	"github.com/lanikai/rtspsource/internal/record"
	"github.com/lanikai/rtspsource/internal/rtsp"
	"github.com/lanikai/rtspsource/internal/source"
)

var log = logging.DefaultLogger.WithTag("main")

func main() {
	// Variables already set in the environment take precedence.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("Failed to load .env: %v", err)
	}

	defineFlags()
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	logging.Configure(flagLogLevel)

	if flagURL == "" && flag.NArg() > 0 {
		flagURL = flag.Arg(0)
	}
	if flagURL == "" {
		fmt.Fprintln(os.Stderr, "rtspsource: no URL given (see --help)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flagDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagDuration)
		defer cancel()
	}

	if err := run(ctx); err != nil {
		log.Fatal(err)
	}
}

func parseKinds(names []string) ([]media.Kind, error) {
	var kinds []media.Kind
	for _, name := range names {
		kind, ok := media.ParseKind(name)
		if !ok {
			return nil, errors.Errorf("unknown stream %q", name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func parseRatio(s string) (media.Ratio, error) {
	var r media.Ratio
	if s == "" {
		return r, nil
	}
	if n, _ := fmt.Sscanf(s, "%d/%d", &r.Num, &r.Den); n == 1 {
		r.Den = 1
	}
	if !r.Valid() {
		return r, errors.Errorf("invalid frame rate %q", s)
	}
	return r, nil
}

// Build the source configuration from the negotiated streams.
func streamConfigs(sess *rtsp.Session) (video, audio source.StreamConfig, err error) {
	frameRate, err := parseRatio(flagFrameRate)
	if err != nil {
		return
	}
	for _, info := range sess.Streams() {
		c := source.StreamConfig{
			ParameterString: info.ParameterString(),
			ClockRate:       info.ClockRate,
			MaxQueueLength:  flagQueueLength,
		}
		switch info.Kind {
		case media.Video:
			c.FixedFrameRate = frameRate
			if !c.FixedFrameRate.Valid() {
				c.FixedFrameRate = info.FrameRate
			}
			video = c
		case media.Audio:
			audio = c
		}
	}
	return
}

func logEvents(e event.Event) {
	switch e := e.(type) {
	case event.MediaSample:
	case event.BufferingStarted, event.BufferingStopped:
		log.Debug("%s %+v", e.Name(), e)
	default:
		log.Info("%s %+v", e.Name(), e)
	}
}

// Counts samples when nothing is recorded.
type discard struct {
	samples uint64
}

func (d *discard) Write(kind media.Kind, s *media.Sample) error {
	d.samples++
	return nil
}

func run(ctx context.Context) error {
	kinds, err := parseKinds(flagStreams)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	bus.Subscribe(logEvents)
	src := source.New(bus)

	sess, err := rtsp.Open(ctx, flagURL, src, rtsp.SessionOptions{Kinds: kinds})
	if err != nil {
		return err
	}
	defer sess.Close()

	video, audio, err := streamConfigs(sess)
	if err != nil {
		return err
	}
	if err := src.Open(video, audio); err != nil {
		return err
	}
	defer src.Shutdown()

	var opened []media.Kind
	if src.VideoMetadata() != nil {
		opened = append(opened, media.Video)
	}
	if src.AudioMetadata() != nil {
		opened = append(opened, media.Audio)
	}

	var w record.Writer = &discard{}
	if flagOutput != "" {
		rec, err := record.New(flagOutput, record.Metadata{Video: src.VideoMetadata(), Audio: src.AudioMetadata()})
		if err != nil {
			return err
		}
		defer rec.Close()
		w = rec
	}

	if err := src.Start(); err != nil {
		return err
	}
	if err := sess.Play(); err != nil {
		return err
	}
	started := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Run(ctx)
	})
	g.Go(func() error {
		return record.Pump(ctx, bus, src, opened, w)
	})
	if flagMonitor != "" {
		m := monitor.NewServer(bus, monitor.Options{
			Status: func() interface{} { return status(src, sess, opened) },
		})
		g.Go(func() error {
			return m.ListenAndServe(ctx, flagMonitor)
		})
	}
	err = g.Wait()

	if serr := src.Stop(); serr != nil {
		log.Warn("Stop: %v", serr)
	}
	for _, kind := range opened {
		st, _ := src.Stats(kind)
		log.Info("%v: %d packets, %d samples, %d delivered, %d dropped, %d gaps in %v",
			kind, st.PacketsReceived, st.Samples, st.SamplesDelivered, st.SamplesDropped, st.Skipped, time.Since(started).Round(time.Second))
	}
	return err
}

type streamStatus struct {
	Delivery interface{} `json:"delivery"`
	Receiver interface{} `json:"receiver"`
}

func status(src *source.Source, sess *rtsp.Session, kinds []media.Kind) interface{} {
	out := make(map[string]streamStatus)
	for _, kind := range kinds {
		ds, _ := src.Stats(kind)
		rs, _ := sess.ReceiverStats(kind)
		out[kind.String()] = streamStatus{Delivery: ds, Receiver: rs}
	}
	return map[string]interface{}{
		"state":   src.State(),
		"streams": out,
	}
}
