package rtsp

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/lanikai/rtspsource/internal/media"
)

// Servers time out sessions after 60 seconds by default.
// See https://tools.ietf.org/html/rfc2326#section-12.37
const defaultSessionTimeout = 60

type SessionOptions struct {
	// Interval between GET_PARAMETER keep-alives. Defaults to half the
	// server's session timeout.
	KeepAlive time.Duration

	// Streams to set up. Empty means every supported stream.
	Kinds []media.Kind

	ReceiverOptions
}

type sessionStream struct {
	info      StreamInfo
	transport *Transport
	receiver  *Receiver
}

// Session is an RTSP presentation whose streams have been set up. Received
// packets are pushed to the Sink while Run is active.
type Session struct {
	SessionOptions

	Description *Description

	client  *Client
	id      string
	streams []*sessionStream
}

// Open connects to an RTSP server, describes the presentation at rawurl and
// sets up a UDP transport for each stream.
func Open(ctx context.Context, rawurl string, sink Sink, opts SessionOptions) (*Session, error) {
	u, err := ParseURL(rawurl)
	if err != nil {
		return nil, err
	}
	cli, err := DialContext(ctx, u.Host)
	if err != nil {
		return nil, err
	}
	s, err := NewSession(cli, u.String(), sink, opts)
	if err != nil {
		cli.Close()
		return nil, err
	}
	return s, nil
}

// NewSession negotiates a presentation over an established client.
func NewSession(cli *Client, uri string, sink Sink, opts SessionOptions) (*Session, error) {
	if options, err := cli.Options(uri); err != nil {
		// Some cameras reject OPTIONS but still stream.
		log.Warn("OPTIONS failed: %v", err)
	} else {
		log.Debug("Server supports %v", options)
	}

	d, err := cli.Describe(uri)
	if err != nil {
		return nil, err
	}
	if raw, err := d.SDP.Marshal(); err == nil {
		log.Debug("SDP:\n%s", raw)
	}

	s := &Session{
		SessionOptions: opts,
		Description:    d,
		client:         cli,
	}
	for _, info := range d.Streams {
		if !s.wants(info.Kind) {
			continue
		}
		tr, id, err := cli.Setup(info.Control, s.id)
		if err != nil {
			s.closeTransports()
			return nil, errors.Wrapf(err, "set up %v stream", info.Kind)
		}
		s.id = id
		log.Info("%v: %s %d Hz, transport %s", info.Kind, info.Encoding, info.ClockRate, tr.Header())

		ro := opts.ReceiverOptions
		ro.SSRC = tr.SSRC
		ro.PayloadType = info.PayloadType
		s.streams = append(s.streams, &sessionStream{
			info:      info,
			transport: tr,
			receiver:  NewReceiver(info.Kind, tr.RTP, sink, ro),
		})

		if s.KeepAlive == 0 && tr.Timeout > 0 {
			s.KeepAlive = time.Duration(tr.Timeout) * time.Second / 2
		}
	}
	if len(s.streams) == 0 {
		return nil, errors.New("no streams to set up")
	}
	if s.KeepAlive == 0 {
		s.KeepAlive = defaultSessionTimeout * time.Second / 2
	}
	return s, nil
}

func (s *Session) wants(kind media.Kind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *Session) ID() string {
	return s.id
}

// Streams returns the streams that were set up.
func (s *Session) Streams() []StreamInfo {
	infos := make([]StreamInfo, len(s.streams))
	for i, ss := range s.streams {
		infos[i] = ss.info
	}
	return infos
}

func (s *Session) Play() error {
	rtpInfo, err := s.client.Play(s.Description.Base, s.id)
	if err != nil {
		return err
	}
	log.Debug("RTP-Info: %s", rtpInfo)
	return nil
}

func (s *Session) Pause() error {
	return s.client.Pause(s.Description.Base, s.id)
}

// Run receives packets on every stream and keeps the session alive. It
// returns nil once ctx is cancelled or its deadline passes, or the first
// receive error.
func (s *Session) Run(ctx context.Context) error {
	parent := ctx
	g, ctx := errgroup.WithContext(ctx)
	for _, ss := range s.streams {
		r := ss.receiver
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(s.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if _, err := s.client.GetParameter(s.Description.Base, s.id); err != nil {
					log.Warn("Keep-alive failed: %v", err)
				}
			}
		}
	})

	err := g.Wait()
	if parent.Err() != nil {
		return nil
	}
	return err
}

func (s *Session) ReceiverStats(kind media.Kind) (ReceiverStats, bool) {
	for _, ss := range s.streams {
		if ss.info.Kind == kind {
			return ss.receiver.Stats(), true
		}
	}
	return ReceiverStats{}, false
}

// Close tears down the presentation and releases the transports.
func (s *Session) Close() error {
	err := s.client.Teardown(s.Description.Base, s.id)
	s.closeTransports()
	s.client.Close()
	return err
}

func (s *Session) closeTransports() {
	for _, ss := range s.streams {
		ss.transport.Close()
	}
}
