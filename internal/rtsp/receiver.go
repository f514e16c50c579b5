package rtsp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"

	"github.com/lanikai/rtspsource/internal/logging"
	"github.com/lanikai/rtspsource/internal/media"
	"github.com/lanikai/rtspsource/internal/rtp"
)

const (
	// Datagrams read per system call.
	defaultBatchSize = 16

	maxDatagramSize = 65536
)

// Sink consumes received RTP packets. Push is called synchronously from the
// receive loop, and the packet payload is only valid until it returns.
type Sink interface {
	Push(kind media.Kind, p *rtp.Packet)
}

type ReceiverOptions struct {
	// Packets from other sources are dropped, unless zero.
	SSRC uint32

	// Packets with other payload types are dropped, unless zero.
	PayloadType uint8

	// Datagrams read per system call. Defaults to 16.
	BatchSize int
}

type ReceiverStats struct {
	Datagrams uint64
	RTCP      uint64
	Malformed uint64
	Filtered  uint64
}

// Receiver reads one stream's RTP datagrams and pushes the parsed packets
// into a Sink.
type Receiver struct {
	Kind media.Kind
	ReceiverOptions

	conn net.PacketConn
	sink Sink

	datagrams atomic.Uint64
	rtcp      atomic.Uint64
	malformed atomic.Uint64
	filtered  atomic.Uint64
}

func NewReceiver(kind media.Kind, conn net.PacketConn, sink Sink, opts ReceiverOptions) *Receiver {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Receiver{
		Kind:            kind,
		ReceiverOptions: opts,
		conn:            conn,
		sink:            sink,
	}
}

// Run receives until ctx is done or the connection fails. It returns
// ctx.Err() after cancellation.
func (r *Receiver) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock the pending read.
			r.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	pc := ipv4.NewPacketConn(r.conn)
	msgs := make([]ipv4.Message, r.BatchSize)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, maxDatagramSize)}
	}

	log.Debug("%v: receiving on %v", r.Kind, r.conn.LocalAddr())
	for {
		n, err := pc.ReadBatch(msgs, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrapf(err, "%v: receive", r.Kind)
		}
		for i := 0; i < n; i++ {
			r.handle(msgs[i].Buffers[0][:msgs[i].N])
		}
	}
}

func (r *Receiver) handle(buf []byte) {
	r.datagrams.Add(1)
	if rtp.IsRTCP(buf) {
		// Sender reports are not used.
		r.rtcp.Add(1)
		return
	}

	p, err := rtp.ParsePacket(buf)
	if err != nil {
		if r.malformed.Add(1)%100 == 1 {
			log.Warn("%v: %v", r.Kind, err)
		}
		return
	}
	if (r.SSRC != 0 && p.SSRC != r.SSRC) || (r.PayloadType != 0 && p.PayloadType != r.PayloadType) {
		r.filtered.Add(1)
		if log.Enabled(logging.Debug) {
			log.Debug("%v: dropping %v", r.Kind, p)
		}
		return
	}
	r.sink.Push(r.Kind, p)
}

func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Datagrams: r.datagrams.Load(),
		RTCP:      r.rtcp.Load(),
		Malformed: r.malformed.Load(),
		Filtered:  r.filtered.Load(),
	}
}
