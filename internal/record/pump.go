package record

import (
	"context"

	"github.com/lanikai/rtspsource/internal/event"
	"github.com/lanikai/rtspsource/internal/media"
)

// Requester is the pull side of a source.
type Requester interface {
	RequestSample(kind media.Kind, token interface{}) error
}

// Writer consumes delivered samples.
type Writer interface {
	Write(kind media.Kind, s *media.Sample) error
}

// Events buffered between delivery and the pump. Each stream has at most one
// request outstanding.
const pumpCapacity = 16

type pumpToken struct {
	kind media.Kind
}

// Pump keeps one sample request outstanding per stream and passes every
// delivered sample to w, until ctx is done or a request or write fails.
func Pump(ctx context.Context, bus *event.Bus, src Requester, kinds []media.Kind, w Writer) error {
	tokens := make(map[media.Kind]*pumpToken)
	for _, kind := range kinds {
		tokens[kind] = &pumpToken{kind}
	}
	events, cancel := bus.Channel(pumpCapacity, func(e event.Event) bool {
		ms, ok := e.(event.MediaSample)
		if !ok {
			return false
		}
		t, ok := ms.Token.(*pumpToken)
		return ok && tokens[t.kind] == t
	})
	defer cancel()

	for _, kind := range kinds {
		if err := src.RequestSample(kind, tokens[kind]); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			ms := e.(event.MediaSample)
			if err := w.Write(ms.Stream, ms.Sample); err != nil {
				return err
			}
			if err := src.RequestSample(ms.Stream, ms.Token); err != nil {
				return err
			}
		}
	}
}
