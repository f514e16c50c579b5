// Package event is a synchronous observer bus for session and stream
// notifications.
package event

import (
	"github.com/lanikai/rtspsource/internal/media"
)

// Event is implemented by every notification type in this package.
type Event interface {
	// Name is a stable identifier, used by the monitor feed.
	Name() string
}

// MediaSample delivers a sample to the consumer that issued the request
// token.
type MediaSample struct {
	Stream media.Kind    `json:"stream"`
	Token  interface{}   `json:"-"`
	Sample *media.Sample `json:"-"`
}

// NewStream is emitted when a stream is activated for the first time.
type NewStream struct {
	Stream media.Kind `json:"stream"`
}

// UpdatedStream is emitted when a stream is activated again after it was
// deactivated.
type UpdatedStream struct {
	Stream media.Kind `json:"stream"`
}

// BufferingStarted is emitted when a playing stream's sample queue runs dry.
type BufferingStarted struct {
	Stream media.Kind `json:"stream"`
}

// BufferingStopped is emitted when samples arrive after BufferingStarted.
type BufferingStopped struct {
	Stream media.Kind `json:"stream"`
}

type StreamStarted struct {
	Stream media.Kind `json:"stream"`
}

type StreamPaused struct {
	Stream media.Kind `json:"stream"`
}

type StreamStopped struct {
	Stream media.Kind `json:"stream"`
}

type SourceStarted struct{}

type SourcePaused struct{}

type SourceStopped struct{}

// PlayStarted is emitted once per Start, when the first sample after starting
// has been reassembled.
type PlayStarted struct {
	Stream media.Kind `json:"stream"`
}

// StateChanged is emitted after every session state transition.
type StateChanged struct {
	From media.State `json:"from"`
	To   media.State `json:"to"`
}

func (MediaSample) Name() string      { return "sample" }
func (NewStream) Name() string        { return "new-stream" }
func (UpdatedStream) Name() string    { return "updated-stream" }
func (BufferingStarted) Name() string { return "buffering-started" }
func (BufferingStopped) Name() string { return "buffering-stopped" }
func (StreamStarted) Name() string    { return "stream-started" }
func (StreamPaused) Name() string     { return "stream-paused" }
func (StreamStopped) Name() string    { return "stream-stopped" }
func (SourceStarted) Name() string    { return "source-started" }
func (SourcePaused) Name() string     { return "source-paused" }
func (SourceStopped) Name() string    { return "source-stopped" }
func (PlayStarted) Name() string      { return "play-started" }
func (StateChanged) Name() string     { return "state-changed" }
