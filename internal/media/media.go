// Package media holds the vocabulary shared by the reassembly and delivery
// pipeline: logical stream kinds, session states, committed samples and the
// typed errors surfaced to callers.
package media

// Kind identifies a logical stream within a session.
type Kind int

const (
	Video Kind = iota
	Audio
)

// Kinds lists every logical stream kind, in stream-identifier order.
var Kinds = []Kind{Video, Audio}

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseKind maps an SDP media type ("video", "audio") to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "video":
		return Video, true
	case "audio":
		return Audio, true
	}
	return 0, false
}
