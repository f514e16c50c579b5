package media

// State is the session lifecycle state.
//
//	Closed -> Stopped <-> {Playing, Paused}
//	any    -> Shutdown (terminal)
type State int32

const (
	Closed State = iota
	Stopped
	Playing
	Paused
	Shutdown
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Shutdown:
		return "Shutdown"
	default:
		return "Invalid"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Started reports whether samples may be requested in this state.
func (s State) Started() bool {
	return s == Playing || s == Paused
}

// Opened reports whether the session holds open streams.
func (s State) Opened() bool {
	return s != Closed && s != Shutdown
}
