package media

import (
	"fmt"
)

// ParameterDecodeError reports malformed or unsupported codec parameter data.
// It is fatal to opening a stream.
type ParameterDecodeError struct {
	Codec string // "h264" or "aac"
	Field string // syntax element or input being decoded
	Err   error
}

func (e *ParameterDecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s parameters: invalid %s", e.Codec, e.Field)
	}
	return fmt.Sprintf("%s parameters: invalid %s: %v", e.Codec, e.Field, e.Err)
}

func (e *ParameterDecodeError) Unwrap() error {
	return e.Err
}

// InvalidStateTransitionError reports an operation attempted in a session
// state that does not allow it. The state is left unchanged.
type InvalidStateTransitionError struct {
	Op   string
	From State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("%s: invalid state transition from %v", e.Op, e.From)
}

// InvalidRequestError reports a sample request on a stream that is inactive or
// in a session that is neither playing nor paused.
type InvalidRequestError struct {
	Stream Kind
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("request sample on %v stream: %s", e.Stream, e.Reason)
}

// ShutdownError is returned by every operation after the session shut down.
type ShutdownError struct {
	Op string
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("%s: session is shut down", e.Op)
}
