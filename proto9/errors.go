package proto9

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownType is wrapped into a fatal MalformedError when a frame's
// type byte does not match any Mt_* constant.
var ErrUnknownType = errors.New("unknown message type")

// ErrMalformed is the base sentinel wrapped by MalformedError; it marks
// a body that is structurally invalid even though every individual
// field parsed (e.g. a Twalk with more than 16 names).
var ErrMalformed = errors.New("malformed message body")

// TransportError wraps a failure reading or writing the underlying
// connection (io.Reader/io.Writer). It is always fatal to the
// connection: the caller should close and give up.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("9p transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FrameTooLargeError is returned by framing.Reader when a frame's
// declared size exceeds the negotiated Msize. Always fatal.
type FrameTooLargeError struct {
	Declared uint32
	Msize    uint32
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("9p frame size %d exceeds negotiated msize %d", e.Declared, e.Msize)
}

// MalformedError wraps a codec-level decode failure. Fatal reports
// whether the connection must be torn down (a truncated or
// structurally inconsistent frame) as opposed to a single request that
// can be answered with Rerror while the connection continues.
type MalformedError struct {
	Reason string
	Fatal  bool
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("9p malformed message: %s: %v", e.Reason, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ProtocolViolationError marks a message that decoded cleanly but
// violates the protocol's state machine, e.g. a Twalk before Tattach,
// anything but Tversion before Tversion, or an R-message sent to the
// server. Always fatal.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("9p protocol violation: %s", e.Reason)
}

// UnknownTagError is returned when a response (or a Tflush) references
// a Tag with no matching outstanding request. Not fatal by itself; the
// caller decides whether a stray tag indicates a confused peer.
type UnknownTagError struct {
	Tag Tag
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("9p unknown tag %d", e.Tag)
}
