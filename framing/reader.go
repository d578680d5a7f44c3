// Package framing reads length-prefixed 9P2000 frames off a stream.
// It understands only the {size, type, tag} envelope: the
// proto9.HeaderSize bytes of size and type, then the u16 tag; decoding
// the body is left to proto9.UnpackMsg so
// that this package never needs to know about individual message
// shapes, mirroring how docker/go-p9p's channel.go separates framing
// from codec concerns.
package framing

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/buppyio/ninep/proto9"
)

// Frame is one complete, still-packed 9P2000 message: the full wire
// bytes (header + body) plus the type and tag pulled out for routing
// before the caller pays to unpack the body.
type Frame struct {
	Type proto9.MessageType
	Tag  proto9.Tag
	Raw  []byte // includes the 4-byte size prefix and 1-byte type
}

// Reader accumulates frames off an io.Reader, rejecting anything
// larger than the negotiated Msize. It is not safe for concurrent use;
// server9 and client9 each dedicate a single goroutine to reading.
type Reader struct {
	src   *bufio.Reader
	msize uint32
	buf   []byte
}

// NewReader returns a Reader that will refuse any frame whose declared
// size exceeds msize. msize should be set to the default 9P2000 msize
// until a Tversion/Rversion exchange lowers it, then updated via
// SetMSize.
func NewReader(r io.Reader, msize uint32) *Reader {
	return &Reader{
		src:   bufio.NewReaderSize(r, int(msize)),
		msize: msize,
		buf:   make([]byte, msize),
	}
}

// SetMSize updates the maximum frame size accepted by subsequent
// ReadFrame calls. It must not be called concurrently with ReadFrame.
func (r *Reader) SetMSize(msize uint32) {
	r.msize = msize
	if int(msize) > cap(r.buf) {
		r.buf = make([]byte, msize)
	}
}

// ReadFrame blocks until one full frame has arrived, returning it with
// its header parsed out. The returned Frame.Raw aliases the Reader's
// internal buffer and is only valid until the next ReadFrame call.
func (r *Reader) ReadFrame() (Frame, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r.src, sizeBuf[:]); err != nil {
		return Frame{}, &proto9.TransportError{Op: "read size", Err: err}
	}
	size := binary.LittleEndian.Uint32(sizeBuf[:])

	if size > r.msize {
		// Drain what we can identify as this frame's remainder so a
		// subsequent frame on the same connection still starts aligned,
		// then report the overflow as fatal.
		if size > uint32(proto9.HeaderSize) {
			io.CopyN(io.Discard, r.src, int64(size-4))
		}
		return Frame{}, &proto9.FrameTooLargeError{Declared: size, Msize: r.msize}
	}
	if size < uint32(proto9.HeaderSize) {
		return Frame{}, &proto9.MalformedError{
			Reason: "frame smaller than header",
			Fatal:  true,
			Err:    errors.Errorf("declared size %d under header size %d", size, proto9.HeaderSize),
		}
	}

	if int(size) > cap(r.buf) {
		r.buf = make([]byte, size)
	}
	buf := r.buf[:size]
	binary.LittleEndian.PutUint32(buf, size)

	if _, err := io.ReadFull(r.src, buf[4:]); err != nil {
		return Frame{}, &proto9.TransportError{Op: "read body", Err: err}
	}

	mtype := proto9.MessageType(buf[4])
	tag, _, err := getTag(buf[proto9.HeaderSize:])
	if err != nil {
		return Frame{}, &proto9.MalformedError{Reason: "missing tag", Fatal: true, Err: err}
	}

	return Frame{Type: mtype, Tag: tag, Raw: buf}, nil
}

func getTag(body []byte) (proto9.Tag, []byte, error) {
	if len(body) < 2 {
		return proto9.NOTAG, nil, io.ErrUnexpectedEOF
	}
	return proto9.Tag(binary.LittleEndian.Uint16(body)), body[2:], nil
}

// WriteFrame writes a fully packed frame (as produced by proto9.PackMsg)
// to w in a single call, matching docker/go-p9p's sendmsg: a short
// write is treated as fatal rather than silently retried.
func WriteFrame(w io.Writer, raw []byte) error {
	n, err := w.Write(raw)
	if err != nil {
		return &proto9.TransportError{Op: "write frame", Err: err}
	}
	if n != len(raw) {
		return &proto9.TransportError{Op: "write frame", Err: io.ErrShortWrite}
	}
	return nil
}
