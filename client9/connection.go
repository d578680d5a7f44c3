// Package client9 implements the client side of 9P2000 (C5): version
// negotiation, a tag allocator and outstanding-request table, and
// Tflush-driven cancellation. The tag/outstanding bookkeeping is
// adapted from docker/go-p9p's transport, generalized from its
// reflective Message type onto this engine's concrete proto9.Msg
// implementations; the Tflush sequence completes that transport's
// flush method, which was left as a stub.
package client9

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/buppyio/ninep/framing"
	"github.com/buppyio/ninep/proto9"
)

// ErrClosed is returned by Call once the connection has shut down.
var ErrClosed = errors.New("9p connection closed")

// ErrBadResponse is returned when a server answers with a message of
// the wrong type for the request sent, e.g. an Rread in reply to a
// Twalk: a misbehaving or desynced peer, never a normal Rerror.
var ErrBadResponse = errors.New("9p: unexpected response type")

// RemoteError wraps an Rerror returned by the server so callers can
// distinguish a protocol-level failure from a transport failure.
type RemoteError struct {
	Ename string
}

func (e *RemoteError) Error() string { return e.Ename }

// DefaultMaxMessageSize is proposed during Tversion if Options.MaxMessageSize is zero.
const DefaultMaxMessageSize = 131072

const flushTimeout = 5 * time.Second

// Options configures a Connection.
type Options struct {
	MaxMessageSize uint32
	Logger         logrus.FieldLogger
}

type callRequest struct {
	msg      proto9.Msg
	response chan proto9.Msg
	err      chan error
	tagCh    chan proto9.Tag
}

// Connection is a single client-side 9P2000 session. All exported
// methods are safe for concurrent use by multiple goroutines; requests
// are serialized onto the wire by one internal dispatch loop.
type Connection struct {
	id  uuid.UUID
	log logrus.FieldLogger

	rwc    io.ReadWriteCloser
	reader *framing.Reader

	writeMu sync.Mutex
	outbuf  []byte

	msizeMu sync.RWMutex
	msize   uint32

	requests chan *callRequest

	closeOnce sync.Once
	closed    chan struct{}
	errMu     sync.Mutex
	closeErr  error
}

// Connect performs the Tversion handshake over rwc and, on success,
// returns a running Connection. The caller owns rwc's lifetime via
// Connection.Close.
func Connect(ctx context.Context, rwc io.ReadWriteCloser, opts Options) (*Connection, error) {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	id := uuid.New()
	c := &Connection{
		id:       id,
		log:      opts.Logger.WithField("conn", id.String()),
		rwc:      rwc,
		reader:   framing.NewReader(rwc, opts.MaxMessageSize),
		outbuf:   make([]byte, opts.MaxMessageSize),
		msize:    opts.MaxMessageSize,
		requests: make(chan *callRequest),
		closed:   make(chan struct{}),
	}
	go c.run()

	resp, err := c.Call(ctx, &proto9.Tversion{MessageSize: opts.MaxMessageSize, Version: proto9.Version})
	if err != nil {
		c.Close()
		return nil, errors.Wrap(err, "negotiating version")
	}
	rversion, ok := resp.(*proto9.Rversion)
	if !ok {
		c.Close()
		return nil, errors.New("server did not respond to Tversion with Rversion")
	}
	if rversion.Version != proto9.Version {
		c.Close()
		return nil, errors.Errorf("server rejected version: %s", rversion.Version)
	}
	if rversion.MessageSize > opts.MaxMessageSize {
		c.Close()
		return nil, errors.New("server negotiated an msize larger than proposed")
	}

	c.msizeMu.Lock()
	c.msize = rversion.MessageSize
	c.msizeMu.Unlock()
	c.reader.SetMSize(rversion.MessageSize)

	return c, nil
}

// MSize returns the negotiated maximum message size.
func (c *Connection) MSize() uint32 {
	c.msizeMu.RLock()
	defer c.msizeMu.RUnlock()
	return c.msize
}

// Close tears down the transport. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rwc.Close()
	})
	return err
}

// Done returns a channel that closes once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Err returns the error that caused the connection to close, if any.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.closeErr
}

func (c *Connection) fail(err error) {
	c.errMu.Lock()
	if c.closeErr == nil {
		c.closeErr = err
	}
	c.errMu.Unlock()
	c.Close()
}

// Call sends msg with a freshly allocated tag and blocks for the
// matching response. If ctx is canceled before a response arrives, Call
// sends Tflush for the outstanding tag and returns ctx.Err(); the
// eventual Rflush/late-response is absorbed internally.
func (c *Connection) Call(ctx context.Context, msg proto9.Msg) (proto9.Msg, error) {
	req := &callRequest{
		msg:      msg,
		response: make(chan proto9.Msg, 1),
		err:      make(chan error, 1),
		tagCh:    make(chan proto9.Tag, 1),
	}

	select {
	case c.requests <- req:
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.response:
		if rerr, ok := resp.(*proto9.Rerror); ok {
			return nil, &RemoteError{Ename: rerr.Err}
		}
		return resp, nil
	case err := <-req.err:
		return nil, err
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		// req was handed to run, which always answers with either the
		// allocated tag or an allocation error; once it has a tag the
		// request is headed for the wire and needs a Tflush.
		select {
		case tag := <-req.tagCh:
			c.flush(tag)
		case <-req.err:
		case <-c.closed:
		}
		return nil, ctx.Err()
	}
}

// flush issues a Tflush for oldTag and waits (briefly) for the answer,
// swallowing any error: a flush that itself fails just means the
// connection is already on its way down.
func (c *Connection) flush(oldTag proto9.Tag) {
	freq := &callRequest{
		msg:      &proto9.Tflush{OldTag: oldTag},
		response: make(chan proto9.Msg, 1),
		err:      make(chan error, 1),
		tagCh:    make(chan proto9.Tag, 1),
	}
	select {
	case c.requests <- freq:
	case <-c.closed:
		return
	case <-time.After(flushTimeout):
		return
	}
	select {
	case <-freq.response:
	case <-freq.err:
	case <-c.closed:
	case <-time.After(flushTimeout):
	}
}

// run owns tag allocation, the outstanding-request table, and the
// read loop; it is the only goroutine that touches either.
func (c *Connection) run() {
	type inboundMsg struct {
		msg proto9.Msg
		tag proto9.Tag
		err error
	}

	incoming := make(chan inboundMsg)
	go func() {
		for {
			frame, err := c.reader.ReadFrame()
			if err != nil {
				select {
				case incoming <- inboundMsg{err: err}:
				case <-c.closed:
				}
				return
			}
			msg, err := proto9.UnpackMsg(frame.Raw)
			select {
			case incoming <- inboundMsg{msg: msg, tag: frame.Tag, err: err}:
			case <-c.closed:
				return
			}
		}
	}()

	outstanding := map[proto9.Tag]*callRequest{}
	// flushing maps a Tflush's own tag to the older tag it targets, so
	// that once the Tflush's response arrives the flushed tag can be
	// freed here too: the server never sends a reply for it directly
	// (it just deletes its own bookkeeping), so nothing else retires it.
	flushing := map[proto9.Tag]proto9.Tag{}
	var nextTag proto9.Tag

	allocate := func() (proto9.Tag, error) {
		if len(outstanding) >= 0xFFFE {
			return 0, errors.New("tag pool depleted")
		}
		for {
			nextTag++
			if nextTag == proto9.NOTAG {
				nextTag = 0
			}
			if _, ok := outstanding[nextTag]; !ok {
				return nextTag, nil
			}
		}
	}

	for {
		select {
		case req := <-c.requests:
			var tag proto9.Tag
			if _, isVersion := req.msg.(*proto9.Tversion); isVersion {
				// Tversion always carries NOTAG, per 9P2000 (and per
				// server9.handleVersion, which rejects anything else): it
				// precedes any other outstanding tag, so there is nothing
				// to allocate around.
				tag = proto9.NOTAG
			} else {
				var err error
				tag, err = allocate()
				if err != nil {
					req.err <- err
					continue
				}
			}
			outstanding[tag] = req
			req.tagCh <- tag
			if tflush, isFlush := req.msg.(*proto9.Tflush); isFlush {
				flushing[tag] = tflush.OldTag
			}

			proto9.SetTag(req.msg, tag)
			raw, err := proto9.PackMsg(c.outbuf, req.msg)
			if err != nil {
				delete(outstanding, tag)
				if oldTag, isFlush := flushing[tag]; isFlush {
					delete(flushing, tag)
					delete(outstanding, oldTag)
				}
				req.err <- err
				continue
			}
			c.writeMu.Lock()
			werr := framing.WriteFrame(c.rwc, raw)
			c.writeMu.Unlock()
			if werr != nil {
				delete(outstanding, tag)
				if oldTag, isFlush := flushing[tag]; isFlush {
					delete(flushing, tag)
					delete(outstanding, oldTag)
				}
				req.err <- werr
				c.fail(werr)
				return
			}

		case in := <-incoming:
			if in.err != nil {
				c.fail(in.err)
				return
			}
			req, ok := outstanding[in.tag]
			if !ok {
				// late response for a tag we already gave up on (flushed
				// away, or a stray from a misbehaving peer); drop it.
				continue
			}
			delete(outstanding, in.tag)
			if oldTag, isFlush := flushing[in.tag]; isFlush {
				delete(flushing, in.tag)
				delete(outstanding, oldTag)
			}
			req.response <- in.msg

		case <-c.closed:
			return
		}
	}
}
