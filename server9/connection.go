package server9

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/buppyio/ninep/framing"
	"github.com/buppyio/ninep/proto9"
)

// Options configures a Connection. Zero values fall back to sane
// defaults via defaultOptions.
type Options struct {
	// MaxMessageSize is the ceiling this server will ever negotiate
	// down to, regardless of what the client proposes in Tversion.
	MaxMessageSize uint32
	// MaxConcurrentRequests bounds how many non-flush requests this
	// connection will run handlers for at once; excess requests queue
	// behind the semaphore rather than spawning unbounded goroutines.
	MaxConcurrentRequests int64
	// Attach resolves a Tattach into a root File.
	Attach AttachFunc
	// Logger receives structured per-request log entries. Defaults to
	// logrus.StandardLogger() if nil.
	Logger logrus.FieldLogger
}

const defaultMaxMessageSize = 131072

func defaultOptions(opts Options) Options {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	if opts.MaxConcurrentRequests == 0 {
		opts.MaxConcurrentRequests = 64
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return opts
}

type connState int

const (
	stateInit connState = iota
	stateVersioned
	stateShutdown
)

// activeRequest tracks one in-flight (non-flush) request so a later
// Tflush can cancel it and so the completion side can tell a canceled
// response apart from one that should still be sent.
type activeRequest struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Connection drives one 9P2000 session: a version/attach handshake
// followed by concurrently dispatched requests with serialized writes
// back to the client, until the transport closes or ctx is canceled.
type Connection struct {
	id  uuid.UUID
	log logrus.FieldLogger

	opts Options
	sem  *semaphore.Weighted

	rwc    io.ReadWriteCloser
	reader *framing.Reader

	writeMu sync.Mutex
	outbuf  []byte

	negMessageSize uint32
	state          connState
	attached       atomic.Bool

	fidsMu sync.Mutex
	fids   map[proto9.Fid]Handle

	metrics *metrics

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection wraps rwc as a server-side 9P2000 session. Nothing is
// read or written until Serve is called.
func NewConnection(rwc io.ReadWriteCloser, opts Options) *Connection {
	opts = defaultOptions(opts)
	id := uuid.New()
	return &Connection{
		id:             id,
		log:            opts.Logger.WithField("conn", id.String()),
		opts:           opts,
		sem:            semaphore.NewWeighted(opts.MaxConcurrentRequests),
		rwc:            rwc,
		reader:         framing.NewReader(rwc, opts.MaxMessageSize),
		outbuf:         make([]byte, opts.MaxMessageSize),
		negMessageSize: opts.MaxMessageSize,
		fids:           make(map[proto9.Fid]Handle),
		metrics:        newMetrics(),
		closed:         make(chan struct{}),
	}
}

// Close tears down the connection's transport. Safe to call more than
// once and concurrently with Serve.
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

// Serve runs the connection's dispatch loop until the transport errors,
// ctx is canceled, or Close is called. It returns nil once the
// connection has been closed (by Close or after a failed write),
// ctx.Err() if ctx was canceled, and otherwise the error that ended the
// connection; a client disconnect is a *proto9.TransportError wrapping
// io.EOF.
func (c *Connection) Serve(ctx context.Context) error {
	defer c.Close()
	defer func() {
		p50, p99, p999 := c.metrics.LatencyPercentiles()
		c.log.WithField("p50_us", p50).WithField("p99_us", p99).WithField("p999_us", p999).Debug("connection latency")
	}()

	type inbound struct {
		msg proto9.Msg
		tag proto9.Tag
		err error
	}

	requests := make(chan inbound)
	responses := make(chan proto9.Msg)
	completed := make(chan proto9.Msg)

	go func() {
		for {
			frame, err := c.reader.ReadFrame()
			if err != nil {
				select {
				case requests <- inbound{err: err}:
				case <-ctx.Done():
				case <-c.closed:
				}
				return
			}
			msg, err := proto9.UnpackMsg(frame.Raw)
			if errors.Is(err, proto9.ErrBuffTooSmall) {
				// The frame and its tag arrived whole; only the body is
				// short, so the request can still be answered with Rerror.
				err = &proto9.MalformedError{Reason: "truncated body", Fatal: false, Err: err}
			}
			select {
			case requests <- inbound{msg: msg, tag: frame.Tag, err: err}:
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case resp := <-responses:
				raw, err := proto9.PackMsg(c.outbuf, resp)
				if err != nil {
					c.log.WithError(err).Error("packing response")
					c.Close()
					return
				}
				c.writeMu.Lock()
				err = framing.WriteFrame(c.rwc, raw)
				c.writeMu.Unlock()
				if err != nil {
					c.log.WithError(err).Error("writing response")
					c.Close()
					return
				}
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			}
		}
	}()

	tags := map[proto9.Tag]*activeRequest{}

	for {
		select {
		case in := <-requests:
			if in.err != nil {
				var malformed *proto9.MalformedError
				if errors.As(in.err, &malformed) && !malformed.Fatal {
					select {
					case responses <- makeError(in.tag, in.err):
					case <-ctx.Done():
						return ctx.Err()
					case <-c.closed:
						return nil
					}
					continue
				}
				return in.err
			}
			if in.msg == nil {
				continue
			}

			if tflush, ok := in.msg.(*proto9.Tflush); ok {
				active, ok := tags[tflush.OldTag]
				var resp proto9.Msg
				if ok {
					active.cancel()
					delete(tags, tflush.OldTag)
					resp = &proto9.Rflush{Tag: in.tag}
				} else {
					resp = makeError(in.tag, &proto9.UnknownTagError{Tag: tflush.OldTag})
				}
				select {
				case responses <- resp:
				case <-ctx.Done():
					return ctx.Err()
				case <-c.closed:
					return nil
				}
				continue
			}

			if _, dup := tags[in.tag]; dup {
				select {
				case responses <- makeError(in.tag, ErrBadTag):
				case <-ctx.Done():
					return ctx.Err()
				case <-c.closed:
					return nil
				}
				continue
			}

			if tversion, ok := in.msg.(*proto9.Tversion); ok {
				select {
				case responses <- c.handleVersion(tversion):
				case <-ctx.Done():
					return ctx.Err()
				case <-c.closed:
					return nil
				}
				continue
			}

			if c.state != stateVersioned {
				violation := &proto9.ProtocolViolationError{Reason: "message before Tversion"}
				select {
				case responses <- makeError(in.tag, violation):
				case <-ctx.Done():
					return ctx.Err()
				case <-c.closed:
					return nil
				}
				return violation
			}

			if !in.msg.MsgType().IsTRequest() {
				violation := &proto9.ProtocolViolationError{Reason: "unexpected message type " + in.msg.MsgType().String()}
				select {
				case responses <- makeError(in.tag, violation):
				case <-ctx.Done():
					return ctx.Err()
				case <-c.closed:
					return nil
				}
				return violation
			}

			switch in.msg.(type) {
			case *proto9.Tattach, *proto9.Tauth:
			default:
				if !c.attached.Load() {
					violation := &proto9.ProtocolViolationError{Reason: "message before Tattach"}
					select {
					case responses <- makeError(in.tag, violation):
					case <-ctx.Done():
						return ctx.Err()
					case <-c.closed:
						return nil
					}
					return violation
				}
			}

			reqCtx, cancel := context.WithCancel(ctx)
			tags[in.tag] = &activeRequest{ctx: reqCtx, cancel: cancel}

			if err := c.sem.Acquire(reqCtx, 1); err != nil {
				delete(tags, in.tag)
				cancel()
				select {
				case responses <- makeError(in.tag, err):
				case <-ctx.Done():
					return ctx.Err()
				case <-c.closed:
					return nil
				}
				continue
			}

			go func(reqCtx context.Context, tag proto9.Tag, msg proto9.Msg) {
				start := time.Now()
				c.metrics.inc()
				resp := c.dispatch(reqCtx, tag, msg)
				// Release before handing resp back: the dispatch loop may
				// itself be blocked in Acquire and not yet reading completed.
				c.sem.Release(1)
				c.metrics.dec()
				_, isErr := resp.(*proto9.Rerror)
				c.metrics.observe(msg.MsgType().String(), !isErr, time.Since(start))

				select {
				case completed <- resp:
				case <-reqCtx.Done():
				case <-c.closed:
				}
			}(reqCtx, in.tag, in.msg)

		case resp := <-completed:
			tag := proto9.GetTag(resp)
			active, ok := tags[tag]
			if !ok {
				continue
			}
			select {
			case responses <- resp:
			case <-active.ctx.Done():
				// flushed or connection canceled while this response was
				// queued; the client no longer expects an answer for tag.
			}
			delete(tags, tag)

		case <-ctx.Done():
			return ctx.Err()
		case <-c.closed:
			return nil
		}
	}
}
