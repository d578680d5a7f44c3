package server9

import (
	"context"

	"github.com/buppyio/ninep/proto9"
)

// dispatch routes one already-tag-checked request to its handler and
// always returns a response Msg (an Rerror on failure, never a Go
// error) so the caller can send it straight back to the client.
func (c *Connection) dispatch(ctx context.Context, tag proto9.Tag, msg proto9.Msg) proto9.Msg {
	switch msg := msg.(type) {
	case *proto9.Tattach:
		return c.handleAttach(ctx, msg)
	case *proto9.Tauth:
		return makeError(msg.Tag, ErrAuthNotSupported)
	case *proto9.Twalk:
		return c.handleWalk(msg)
	case *proto9.Topen:
		return c.handleOpen(ctx, msg)
	case *proto9.Tcreate:
		return c.handleCreate(ctx, msg)
	case *proto9.Tread:
		return c.handleRead(ctx, msg)
	case *proto9.Twrite:
		return c.handleWrite(ctx, msg)
	case *proto9.Tclunk:
		return c.handleClunk(msg)
	case *proto9.Tremove:
		return c.handleRemove(ctx, msg)
	case *proto9.Tstat:
		return c.handleStat(msg)
	case *proto9.Twstat:
		return c.handleWStat(ctx, msg)
	default:
		return makeError(tag, &proto9.ProtocolViolationError{Reason: "unexpected message type " + msg.MsgType().String()})
	}
}

func (c *Connection) handleVersion(msg *proto9.Tversion) proto9.Msg {
	if msg.Tag != proto9.NOTAG {
		return makeError(msg.Tag, ErrBadTag)
	}

	negotiated := c.opts.MaxMessageSize
	if msg.MessageSize < negotiated {
		negotiated = msg.MessageSize
	}
	c.negMessageSize = negotiated
	c.reader.SetMSize(negotiated)
	c.outbuf = make([]byte, negotiated)

	// A Tversion clears all outstanding fids, per 9P2000: it may arrive
	// mid-connection as a "tombstone" that resets session state without
	// tearing down the transport.
	c.fidsMu.Lock()
	c.fids = make(map[proto9.Fid]Handle)
	c.fidsMu.Unlock()

	c.state = stateVersioned

	version := msg.Version
	if version != proto9.Version {
		version = proto9.UnknownVersion
	}
	return &proto9.Rversion{Tag: msg.Tag, MessageSize: negotiated, Version: version}
}

func (c *Connection) addFid(fid proto9.Fid, h Handle) error {
	if fid == proto9.NOFID {
		return ErrBadFid
	}
	c.fidsMu.Lock()
	defer c.fidsMu.Unlock()
	if _, ok := c.fids[fid]; ok {
		return ErrFidInUse
	}
	c.fids[fid] = h
	return nil
}

func (c *Connection) getFid(fid proto9.Fid) (Handle, bool) {
	c.fidsMu.Lock()
	defer c.fidsMu.Unlock()
	h, ok := c.fids[fid]
	return h, ok
}

func (c *Connection) dropFid(fid proto9.Fid) {
	c.fidsMu.Lock()
	delete(c.fids, fid)
	c.fidsMu.Unlock()
}

func (c *Connection) handleAttach(ctx context.Context, msg *proto9.Tattach) proto9.Msg {
	if msg.Afid != proto9.NOFID {
		return makeError(msg.Tag, ErrAuthNotSupported)
	}
	if c.opts.Attach == nil {
		return makeError(msg.Tag, ErrInvalidMount)
	}

	root, err := c.opts.Attach(ctx, msg.Aname, msg.Uname)
	if err != nil {
		return makeError(msg.Tag, err)
	}
	fh, err := root.NewHandle()
	if err != nil {
		return makeError(msg.Tag, err)
	}
	if err := c.addFid(msg.Fid, fh); err != nil {
		return makeError(msg.Tag, err)
	}
	qid, err := root.Qid()
	if err != nil {
		c.dropFid(msg.Fid)
		return makeError(msg.Tag, err)
	}
	c.attached.Store(true)
	return &proto9.Rattach{Tag: msg.Tag, Qid: qid}
}

func (c *Connection) handleWalk(msg *proto9.Twalk) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	f, wqids, err := fh.Twalk(msg)
	if err != nil {
		return makeError(msg.Tag, err)
	}
	if f == nil {
		return &proto9.Rwalk{Tag: msg.Tag, Qids: wqids}
	}

	newfh, err := f.NewHandle()
	if err != nil {
		return makeError(msg.Tag, err)
	}
	if msg.NewFid == msg.Fid {
		fh.Clunk()
		c.dropFid(msg.Fid)
	}
	if err := c.addFid(msg.NewFid, newfh); err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Rwalk{Tag: msg.Tag, Qids: wqids}
}

func (c *Connection) handleOpen(ctx context.Context, msg *proto9.Topen) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	qid, err := fh.Topen(ctx, msg)
	if err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Ropen{Tag: msg.Tag, Qid: qid, Iounit: fh.GetIounit(c.negMessageSize)}
}

func (c *Connection) handleCreate(ctx context.Context, msg *proto9.Tcreate) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	if !validFileName(msg.Name) {
		return makeError(msg.Tag, ErrBadPath)
	}
	newHandle, err := fh.Tcreate(ctx, msg)
	if err != nil {
		return makeError(msg.Tag, err)
	}
	f, err := newHandle.GetFile()
	if err != nil {
		return makeError(msg.Tag, err)
	}
	qid, err := f.Qid()
	if err != nil {
		return makeError(msg.Tag, err)
	}
	fh.Clunk()
	c.fidsMu.Lock()
	c.fids[msg.Fid] = newHandle
	c.fidsMu.Unlock()
	return &proto9.Rcreate{Tag: msg.Tag, Qid: qid, Iounit: newHandle.GetIounit(c.negMessageSize)}
}

func (c *Connection) handleRead(ctx context.Context, msg *proto9.Tread) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	nbytes := uint64(msg.Count)
	maxbytes := uint64(c.negMessageSize - proto9.ReadOverhead)
	if nbytes > maxbytes {
		nbytes = maxbytes
	}
	buf := make([]byte, nbytes)
	n, err := fh.Tread(ctx, msg, buf)
	if err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Rread{Tag: msg.Tag, Data: buf[0:n]}
}

func (c *Connection) handleWrite(ctx context.Context, msg *proto9.Twrite) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	n, err := fh.Twrite(ctx, msg)
	if err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Rwrite{Tag: msg.Tag, Count: n}
}

func (c *Connection) handleClunk(msg *proto9.Tclunk) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	c.dropFid(msg.Fid)
	if err := fh.Clunk(); err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Rclunk{Tag: msg.Tag}
}

func (c *Connection) handleRemove(ctx context.Context, msg *proto9.Tremove) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	c.dropFid(msg.Fid)
	if err := fh.Tremove(ctx, msg); err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Rremove{Tag: msg.Tag}
}

func (c *Connection) handleStat(msg *proto9.Tstat) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	st, err := fh.Tstat(msg)
	if err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Rstat{Tag: msg.Tag, Stat: st}
}

func (c *Connection) handleWStat(ctx context.Context, msg *proto9.Twstat) proto9.Msg {
	fh, ok := c.getFid(msg.Fid)
	if !ok {
		return makeError(msg.Tag, ErrNoSuchFid)
	}
	if msg.Stat.Name != "" && !validFileName(msg.Stat.Name) {
		return makeError(msg.Tag, ErrBadPath)
	}
	if err := fh.Twstat(ctx, msg); err != nil {
		return makeError(msg.Tag, err)
	}
	return &proto9.Rwstat{Tag: msg.Tag}
}
