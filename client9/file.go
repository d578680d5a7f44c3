package client9

import (
	"context"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/buppyio/ninep/proto9"
)

var ErrWalkFailed = errors.New("walk did not resolve the full path")

// Client is a convenience layer over Connection that manages fid
// allocation and offers path-based file operations, the way a 9P
// mount's consumer usually wants to work rather than juggling raw
// fids and Tmessages directly.
type Client struct {
	conn *Connection
	root proto9.Fid

	mu     sync.Mutex
	maxFid proto9.Fid
	fids   map[proto9.Fid]struct{}
}

// File is an open fid with a read/write cursor. Read, Write, ReadAt,
// WriteAt and Close take a context.Context, so File does not satisfy
// io.Reader, io.Writer or io.Closer; Seek matches io.Seeker.
type File struct {
	c      *Client
	Fid    proto9.Fid
	Iounit uint32
	offset uint64
}

// NewClient wraps an already-negotiated Connection.
func NewClient(conn *Connection) *Client {
	return &Client{conn: conn, fids: make(map[proto9.Fid]struct{})}
}

func (c *Client) nextFid() proto9.Fid {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		fid := c.maxFid
		c.maxFid++
		if fid == proto9.NOFID {
			continue
		}
		if _, ok := c.fids[fid]; ok {
			continue
		}
		c.fids[fid] = struct{}{}
		return fid
	}
}

func (c *Client) freeFid(fid proto9.Fid) {
	c.mu.Lock()
	delete(c.fids, fid)
	c.mu.Unlock()
}

func (c *Client) clunkFid(ctx context.Context, fid proto9.Fid) error {
	_, err := c.conn.Call(ctx, &proto9.Tclunk{Fid: fid})
	c.freeFid(fid)
	return err
}

// Attach issues Tattach for uname/aname and makes the resulting fid the
// client's walk root.
func (c *Client) Attach(ctx context.Context, uname, aname string) error {
	fid := c.nextFid()
	_, err := c.conn.Call(ctx, &proto9.Tattach{Fid: fid, Afid: proto9.NOFID, Uname: uname, Aname: aname})
	if err != nil {
		c.freeFid(fid)
		return err
	}
	c.root = fid
	return nil
}

func splitPath(p string) []string {
	p = path.Clean(p)
	if p == "." || p == "/" {
		return nil
	}
	names := strings.Split(p, "/")
	if len(names) != 0 && names[0] == "" {
		names = names[1:]
	}
	if len(names) != 0 && names[len(names)-1] == "" {
		names = names[:len(names)-1]
	}
	return names
}

func (c *Client) walk(ctx context.Context, p string) (proto9.Fid, error) {
	names := splitPath(p)
	fid := c.nextFid()
	resp, err := c.conn.Call(ctx, &proto9.Twalk{Fid: c.root, NewFid: fid, Names: names})
	if err != nil {
		c.freeFid(fid)
		return proto9.NOFID, err
	}
	rwalk, ok := resp.(*proto9.Rwalk)
	if !ok {
		c.freeFid(fid)
		return proto9.NOFID, ErrBadResponse
	}
	if len(rwalk.Qids) != len(names) {
		c.freeFid(fid)
		return proto9.NOFID, ErrWalkFailed
	}
	return fid, nil
}

// Open walks to path and opens it with mode.
func (c *Client) Open(ctx context.Context, p string, mode proto9.OpenMode) (*File, error) {
	fid, err := c.walk(ctx, p)
	if err != nil {
		return nil, err
	}
	resp, err := c.conn.Call(ctx, &proto9.Topen{Fid: fid, Mode: mode})
	if err != nil {
		c.clunkFid(ctx, fid)
		return nil, err
	}
	ropen, ok := resp.(*proto9.Ropen)
	if !ok {
		c.clunkFid(ctx, fid)
		return nil, ErrBadResponse
	}
	return &File{c: c, Fid: fid, Iounit: ropen.Iounit}, nil
}

// Create walks to the parent of fullpath and creates a new entry named
// by its final component.
func (c *Client) Create(ctx context.Context, fullpath string, perm proto9.FileMode, mode proto9.OpenMode) (*File, error) {
	name := path.Base(fullpath)
	dir := path.Dir(fullpath)
	fid, err := c.walk(ctx, dir)
	if err != nil {
		return nil, err
	}
	resp, err := c.conn.Call(ctx, &proto9.Tcreate{Fid: fid, Name: name, Perm: perm, Mode: mode})
	if err != nil {
		c.clunkFid(ctx, fid)
		return nil, err
	}
	rcreate, ok := resp.(*proto9.Rcreate)
	if !ok {
		c.clunkFid(ctx, fid)
		return nil, ErrBadResponse
	}
	return &File{c: c, Fid: fid, Iounit: rcreate.Iounit}, nil
}

// Mkdir creates fullpath as a directory and immediately clunks it.
func (c *Client) Mkdir(ctx context.Context, fullpath string, perm proto9.FileMode) error {
	f, err := c.Create(ctx, fullpath, perm|proto9.DMDIR, proto9.ORDWR)
	if err != nil {
		return err
	}
	return f.Close(ctx)
}

// Stat walks to path and returns its Stat without leaving a fid open.
func (c *Client) Stat(ctx context.Context, p string) (proto9.Stat, error) {
	fid, err := c.walk(ctx, p)
	if err != nil {
		return proto9.Stat{}, err
	}
	defer c.clunkFid(ctx, fid)
	resp, err := c.conn.Call(ctx, &proto9.Tstat{Fid: fid})
	if err != nil {
		return proto9.Stat{}, err
	}
	rstat, ok := resp.(*proto9.Rstat)
	if !ok {
		return proto9.Stat{}, ErrBadResponse
	}
	return rstat.Stat, nil
}

// Wstat walks to path and applies st to it.
func (c *Client) Wstat(ctx context.Context, p string, st proto9.Stat) error {
	fid, err := c.walk(ctx, p)
	if err != nil {
		return err
	}
	defer c.clunkFid(ctx, fid)
	_, err = c.conn.Call(ctx, &proto9.Twstat{Fid: fid, Stat: st})
	return err
}

// Remove walks to path and removes it, clunking the fid regardless of
// the remove's outcome (per 9P2000: Tremove always consumes the fid).
func (c *Client) Remove(ctx context.Context, p string) error {
	fid, err := c.walk(ctx, p)
	if err != nil {
		return err
	}
	_, err = c.conn.Call(ctx, &proto9.Tremove{Fid: fid})
	c.freeFid(fid)
	return err
}

// Ls opens path and reads it as a stream of Stat records.
func (c *Client) Ls(ctx context.Context, p string) ([]proto9.Stat, error) {
	f, err := c.Open(ctx, p, proto9.OREAD)
	if err != nil {
		return nil, err
	}
	defer f.Close(ctx)

	var stats []proto9.Stat
	offset := uint64(0)
	readSize := c.conn.MSize() - proto9.ReadOverhead
	for {
		data, err := f.readAt(ctx, offset, readSize)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			break
		}
		offset += uint64(len(data))
		for len(data) > 0 {
			var st proto9.Stat
			n, err := proto9.UnpackStat(data, &st)
			if err != nil {
				return nil, err
			}
			stats = append(stats, st)
			data = data[n:]
		}
	}
	return stats, nil
}

func (f *File) readAt(ctx context.Context, offset uint64, count uint32) ([]byte, error) {
	resp, err := f.c.conn.Call(ctx, &proto9.Tread{Fid: f.Fid, Offset: offset, Count: count})
	if err != nil {
		return nil, err
	}
	rread, ok := resp.(*proto9.Rread)
	if !ok {
		return nil, ErrBadResponse
	}
	if uint32(len(rread.Data)) > count {
		return nil, errors.New("server returned more data than requested")
	}
	return rread.Data, nil
}

// ReadAt reads into buf starting at offset, capped to the negotiated msize.
func (f *File) ReadAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	amnt := uint32(len(buf))
	if max := f.c.conn.MSize() - proto9.ReadOverhead; amnt > max {
		amnt = max
	}
	data, err := f.readAt(ctx, offset, amnt)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	return copy(buf, data), nil
}

// Read reads from the file's current cursor and advances it.
func (f *File) Read(ctx context.Context, buf []byte) (int, error) {
	n, err := f.ReadAt(ctx, f.offset, buf)
	f.offset += uint64(n)
	return n, err
}

// WriteAt writes buf at offset, splitting across multiple Twrite calls
// if it would overflow the negotiated msize.
func (f *File) WriteAt(ctx context.Context, offset uint64, buf []byte) (int, error) {
	n := 0
	for len(buf) != 0 {
		amnt := uint32(len(buf))
		if max := f.c.conn.MSize() - proto9.WriteOverhead; amnt > max {
			amnt = max
		}
		resp, err := f.c.conn.Call(ctx, &proto9.Twrite{Fid: f.Fid, Offset: offset + uint64(n), Data: buf[:amnt]})
		if err != nil {
			return n, err
		}
		rwrite, ok := resp.(*proto9.Rwrite)
		if !ok {
			return n, ErrBadResponse
		}
		buf = buf[rwrite.Count:]
		n += int(rwrite.Count)
	}
	return n, nil
}

// Write writes to the file's current cursor and advances it.
func (f *File) Write(ctx context.Context, buf []byte) (int, error) {
	n, err := f.WriteAt(ctx, f.offset, buf)
	f.offset += uint64(n)
	return n, err
}

// Seek repositions the cursor; only whence == io.SeekStart is supported,
// since 9P has no notion of the file's current size without a Stat.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return int64(f.offset), errors.New("client9: only io.SeekStart is supported")
	}
	f.offset = uint64(offset)
	return offset, nil
}

// Close clunks the file's fid.
func (f *File) Close(ctx context.Context) error {
	return f.c.clunkFid(ctx, f.Fid)
}
