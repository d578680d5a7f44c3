package demofs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/buppyio/ninep/proto9"
	"github.com/buppyio/ninep/server9"
)

var (
	ErrReadOnly    = errors.New("demofs: read only")
	ErrIsDir       = errors.New("demofs: is a directory")
	ErrNotAFile    = errors.New("demofs: not a file")
	ErrBadOffset   = errors.New("demofs: non-sequential directory read")
	ErrNameInUse   = errors.New("demofs: name already exists")
	ErrUnknownRoot = errors.New("demofs: no tree registered for that aname")
)

// node is one file or directory in the in-memory tree. A single mutex
// per node is enough concurrency control for a demo backend; a real
// filesystem would shard or avoid locking data at this granularity.
type node struct {
	mu       sync.RWMutex
	name     string
	fullPath string
	parent   *node
	isDir    bool
	mode     proto9.FileMode
	data     []byte
	children map[string]*node
	qid      proto9.Qid
	version  uint32
}

// FS is one named tree plus its Qid.Path allocator.
type FS struct {
	allocator *QidAllocator
	mu        sync.RWMutex
	roots     map[string]*node
}

// New builds an FS with a single root tree registered under aname "",
// which Attach treats as the default mount.
func New(allocator *QidAllocator) (*FS, error) {
	fs := &FS{allocator: allocator, roots: make(map[string]*node)}
	root, err := fs.newNode(nil, "", true, proto9.DMDIR|0755)
	if err != nil {
		return nil, err
	}
	fs.roots[""] = root
	return fs, nil
}

func (fs *FS) newNode(parent *node, name string, isDir bool, mode proto9.FileMode) (*node, error) {
	full := "/" + name
	if parent != nil {
		full = path.Join(parent.fullPath, name)
	}
	qpath, err := fs.allocator.PathFor(full)
	if err != nil {
		return nil, err
	}
	qtype := proto9.QTFILE
	if isDir {
		qtype = proto9.QTDIR
		mode |= proto9.DMDIR
	}
	n := &node{
		name:     name,
		fullPath: full,
		parent:   parent,
		isDir:    isDir,
		mode:     mode,
		qid:      proto9.Qid{Type: qtype, Version: 0, Path: qpath},
	}
	if isDir {
		n.children = make(map[string]*node)
	}
	return n, nil
}

// Attach implements server9.AttachFunc: aname selects a registered
// root tree (the empty string is the default), uname is accepted but
// not otherwise authorized by this reference backend.
func (fs *FS) Attach(ctx context.Context, aname, uname string) (server9.File, error) {
	fs.mu.RLock()
	root, ok := fs.roots[aname]
	fs.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownRoot
	}
	return &file{fs: fs, n: root}, nil
}

// file adapts a node to server9.File; it is recreated on every Walk
// step rather than cached, mirroring cmd/bpy/p9/files.go's walk-time
// File construction.
type file struct {
	fs *FS
	n  *node
}

func (f *file) Parent() (server9.File, error) {
	if f.n.parent == nil {
		return f, nil
	}
	return &file{fs: f.fs, n: f.n.parent}, nil
}

func (f *file) Child(name string) (server9.File, error) {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	if !f.n.isDir {
		return nil, server9.ErrNotDir
	}
	child, ok := f.n.children[name]
	if !ok {
		return nil, server9.ErrNotExist
	}
	return &file{fs: f.fs, n: child}, nil
}

func (f *file) Qid() (proto9.Qid, error) {
	f.n.mu.RLock()
	defer f.n.mu.RUnlock()
	return f.n.qid, nil
}

func (f *file) Stat() (proto9.Stat, error) {
	return f.n.stat(), nil
}

func (n *node) stat() proto9.Stat {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return proto9.Stat{
		Qid:    n.qid,
		Mode:   n.mode,
		Length: uint64(len(n.data)),
		Name:   n.name,
		Uid:    "demo",
		Gid:    "demo",
		Muid:   "demo",
	}
}

func (f *file) NewHandle() (server9.Handle, error) {
	if f.n.isDir {
		return &dirHandle{file: f}, nil
	}
	return &fileHandle{file: f}, nil
}

// dirHandle serves Twalk/Topen/Tread/Tcreate for a directory fid.
type dirHandle struct {
	file   *file
	offset uint64
	stats  []proto9.Stat
}

func (d *dirHandle) GetFile() (server9.File, error) { return d.file, nil }
func (d *dirHandle) GetIounit(uint32) uint32         { return 0 }

func (d *dirHandle) Twalk(msg *proto9.Twalk) (server9.File, []proto9.Qid, error) {
	return server9.Walk(d.file, msg.Names)
}

func (d *dirHandle) Topen(ctx context.Context, msg *proto9.Topen) (proto9.Qid, error) {
	return d.file.n.qid, nil
}

func (d *dirHandle) Tread(ctx context.Context, msg *proto9.Tread, buf []byte) (uint32, error) {
	if msg.Offset == 0 {
		d.file.n.mu.RLock()
		names := make([]string, 0, len(d.file.n.children))
		for name := range d.file.n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		stats := make([]proto9.Stat, 0, len(names))
		for _, name := range names {
			stats = append(stats, d.file.n.children[name].stat())
		}
		d.file.n.mu.RUnlock()
		d.stats = stats
		d.offset = 0
	}
	if msg.Offset != d.offset {
		return 0, ErrBadOffset
	}

	n := uint32(0)
	for len(d.stats) != 0 {
		cur := d.stats[0]
		statlen := uint32(proto9.StatLen(&cur))
		if uint64(n+statlen) > uint64(len(buf)) {
			if n == 0 {
				return 0, proto9.ErrBuffTooSmall
			}
			break
		}
		if _, err := proto9.PackStat(buf[n:n+statlen], &cur); err != nil {
			return 0, err
		}
		n += statlen
		d.stats = d.stats[1:]
	}
	d.offset += uint64(n)
	return n, nil
}

func (d *dirHandle) Twrite(ctx context.Context, msg *proto9.Twrite) (uint32, error) {
	return 0, ErrIsDir
}

func (d *dirHandle) Tcreate(ctx context.Context, msg *proto9.Tcreate) (server9.Handle, error) {
	n := d.file.n
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.children[msg.Name]; exists {
		return nil, ErrNameInUse
	}
	child, err := d.file.fs.newNode(n, msg.Name, msg.Perm&proto9.DMDIR != 0, msg.Perm)
	if err != nil {
		return nil, err
	}
	n.children[msg.Name] = child
	cf := &file{fs: d.file.fs, n: child}
	if child.isDir {
		return &dirHandle{file: cf}, nil
	}
	return &fileHandle{file: cf}, nil
}

func (d *dirHandle) Twstat(ctx context.Context, msg *proto9.Twstat) error {
	return applyWstat(d.file.n, &msg.Stat)
}

func (d *dirHandle) Tremove(ctx context.Context, msg *proto9.Tremove) error {
	return removeNode(d.file.n)
}

func (d *dirHandle) Tstat(msg *proto9.Tstat) (proto9.Stat, error) {
	return d.file.n.stat(), nil
}

func (d *dirHandle) Clunk() error { return nil }

// fileHandle serves Topen/Tread/Twrite/Tcreate for a plain file fid.
type fileHandle struct {
	file   *file
	opened bool
	mode   proto9.OpenMode
}

func (fh *fileHandle) GetFile() (server9.File, error) { return fh.file, nil }
func (fh *fileHandle) GetIounit(uint32) uint32         { return 0 }

func (fh *fileHandle) Twalk(msg *proto9.Twalk) (server9.File, []proto9.Qid, error) {
	if len(msg.Names) == 0 {
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("%s: %w", fh.file.n.fullPath, ErrNotAFile)
}

func (fh *fileHandle) Topen(ctx context.Context, msg *proto9.Topen) (proto9.Qid, error) {
	fh.opened = true
	fh.mode = msg.Mode
	if msg.Mode&proto9.OTRUNC != 0 {
		fh.file.n.mu.Lock()
		fh.file.n.data = nil
		fh.file.n.mu.Unlock()
	}
	return fh.file.n.qid, nil
}

func (fh *fileHandle) Tread(ctx context.Context, msg *proto9.Tread, buf []byte) (uint32, error) {
	n := fh.file.n
	n.mu.RLock()
	defer n.mu.RUnlock()
	if msg.Offset >= uint64(len(n.data)) {
		return 0, nil
	}
	return uint32(copy(buf, n.data[msg.Offset:])), nil
}

func (fh *fileHandle) Twrite(ctx context.Context, msg *proto9.Twrite) (uint32, error) {
	n := fh.file.n
	n.mu.Lock()
	defer n.mu.Unlock()
	end := msg.Offset + uint64(len(msg.Data))
	if end > uint64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[msg.Offset:], msg.Data)
	n.version++
	n.qid.Version = n.version
	return uint32(len(msg.Data)), nil
}

func (fh *fileHandle) Tcreate(ctx context.Context, msg *proto9.Tcreate) (server9.Handle, error) {
	return nil, ErrNotAFile
}

func (fh *fileHandle) Twstat(ctx context.Context, msg *proto9.Twstat) error {
	return applyWstat(fh.file.n, &msg.Stat)
}

func (fh *fileHandle) Tremove(ctx context.Context, msg *proto9.Tremove) error {
	return removeNode(fh.file.n)
}

func (fh *fileHandle) Tstat(msg *proto9.Tstat) (proto9.Stat, error) {
	return fh.file.n.stat(), nil
}

func (fh *fileHandle) Clunk() error { return nil }

// wstatNoChange is the 9P2000 convention for "leave this field alone"
// on a Twstat: a Stat value built by subtracting out every field the
// client doesn't want to set.
const wstatNoChangeU32 = ^uint32(0)
const wstatNoChangeU64 = ^uint64(0)

func applyWstat(n *node, st *proto9.Stat) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if st.Name != "" {
		if n.parent != nil {
			n.parent.mu.Lock()
			delete(n.parent.children, n.name)
			n.parent.children[st.Name] = n
			n.parent.mu.Unlock()
		}
		n.name = st.Name
	}
	if uint32(st.Mode) != wstatNoChangeU32 {
		n.mode = st.Mode
	}
	if st.Length != wstatNoChangeU64 && !n.isDir {
		if uint64(len(n.data)) > st.Length {
			n.data = n.data[:st.Length]
		}
	}
	return nil
}

func removeNode(n *node) error {
	if n.parent == nil {
		return errors.New("demofs: cannot remove root")
	}
	n.parent.mu.Lock()
	defer n.parent.mu.Unlock()
	delete(n.parent.children, n.name)
	return nil
}
