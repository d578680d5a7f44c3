// Package server9 implements the server side of 9P2000 (C4): version
// and attach handshake, a concurrent per-request dispatcher, and
// serialized writes back to the client. The per-fid bookkeeping and
// message handlers are adapted from the synchronous single-goroutine
// server this engine grew out of; the dispatch loop generalizes that
// server's Serve method into the concurrent read/handle/write
// pipeline a production 9P server needs so a slow or blocked request
// never stalls the rest of the connection.
package server9

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/buppyio/ninep/proto9"
)

var (
	ErrNoSuchFid        = errors.New("no such fid")
	ErrFidInUse         = errors.New("fid in use")
	ErrBadFid           = errors.New("bad fid")
	ErrBadTag           = errors.New("bad tag")
	ErrBadPath          = errors.New("bad path")
	ErrNotDir           = errors.New("not a directory path")
	ErrNotExist         = errors.New("no such file")
	ErrFileNotOpen      = errors.New("file not open")
	ErrFileAlreadyOpen  = errors.New("file already open")
	ErrAuthNotSupported = errors.New("auth not supported")
	ErrInvalidMount     = errors.New("invalid mount")
	ErrTooManyNames     = errors.New("too many names in walk")
)

// File identifies a node in the served tree independent of any
// particular client's fid. It is the unit Walk operates over.
type File interface {
	Parent() (File, error)
	Child(name string) (File, error)
	Qid() (proto9.Qid, error)
	Stat() (proto9.Stat, error)
	NewHandle() (Handle, error)
}

// Handle is the per-fid session state a backend keeps: an open (or
// not-yet-opened) reference to a File plus enough context to answer
// every T-message that names a fid.
type Handle interface {
	GetFile() (File, error)
	GetIounit(maxMessageSize uint32) uint32
	Twalk(msg *proto9.Twalk) (File, []proto9.Qid, error)
	Topen(ctx context.Context, msg *proto9.Topen) (proto9.Qid, error)
	Tread(ctx context.Context, msg *proto9.Tread, buf []byte) (uint32, error)
	Twrite(ctx context.Context, msg *proto9.Twrite) (uint32, error)
	Tcreate(ctx context.Context, msg *proto9.Tcreate) (Handle, error)
	Twstat(ctx context.Context, msg *proto9.Twstat) error
	Tremove(ctx context.Context, msg *proto9.Tremove) error
	Tstat(msg *proto9.Tstat) (proto9.Stat, error)
	Clunk() error
}

// AttachFunc resolves a Tattach into the root File of the tree named
// by aname, for the given uname. It is the server's answer to the
// "what Qid does attaching give you" open question: a demo backend
// derives a stable root Qid from aname; a real backend might check
// uname against an authorizer.
type AttachFunc func(ctx context.Context, aname, uname string) (File, error)

// Walk resolves names against f one element at a time, stopping at the
// first name that does not exist (per 9P2000's partial-walk rule: a
// Twalk that fails partway returns the Qids collected so far and no
// error, unless it fails on the very first element).
func Walk(f File, names []string) (File, []proto9.Qid, error) {
	if len(names) > proto9.MaxWalkNames {
		return nil, nil, ErrTooManyNames
	}

	var werr error
	wqids := make([]proto9.Qid, 0, len(names))

	i := 0
	name := ""
	for i, name = range names {
		if name == "." || name == "" || strings.Contains(name, "/") {
			return nil, nil, ErrBadPath
		}
		if name == ".." {
			parent, err := f.Parent()
			if err != nil {
				return nil, nil, err
			}
			qid, err := parent.Qid()
			if err != nil {
				return nil, nil, err
			}
			f = parent
			wqids = append(wqids, qid)
			continue
		}
		qid, err := f.Qid()
		if err != nil {
			return nil, nil, err
		}
		if !qid.IsDir() {
			werr = ErrNotDir
			goto walkerr
		}
		child, err := f.Child(name)
		if err != nil {
			if err == ErrNotExist {
				werr = ErrNotExist
				goto walkerr
			}
			return nil, nil, err
		}
		childQid, err := child.Qid()
		if err != nil {
			return nil, nil, err
		}
		f = child
		wqids = append(wqids, childQid)
	}
	return f, wqids, nil

walkerr:
	if i == 0 {
		return nil, nil, werr
	}
	return nil, wqids, nil
}

func validFileName(name string) bool {
	if strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	return name != ".." && name != "." && name != ""
}

func makeError(tag proto9.Tag, err error) *proto9.Rerror {
	return &proto9.Rerror{Tag: tag, Err: err.Error()}
}
