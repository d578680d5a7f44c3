package proto9

import "github.com/pkg/errors"

// Msg is implemented by every 9P2000 message body. PackMsg/UnpackMsg
// handle the outer {size, type, tag} frame; a Msg only knows how to
// size and pack its own body.
type Msg interface {
	MsgType() MessageType
	WireLen() int
	PackBody([]byte)
}

// GetTag returns the transaction tag carried by any Msg. All concrete
// message types embed a Tag field; this is implemented per type rather
// than via a shared base struct so each stays a plain value type.
func GetTag(m Msg) Tag {
	switch m := m.(type) {
	case *Tversion:
		return m.Tag
	case *Rversion:
		return m.Tag
	case *Tauth:
		return m.Tag
	case *Rauth:
		return m.Tag
	case *Tattach:
		return m.Tag
	case *Rattach:
		return m.Tag
	case *Rerror:
		return m.Tag
	case *Tflush:
		return m.Tag
	case *Rflush:
		return m.Tag
	case *Twalk:
		return m.Tag
	case *Rwalk:
		return m.Tag
	case *Topen:
		return m.Tag
	case *Ropen:
		return m.Tag
	case *Tcreate:
		return m.Tag
	case *Rcreate:
		return m.Tag
	case *Tread:
		return m.Tag
	case *Rread:
		return m.Tag
	case *Twrite:
		return m.Tag
	case *Rwrite:
		return m.Tag
	case *Tclunk:
		return m.Tag
	case *Rclunk:
		return m.Tag
	case *Tremove:
		return m.Tag
	case *Rremove:
		return m.Tag
	case *Tstat:
		return m.Tag
	case *Rstat:
		return m.Tag
	case *Twstat:
		return m.Tag
	case *Rwstat:
		return m.Tag
	default:
		return NOTAG
	}
}

// SetTag overwrites the transaction tag carried by m. client9 uses this
// to stamp its allocated tag onto a caller-built Msg just before
// writing it; GetTag on the same value then returns the new tag.
func SetTag(m Msg, tag Tag) {
	switch m := m.(type) {
	case *Tversion:
		m.Tag = tag
	case *Rversion:
		m.Tag = tag
	case *Tauth:
		m.Tag = tag
	case *Rauth:
		m.Tag = tag
	case *Tattach:
		m.Tag = tag
	case *Rattach:
		m.Tag = tag
	case *Rerror:
		m.Tag = tag
	case *Tflush:
		m.Tag = tag
	case *Rflush:
		m.Tag = tag
	case *Twalk:
		m.Tag = tag
	case *Rwalk:
		m.Tag = tag
	case *Topen:
		m.Tag = tag
	case *Ropen:
		m.Tag = tag
	case *Tcreate:
		m.Tag = tag
	case *Rcreate:
		m.Tag = tag
	case *Tread:
		m.Tag = tag
	case *Rread:
		m.Tag = tag
	case *Twrite:
		m.Tag = tag
	case *Rwrite:
		m.Tag = tag
	case *Tclunk:
		m.Tag = tag
	case *Rclunk:
		m.Tag = tag
	case *Tremove:
		m.Tag = tag
	case *Rremove:
		m.Tag = tag
	case *Tstat:
		m.Tag = tag
	case *Rstat:
		m.Tag = tag
	case *Twstat:
		m.Tag = tag
	case *Rwstat:
		m.Tag = tag
	}
}

// PackMsg encodes msg's outer frame plus body into buf, which must be at
// least msg.WireLen() bytes, and returns the packed slice.
func PackMsg(buf []byte, msg Msg) ([]byte, error) {
	nreq := msg.WireLen()
	if len(buf) < nreq {
		return nil, ErrBuffTooSmall
	}
	putUint32(buf, uint32(nreq))
	buf[4] = byte(msg.MsgType())
	msg.PackBody(buf[HeaderSize:nreq])
	return buf[0:nreq], nil
}

// UnpackMsg decodes one complete framed message from the front of buf.
// buf must contain exactly one frame (its first 4 bytes must equal
// len(buf)); framing.Reader guarantees this before calling UnpackMsg.
func UnpackMsg(buf []byte) (Msg, error) {
	if len(buf) < HeaderSize+2 {
		return nil, ErrBuffTooSmall
	}
	mtype := MessageType(buf[4])
	body := buf[HeaderSize:]

	tag, rest, err := getUint16(body)
	if err != nil {
		return nil, err
	}

	switch mtype {
	case Mt_Tversion:
		return unpackTversion(Tag(tag), rest)
	case Mt_Rversion:
		return unpackRversion(Tag(tag), rest)
	case Mt_Tauth:
		return unpackTauth(Tag(tag), rest)
	case Mt_Rauth:
		return unpackRauth(Tag(tag), rest)
	case Mt_Tattach:
		return unpackTattach(Tag(tag), rest)
	case Mt_Rattach:
		return unpackRattach(Tag(tag), rest)
	case Mt_Rerror:
		return unpackRerror(Tag(tag), rest)
	case Mt_Tflush:
		return unpackTflush(Tag(tag), rest)
	case Mt_Rflush:
		return &Rflush{Tag: Tag(tag)}, nil
	case Mt_Twalk:
		return unpackTwalk(Tag(tag), rest)
	case Mt_Rwalk:
		return unpackRwalk(Tag(tag), rest)
	case Mt_Topen:
		return unpackTopen(Tag(tag), rest)
	case Mt_Ropen:
		return unpackRopen(Tag(tag), rest)
	case Mt_Tcreate:
		return unpackTcreate(Tag(tag), rest)
	case Mt_Rcreate:
		return unpackRcreate(Tag(tag), rest)
	case Mt_Tread:
		return unpackTread(Tag(tag), rest)
	case Mt_Rread:
		return unpackRread(Tag(tag), rest)
	case Mt_Twrite:
		return unpackTwrite(Tag(tag), rest)
	case Mt_Rwrite:
		return unpackRwrite(Tag(tag), rest)
	case Mt_Tclunk:
		fid, err := getFid(rest)
		if err != nil {
			return nil, err
		}
		return &Tclunk{Tag: Tag(tag), Fid: fid}, nil
	case Mt_Rclunk:
		return &Rclunk{Tag: Tag(tag)}, nil
	case Mt_Tremove:
		fid, err := getFid(rest)
		if err != nil {
			return nil, err
		}
		return &Tremove{Tag: Tag(tag), Fid: fid}, nil
	case Mt_Rremove:
		return &Rremove{Tag: Tag(tag)}, nil
	case Mt_Tstat:
		fid, err := getFid(rest)
		if err != nil {
			return nil, err
		}
		return &Tstat{Tag: Tag(tag), Fid: fid}, nil
	case Mt_Rstat:
		return unpackRstat(Tag(tag), rest)
	case Mt_Twstat:
		return unpackTwstat(Tag(tag), rest)
	case Mt_Rwstat:
		return &Rwstat{Tag: Tag(tag)}, nil
	default:
		return nil, &MalformedError{Reason: "unknown message type", Fatal: true, Err: errors.Wrapf(ErrUnknownType, "type %d", mtype)}
	}
}

// getFid reads the Fid that makes up the whole body of Tclunk, Tremove
// and Tstat, failing with ErrBuffTooSmall if fewer than 4 bytes remain.
func getFid(buf []byte) (Fid, error) {
	v, _, err := getUint32(buf)
	return Fid(v), err
}

// ---- Tversion / Rversion ----

type Tversion struct {
	Tag         Tag
	MessageSize uint32
	Version     string
}

func (m *Tversion) MsgType() MessageType { return Mt_Tversion }
func (m *Tversion) WireLen() int         { return HeaderSize + 2 + 4 + dataSize(m.Version) }
func (m *Tversion) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, m.MessageSize)
	putString(buf, m.Version)
}

func unpackTversion(tag Tag, buf []byte) (Msg, error) {
	msize, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	version, _, err := getString(buf)
	if err != nil {
		return nil, err
	}
	if version != Version {
		version = UnknownVersion
	}
	return &Tversion{Tag: tag, MessageSize: msize, Version: version}, nil
}

type Rversion struct {
	Tag         Tag
	MessageSize uint32
	Version     string
}

func (m *Rversion) MsgType() MessageType { return Mt_Rversion }
func (m *Rversion) WireLen() int         { return HeaderSize + 2 + 4 + dataSize(m.Version) }
func (m *Rversion) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, m.MessageSize)
	putString(buf, m.Version)
}

func unpackRversion(tag Tag, buf []byte) (Msg, error) {
	msize, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	version, _, err := getString(buf)
	if err != nil {
		return nil, err
	}
	if version != Version {
		version = UnknownVersion
	}
	return &Rversion{Tag: tag, MessageSize: msize, Version: version}, nil
}

// ---- Tauth / Rauth ----

// Tauth requests an auth fid for uname/aname. Its body
// (afid[4] uname[s] aname[s]) was an incomplete stub in the source
// fragment this engine is grounded on; this implements it per the
// 9P2000 wire format.
type Tauth struct {
	Tag   Tag
	Afid  Fid
	Uname string
	Aname string
}

func (m *Tauth) MsgType() MessageType { return Mt_Tauth }
func (m *Tauth) WireLen() int {
	return HeaderSize + 2 + 4 + dataSize(m.Uname) + dataSize(m.Aname)
}
func (m *Tauth) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Afid))
	buf, _ = putString(buf, m.Uname)
	putString(buf, m.Aname)
}

func unpackTauth(tag Tag, buf []byte) (Msg, error) {
	afid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	uname, buf, err := getString(buf)
	if err != nil {
		return nil, err
	}
	aname, _, err := getString(buf)
	if err != nil {
		return nil, err
	}
	return &Tauth{Tag: tag, Afid: Fid(afid), Uname: uname, Aname: aname}, nil
}

type Rauth struct {
	Tag Tag
	Qid Qid
}

func (m *Rauth) MsgType() MessageType { return Mt_Rauth }
func (m *Rauth) WireLen() int         { return HeaderSize + 2 + QidSize }
func (m *Rauth) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putQid(buf, m.Qid)
}

func unpackRauth(tag Tag, buf []byte) (Msg, error) {
	qid, _, err := getQid(buf)
	if err != nil {
		return nil, err
	}
	return &Rauth{Tag: tag, Qid: qid}, nil
}

// ---- Tattach / Rattach ----

type Tattach struct {
	Tag   Tag
	Fid   Fid
	Afid  Fid
	Uname string
	Aname string
}

func (m *Tattach) MsgType() MessageType { return Mt_Tattach }
func (m *Tattach) WireLen() int {
	return HeaderSize + 2 + 4 + 4 + dataSize(m.Uname) + dataSize(m.Aname)
}
func (m *Tattach) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Fid))
	buf = putUint32(buf, uint32(m.Afid))
	buf, _ = putString(buf, m.Uname)
	putString(buf, m.Aname)
}

func unpackTattach(tag Tag, buf []byte) (Msg, error) {
	fid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	afid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	uname, buf, err := getString(buf)
	if err != nil {
		return nil, err
	}
	aname, _, err := getString(buf)
	if err != nil {
		return nil, err
	}
	return &Tattach{Tag: tag, Fid: Fid(fid), Afid: Fid(afid), Uname: uname, Aname: aname}, nil
}

type Rattach struct {
	Tag Tag
	Qid Qid
}

func (m *Rattach) MsgType() MessageType { return Mt_Rattach }
func (m *Rattach) WireLen() int         { return HeaderSize + 2 + QidSize }
func (m *Rattach) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putQid(buf, m.Qid)
}

func unpackRattach(tag Tag, buf []byte) (Msg, error) {
	qid, _, err := getQid(buf)
	if err != nil {
		return nil, err
	}
	return &Rattach{Tag: tag, Qid: qid}, nil
}

// ---- Rerror ----

// Rerror is the sole error response. errno is a 9P2000.u/.L extension
// the base codec here deliberately never emits or parses (Non-goal).
type Rerror struct {
	Tag Tag
	Err string
}

func (m *Rerror) MsgType() MessageType { return Mt_Rerror }
func (m *Rerror) WireLen() int         { return HeaderSize + 2 + dataSize(m.Err) }
func (m *Rerror) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putString(buf, m.Err)
}

func unpackRerror(tag Tag, buf []byte) (Msg, error) {
	ename, _, err := getString(buf)
	if err != nil {
		return nil, err
	}
	return &Rerror{Tag: tag, Err: ename}, nil
}

// ---- Tflush / Rflush ----

type Tflush struct {
	Tag    Tag
	OldTag Tag
}

func (m *Tflush) MsgType() MessageType { return Mt_Tflush }
func (m *Tflush) WireLen() int         { return HeaderSize + 2 + 2 }
func (m *Tflush) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putUint16(buf, uint16(m.OldTag))
}

func unpackTflush(tag Tag, buf []byte) (Msg, error) {
	oldtag, _, err := getUint16(buf)
	if err != nil {
		return nil, err
	}
	return &Tflush{Tag: tag, OldTag: Tag(oldtag)}, nil
}

type Rflush struct {
	Tag Tag
}

func (m *Rflush) MsgType() MessageType { return Mt_Rflush }
func (m *Rflush) WireLen() int         { return HeaderSize + 2 }
func (m *Rflush) PackBody(buf []byte) {
	putUint16(buf, uint16(m.Tag))
}

// ---- Twalk / Rwalk ----

// MaxWalkNames is the 9P2000 limit on the number of path elements a
// single Twalk may carry.
const MaxWalkNames = 16

type Twalk struct {
	Tag    Tag
	Fid    Fid
	NewFid Fid
	Names  []string
}

func (m *Twalk) MsgType() MessageType { return Mt_Twalk }
func (m *Twalk) WireLen() int {
	n := HeaderSize + 2 + 4 + 4 + 2
	for _, name := range m.Names {
		n += dataSize(name)
	}
	return n
}
func (m *Twalk) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Fid))
	buf = putUint32(buf, uint32(m.NewFid))
	buf = putUint16(buf, uint16(len(m.Names)))
	var err error
	for _, name := range m.Names {
		buf, err = putString(buf, name)
		if err != nil {
			return
		}
	}
}

func unpackTwalk(tag Tag, buf []byte) (Msg, error) {
	fid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	newfid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	nnames, buf, err := getUint16(buf)
	if err != nil {
		return nil, err
	}
	if nnames > MaxWalkNames {
		return nil, &MalformedError{Reason: "walk with more than 16 names", Fatal: false, Err: ErrMalformed}
	}
	names := make([]string, 0, nnames)
	for i := uint16(0); i < nnames; i++ {
		var name string
		name, buf, err = getString(buf)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return &Twalk{Tag: tag, Fid: Fid(fid), NewFid: Fid(newfid), Names: names}, nil
}

type Rwalk struct {
	Tag  Tag
	Qids []Qid
}

func (m *Rwalk) MsgType() MessageType { return Mt_Rwalk }
func (m *Rwalk) WireLen() int         { return HeaderSize + 2 + 2 + len(m.Qids)*QidSize }
func (m *Rwalk) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint16(buf, uint16(len(m.Qids)))
	for _, qid := range m.Qids {
		buf = putQid(buf, qid)
	}
}

func unpackRwalk(tag Tag, buf []byte) (Msg, error) {
	nqids, buf, err := getUint16(buf)
	if err != nil {
		return nil, err
	}
	qids := make([]Qid, 0, nqids)
	for i := uint16(0); i < nqids; i++ {
		var qid Qid
		qid, buf, err = getQid(buf)
		if err != nil {
			return nil, err
		}
		qids = append(qids, qid)
	}
	return &Rwalk{Tag: tag, Qids: qids}, nil
}

// ---- Topen / Ropen ----

type Topen struct {
	Tag  Tag
	Fid  Fid
	Mode OpenMode
}

func (m *Topen) MsgType() MessageType { return Mt_Topen }
func (m *Topen) WireLen() int         { return HeaderSize + 2 + 4 + 1 }
func (m *Topen) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Fid))
	putUint8(buf, byte(m.Mode))
}

func unpackTopen(tag Tag, buf []byte) (Msg, error) {
	fid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	mode, _, err := getUint8(buf)
	if err != nil {
		return nil, err
	}
	return &Topen{Tag: tag, Fid: Fid(fid), Mode: OpenMode(mode)}, nil
}

type Ropen struct {
	Tag    Tag
	Qid    Qid
	Iounit uint32
}

func (m *Ropen) MsgType() MessageType { return Mt_Ropen }
func (m *Ropen) WireLen() int         { return HeaderSize + 2 + QidSize + 4 }
func (m *Ropen) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putQid(buf, m.Qid)
	putUint32(buf, m.Iounit)
}

func unpackRopen(tag Tag, buf []byte) (Msg, error) {
	qid, buf, err := getQid(buf)
	if err != nil {
		return nil, err
	}
	iounit, _, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	return &Ropen{Tag: tag, Qid: qid, Iounit: iounit}, nil
}

// ---- Tcreate / Rcreate ----

type Tcreate struct {
	Tag  Tag
	Fid  Fid
	Name string
	Perm FileMode
	Mode OpenMode
}

func (m *Tcreate) MsgType() MessageType { return Mt_Tcreate }
func (m *Tcreate) WireLen() int {
	return HeaderSize + 2 + 4 + dataSize(m.Name) + 4 + 1
}
func (m *Tcreate) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Fid))
	buf, _ = putString(buf, m.Name)
	buf = putUint32(buf, uint32(m.Perm))
	putUint8(buf, byte(m.Mode))
}

func unpackTcreate(tag Tag, buf []byte) (Msg, error) {
	fid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	name, buf, err := getString(buf)
	if err != nil {
		return nil, err
	}
	perm, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	mode, _, err := getUint8(buf)
	if err != nil {
		return nil, err
	}
	return &Tcreate{Tag: tag, Fid: Fid(fid), Name: name, Perm: FileMode(perm), Mode: OpenMode(mode)}, nil
}

type Rcreate struct {
	Tag    Tag
	Qid    Qid
	Iounit uint32
}

func (m *Rcreate) MsgType() MessageType { return Mt_Rcreate }
func (m *Rcreate) WireLen() int         { return HeaderSize + 2 + QidSize + 4 }
func (m *Rcreate) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putQid(buf, m.Qid)
	putUint32(buf, m.Iounit)
}

func unpackRcreate(tag Tag, buf []byte) (Msg, error) {
	qid, buf, err := getQid(buf)
	if err != nil {
		return nil, err
	}
	iounit, _, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	return &Rcreate{Tag: tag, Qid: qid, Iounit: iounit}, nil
}

// ---- Tread / Rread ----

type Tread struct {
	Tag    Tag
	Fid    Fid
	Offset uint64
	Count  uint32
}

func (m *Tread) MsgType() MessageType { return Mt_Tread }
func (m *Tread) WireLen() int         { return HeaderSize + 2 + 4 + 8 + 4 }
func (m *Tread) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Fid))
	buf = putUint64(buf, m.Offset)
	putUint32(buf, m.Count)
}

func unpackTread(tag Tag, buf []byte) (Msg, error) {
	fid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	offset, buf, err := getUint64(buf)
	if err != nil {
		return nil, err
	}
	count, _, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	return &Tread{Tag: tag, Fid: Fid(fid), Offset: offset, Count: count}, nil
}

type Rread struct {
	Tag  Tag
	Data []byte
}

func (m *Rread) MsgType() MessageType { return Mt_Rread }
func (m *Rread) WireLen() int         { return HeaderSize + 2 + dataSizeOf(m.Data) }
func (m *Rread) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putBytes(buf, m.Data)
}

func unpackRread(tag Tag, buf []byte) (Msg, error) {
	data, _, err := getBytes(buf)
	if err != nil {
		return nil, err
	}
	return &Rread{Tag: tag, Data: data}, nil
}

// ---- Twrite / Rwrite ----

type Twrite struct {
	Tag    Tag
	Fid    Fid
	Offset uint64
	Data   []byte
}

func (m *Twrite) MsgType() MessageType { return Mt_Twrite }
func (m *Twrite) WireLen() int         { return HeaderSize + 2 + 4 + 8 + dataSizeOf(m.Data) }
func (m *Twrite) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Fid))
	buf = putUint64(buf, m.Offset)
	putBytes(buf, m.Data)
}

func unpackTwrite(tag Tag, buf []byte) (Msg, error) {
	fid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	offset, buf, err := getUint64(buf)
	if err != nil {
		return nil, err
	}
	data, _, err := getBytes(buf)
	if err != nil {
		return nil, err
	}
	return &Twrite{Tag: tag, Fid: Fid(fid), Offset: offset, Data: data}, nil
}

type Rwrite struct {
	Tag   Tag
	Count uint32
}

func (m *Rwrite) MsgType() MessageType { return Mt_Rwrite }
func (m *Rwrite) WireLen() int         { return HeaderSize + 2 + 4 }
func (m *Rwrite) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putUint32(buf, m.Count)
}

func unpackRwrite(tag Tag, buf []byte) (Msg, error) {
	count, _, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	return &Rwrite{Tag: tag, Count: count}, nil
}

// ---- Tclunk / Rclunk ----

type Tclunk struct {
	Tag Tag
	Fid Fid
}

func (m *Tclunk) MsgType() MessageType { return Mt_Tclunk }
func (m *Tclunk) WireLen() int         { return HeaderSize + 2 + 4 }
func (m *Tclunk) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putUint32(buf, uint32(m.Fid))
}

type Rclunk struct {
	Tag Tag
}

func (m *Rclunk) MsgType() MessageType { return Mt_Rclunk }
func (m *Rclunk) WireLen() int         { return HeaderSize + 2 }
func (m *Rclunk) PackBody(buf []byte) {
	putUint16(buf, uint16(m.Tag))
}

// ---- Tremove / Rremove ----

type Tremove struct {
	Tag Tag
	Fid Fid
}

func (m *Tremove) MsgType() MessageType { return Mt_Tremove }
func (m *Tremove) WireLen() int         { return HeaderSize + 2 + 4 }
func (m *Tremove) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putUint32(buf, uint32(m.Fid))
}

type Rremove struct {
	Tag Tag
}

func (m *Rremove) MsgType() MessageType { return Mt_Rremove }
func (m *Rremove) WireLen() int         { return HeaderSize + 2 }
func (m *Rremove) PackBody(buf []byte) {
	putUint16(buf, uint16(m.Tag))
}

// ---- Tstat / Rstat ----

type Tstat struct {
	Tag Tag
	Fid Fid
}

func (m *Tstat) MsgType() MessageType { return Mt_Tstat }
func (m *Tstat) WireLen() int         { return HeaderSize + 2 + 4 }
func (m *Tstat) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	putUint32(buf, uint32(m.Fid))
}

type Rstat struct {
	Tag  Tag
	Stat Stat
}

func (m *Rstat) MsgType() MessageType { return Mt_Rstat }
func (m *Rstat) WireLen() int         { return HeaderSize + 2 + StatLen(&m.Stat) }
func (m *Rstat) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	PackStat(buf, &m.Stat)
}

func unpackRstat(tag Tag, buf []byte) (Msg, error) {
	var st Stat
	_, err := UnpackStat(buf, &st)
	if err != nil {
		return nil, err
	}
	return &Rstat{Tag: tag, Stat: st}, nil
}

// ---- Twstat / Rwstat ----

type Twstat struct {
	Tag  Tag
	Fid  Fid
	Stat Stat
}

func (m *Twstat) MsgType() MessageType { return Mt_Twstat }
func (m *Twstat) WireLen() int         { return HeaderSize + 2 + 4 + StatLen(&m.Stat) }
func (m *Twstat) PackBody(buf []byte) {
	buf = putUint16(buf, uint16(m.Tag))
	buf = putUint32(buf, uint32(m.Fid))
	PackStat(buf, &m.Stat)
}

func unpackTwstat(tag Tag, buf []byte) (Msg, error) {
	fid, buf, err := getUint32(buf)
	if err != nil {
		return nil, err
	}
	var st Stat
	_, err = UnpackStat(buf, &st)
	if err != nil {
		return nil, err
	}
	return &Twstat{Tag: tag, Fid: Fid(fid), Stat: st}, nil
}

type Rwstat struct {
	Tag Tag
}

func (m *Rwstat) MsgType() MessageType { return Mt_Rwstat }
func (m *Rwstat) WireLen() int         { return HeaderSize + 2 }
func (m *Rwstat) PackBody(buf []byte) {
	putUint16(buf, uint16(m.Tag))
}
