package proto9

// Stat is the variable-length directory entry descriptor used by
// Twstat/Rstat and directory reads. It is serialised with an outer u16
// size prefix (excluding the prefix itself) so a stream of stats can be
// walked without understanding every field, per spec.
type Stat struct {
	Type   uint16
	Dev    uint32
	Qid    Qid
	Mode   FileMode
	Atime  uint32
	Mtime  uint32
	Length uint64
	Name   string
	Uid    string
	Gid    string
	Muid   string
}

// statBodySize is the number of bytes following the outer u16 size
// prefix: everything PackStat writes after that prefix.
func statBodySize(st *Stat) int {
	return 2 + 4 + QidSize + 4 + 4 + 4 + 8 +
		dataSize(st.Name) + dataSize(st.Uid) + dataSize(st.Gid) + dataSize(st.Muid)
}

// StatLen returns the total on-wire size of st, including the outer u16
// size prefix itself.
func StatLen(st *Stat) int {
	return 2 + statBodySize(st)
}

// PackStat encodes st into buf, which must be at least StatLen(st)
// bytes, and returns the number of bytes written.
func PackStat(buf []byte, st *Stat) (int, error) {
	total := StatLen(st)
	if len(buf) < total {
		return 0, ErrBuffTooSmall
	}
	body := statBodySize(st)
	rest := putUint16(buf, uint16(body))
	rest = putUint16(rest, st.Type)
	rest = putUint32(rest, st.Dev)
	rest = putQid(rest, st.Qid)
	rest = putUint32(rest, uint32(st.Mode))
	rest = putUint32(rest, st.Atime)
	rest = putUint32(rest, st.Mtime)
	rest = putUint64(rest, st.Length)
	var err error
	rest, err = putString(rest, st.Name)
	if err != nil {
		return 0, err
	}
	rest, err = putString(rest, st.Uid)
	if err != nil {
		return 0, err
	}
	rest, err = putString(rest, st.Gid)
	if err != nil {
		return 0, err
	}
	_, err = putString(rest, st.Muid)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// UnpackStat decodes a single Stat record (outer size prefix included)
// from the front of buf, failing unless it can consume exactly the
// declared body length, and returns the number of bytes consumed.
func UnpackStat(buf []byte, st *Stat) (int, error) {
	body, rest, err := getUint16(buf)
	if err != nil {
		return 0, err
	}
	if len(rest) < int(body) {
		return 0, ErrBuffTooSmall
	}
	frame := rest[:body]

	st.Type, frame, err = getUint16(frame)
	if err != nil {
		return 0, err
	}
	st.Dev, frame, err = getUint32(frame)
	if err != nil {
		return 0, err
	}
	qid, frame, err := getQid(frame)
	if err != nil {
		return 0, err
	}
	st.Qid = qid

	mode, frame, err := getUint32(frame)
	if err != nil {
		return 0, err
	}
	st.Mode = FileMode(mode)

	st.Atime, frame, err = getUint32(frame)
	if err != nil {
		return 0, err
	}
	st.Mtime, frame, err = getUint32(frame)
	if err != nil {
		return 0, err
	}
	st.Length, frame, err = getUint64(frame)
	if err != nil {
		return 0, err
	}

	st.Name, frame, err = getString(frame)
	if err != nil {
		return 0, err
	}
	st.Uid, frame, err = getString(frame)
	if err != nil {
		return 0, err
	}
	st.Gid, frame, err = getString(frame)
	if err != nil {
		return 0, err
	}
	st.Muid, frame, err = getString(frame)
	if err != nil {
		return 0, err
	}
	if len(frame) != 0 {
		return 0, &MalformedError{Reason: "stat size mismatch", Fatal: false, Err: ErrMalformed}
	}

	return 2 + int(body), nil
}
