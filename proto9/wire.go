package proto9

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrBuffTooSmall is returned whenever a buffer does not hold enough
// bytes to pack or unpack a value. framing.Reader only hands over
// complete frames, so from UnpackMsg it means the frame's body is
// shorter than its fields require.
var ErrBuffTooSmall = errors.New("buffer too small for message")

// ErrSizeOverflow is a fatal encode error: a string or byte slice is
// longer than the 65535 bytes its u16 length prefix can express.
var ErrSizeOverflow = errors.New("value too long for u16 length prefix")

func putUint8(buf []byte, v uint8) []byte {
	buf[0] = v
	return buf[1:]
}

func getUint8(buf []byte) (uint8, []byte, error) {
	if len(buf) < 1 {
		return 0, nil, ErrBuffTooSmall
	}
	return buf[0], buf[1:], nil
}

func putUint16(buf []byte, v uint16) []byte {
	binary.LittleEndian.PutUint16(buf, v)
	return buf[2:]
}

func getUint16(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, ErrBuffTooSmall
	}
	return binary.LittleEndian.Uint16(buf), buf[2:], nil
}

func putUint32(buf []byte, v uint32) []byte {
	binary.LittleEndian.PutUint32(buf, v)
	return buf[4:]
}

func getUint32(buf []byte) (uint32, []byte, error) {
	if len(buf) < 4 {
		return 0, nil, ErrBuffTooSmall
	}
	return binary.LittleEndian.Uint32(buf), buf[4:], nil
}

func putUint64(buf []byte, v uint64) []byte {
	binary.LittleEndian.PutUint64(buf, v)
	return buf[8:]
}

func getUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, ErrBuffTooSmall
	}
	return binary.LittleEndian.Uint64(buf), buf[8:], nil
}

// dataSize returns the on-wire size of a 9P string/byte-string: a u16
// length prefix followed by the raw bytes, with no terminator.
func dataSize(s string) int {
	return 2 + len(s)
}

// dataSizeOf mirrors dataSize for raw byte slices (Twrite/Rread bodies).
func dataSizeOf(b []byte) int {
	return 2 + len(b)
}

func putString(buf []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, ErrSizeOverflow
	}
	buf = putUint16(buf, uint16(len(s)))
	n := copy(buf, s)
	if n != len(s) {
		return nil, ErrBuffTooSmall
	}
	return buf[n:], nil
}

func putBytes(buf []byte, b []byte) ([]byte, error) {
	if len(b) > math.MaxUint16 {
		return nil, ErrSizeOverflow
	}
	buf = putUint16(buf, uint16(len(b)))
	n := copy(buf, b)
	if n != len(b) {
		return nil, ErrBuffTooSmall
	}
	return buf[n:], nil
}

func getString(buf []byte) (string, []byte, error) {
	l, rest, err := getUint16(buf)
	if err != nil {
		return "", nil, err
	}
	if len(rest) < int(l) {
		return "", nil, ErrBuffTooSmall
	}
	return string(rest[:l]), rest[l:], nil
}

// getBytes copies the data out, so the result stays valid after the
// frame buffer it was read from is reused by the next ReadFrame.
func getBytes(buf []byte) ([]byte, []byte, error) {
	l, rest, err := getUint16(buf)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) < int(l) {
		return nil, nil, ErrBuffTooSmall
	}
	data := make([]byte, l)
	copy(data, rest[:l])
	return data, rest[l:], nil
}
