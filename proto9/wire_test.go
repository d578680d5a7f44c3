package proto9

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Msg) Msg {
	t.Helper()
	buf := make([]byte, msg.WireLen())
	packed, err := PackMsg(buf, msg)
	require.NoError(t, err)
	require.Equal(t, len(buf), len(packed))

	got, err := UnpackMsg(packed)
	require.NoError(t, err)
	return got
}

func TestTversionRoundTrip(t *testing.T) {
	msg := &Tversion{Tag: NOTAG, MessageSize: 8192, Version: "9P2000"}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestTauthRoundTrip(t *testing.T) {
	msg := &Tauth{Tag: 7, Afid: 3, Uname: "glenda", Aname: "/"}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestTwalkRoundTrip(t *testing.T) {
	msg := &Twalk{Tag: 1, Fid: 2, NewFid: 3, Names: []string{"a", "b", "c"}}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestTwalkTooManyNames(t *testing.T) {
	names := make([]string, proto9MaxWalkNamesPlusOne())
	for i := range names {
		names[i] = "x"
	}
	msg := &Twalk{Tag: 1, Fid: 2, NewFid: 3, Names: names}
	buf := make([]byte, msg.WireLen())
	packed, err := PackMsg(buf, msg)
	require.NoError(t, err)

	_, err = UnpackMsg(packed)
	require.Error(t, err)
}

func proto9MaxWalkNamesPlusOne() int { return MaxWalkNames + 1 }

func TestRreadRoundTrip(t *testing.T) {
	msg := &Rread{Tag: 9, Data: []byte("hello world")}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestRerrorRoundTrip(t *testing.T) {
	msg := &Rerror{Tag: 4, Err: "no such fid"}
	got := roundTrip(t, msg)
	require.Equal(t, msg, got)
}

func TestStatRoundTrip(t *testing.T) {
	st := &Stat{
		Qid:    Qid{Type: QTFILE, Version: 1, Path: 42},
		Mode:   0644,
		Length: 1024,
		Name:   "hello.txt",
		Uid:    "glenda",
		Gid:    "glenda",
		Muid:   "glenda",
	}
	buf := make([]byte, StatLen(st))
	n, err := PackStat(buf, st)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	var got Stat
	n2, err := UnpackStat(buf, &got)
	require.NoError(t, err)
	require.Equal(t, n, n2)
	require.Equal(t, *st, got)
}

func TestTruncatedFrameNeverSucceeds(t *testing.T) {
	msg := &Tattach{Tag: 1, Fid: 2, Afid: NOFID, Uname: "glenda", Aname: "/"}
	buf := make([]byte, msg.WireLen())
	packed, err := PackMsg(buf, msg)
	require.NoError(t, err)

	for n := 0; n < len(packed); n++ {
		_, err := UnpackMsg(packed[:n])
		require.Error(t, err, "truncated frame of length %d must not decode", n)
	}
}

func TestVersionWireTrace(t *testing.T) {
	// Tversion(tag=NOTAG, msize=4096, version="9P2000"):
	// size=19, type=100(Tversion), tag=0xFFFF, msize=4096, "9P2000"
	msg := &Tversion{Tag: NOTAG, MessageSize: 4096, Version: "9P2000"}
	buf := make([]byte, msg.WireLen())
	packed, err := PackMsg(buf, msg)
	require.NoError(t, err)

	expected := []byte{
		19, 0, 0, 0, // size
		100,        // Tversion
		0xff, 0xff, // NOTAG
		0x00, 0x10, 0x00, 0x00, // msize = 4096 LE
		0x06, 0x00, // "9P2000" length prefix
		'9', 'P', '2', '0', '0', '0',
	}
	require.Equal(t, expected, packed)
}

func TestMessageTypeIsTRequest(t *testing.T) {
	require.True(t, Mt_Tversion.IsTRequest())
	require.False(t, Mt_Rversion.IsTRequest())
	require.True(t, Mt_Twalk.IsTRequest())
	require.False(t, Mt_Rwalk.IsTRequest())
}
