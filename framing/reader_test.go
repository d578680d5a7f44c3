package framing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buppyio/ninep/proto9"
)

func TestReadFrameRoundTrip(t *testing.T) {
	msg := &proto9.Tversion{Tag: proto9.NOTAG, MessageSize: 8192, Version: "9P2000"}
	buf := make([]byte, msg.WireLen())
	packed, err := proto9.PackMsg(buf, msg)
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(packed), 8192)
	frame, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, proto9.Mt_Tversion, frame.Type)
	require.Equal(t, proto9.NOTAG, frame.Tag)
	require.Equal(t, packed, frame.Raw)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	msg := &proto9.Tattach{Tag: 1, Fid: 2, Afid: proto9.NOFID, Uname: "glenda", Aname: "/"}
	buf := make([]byte, msg.WireLen())
	packed, err := proto9.PackMsg(buf, msg)
	require.NoError(t, err)

	r := NewReader(bytes.NewReader(packed), uint32(len(packed)-1))
	_, err = r.ReadFrame()
	require.Error(t, err)

	var tooLarge *proto9.FrameTooLargeError
	require.ErrorAs(t, err, &tooLarge)
}

func TestReadFrameMultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		msg := &proto9.Tclunk{Tag: proto9.Tag(i), Fid: proto9.Fid(i)}
		raw := make([]byte, msg.WireLen())
		packed, err := proto9.PackMsg(raw, msg)
		require.NoError(t, err)
		buf.Write(packed)
	}

	r := NewReader(&buf, 8192)
	for i := 0; i < 3; i++ {
		frame, err := r.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, proto9.Tag(i), frame.Tag)
		require.Equal(t, proto9.Mt_Tclunk, frame.Type)
	}
}
