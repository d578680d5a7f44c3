package server9_test

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/buppyio/ninep/client9"
	"github.com/buppyio/ninep/demofs"
	"github.com/buppyio/ninep/proto9"
	"github.com/buppyio/ninep/server9"
)

func newPipeServer(t *testing.T) *client9.Client {
	t.Helper()
	alloc, err := demofs.OpenQidAllocator(filepath.Join(t.TempDir(), "qids.db"))
	require.NoError(t, err)
	t.Cleanup(func() { alloc.Close() })

	fs, err := demofs.New(alloc)
	require.NoError(t, err)

	serverConn, clientConn := net.Pipe()

	srv := server9.NewConnection(serverConn, server9.Options{
		MaxMessageSize: 64 * 1024,
		Attach:         fs.Attach,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Serve(ctx)
	}()
	t.Cleanup(wg.Wait)

	conn, err := client9.Connect(ctx, clientConn, client9.Options{MaxMessageSize: 64 * 1024})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	cl := client9.NewClient(conn)
	require.NoError(t, cl.Attach(ctx, "glenda", ""))
	return cl
}

func TestHandshakeAndAttach(t *testing.T) {
	cl := newPipeServer(t)
	st, err := cl.Stat(context.Background(), "/")
	require.NoError(t, err)
	require.True(t, st.Qid.IsDir())
}

func TestCreateWriteReadFile(t *testing.T) {
	cl := newPipeServer(t)
	ctx := context.Background()

	f, err := cl.Create(ctx, "/hello.txt", 0644, proto9.ORDWR)
	require.NoError(t, err)

	n, err := f.Write(ctx, []byte("hello, 9p"))
	require.NoError(t, err)
	require.Equal(t, len("hello, 9p"), n)
	require.NoError(t, f.Close(ctx))

	f2, err := cl.Open(ctx, "/hello.txt", proto9.OREAD)
	require.NoError(t, err)
	defer f2.Close(ctx)

	buf := make([]byte, 64)
	n2, err := f2.Read(ctx, buf)
	require.NoError(t, err)
	require.Equal(t, "hello, 9p", string(buf[:n2]))
}

func TestMkdirAndLs(t *testing.T) {
	cl := newPipeServer(t)
	ctx := context.Background()

	require.NoError(t, cl.Mkdir(ctx, "/sub", 0755))
	f, err := cl.Create(ctx, "/sub/a.txt", 0644, proto9.ORDWR)
	require.NoError(t, err)
	_, err = f.Write(ctx, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	stats, err := cl.Ls(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	require.Equal(t, "a.txt", stats[0].Name)
}

func TestRemove(t *testing.T) {
	cl := newPipeServer(t)
	ctx := context.Background()

	f, err := cl.Create(ctx, "/gone.txt", 0644, proto9.ORDWR)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	require.NoError(t, cl.Remove(ctx, "/gone.txt"))

	_, err = cl.Stat(ctx, "/gone.txt")
	require.Error(t, err)
}

func TestCallWithCanceledContextFails(t *testing.T) {
	cl := newPipeServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	// No handler ever blocks this long in demofs, so a call made with a
	// context that is already canceled is used instead, and it must fail.
	// Whether the request reaches the wire (and a Tflush follows it)
	// depends on which ready case Connection.Call's select picks, so only
	// the error is checked here.
	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err := cl.Stat(canceled, "/")
	require.Error(t, err)
	_ = ctx
}
