// Package transport provides the TCP listener/dialer front end for
// 9P2000 servers and clients: accept loop plus per-connection socket
// tuning, adapted from the bare net.Listen/Accept loop a 9P server
// needs to front server9.Connection.
package transport

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/buppyio/ninep/server9"
)

// tuneConn sets TCP_NODELAY (9P is a small-message RPC protocol; Nagle
// batching only adds latency) and SO_REUSEADDR (so a restarted server
// can rebind its listen address immediately) on a freshly accepted or
// dialed TCP connection.
func tuneConn(conn *net.TCPConn) error {
	if err := conn.SetNoDelay(true); err != nil {
		return err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// DialTCP connects to addr and returns a tuned net.Conn suitable for
// client9.Connect.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tuneConn(tcpConn); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

// ListenAndServe accepts connections on addr and runs a server9.Connection
// per accepted socket using opts, until ctx is canceled or the listener
// errors. Each connection's Serve error is logged rather than returned,
// matching a long-running server's usual failure isolation: one bad
// client must never take down the listener.
func ListenAndServe(ctx context.Context, addr string, opts server9.Options) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithField("addr", addr).Info("9p server listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tuneConn(tcpConn); err != nil {
				log.WithError(err).Warn("tuning accepted connection")
			}
		}

		go func(conn net.Conn) {
			c := server9.NewConnection(conn, opts)
			if err := c.Serve(ctx); err != nil {
				log.WithError(err).WithField("remote", conn.RemoteAddr()).Debug("connection closed")
			}
		}(conn)
	}
}
