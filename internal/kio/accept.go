package kio

import (
	"net"

	"github.com/pkg/errors"
)

// Accept wraps a single accept on a TCP listener. It is a direct
// blocking accept — the runtime poller already parks the calling
// goroutine without spinning, so the accept loop stays continuously
// armed without a hand-rolled completion queue.
func Accept(l *net.TCPListener) (*net.TCPConn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, errors.Wrap(err, "accept")
	}
	return conn, nil
}

// CloseAndRelease closes a client's socket and releases its pipe. Both
// are closed even if the first close fails; if both fail, only the
// socket's error is returned. It runs on every transition into Closing.
func CloseAndRelease(conn *net.TCPConn, p Pipe) error {
	connErr := conn.Close()
	pipeErr := p.Close()
	if connErr != nil {
		return errors.Wrap(connErr, "close socket")
	}
	if pipeErr != nil {
		return errors.Wrap(pipeErr, "close pipe")
	}
	return nil
}
