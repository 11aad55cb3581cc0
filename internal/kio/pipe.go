// Package kio is the kernel-I/O capability surface tailsrv's streaming
// engine is built on: splice-based zero-copy transfer between a watched
// file, a per-client kernel pipe, and a client socket, plus the small set
// of accept/close primitives the engine needs. Every blocking point rides
// the Go runtime's network poller (itself epoll-backed on Linux) instead
// of a hand-rolled completion queue.
package kio

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultPipeCapacity is the fixed per-client pipe buffer size used
// absent an explicit override.
const DefaultPipeCapacity = 64 * 1024

// Pipe is an owned kernel pipe pair sized to a fixed capacity. It is the
// in-kernel bounded buffer standing between a watched file and a client
// socket in the Fill/Drain pipeline.
type Pipe struct {
	r, w     int
	capacity int
}

// NewPipe allocates a pipe pair and attempts to size it to capacity via
// F_SETPIPE_SZ. A failure to resize is not fatal: the kernel's default
// pipe size (usually 64KiB already) is still a valid bounded buffer.
func NewPipe(capacity int) (Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return Pipe{}, errors.Wrap(err, "pipe2")
	}
	p := Pipe{r: fds[0], w: fds[1], capacity: capacity}

	if capacity > 0 {
		if _, err := unix.FcntlInt(uintptr(p.w), unix.F_SETPIPE_SZ, capacity); err == nil {
			p.capacity = capacity
		} else {
			// Keep going with whatever the kernel gave us by default.
			if sz, serr := unix.FcntlInt(uintptr(p.w), unix.F_GETPIPE_SZ, 0); serr == nil {
				p.capacity = sz
			}
		}
	}
	return p, nil
}

// Capacity returns the pipe's negotiated buffer size in bytes.
func (p Pipe) Capacity() int { return p.capacity }

// ReadFD returns the pipe's read end, the source for a Drain splice.
func (p Pipe) ReadFD() int { return p.r }

// WriteFD returns the pipe's write end, the destination for a Fill splice.
func (p Pipe) WriteFD() int { return p.w }

// Close releases both ends of the pipe. Closing proceeds regardless of the
// first error so the second fd is never leaked; if both ends fail to
// close, only the read end's error is returned.
func (p Pipe) Close() error {
	err1 := unix.Close(p.r)
	err2 := unix.Close(p.w)
	if err1 != nil {
		return errors.Wrap(err1, "close pipe read end")
	}
	if err2 != nil {
		return errors.Wrap(err2, "close pipe write end")
	}
	return nil
}

// EnableKeepalive turns on TCP keepalive with OS defaults — dead-peer
// detection for a connection the engine otherwise never reads from
// again after bootstrap.
func EnableKeepalive(conn *net.TCPConn) error {
	if err := conn.SetKeepAlive(true); err != nil {
		return errors.Wrap(err, "set keepalive")
	}
	return nil
}
