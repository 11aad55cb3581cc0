//go:build linux

package kio

import (
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const spliceFlags = unix.SPLICE_F_NONBLOCK | unix.SPLICE_F_MOVE

// Fill moves up to max bytes from file at offset into the pipe's write
// end. Callers are expected to have already bounded max by the pipe's
// free space, so a Fill never itself blocks on pipe-full — the engine
// drives exactly one Fill at a time per client, so there is no concurrent
// writer racing the free-space accounting.
//
// A return of (0, nil) means "no data available yet" (offset==file
// length), a transient condition rather than an error.
func Fill(file *os.File, offset int64, p Pipe, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	off := offset
	n, err := unix.Splice(int(file.Fd()), &off, p.WriteFD(), nil, max, spliceFlags)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			// Either no bytes available past offset, or (should not
			// happen given the caller's free-space accounting) a
			// momentarily full pipe. Either way: no progress this call.
			return 0, nil
		}
		return 0, errors.Wrap(err, "splice file->pipe")
	}
	return int(n), nil
}

// Drain moves up to max bytes from the pipe's read end into conn. It
// rides conn's SyscallConn so a momentarily-full socket send buffer parks
// the calling goroutine on the runtime's network poller instead of
// busy-spinning.
func Drain(conn *net.TCPConn, p Pipe, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, errors.Wrap(err, "conn.SyscallConn")
	}

	var n int
	var spliceErr error
	ctrlErr := raw.Write(func(fd uintptr) bool {
		nn, err := unix.Splice(p.ReadFD(), nil, int(fd), nil, max, spliceFlags)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				// Socket send buffer full or pipe momentarily empty;
				// ask the poller to retry once writable.
				return false
			}
			spliceErr = err
			return true
		}
		n = int(nn)
		return true
	})
	if ctrlErr != nil {
		return 0, errors.Wrap(ctrlErr, "raw.Write")
	}
	if spliceErr != nil {
		if errors.Is(spliceErr, io.EOF) {
			return n, io.EOF
		}
		return n, errors.Wrap(spliceErr, "splice pipe->socket")
	}
	return n, nil
}
