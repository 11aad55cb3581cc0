// Package header implements the tailsrv bootstrap header: an ASCII
// decimal integer, optionally signed, terminated by a single LF.
package header

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// MaxLen bounds the header read so a client that never sends an LF cannot
// pin a bootstrap goroutine on an unbounded read.
const MaxLen = 32

// ErrTooLong is returned when more than MaxLen bytes arrive without a
// terminating LF — a fatal-client condition.
var ErrTooLong = errors.New("header exceeds maximum length without newline")

// Read reads a bootstrap header from r, one byte at a time, stopping at
// the first LF. Bytes after the LF are left unread: the caller (the
// engine) never reads from the client socket again after bootstrap.
func Read(r io.Reader) (int64, error) {
	var one [1]byte
	readByte := func() (byte, error) {
		if br, ok := r.(io.ByteReader); ok {
			return br.ReadByte()
		}
		_, err := io.ReadFull(r, one[:])
		return one[0], err
	}

	buf := make([]byte, 0, MaxLen)
	for {
		b, err := readByte()
		if err != nil {
			return 0, errors.Wrap(err, "read header byte")
		}
		if b == '\n' {
			break
		}
		if len(buf) >= MaxLen {
			return 0, ErrTooLong
		}
		buf = append(buf, b)
	}
	return Parse(buf)
}

// Parse validates and decodes a bare header value (without its
// terminating LF): `[-]?[0-9]+`.
func Parse(raw []byte) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("empty header")
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed header %q", raw)
	}
	return v, nil
}

// Resolve turns a parsed header value and the file length at resolution
// time into a concrete starting offset:
//
//	value >= 0 -> offset = value
//	value <  0 -> offset = max(0, length + value)
func Resolve(value, length int64) int64 {
	if value >= 0 {
		return value
	}
	offset := length + value
	if offset < 0 {
		return 0
	}
	return offset
}
