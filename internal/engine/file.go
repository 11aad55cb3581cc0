package engine

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// WatchedFile is the single regular file this process serves. Length is
// a monotonic snapshot refreshed on each watcher "grew" edge; an
// observed decrease is a fatal-process condition the caller must check
// for (see Refresh).
type WatchedFile struct {
	f    *os.File
	path string

	length atomic.Int64

	mu        sync.Mutex
	broadcast chan struct{}
}

// OpenWatchedFile opens path read-only and snapshots its current length.
func OpenWatchedFile(path string) (*WatchedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open watched file")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat watched file")
	}
	if info.IsDir() {
		f.Close()
		return nil, errors.Errorf("%s is a directory, not a regular file", path)
	}

	wf := &WatchedFile{
		f:         f,
		path:      path,
		broadcast: make(chan struct{}),
	}
	wf.length.Store(info.Size())
	return wf, nil
}

// File returns the underlying read-only handle, used directly by kio.Fill.
func (w *WatchedFile) File() *os.File { return w.f }

// Path returns the watched path, for logging.
func (w *WatchedFile) Path() string { return w.path }

// Length returns the current length snapshot. Readers tolerate staleness:
// an underestimate causes at worst a deferred wake-up on the next edge.
func (w *WatchedFile) Length() int64 { return w.length.Load() }

// Wait returns a channel that is closed the next time Refresh observes a
// length increase; a Refresh that sees an unchanged length leaves it open.
// Callers should re-check Length() after waking, since the broadcast
// carries no payload.
func (w *WatchedFile) Wait() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broadcast
}

// Refresh re-stats the open watched file handle and advances the length
// snapshot. It returns an error if the file has shrunk or the stat fails —
// fatal-process conditions for the monotonic-length invariant. Removal of
// the path is not seen here (the open handle still stats fine); the
// watcher's Gone edge covers it. When the length grew, it wakes every
// goroutine parked on Wait.
func (w *WatchedFile) Refresh() error {
	info, err := w.f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat watched file")
	}

	newLen := info.Size()
	old := w.length.Load()
	if newLen < old {
		return errors.Errorf("watched file shrank from %d to %d bytes", old, newLen)
	}
	if newLen == old {
		return nil
	}
	w.length.Store(newLen)

	w.mu.Lock()
	close(w.broadcast)
	w.broadcast = make(chan struct{})
	w.mu.Unlock()
	return nil
}

// Close releases the underlying file handle.
func (w *WatchedFile) Close() error {
	return w.f.Close()
}
