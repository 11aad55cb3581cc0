// Package watch wraps fsnotify to yield the two edges the streaming
// engine needs from the watched file: a coalesced "grew" edge and a
// terminal "gone" edge (delete, rename, or unwatch).
package watch

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

// Event is one coalesced edge from the watcher.
type Event int

const (
	// Grew indicates the file may have grown (or had metadata touched);
	// multiple underlying notifications coalesce into a single Grew.
	Grew Event = iota
	// Gone is terminal: the watched path was deleted, renamed away, or
	// its watch was otherwise dropped by the kernel.
	Gone
)

// Watcher delivers Grew/Gone edges for a single watched file.
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string
	base string

	events chan Event
	errs   chan error
	done   chan struct{}
}

// New registers a watch on path's parent directory (so renames and
// removals of the file itself are observable even after the original
// inode-level watch would otherwise be dropped) and on the path directly.
func New(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "fsnotify.NewWatcher")
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errors.Wrapf(err, "watch directory %q", dir)
	}
	if err := fsw.Add(path); err != nil {
		// Watching the directory is enough to observe renames/removals
		// of the file itself, so a failure to add a direct watch (e.g.
		// some filesystems only support directory watches) is not fatal.
		_ = err
	}

	w := &Watcher{
		fsw:    fsw,
		path:   path,
		base:   filepath.Base(path),
		events: make(chan Event, 1),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events yields coalesced Grew/Gone edges. The channel is closed once a
// Gone edge has been delivered or Close is called.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors surfaces non-fatal watcher errors (e.g. a queue overflow); the
// engine logs these but does not treat them as a Gone edge on their own.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.base {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Terminal: must not be dropped even if a Grew is
				// already sitting in the buffer, so this send blocks
				// (bounded by the consumer still reading at all).
				select {
				case w.events <- Gone:
				case <-w.done:
				}
				return
			case ev.Op&(fsnotify.Write|fsnotify.Chmod|fsnotify.Create) != 0:
				w.sendGrew()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
				// Drop the error rather than block the watcher loop; the
				// engine only needs to know something went wrong, not
				// every occurrence.
			}
		}
	}
}

// sendGrew coalesces consecutive Grew notifications: if the channel
// already holds an undelivered edge, this one is dropped rather than
// blocking the fsnotify goroutine.
func (w *Watcher) sendGrew() {
	select {
	case w.events <- Grew:
	default:
	}
}
