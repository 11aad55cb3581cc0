// Package engine is the streaming engine: the event loop that multiplexes
// accept, file-growth, and per-client completion edges and drives each
// client's Fill/Drain state machine.
package engine

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asayers/tailsrv/internal/descbudget"
	"github.com/asayers/tailsrv/internal/header"
	"github.com/asayers/tailsrv/internal/kio"
	"github.com/asayers/tailsrv/internal/logging"
	"github.com/asayers/tailsrv/internal/watch"
	"github.com/pkg/errors"
)

// shutdownGrace bounds how long a client that never reads is allowed to
// hold up an orderly shutdown once draining has begun: its socket is
// given a write deadline so a stuck Drain unblocks with an error instead
// of stalling process exit indefinitely.
const shutdownGrace = 5 * time.Second

// Options configures an Engine.
type Options struct {
	Path         string
	Port         int
	PipeCapacity int
	Keepalive    bool
	Log          *logging.Logger
}

// Engine owns the listening socket, the watched file, the file-length
// snapshot, and the client table.
type Engine struct {
	opts Options
	log  *logging.Logger

	file    *WatchedFile
	watcher *watch.Watcher
	ln      *net.TCPListener
	budget  *descbudget.Budget

	nextID  atomic.Uint64
	clients sync.Map // uint64 -> *Client

	draining atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	wg sync.WaitGroup
}

// New opens the watched file, registers its watcher, binds the listener,
// and reads the process's descriptor budget. It does not yet accept
// connections — call Run for that.
func New(opts Options) (*Engine, error) {
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	if opts.PipeCapacity <= 0 {
		opts.PipeCapacity = kio.DefaultPipeCapacity
	}

	wf, err := OpenWatchedFile(opts.Path)
	if err != nil {
		return nil, errors.Wrap(err, "open watched file")
	}

	w, err := watch.New(opts.Path)
	if err != nil {
		wf.Close()
		return nil, errors.Wrap(err, "register file watch")
	}

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: opts.Port})
	if err != nil {
		w.Close()
		wf.Close()
		return nil, errors.Wrap(err, "bind listener")
	}

	budget, err := descbudget.New()
	if err != nil {
		ln.Close()
		w.Close()
		wf.Close()
		return nil, errors.Wrap(err, "read descriptor budget")
	}

	return &Engine{
		opts:   opts,
		log:    opts.Log,
		file:   wf,
		watcher: w,
		ln:     ln,
		budget: budget,
		stopCh: make(chan struct{}),
	}, nil
}

// Addr returns the bound listener's address, useful for tests that bind
// to port 0.
func (e *Engine) Addr() net.Addr { return e.ln.Addr() }

// beginDraining starts the orderly shutdown sequence: no more clients
// are accepted, and every currently running client is told to stop
// requesting new Fills and close once its buffered data has drained.
// Safe to call more than once or concurrently.
func (e *Engine) beginDraining() {
	e.stopOnce.Do(func() {
		e.draining.Store(true)
		close(e.stopCh)

		deadline := time.Now().Add(shutdownGrace)
		e.clients.Range(func(_, v interface{}) bool {
			c := v.(*Client)
			_ = c.conn.SetWriteDeadline(deadline)
			return true
		})
	})
}

// Run drives the engine until ctx is cancelled or the watched file's
// terminal event fires, then performs an orderly shutdown: stop
// accepting, let in-flight clients drain buffered data, close every
// client socket, and return nil.
func (e *Engine) Run(ctx context.Context) error {
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		e.acceptLoop()
	}()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		e.watchLoop()
	}()

	select {
	case <-ctx.Done():
		e.log.Infof("shutdown requested, draining clients")
	case <-e.stopCh:
		// Draining was triggered by the watcher (terminal file event).
	}
	e.beginDraining()

	e.ln.Close()
	<-acceptDone

	e.wg.Wait()

	e.watcher.Close()
	e.file.Close()
	<-watchDone
	return nil
}

func (e *Engine) watchLoop() {
	for {
		select {
		case ev, ok := <-e.watcher.Events():
			if !ok {
				return
			}
			switch ev {
			case watch.Grew:
				if err := e.file.Refresh(); err != nil {
					e.log.Errorf("watched file: %v", err)
					e.beginDraining()
					return
				}
			case watch.Gone:
				e.log.Infof("watched file removed or renamed, shutting down")
				e.beginDraining()
				return
			}
		case err, ok := <-e.watcher.Errors():
			if ok {
				e.log.Warnf("file watcher: %v", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) acceptLoop() {
	for {
		conn, err := kio.Accept(e.ln)
		if err != nil {
			if e.draining.Load() {
				return
			}
			e.log.Warnf("accept: %v", err)
			continue
		}

		if !e.budget.TryAcquire() {
			e.log.Warnf("descriptor budget exhausted (in use %d / limit %d); refusing connection from %s",
				e.budget.InUse(), e.budget.Limit(), conn.RemoteAddr())
			conn.Close()
			continue
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			defer e.budget.Release()
			e.bootstrap(conn)
		}()
	}
}

// bootstrap reads and validates the connection's header, resolves its
// starting offset, and — on success — inserts it into the client table
// and runs its state machine.
func (e *Engine) bootstrap(conn *net.TCPConn) {
	if e.opts.Keepalive {
		if err := kio.EnableKeepalive(conn); err != nil {
			e.log.Debugf("keepalive: %v", err)
		}
	}

	value, err := header.Read(conn)
	if err != nil {
		e.log.Debugf("client %s: bad header: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	offset := header.Resolve(value, e.file.Length())

	pipe, err := kio.NewPipe(e.opts.PipeCapacity)
	if err != nil {
		e.log.Warnf("client %s: allocate pipe: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	id := e.nextID.Add(1)
	c := newClient(id, conn, pipe, offset)
	e.clients.Store(id, c)
	defer e.clients.Delete(id)

	e.log.Debugf("client %d connected from %s, starting at offset %d", id, conn.RemoteAddr(), offset)
	c.run(e.file, e.opts.PipeCapacity, e.draining.Load, e.stopCh, e.log)
	e.log.Debugf("client %d disconnected (fatal=%v)", id, c.Fatal())
}

// NumClients returns the number of clients currently in the table, for
// diagnostics and tests.
func (e *Engine) NumClients() int {
	n := 0
	e.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
