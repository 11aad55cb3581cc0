package engine

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/asayers/tailsrv/internal/kio"
	"github.com/asayers/tailsrv/internal/logging"
)

// State is one of the five states a Client cycles through.
type State int32

const (
	Bootstrapping State = iota
	Idle
	Filling
	Draining
	Closing
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "Bootstrapping"
	case Idle:
		return "Idle"
	case Filling:
		return "Filling"
	case Draining:
		return "Draining"
	case Closing:
		return "Closing"
	default:
		return "Unknown"
	}
}

// Client is a live connection. Exactly one goroutine drives a Client's
// state machine, so there is never more than one in-flight Fill/Drain
// per client at any instant, enforced structurally instead of via an
// explicit submission tag.
type Client struct {
	id   uint64
	conn *net.TCPConn
	pipe kio.Pipe

	offset atomic.Int64
	inPipe atomic.Int32
	state  atomic.Int32

	mu    sync.Mutex
	fatal error
}

func newClient(id uint64, conn *net.TCPConn, pipe kio.Pipe, offset int64) *Client {
	c := &Client{id: id, conn: conn, pipe: pipe}
	c.offset.Store(offset)
	c.state.Store(int32(Bootstrapping))
	return c
}

// ID returns the client's process-unique identifier.
func (c *Client) ID() uint64 { return c.id }

// Offset returns the next byte of the watched file this client has not
// yet been handed.
func (c *Client) Offset() int64 { return c.offset.Load() }

// InPipe returns the number of bytes currently buffered in this client's
// pipe, not yet handed to its socket.
func (c *Client) InPipe() int32 { return c.inPipe.Load() }

// State returns the client's current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

func (c *Client) setFatal(err error) {
	c.mu.Lock()
	if c.fatal == nil {
		c.fatal = err
	}
	c.mu.Unlock()
	c.setState(Closing)
}

// Fatal returns the terminal error that drove this client to Closing, if
// any.
func (c *Client) Fatal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// run drives the per-client state machine until the client closes.
// pipeCap bounds how many bytes a single Fill may move in one call.
// draining reports whether the engine has begun an orderly shutdown —
// either the watched file's terminal event or a process-level signal —
// in which case the client drains whatever is already buffered and
// closes without requesting further Fills; stop is closed at the same
// moment, so a client parked waiting for file growth wakes immediately
// instead of blocking shutdown.
func (c *Client) run(wf *WatchedFile, pipeCap int, draining func() bool, stop <-chan struct{}, log *logging.Logger) {
	defer func() {
		c.setState(Closing)
		if err := kio.CloseAndRelease(c.conn, c.pipe); err != nil {
			log.Debugf("client %d: close: %v", c.id, err)
		}
	}()

	for {
		gone := draining()
		// Arm the wake channel before reading Length(), not after: if we
		// read the channel second, a Refresh landing between the two reads
		// advances the length and swaps in a fresh, un-closed channel,
		// and we'd park on an edge that already passed.
		ch := wf.Wait()
		length := wf.Length()
		offset := c.offset.Load()
		inPipe := int(c.inPipe.Load())

		// Once the watched file is gone, the engine stops handing out new
		// bytes and only drains what is already buffered.
		wantFill := !gone && offset < length && inPipe < pipeCap

		if wantFill {
			c.setState(Filling)
			max := pipeCap - inPipe
			if want := length - offset; want < int64(max) {
				max = int(want)
			}
			n, err := kio.Fill(wf.File(), offset, c.pipe, max)
			if err != nil {
				log.Warnf("client %d: fill: %v", c.id, err)
				c.setFatal(err)
				return
			}
			if n > 0 {
				c.offset.Add(int64(n))
				c.inPipe.Add(int32(n))
				inPipe += n
			} else if inPipe == 0 {
				// EOF-for-now and nothing buffered to drain: park until
				// the file grows.
				if !c.parkForGrowth(ch, draining, stop) {
					return
				}
				continue
			}
		}

		if inPipe > 0 {
			c.setState(Draining)
			n, err := kio.Drain(c.conn, c.pipe, inPipe)
			if err != nil && err != io.EOF {
				log.Warnf("client %d: drain: %v", c.id, err)
				c.setFatal(err)
				return
			}
			if err == io.EOF {
				c.setFatal(err)
				return
			}
			c.inPipe.Add(int32(-n))
			continue
		}

		if gone {
			return
		}

		// offset >= length and the pipe is empty: nothing to do until the
		// file grows.
		c.setState(Idle)
		if !c.parkForGrowth(ch, draining, stop) {
			return
		}
	}
}

// parkForGrowth waits on a file-growth broadcast channel already captured by
// the caller (see the comment in run) or a shutdown signal. It returns false
// if the client should stop running.
func (c *Client) parkForGrowth(ch <-chan struct{}, draining func() bool, stop <-chan struct{}) bool {
	if draining() {
		return false
	}
	select {
	case <-ch:
		return true
	case <-stop:
		return false
	}
}
