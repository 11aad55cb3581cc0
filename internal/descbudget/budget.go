// Package descbudget tracks the process-wide file-descriptor budget the
// engine must respect before accepting a new client: each client costs
// three descriptors (socket, pipe read end, pipe write end).
package descbudget

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PerClient is the number of descriptors one client consumes: socket,
// pipe read end, pipe write end.
const PerClient = 3

// reserve is the number of descriptors kept aside for the listening
// socket, stdio, the watched file, and the watcher's own fd(s).
const reserve = 8

// Budget tracks in-use descriptors against the process's RLIMIT_NOFILE.
type Budget struct {
	limit int64
	inUse atomic.Int64
}

// New reads the process's current RLIMIT_NOFILE soft limit.
func New() (*Budget, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return nil, errors.Wrap(err, "getrlimit")
	}
	return &Budget{limit: int64(rl.Cur)}, nil
}

// TryAcquire reserves descriptors for one new client, returning false if
// doing so would exceed the process's descriptor budget. On success the
// caller must call Release exactly once when the client closes.
func (b *Budget) TryAcquire() bool {
	for {
		cur := b.inUse.Load()
		if cur+PerClient > b.limit-reserve {
			return false
		}
		if b.inUse.CompareAndSwap(cur, cur+PerClient) {
			return true
		}
	}
}

// Release returns one client's worth of descriptors to the budget.
func (b *Budget) Release() {
	b.inUse.Add(-PerClient)
}

// InUse reports the descriptors currently charged against the budget.
func (b *Budget) InUse() int64 { return b.inUse.Load() }

// Limit reports the soft RLIMIT_NOFILE this budget was created from.
func (b *Budget) Limit() int64 { return b.limit }
