package replica

import (
    "runtime"
    "sync/atomic"
    "time"

    "github.com/numanode/go-nr/pkg/dispatch"
)

// Context slot states. The owner thread moves idle -> pending, the serving
// combiner moves pending -> done, and the owner moves done -> idle after
// collecting the response. At most one request is in flight per slot.
const (
    ctxIdle uint32 = iota
    ctxPending
    ctxDone
)

// Context is the hand-off point between one client thread and whichever
// thread currently holds the replica's combiner role. The owner writes op
// before publishing ctxPending; the combiner writes res/err before
// publishing ctxDone. The state word is the only field touched by both
// sides concurrently.
type Context struct {
    state atomic.Uint32

    op  dispatch.Operation
    res dispatch.Result
    err error

    // keep neighboring slots in the array off the same cache line
    _ [64]byte
}

const pollSpins = 32

// backoff is the bounded-backoff polling loop a losing thread runs while
// waiting for its context to be served: a cooperative yield first, then a
// short sleep once yielding alone is not making progress.
type backoff struct {
    spins int
}

func (b *backoff) wait() {
    if b.spins < pollSpins {
        b.spins++
        runtime.Gosched()
        return
    }
    time.Sleep(50 * time.Microsecond)
}
