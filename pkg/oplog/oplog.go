// Package oplog implements the shared operation log at the heart of the
// engine: a fixed-capacity cyclic buffer with a single atomically advanced
// global tail. Every replica consumes the same entries in the same index
// order, which is what establishes the one global order of operations
// across NUMA nodes.
//
// Slot recycling is guarded by the reclamation barrier: a slot holding
// index i may be rewritten only once every replica's local tail has passed
// i. The barrier is tracked lazily in a cached head that is refreshed from
// the per-replica local tails only when an append runs out of room; there
// is no background reclaimer.
package oplog

import (
    "errors"
    "fmt"
    "runtime"
    "sync/atomic"

    "github.com/numanode/go-nr/pkg/dispatch"
)

// ErrLogFull reports that a batch could not be placed without overwriting
// entries some replica has not consumed yet. It is transient: the caller
// should advance its own replica (freeing barrier room) and retry.
// Exhausting the bounded tail-CAS retries under heavy contention surfaces
// as the same condition.
var ErrLogFull = errors.New("oplog: log full")

// DefaultCapacity is the ring size used when the caller does not pick one.
const DefaultCapacity = 1 << 15

const (
    minCapacity    = 2
    maxTailRetries = 64
    aliveSpins     = 128
)

// Entry is one committed log record: the operation, the replica that
// appended it and its global sequence index. Logically immutable once
// published, even though the underlying slot is eventually recycled.
type Entry struct {
    Op      dispatch.Operation
    Replica uint32
    Index   uint64
}

// slot is the physical home of one entry. alive carries the lap
// publication bit: readers accept the slot's contents only once it shows
// the bit expected for their logical index, so a reserved-but-unwritten
// slot (or a stale entry from the previous lap) is never observed.
type slot struct {
    op      dispatch.Operation
    replica uint32
    alive   atomic.Uint32
}

// counter is a cache-line padded atomic, keeping the hot tail/head/ltail
// words off each other's lines.
type counter struct {
    v atomic.Uint64
    _ [56]byte
}

// Log is the shared cyclic buffer. One instance is shared by all replicas;
// the tail is the only cross-replica mutable word on the append path.
type Log struct {
    capacity uint64
    slots    []slot

    // tail is the next free global index; appenders reserve ranges here
    // with a single CAS.
    tail counter
    // head caches the reclamation barrier. It trails min(ltails) and is
    // refreshed on demand when an append finds the ring full.
    head counter
    // ctail is the completed tail (version upper bound): every index below
    // it has been applied by at least one replica. The read-only fast path
    // snapshots it.
    ctail counter

    // ltails[r] is how far replica r has consumed, in log indices.
    ltails []counter
}

// New creates a log with the given slot capacity shared by the given
// number of replicas.
func New(capacity uint64, replicas int) (*Log, error) {
    if replicas <= 0 {
        return nil, fmt.Errorf("oplog: replica count must be positive, got %d", replicas)
    }
    if capacity < minCapacity {
        return nil, fmt.Errorf("oplog: capacity must be at least %d, got %d", minCapacity, capacity)
    }
    return &Log{
        capacity: capacity,
        slots:    make([]slot, capacity),
        ltails:   make([]counter, replicas),
    }, nil
}

// lapBit returns the publication bit an entry at logical index idx must
// carry to be readable. The expected value alternates every lap around the
// ring, so entries from the previous lap are automatically dead; zero is
// never expected, which covers never-written slots.
func (l *Log) lapBit(idx uint64) uint32 {
    if (idx/l.capacity)%2 == 0 {
        return 1
    }
    return 2
}

// TryAppend reserves a contiguous range for the batch with one CAS on the
// global tail and publishes the entries into it, returning the committed
// range [start, end). No per-entry locking: after a successful CAS the
// caller exclusively owns the slots, and each becomes visible to readers
// only when its lap bit is stored after the payload.
//
// Fails with ErrLogFull when the range would overrun the reclamation
// barrier even after refreshing it.
func (l *Log) TryAppend(ops []dispatch.Operation, replica uint32) (start, end uint64, err error) {
    n := uint64(len(ops))
    if n == 0 {
        t := l.tail.v.Load()
        return t, t, nil
    }
    if n > l.capacity {
        return 0, 0, ErrLogFull
    }
    for attempt := 0; attempt < maxTailRetries; attempt++ {
        t := l.tail.v.Load()
        if t+n > l.head.v.Load()+l.capacity {
            if h := l.advanceHead(); t+n > h+l.capacity {
                return 0, 0, ErrLogFull
            }
        }
        if !l.tail.v.CompareAndSwap(t, t+n) {
            continue
        }
        for i := uint64(0); i < n; i++ {
            idx := t + i
            s := &l.slots[idx%l.capacity]
            s.op = ops[i]
            s.replica = replica
            s.alive.Store(l.lapBit(idx))
        }
        return t, t + n, nil
    }
    return 0, 0, ErrLogFull
}

// Consume delivers every entry in [LocalTail(replica), target) to fn in
// strict index order, then advances the replica's local tail to target and
// raises the completed tail. Entries reserved but not yet published are
// waited for with a short spin and a cooperative yield.
//
// The caller must be the replica's current combiner: at most one Consume
// per replica may run at a time. target must not exceed a previously
// observed Tail(). Returns the new local tail.
func (l *Log) Consume(replica uint32, target uint64, fn func(Entry)) uint64 {
    lt := l.ltails[replica].v.Load()
    if target <= lt {
        return lt
    }
    for idx := lt; idx < target; idx++ {
        s := &l.slots[idx%l.capacity]
        bit := l.lapBit(idx)
        for spins := 0; s.alive.Load() != bit; spins++ {
            if spins >= aliveSpins {
                runtime.Gosched()
                spins = 0
            }
        }
        fn(Entry{Op: s.op, Replica: s.replica, Index: idx})
    }
    l.ltails[replica].v.Store(target)
    l.bumpCompleted(target)
    return target
}

// advanceHead refreshes the cached reclamation barrier from the local
// tails. Local tails only grow, so the computed minimum is always a safe
// (possibly stale) barrier; the CAS-max keeps head monotone under
// concurrent refreshes.
func (l *Log) advanceHead() uint64 {
    min := l.ltails[0].v.Load()
    for i := 1; i < len(l.ltails); i++ {
        if lt := l.ltails[i].v.Load(); lt < min {
            min = lt
        }
    }
    for {
        h := l.head.v.Load()
        if min <= h {
            return h
        }
        if l.head.v.CompareAndSwap(h, min) {
            return min
        }
    }
}

func (l *Log) bumpCompleted(target uint64) {
    for {
        c := l.ctail.v.Load()
        if target <= c {
            return
        }
        if l.ctail.v.CompareAndSwap(c, target) {
            return
        }
    }
}

// Capacity returns the fixed slot count of the ring.
func (l *Log) Capacity() uint64 { return l.capacity }

// Tail returns the current global tail: the index the next append will
// start at. Every index below it is committed.
func (l *Log) Tail() uint64 { return l.tail.v.Load() }

// CompletedTail returns the version upper bound: the highest index known
// to have been applied by some replica.
func (l *Log) CompletedTail() uint64 { return l.ctail.v.Load() }

// LocalTail returns how far the given replica has consumed.
func (l *Log) LocalTail(replica uint32) uint64 { return l.ltails[replica].v.Load() }

// Replicas returns the number of registered consumers.
func (l *Log) Replicas() int { return len(l.ltails) }
