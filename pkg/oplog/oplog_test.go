package oplog

import (
    "encoding/binary"
    "errors"
    "fmt"
    "runtime"
    "sync"
    "testing"

    "github.com/numanode/go-nr/pkg/dispatch"
)

func seqOp(seq uint64) dispatch.Operation {
    buf := make([]byte, 8)
    binary.BigEndian.PutUint64(buf, seq)
    return dispatch.Operation{Op: "seq", Payload: buf}
}

func seqOf(e Entry) uint64 { return binary.BigEndian.Uint64(e.Op.Payload) }

func TestNewValidatesArguments(t *testing.T) {
    if _, err := New(8, 0); err == nil {
        t.Fatalf("expected error for zero replicas")
    }
    if _, err := New(1, 1); err == nil {
        t.Fatalf("expected error for capacity below minimum")
    }
    l, err := New(8, 2)
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    if l.Capacity() != 8 || l.Replicas() != 2 {
        t.Fatalf("unexpected shape: cap=%d replicas=%d", l.Capacity(), l.Replicas())
    }
}

func TestTryAppendAssignsContiguousRanges(t *testing.T) {
    l, err := New(8, 1)
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    start, end, err := l.TryAppend([]dispatch.Operation{seqOp(0), seqOp(1)}, 0)
    if err != nil {
        t.Fatalf("append: %v", err)
    }
    if start != 0 || end != 2 {
        t.Fatalf("first range = [%d,%d), want [0,2)", start, end)
    }
    start, end, err = l.TryAppend([]dispatch.Operation{seqOp(2)}, 0)
    if err != nil {
        t.Fatalf("append: %v", err)
    }
    if start != 2 || end != 3 {
        t.Fatalf("second range = [%d,%d), want [2,3)", start, end)
    }
    if l.Tail() != 3 {
        t.Fatalf("tail = %d, want 3", l.Tail())
    }

    var got []uint64
    l.Consume(0, l.Tail(), func(e Entry) { got = append(got, seqOf(e)) })
    for i, s := range got {
        if uint64(i) != s {
            t.Fatalf("entry %d carries seq %d", i, s)
        }
    }
    if len(got) != 3 {
        t.Fatalf("consumed %d entries, want 3", len(got))
    }
    if l.CompletedTail() != 3 {
        t.Fatalf("completed tail = %d, want 3", l.CompletedTail())
    }
}

func TestEmptyBatchIsANoOp(t *testing.T) {
    l, _ := New(4, 1)
    start, end, err := l.TryAppend(nil, 0)
    if err != nil {
        t.Fatalf("append: %v", err)
    }
    if start != end {
        t.Fatalf("empty batch committed range [%d,%d)", start, end)
    }
    if l.Tail() != 0 {
        t.Fatalf("tail moved to %d on empty batch", l.Tail())
    }
}

func TestBatchLargerThanCapacityRejected(t *testing.T) {
    l, _ := New(4, 1)
    ops := []dispatch.Operation{seqOp(0), seqOp(1), seqOp(2), seqOp(3), seqOp(4)}
    if _, _, err := l.TryAppend(ops, 0); !errors.Is(err, ErrLogFull) {
        t.Fatalf("err = %v, want ErrLogFull", err)
    }
}

// A slow replica pins the reclamation barrier: appends fail with ErrLogFull
// until it consumes, after which the same append succeeds.
func TestLogFullUntilSlowReplicaSyncs(t *testing.T) {
    l, err := New(4, 2)
    if err != nil {
        t.Fatalf("new: %v", err)
    }
    for i := 0; i < 2; i++ {
        ops := []dispatch.Operation{seqOp(uint64(2 * i)), seqOp(uint64(2*i + 1))}
        if _, _, err := l.TryAppend(ops, 0); err != nil {
            t.Fatalf("fill append %d: %v", i, err)
        }
    }
    // Replica 0 is caught up, replica 1 has not moved past index 0.
    l.Consume(0, l.Tail(), func(Entry) {})

    if _, _, err := l.TryAppend([]dispatch.Operation{seqOp(4)}, 0); !errors.Is(err, ErrLogFull) {
        t.Fatalf("err = %v, want ErrLogFull while replica 1 is behind", err)
    }

    var seen int
    l.Consume(1, l.Tail(), func(Entry) { seen++ })
    if seen != 4 {
        t.Fatalf("slow replica consumed %d entries, want 4", seen)
    }

    start, end, err := l.TryAppend([]dispatch.Operation{seqOp(4)}, 0)
    if err != nil {
        t.Fatalf("retry after sync: %v", err)
    }
    if start != 4 || end != 5 {
        t.Fatalf("retry range = [%d,%d), want [4,5)", start, end)
    }
}

func TestWraparoundRecyclesSlots(t *testing.T) {
    l, _ := New(4, 1)
    var next uint64
    for lap := 0; lap < 10; lap++ {
        ops := []dispatch.Operation{seqOp(next), seqOp(next + 1)}
        start, _, err := l.TryAppend(ops, 0)
        if err != nil {
            t.Fatalf("append lap %d: %v", lap, err)
        }
        if start != next {
            t.Fatalf("lap %d started at %d, want %d", lap, start, next)
        }
        l.Consume(0, l.Tail(), func(e Entry) {
            if seqOf(e) != e.Index {
                t.Fatalf("index %d holds seq %d", e.Index, seqOf(e))
            }
            next++
        })
    }
    if next != 20 {
        t.Fatalf("consumed %d entries, want 20", next)
    }
}

func TestConsumePreservesGlobalOrderAcrossReplicas(t *testing.T) {
    l, _ := New(16, 2)
    if _, _, err := l.TryAppend([]dispatch.Operation{seqOp(0), seqOp(1)}, 0); err != nil {
        t.Fatalf("append r0: %v", err)
    }
    if _, _, err := l.TryAppend([]dispatch.Operation{seqOp(2)}, 1); err != nil {
        t.Fatalf("append r1: %v", err)
    }

    for rid := uint32(0); rid < 2; rid++ {
        var idxs []uint64
        var origins []uint32
        l.Consume(rid, l.Tail(), func(e Entry) {
            idxs = append(idxs, e.Index)
            origins = append(origins, e.Replica)
        })
        if len(idxs) != 3 {
            t.Fatalf("replica %d consumed %d entries, want 3", rid, len(idxs))
        }
        for i, idx := range idxs {
            if uint64(i) != idx {
                t.Fatalf("replica %d saw index %d at position %d", rid, idx, i)
            }
        }
        want := []uint32{0, 0, 1}
        for i := range want {
            if origins[i] != want[i] {
                t.Fatalf("replica %d saw origin %d at index %d, want %d", rid, origins[i], i, want[i])
            }
        }
    }
}

// Races a fast appender (which doubles as replica 0's consumer) against a
// deliberately slow replica 1 over a tiny ring. Replica 1 must still see
// every index exactly once with the payload that was committed there — a
// slot is never recycled before it has passed.
func TestReclamationSafetyUnderRace(t *testing.T) {
    const total = 4096
    l, err := New(8, 2)
    if err != nil {
        t.Fatalf("new: %v", err)
    }

    var wg sync.WaitGroup
    wg.Add(2)

    go func() {
        defer wg.Done()
        var seq uint64
        for seq < total {
            if _, _, err := l.TryAppend([]dispatch.Operation{seqOp(seq)}, 0); err != nil {
                l.Consume(0, l.Tail(), func(Entry) {})
                runtime.Gosched()
                continue
            }
            seq++
        }
        l.Consume(0, l.Tail(), func(Entry) {})
    }()

    errc := make(chan error, 1)
    go func() {
        defer wg.Done()
        var next uint64
        for next < total {
            target := l.Tail()
            l.Consume(1, target, func(e Entry) {
                if e.Index != next {
                    select {
                    case errc <- &orderError{got: e.Index, want: next}:
                    default:
                    }
                }
                if seqOf(e) != e.Index {
                    select {
                    case errc <- &orderError{got: seqOf(e), want: e.Index}:
                    default:
                    }
                }
                next++
            })
            runtime.Gosched()
        }
    }()

    wg.Wait()
    select {
    case err := <-errc:
        t.Fatalf("corruption: %v", err)
    default:
    }
    if l.LocalTail(0) != total || l.LocalTail(1) != total {
        t.Fatalf("local tails = %d/%d, want %d", l.LocalTail(0), l.LocalTail(1), total)
    }
}

type orderError struct{ got, want uint64 }

func (e *orderError) Error() string {
    return fmt.Sprintf("got index %d, want %d", e.got, e.want)
}

func TestCompletedTailNeverExceedsTail(t *testing.T) {
    l, _ := New(8, 2)
    if _, _, err := l.TryAppend([]dispatch.Operation{seqOp(0), seqOp(1), seqOp(2)}, 0); err != nil {
        t.Fatalf("append: %v", err)
    }
    if l.CompletedTail() != 0 {
        t.Fatalf("completed tail moved before any consume")
    }
    l.Consume(0, 2, func(Entry) {})
    if got := l.CompletedTail(); got != 2 {
        t.Fatalf("completed tail = %d, want 2", got)
    }
    l.Consume(1, l.Tail(), func(Entry) {})
    if got := l.CompletedTail(); got != 3 {
        t.Fatalf("completed tail = %d, want 3", got)
    }
    if l.CompletedTail() > l.Tail() {
        t.Fatalf("completed tail %d beyond tail %d", l.CompletedTail(), l.Tail())
    }
}
