package nr

import (
    "errors"
    "fmt"
    "log"

    "github.com/numanode/go-nr/pkg/dispatch"
    "github.com/numanode/go-nr/pkg/oplog"
)

// Defaults applied by New when the corresponding Options field is zero.
const (
    DefaultThreadsPerReplica = 32
    DefaultCombinerRetries   = 4
)

// Options carries the engine's construction-time configuration. The
// replica count and thread-to-replica affinity are fixed for the lifetime
// of the engine; mapping threads onto NUMA nodes is the caller's business.
type Options struct {
    // Replicas is the number of data-structure copies, typically one per
    // NUMA node.
    Replicas int
    // LogCapacity is the slot count of the shared ring. It bounds how far
    // the slowest replica may fall behind before appends stall.
    LogCapacity uint64
    // ThreadsPerReplica bounds Register calls per replica.
    ThreadsPerReplica int
    // MaxBatch caps the operations one combining round appends at once.
    // Defaults to half the log capacity (at most ThreadsPerReplica), so a
    // batch always fits an unpinned ring.
    MaxBatch int
    // CombinerRetries bounds LogFull retries inside a combining round
    // before the condition is surfaced to callers. A count rather than a
    // deadline: the protocol stays clock-free.
    CombinerRetries int
    // NewState builds one private data-structure copy per replica. Copies
    // must start equal and behave deterministically, or replicas will not
    // converge.
    NewState func(replica uint32) dispatch.Dispatch
    // Logger is used for operational messages. log.Default() when nil.
    Logger *log.Logger
}

// Validate performs a minimal validation of Options. It is safe to call
// before New and performs no allocation.
func (o Options) Validate() error {
    if o.Replicas <= 0 {
        return fmt.Errorf("nr: Replicas must be positive, got %d", o.Replicas)
    }
    if o.NewState == nil {
        return errors.New("nr: nil NewState")
    }
    if o.ThreadsPerReplica < 0 {
        return fmt.Errorf("nr: ThreadsPerReplica must not be negative, got %d", o.ThreadsPerReplica)
    }
    if o.CombinerRetries < 0 {
        return fmt.Errorf("nr: CombinerRetries must not be negative, got %d", o.CombinerRetries)
    }
    return nil
}

func (o Options) withDefaults() Options {
    if o.LogCapacity == 0 {
        o.LogCapacity = oplog.DefaultCapacity
    }
    if o.ThreadsPerReplica == 0 {
        o.ThreadsPerReplica = DefaultThreadsPerReplica
    }
    if o.MaxBatch == 0 {
        o.MaxBatch = int(o.LogCapacity / 2)
        if o.MaxBatch > o.ThreadsPerReplica {
            o.MaxBatch = o.ThreadsPerReplica
        }
        if o.MaxBatch == 0 {
            o.MaxBatch = 1
        }
    }
    if o.CombinerRetries == 0 {
        o.CombinerRetries = DefaultCombinerRetries
    }
    if o.Logger == nil {
        o.Logger = log.Default()
    }
    return o
}
