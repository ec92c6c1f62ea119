// Package nr is the engine facade: it turns one sequential data structure
// (anything implementing dispatch.Dispatch) into a linearizable concurrent
// one replicated across NUMA nodes. A shared operation log fixes one
// global order; each replica replays it into a private copy; per-replica
// flat combining batches requests so the log's tail is touched once per
// batch rather than once per operation.
package nr

import (
    "fmt"
    "log"

    "github.com/numanode/go-nr/pkg/dispatch"
    "github.com/numanode/go-nr/pkg/internal/logutil"
    obsmetrics "github.com/numanode/go-nr/pkg/observability/metrics"
    "github.com/numanode/go-nr/pkg/oplog"
    "github.com/numanode/go-nr/pkg/replica"
)

// Engine exposes the client-facing surface of the replication engine.
type Engine interface {
    // Register binds the calling thread to the given replica and returns
    // its token. The caller is responsible for actually running on that
    // replica's NUMA node; the engine only tracks the binding.
    Register(replicaID uint32) (Token, error)
    // ExecuteMut commits a mutating operation through the log and blocks
    // until it has been applied on the caller's replica.
    ExecuteMut(tok Token, op dispatch.Operation) (dispatch.Result, error)
    // Execute answers a read-only operation from the caller's replica
    // without appending to the log.
    Execute(tok Token, op dispatch.Operation) (dispatch.Result, error)
    // Sync drives every replica up to the current log tail.
    Sync()
    // Status reports the log and per-replica progress.
    Status() *Status
}

// Token identifies a registered thread: its replica and its context slot
// there. Tokens are engine-scoped values, cheap to copy, and must not be
// shared between concurrently running threads.
type Token struct {
    replicaID uint32
    inner     replica.Token
}

// Replica returns the replica this token is bound to.
func (t Token) Replica() uint32 { return t.replicaID }

// NodeReplicated is the concrete Engine. It owns the shared log and the
// ordered set of replicas; all coordination state lives in those two.
type NodeReplicated struct {
    opts     Options
    log      *oplog.Log
    replicas []*replica.Replica
    logger   *log.Logger
}

var _ Engine = (*NodeReplicated)(nil)

// New constructs the engine with a fixed replica count, building one
// private data-structure copy per replica via opts.NewState. No partial
// teardown is defined; the engine lives until the owning process drops it.
func New(opts Options) (*NodeReplicated, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    opts = opts.withDefaults()
    obsmetrics.Register()

    l, err := oplog.New(opts.LogCapacity, opts.Replicas)
    if err != nil {
        return nil, err
    }
    replicas := make([]*replica.Replica, opts.Replicas)
    for i := range replicas {
        r, err := replica.New(replica.Options{
            ID:              uint32(i),
            Log:             l,
            State:           opts.NewState(uint32(i)),
            Slots:           opts.ThreadsPerReplica,
            MaxBatch:        opts.MaxBatch,
            CombinerRetries: opts.CombinerRetries,
            Logger:          opts.Logger,
        })
        if err != nil {
            return nil, fmt.Errorf("nr: replica %d: %w", i, err)
        }
        replicas[i] = r
    }
    logutil.Infof(opts.Logger, "engine ready: replicas=%d capacity=%d threads/replica=%d",
        opts.Replicas, opts.LogCapacity, opts.ThreadsPerReplica)
    return &NodeReplicated{opts: opts, log: l, replicas: replicas, logger: opts.Logger}, nil
}

// Replicas returns the fixed replica count.
func (n *NodeReplicated) Replicas() int { return len(n.replicas) }

// Register binds a thread to a replica. Fails with ErrUnknownReplica for
// an out-of-range replica and ErrRegistrationExhausted when the replica
// has no free context slot.
func (n *NodeReplicated) Register(replicaID uint32) (Token, error) {
    if int(replicaID) >= len(n.replicas) {
        return Token{}, fmt.Errorf("%w: %d", ErrUnknownReplica, replicaID)
    }
    inner, err := n.replicas[replicaID].Register()
    if err != nil {
        return Token{}, err
    }
    return Token{replicaID: replicaID, inner: inner}, nil
}

// ExecuteMut submits a mutating operation under the token's replica. The
// operation is either durably placed in the log (and will be applied by
// every replica) or reported as not committed; there is no third state.
func (n *NodeReplicated) ExecuteMut(tok Token, op dispatch.Operation) (dispatch.Result, error) {
    if int(tok.replicaID) >= len(n.replicas) {
        return dispatch.Result{}, fmt.Errorf("%w: %d", ErrUnknownReplica, tok.replicaID)
    }
    return n.replicas[tok.replicaID].ExecuteMut(tok.inner, op)
}

// Execute answers a read-only operation. It never appends, but may block
// briefly while the replica catches up to the completed tail.
func (n *NodeReplicated) Execute(tok Token, op dispatch.Operation) (dispatch.Result, error) {
    if int(tok.replicaID) >= len(n.replicas) {
        return dispatch.Result{}, fmt.Errorf("%w: %d", ErrUnknownReplica, tok.replicaID)
    }
    return n.replicas[tok.replicaID].ExecuteRO(tok.inner, op)
}

// Sync drives every replica to the log tail observed on entry. Useful as
// a quiescent point for snapshots and tests.
func (n *NodeReplicated) Sync() {
    for _, r := range n.replicas {
        r.Sync()
    }
}
