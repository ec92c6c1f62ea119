// Package replica holds the per-NUMA-node side of the engine: a private
// copy of the replicated data structure, one context slot per registered
// thread, and the flat-combining protocol that moves pending requests into
// the shared log and log entries into the local state.
package replica

import (
    "errors"
    "fmt"
    "log"
    "sync"
    "sync/atomic"

    "github.com/numanode/go-nr/pkg/dispatch"
    "github.com/numanode/go-nr/pkg/internal/logutil"
    obsmetrics "github.com/numanode/go-nr/pkg/observability/metrics"
    "github.com/numanode/go-nr/pkg/oplog"
)

var (
    // ErrRegistrationExhausted reports that every context slot on the
    // replica is taken. Structural: surfaced immediately, never retried.
    ErrRegistrationExhausted = errors.New("replica: no free context slot")
    // ErrInvalidToken reports a token that does not belong to a registered
    // slot on this replica.
    ErrInvalidToken = errors.New("replica: token not registered")
)

// Options assembles a replica. The engine fills defaults before calling
// New; Validate only rejects what cannot work at all.
type Options struct {
    // ID is the replica's index into the shared log's local-tail table.
    ID uint32
    // Log is the operation log shared by all replicas.
    Log *oplog.Log
    // State is this replica's private copy of the data structure. No other
    // replica may touch it; all mutation flows through log replay.
    State dispatch.Dispatch
    // Slots is the number of context slots, bounding how many threads can
    // register on this replica.
    Slots int
    // MaxBatch caps how many pending requests one combining round appends.
    MaxBatch int
    // CombinerRetries bounds how often a combining round retries a full
    // log after forcing local reclamation, before surfacing ErrLogFull.
    CombinerRetries int
    // Logger reports operational messages; log.Default() when nil.
    Logger *log.Logger
}

func (o Options) Validate() error {
    if o.Log == nil {
        return errors.New("replica: nil Log")
    }
    if o.State == nil {
        return errors.New("replica: nil State")
    }
    if o.Slots <= 0 {
        return fmt.Errorf("replica: Slots must be positive, got %d", o.Slots)
    }
    if o.MaxBatch <= 0 {
        return fmt.Errorf("replica: MaxBatch must be positive, got %d", o.MaxBatch)
    }
    if o.CombinerRetries < 0 {
        return fmt.Errorf("replica: CombinerRetries must not be negative, got %d", o.CombinerRetries)
    }
    return nil
}

// Token identifies one registered thread's context slot on a replica.
type Token struct {
    slot int
}

// Replica owns one copy of the data structure and applies the shared log
// to it. The data structure is only mutated by the thread holding the
// combiner lock; read-only operations run concurrently under the read half
// of dsMu.
type Replica struct {
    id      uint32
    log     *oplog.Log
    slots   []Context
    logger  *log.Logger

    maxBatch int
    retries  int

    registered atomic.Int32

    dsMu sync.RWMutex
    ds   dispatch.Dispatch

    // combiner is the election lock: acquisition is opportunistic
    // (TryLock) and losing threads wait on their context, never on the
    // lock, so the protocol cannot deadlock here.
    combiner sync.Mutex

    // combining-round scratch, guarded by the combiner lock.
    batch  []dispatch.Operation
    queued []*Context
    next   int
}

// New builds a replica around its private state and the shared log.
func New(opts Options) (*Replica, error) {
    if err := opts.Validate(); err != nil {
        return nil, err
    }
    if opts.Logger == nil {
        opts.Logger = log.Default()
    }
    return &Replica{
        id:       opts.ID,
        log:      opts.Log,
        slots:    make([]Context, opts.Slots),
        logger:   logutil.ForReplica(opts.Logger, opts.ID),
        maxBatch: opts.MaxBatch,
        retries:  opts.CombinerRetries,
        ds:       opts.State,
        batch:    make([]dispatch.Operation, 0, opts.MaxBatch),
        queued:   make([]*Context, 0, opts.MaxBatch),
    }, nil
}

// ID returns the replica's index.
func (r *Replica) ID() uint32 { return r.id }

// Applied returns the log index this replica has folded into its state.
func (r *Replica) Applied() uint64 { return r.log.LocalTail(r.id) }

// Registered returns how many threads hold a slot on this replica.
func (r *Replica) Registered() int { return int(r.registered.Load()) }

// Register claims a context slot for the calling thread. Fails with
// ErrRegistrationExhausted once all slots are taken; slots are never
// returned.
func (r *Replica) Register() (Token, error) {
    for {
        n := r.registered.Load()
        if int(n) >= len(r.slots) {
            return Token{}, ErrRegistrationExhausted
        }
        if r.registered.CompareAndSwap(n, n+1) {
            obsmetrics.RegisteredThreads.WithLabelValues(fmt.Sprint(r.id)).Inc()
            return Token{slot: int(n)}, nil
        }
    }
}

func (r *Replica) checkToken(tok Token) error {
    if tok.slot < 0 || tok.slot >= int(r.registered.Load()) {
        return ErrInvalidToken
    }
    return nil
}

// ExecuteMut submits a mutating operation and blocks the calling thread
// until it has been committed to the log and applied here. The caller
// either becomes the combiner itself or polls its own context, trusting
// the current combiner to serve every pending slot.
//
// The returned error is engine-level (ErrLogFull after bounded retries,
// ErrInvalidToken); a failure inside the data structure travels untouched
// in Result.Err.
func (r *Replica) ExecuteMut(tok Token, op dispatch.Operation) (dispatch.Result, error) {
    if err := r.checkToken(tok); err != nil {
        return dispatch.Result{}, err
    }
    ctx := &r.slots[tok.slot]
    ctx.op = op
    ctx.res = dispatch.Result{}
    ctx.err = nil
    ctx.state.Store(ctxPending)

    var b backoff
    for ctx.state.Load() != ctxDone {
        if !r.TryCombine() {
            b.wait()
        }
    }
    res, err := ctx.res, ctx.err
    ctx.state.Store(ctxIdle)
    obsmetrics.MutableOps.Inc()
    return res, err
}

// ExecuteRO answers a read-only operation against the local state without
// appending to the log. It first waits until this replica has caught up to
// the completed tail observed on entry, so the read cannot miss an update
// that was already acknowledged anywhere; waiting threads help by
// attempting to combine.
func (r *Replica) ExecuteRO(tok Token, op dispatch.Operation) (dispatch.Result, error) {
    if err := r.checkToken(tok); err != nil {
        return dispatch.Result{}, err
    }
    upper := r.log.CompletedTail()
    var b backoff
    for r.log.LocalTail(r.id) < upper {
        if !r.TryCombine() {
            b.wait()
        }
    }
    r.dsMu.RLock()
    res := r.ds.ApplyRO(op)
    r.dsMu.RUnlock()
    obsmetrics.ReadonlyOps.Inc()
    return res, nil
}

// Sync drives this replica's applied index up to the log tail observed on
// entry. Used by Engine.Sync and by callers that want a quiescent point.
func (r *Replica) Sync() {
    target := r.log.Tail()
    var b backoff
    for r.log.LocalTail(r.id) < target {
        if !r.TryCombine() {
            b.wait()
        }
    }
}

// TryCombine attempts to win the combiner role and, on success, runs one
// full combining round before releasing it. Returns false without blocking
// when another thread holds the role.
func (r *Replica) TryCombine() bool {
    if !r.combiner.TryLock() {
        return false
    }
    r.combine()
    r.combiner.Unlock()
    return true
}

// combine runs one round: gather pending contexts in slot order, append
// them as one batch, replay the log up to the freshly observed tail
// (folding in remote entries as well), and publish responses.
func (r *Replica) combine() {
    r.batch = r.batch[:0]
    r.queued = r.queued[:0]
    r.next = 0

    n := int(r.registered.Load())
    for i := 0; i < n && len(r.batch) < r.maxBatch; i++ {
        ctx := &r.slots[i]
        if ctx.state.Load() == ctxPending {
            r.batch = append(r.batch, ctx.op)
            r.queued = append(r.queued, ctx)
        }
    }

    if len(r.batch) > 0 {
        var appendErr error
        for attempt := 0; ; attempt++ {
            _, _, err := r.log.TryAppend(r.batch, r.id)
            if err == nil {
                break
            }
            if !errors.Is(err, oplog.ErrLogFull) || attempt >= r.retries {
                appendErr = err
                break
            }
            // The only reclamation trigger: catching up our own local
            // tail moves the barrier before the retry.
            obsmetrics.LogFullTotal.Inc()
            r.apply(r.log.Tail())
        }
        if appendErr != nil {
            logutil.Warnf(r.logger, "batch of %d not committed: %v", len(r.batch), appendErr)
            for _, ctx := range r.queued {
                ctx.err = appendErr
                ctx.state.Store(ctxDone)
            }
            r.queued = r.queued[:0]
        }
        obsmetrics.BatchSize.Observe(float64(len(r.batch)))
    }

    r.apply(r.log.Tail())
    obsmetrics.CombineRounds.Inc()
}

// apply folds every unconsumed log entry up to target into the local
// state. Entries this replica appended resolve the queued contexts of the
// current round in order; remote entries just mutate state. Callers must
// hold the combiner lock.
//
// Responses are held until Consume has returned: an acknowledged update
// must sit below the completed tail, or a reader on another replica could
// snapshot a completed tail that predates a write its client already saw
// confirmed.
func (r *Replica) apply(target uint64) {
    first := r.next
    r.dsMu.Lock()
    r.log.Consume(r.id, target, func(e oplog.Entry) {
        res := r.ds.ApplyMut(e.Op)
        if e.Replica != r.id || r.next >= len(r.queued) {
            return
        }
        ctx := r.queued[r.next]
        r.next++
        ctx.res = res
        ctx.err = nil
    })
    r.dsMu.Unlock()
    for _, ctx := range r.queued[first:r.next] {
        ctx.state.Store(ctxDone)
    }
}
