package dispatch

// Operation is an opaque, serialized request against the replicated data
// structure. The engine never interprets Op or Payload; it only moves them
// through the log in a fixed global order. Operations are immutable once
// submitted.
type Operation struct {
    // Op names the operation (e.g., "put", "get"). Routing inside the data
    // structure is the implementation's business.
    Op      string
    // Payload carries the serialized arguments.
    Payload []byte
}

// Result is what the data structure produced for one applied Operation.
// Err is opaque to the engine: it is recorded and handed back to the
// submitter verbatim, never retried or interpreted.
type Result struct {
    Data []byte
    Err  error
}

// Dispatch is the capability interface a replicated data structure
// implements. The engine holds one instance per replica, resolved once at
// construction, and funnels every state change through ApplyMut in log
// order.
//
// Both methods must be deterministic functions of (current state,
// operation) — this is what makes replicas that replay the same log
// converge to equal state. They must not block; a failure is a permanent
// Result value, not a transient condition.
type Dispatch interface {
    // ApplyMut applies a mutating operation and returns its result. It is
    // only ever invoked by the thread holding the replica's combiner role,
    // so implementations need no internal ordering of their own beyond
    // plain mutual exclusion with readers.
    ApplyMut(op Operation) Result

    // ApplyRO answers a read-only operation. It must not mutate state: the
    // engine invokes it concurrently with other readers, outside the log.
    ApplyRO(op Operation) Result
}
