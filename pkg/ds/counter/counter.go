// Package counter provides a minimal replicated data structure: a single
// signed counter. It is mostly useful in examples and tests, where the
// whole state fits in one integer and convergence is trivial to check.
package counter

import (
    "fmt"
    "strconv"
    "sync"

    "github.com/numanode/go-nr/pkg/dispatch"
)

const (
    OpAdd = "add"
    OpGet = "get"
)

// Counter implements dispatch.Dispatch over a single int64.
type Counter struct {
    mu sync.Mutex
    v  int64
}

func New() *Counter { return &Counter{} }

// Value reads the counter directly, bypassing the engine. Callers that need
// a linearizable read should go through an engine's read-only path instead.
func (c *Counter) Value() int64 {
    c.mu.Lock()
    defer c.mu.Unlock()
    return c.v
}

// Add builds an add operation for the given delta.
func Add(delta int64) dispatch.Operation {
    return dispatch.Operation{Op: OpAdd, Payload: []byte(strconv.FormatInt(delta, 10))}
}

// Get builds a read operation.
func Get() dispatch.Operation { return dispatch.Operation{Op: OpGet} }

func (c *Counter) ApplyMut(op dispatch.Operation) dispatch.Result {
    switch op.Op {
    case OpAdd:
        delta, err := strconv.ParseInt(string(op.Payload), 10, 64)
        if err != nil { return dispatch.Result{Err: fmt.Errorf("counter: bad delta %q: %w", op.Payload, err)} }
        c.mu.Lock()
        c.v += delta
        v := c.v
        c.mu.Unlock()
        return dispatch.Result{Data: []byte(strconv.FormatInt(v, 10))}
    default:
        return dispatch.Result{Err: fmt.Errorf("counter: unknown mutating op %q", op.Op)}
    }
}

func (c *Counter) ApplyRO(op dispatch.Operation) dispatch.Result {
    switch op.Op {
    case OpGet:
        c.mu.Lock()
        v := c.v
        c.mu.Unlock()
        return dispatch.Result{Data: []byte(strconv.FormatInt(v, 10))}
    default:
        return dispatch.Result{Err: fmt.Errorf("counter: unknown read-only op %q", op.Op)}
    }
}
