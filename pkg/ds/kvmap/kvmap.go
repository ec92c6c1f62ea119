// Package kvmap provides a replicated string key/value map. Operations are
// encoded as JSON commands so the same payload can travel through the shared
// log and over the HTTP surface unchanged.
package kvmap

import (
    "encoding/json"
    "errors"
    "fmt"
    "sort"
    "sync"

    "github.com/numanode/go-nr/pkg/dispatch"
)

const (
    OpPut    = "put"
    OpDelete = "delete"
    OpGet    = "get"
    OpKeys   = "keys"
    OpLen    = "len"
)

var ErrNotFound = errors.New("kvmap: key not found")

// Command is the wire form of a map operation's payload.
type Command struct {
    Key   string `json:"key"`
    Value string `json:"value,omitempty"`
}

// Map is an in-memory key/value store implementing dispatch.Dispatch.
type Map struct {
    mu   sync.RWMutex
    data map[string]string
}

func New() *Map { return &Map{data: make(map[string]string)} }

// Put builds a put operation for key/value.
func Put(key, value string) dispatch.Operation {
    b, _ := json.Marshal(Command{Key: key, Value: value})
    return dispatch.Operation{Op: OpPut, Payload: b}
}

// Delete builds a delete operation for key.
func Delete(key string) dispatch.Operation {
    b, _ := json.Marshal(Command{Key: key})
    return dispatch.Operation{Op: OpDelete, Payload: b}
}

// Get builds a read operation for key.
func Get(key string) dispatch.Operation {
    b, _ := json.Marshal(Command{Key: key})
    return dispatch.Operation{Op: OpGet, Payload: b}
}

// Keys builds a read operation listing all keys.
func Keys() dispatch.Operation { return dispatch.Operation{Op: OpKeys} }

// Len builds a read operation returning the number of entries.
func Len() dispatch.Operation { return dispatch.Operation{Op: OpLen} }

func decode(op dispatch.Operation) (Command, error) {
    var c Command
    if err := json.Unmarshal(op.Payload, &c); err != nil {
        return c, fmt.Errorf("kvmap: bad %s payload: %w", op.Op, err)
    }
    if c.Key == "" { return c, fmt.Errorf("kvmap: empty key in %s", op.Op) }
    return c, nil
}

func (m *Map) ApplyMut(op dispatch.Operation) dispatch.Result {
    switch op.Op {
    case OpPut:
        c, err := decode(op)
        if err != nil { return dispatch.Result{Err: err} }
        m.mu.Lock()
        m.data[c.Key] = c.Value
        m.mu.Unlock()
        return dispatch.Result{}
    case OpDelete:
        c, err := decode(op)
        if err != nil { return dispatch.Result{Err: err} }
        m.mu.Lock()
        _, ok := m.data[c.Key]
        delete(m.data, c.Key)
        m.mu.Unlock()
        if !ok { return dispatch.Result{Err: ErrNotFound} }
        return dispatch.Result{}
    default:
        return dispatch.Result{Err: fmt.Errorf("kvmap: unknown mutating op %q", op.Op)}
    }
}

func (m *Map) ApplyRO(op dispatch.Operation) dispatch.Result {
    switch op.Op {
    case OpGet:
        c, err := decode(op)
        if err != nil { return dispatch.Result{Err: err} }
        m.mu.RLock()
        v, ok := m.data[c.Key]
        m.mu.RUnlock()
        if !ok { return dispatch.Result{Err: ErrNotFound} }
        return dispatch.Result{Data: []byte(v)}
    case OpKeys:
        m.mu.RLock()
        keys := make([]string, 0, len(m.data))
        for k := range m.data { keys = append(keys, k) }
        m.mu.RUnlock()
        sort.Strings(keys)
        b, _ := json.Marshal(keys)
        return dispatch.Result{Data: b}
    case OpLen:
        m.mu.RLock()
        n := len(m.data)
        m.mu.RUnlock()
        return dispatch.Result{Data: []byte(fmt.Sprint(n))}
    default:
        return dispatch.Result{Err: fmt.Errorf("kvmap: unknown read-only op %q", op.Op)}
    }
}

// Snapshot encodes state as a stable JSON for ease of debugging/migration.
func (m *Map) Snapshot() ([]byte, error) {
    m.mu.RLock(); defer m.mu.RUnlock()
    arr := make([]Command, 0, len(m.data))
    for k, v := range m.data { arr = append(arr, Command{Key: k, Value: v}) }
    sort.Slice(arr, func(i, j int) bool { return arr[i].Key < arr[j].Key })
    return json.Marshal(struct{
        Version int       `json:"version"`
        Entries []Command `json:"entries"`
    }{Version: 1, Entries: arr})
}

func (m *Map) Restore(buf []byte) error {
    var snapshot struct{
        Version int       `json:"version"`
        Entries []Command `json:"entries"`
    }
    if err := json.Unmarshal(buf, &snapshot); err != nil {
        return err
    }
    // For now we only support Version 1.
    m.mu.Lock(); defer m.mu.Unlock()
    m.data = make(map[string]string, len(snapshot.Entries))
    for _, e := range snapshot.Entries {
        if e.Key == "" { continue }
        m.data[e.Key] = e.Value
    }
    return nil
}

var _ dispatch.Dispatch = (*Map)(nil)
