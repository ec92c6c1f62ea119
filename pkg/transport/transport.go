// Package transport defines the management surface the HTTP server exposes
// and the callbacks the engine side provides to back it. The engine itself
// never imports this package; wiring happens in bootstrap.
package transport

import (
    "context"
    "errors"
)

// ErrNotFound is returned by KVService implementations for a missing key;
// the HTTP server maps it to 404.
var ErrNotFound = errors.New("transport: key not found")

// StatusFunc returns the engine status encoded as JSON.
type StatusFunc func(ctx context.Context) ([]byte, error)

// KVService is the key/value surface served over HTTP. Implementations
// route calls through the replication engine so reads and writes stay
// linearizable.
type KVService interface {
    Get(ctx context.Context, key string) (string, error)
    Put(ctx context.Context, key, value string) error
    Delete(ctx context.Context, key string) error
    Keys(ctx context.Context) ([]string, error)
}

// KVResponse is the wire form of a single-key reply.
type KVResponse struct {
    Key   string `json:"key"`
    Value string `json:"value,omitempty"`
    Error string `json:"error,omitempty"`
}

// KeysResponse is the wire form of a key-listing reply.
type KeysResponse struct {
    Keys  []string `json:"keys"`
    Error string   `json:"error,omitempty"`
}
