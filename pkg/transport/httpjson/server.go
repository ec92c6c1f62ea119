package httpjson

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "log"
    "net"
    "net/http"
    "time"

    "github.com/go-chi/chi/v5"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/numanode/go-nr/pkg/observability/tracing"
    "github.com/numanode/go-nr/pkg/transport"
)

// Server is a minimal HTTP server exposing the engine's management and
// key/value endpoints. It is intended for development tooling and for
// processes that embed the engine but want an out-of-process client.
type Server struct {
    bind   string
    srv    *http.Server
    logger *log.Logger
}

// NewServer binds to the given TCP address (e.g., ":17080").
func NewServer(bind string, logger *log.Logger) *Server {
    if logger == nil { logger = log.Default() }
    return &Server{bind: bind, logger: logger}
}

// Start launches the HTTP server backed by the provided status function and
// key/value service. The server is shut down when the context is canceled.
func (s *Server) Start(ctx context.Context, status transport.StatusFunc, kv transport.KVService) error {
    r := chi.NewRouter()

    r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
        ctx, end := tracing.StartSpan(req.Context(), "http.status")
        defer end()
        data, err := status(ctx)
        if err != nil { http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError); return }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    // Prometheus metrics
    r.Handle("/metrics", promhttp.Handler())

    r.Get("/kv", func(w http.ResponseWriter, req *http.Request) {
        ctx, end := tracing.StartSpan(req.Context(), "http.kv.keys")
        defer end()
        keys, err := kv.Keys(ctx)
        if err != nil { writeJSON(w, http.StatusInternalServerError, transport.KeysResponse{Error: err.Error()}); return }
        writeJSON(w, http.StatusOK, transport.KeysResponse{Keys: keys})
    })
    r.Get("/kv/{key}", func(w http.ResponseWriter, req *http.Request) {
        key := chi.URLParam(req, "key")
        ctx, end := tracing.StartSpan(req.Context(), "http.kv.get")
        defer end()
        v, err := kv.Get(ctx, key)
        if errors.Is(err, transport.ErrNotFound) {
            writeJSON(w, http.StatusNotFound, transport.KVResponse{Key: key, Error: err.Error()})
            return
        }
        if err != nil { writeJSON(w, http.StatusInternalServerError, transport.KVResponse{Key: key, Error: err.Error()}); return }
        writeJSON(w, http.StatusOK, transport.KVResponse{Key: key, Value: v})
    })
    r.Put("/kv/{key}", func(w http.ResponseWriter, req *http.Request) {
        key := chi.URLParam(req, "key")
        body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
        if err != nil { http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest); return }
        ctx, end := tracing.StartSpan(req.Context(), "http.kv.put")
        defer end()
        if err := kv.Put(ctx, key, string(body)); err != nil {
            writeJSON(w, http.StatusInternalServerError, transport.KVResponse{Key: key, Error: err.Error()})
            return
        }
        writeJSON(w, http.StatusOK, transport.KVResponse{Key: key})
    })
    r.Delete("/kv/{key}", func(w http.ResponseWriter, req *http.Request) {
        key := chi.URLParam(req, "key")
        ctx, end := tracing.StartSpan(req.Context(), "http.kv.delete")
        defer end()
        err := kv.Delete(ctx, key)
        if errors.Is(err, transport.ErrNotFound) {
            writeJSON(w, http.StatusNotFound, transport.KVResponse{Key: key, Error: err.Error()})
            return
        }
        if err != nil { writeJSON(w, http.StatusInternalServerError, transport.KVResponse{Key: key, Error: err.Error()}); return }
        writeJSON(w, http.StatusOK, transport.KVResponse{Key: key})
    })

    s.srv = &http.Server{Addr: s.bind, Handler: r}

    ln, err := net.Listen("tcp", s.bind)
    if err != nil { return err }

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
            s.logger.Printf("httpjson: server error: %v", err)
        }
    }()
    return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

// Addr returns the configured bind address.
func (s *Server) Addr() string { return s.bind }

// Stop attempts a graceful shutdown with a short timeout.
func (s *Server) Stop(ctx context.Context) error {
    if s.srv == nil { return nil }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    err := s.srv.Shutdown(c)
    s.srv = nil
    return err
}
