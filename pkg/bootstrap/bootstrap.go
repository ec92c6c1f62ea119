// Package bootstrap assembles a ready-to-run engine process: the replication
// engine around a key/value map, a token pool for callers without thread
// affinity, and the HTTP management surface. Applications embed the engine
// by providing a Config and calling Build/Run.
package bootstrap

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"

    "github.com/spf13/viper"

    "github.com/numanode/go-nr/pkg/dispatch"
    "github.com/numanode/go-nr/pkg/ds/kvmap"
    "github.com/numanode/go-nr/pkg/nr"
    "github.com/numanode/go-nr/pkg/transport"
    httpjson "github.com/numanode/go-nr/pkg/transport/httpjson"
)

// Config defines high-level inputs to assemble an engine process with
// sensible defaults.
type Config struct {
    // Engine shape
    Replicas          int
    LogCapacity       uint64
    ThreadsPerReplica int
    MaxBatch          int
    CombinerRetries   int

    // Management API (status/kv/metrics); empty disables the HTTP server.
    HTTPAddr string

    // PoolSize is the number of pre-registered tokens backing the HTTP
    // handlers. Defaults to Replicas when zero.
    PoolSize int

    // Logger (optional). If nil, log.Default() is used.
    Logger *log.Logger
}

// Validate rejects configurations that cannot be defaulted into a working
// engine. Zero values are fine; Build fills them in.
func (c Config) Validate() error {
    if c.Replicas < 0 {
        return fmt.Errorf("bootstrap: Replicas must not be negative, got %d", c.Replicas)
    }
    if c.PoolSize < 0 {
        return fmt.Errorf("bootstrap: PoolSize must not be negative, got %d", c.PoolSize)
    }
    if c.ThreadsPerReplica > 0 && c.PoolSize > 0 {
        perReplica := c.PoolSize / max(c.Replicas, 1)
        if c.PoolSize%max(c.Replicas, 1) != 0 { perReplica++ }
        if perReplica > c.ThreadsPerReplica {
            return fmt.Errorf("bootstrap: PoolSize %d does not fit %d slots per replica", c.PoolSize, c.ThreadsPerReplica)
        }
    }
    return nil
}

// LoadFile reads a Config from a viper-supported config file (yaml, json,
// toml). Missing keys keep their zero value and are defaulted by Build.
func LoadFile(path string) (Config, error) {
    v := viper.New()
    v.SetConfigFile(path)
    if err := v.ReadInConfig(); err != nil {
        return Config{}, fmt.Errorf("bootstrap: read config %s: %w", path, err)
    }
    return Config{
        Replicas:          v.GetInt("replicas"),
        LogCapacity:       uint64(v.GetInt64("log_capacity")),
        ThreadsPerReplica: v.GetInt("threads_per_replica"),
        MaxBatch:          v.GetInt("max_batch"),
        CombinerRetries:   v.GetInt("combiner_retries"),
        HTTPAddr:          v.GetString("http_addr"),
        PoolSize:          v.GetInt("pool_size"),
    }, nil
}

// App is a built engine process: the engine itself plus the optional HTTP
// surface around it.
type App struct {
    Engine *nr.NodeReplicated
    Pool   *nr.TokenPool

    httpSrv *httpjson.Server
    logger  *log.Logger
}

// Build assembles an App from Config without starting the HTTP server.
func Build(cfg Config) (*App, error) {
    if err := cfg.Validate(); err != nil { return nil, err }
    if cfg.Logger == nil { cfg.Logger = log.Default() }
    if cfg.Replicas == 0 { cfg.Replicas = 1 }
    if cfg.PoolSize == 0 { cfg.PoolSize = cfg.Replicas }

    eng, err := nr.New(nr.Options{
        Replicas:          cfg.Replicas,
        LogCapacity:       cfg.LogCapacity,
        ThreadsPerReplica: cfg.ThreadsPerReplica,
        MaxBatch:          cfg.MaxBatch,
        CombinerRetries:   cfg.CombinerRetries,
        NewState:          func(uint32) dispatch.Dispatch { return kvmap.New() },
        Logger:            cfg.Logger,
    })
    if err != nil { return nil, err }

    pool, err := nr.NewTokenPool(eng, cfg.Replicas, cfg.PoolSize)
    if err != nil { return nil, err }

    app := &App{Engine: eng, Pool: pool, logger: cfg.Logger}
    if cfg.HTTPAddr != "" {
        app.httpSrv = httpjson.NewServer(cfg.HTTPAddr, cfg.Logger)
    }
    return app, nil
}

// Start launches the HTTP server, if configured. It returns immediately;
// the server stops when ctx is canceled.
func (a *App) Start(ctx context.Context) error {
    if a.httpSrv == nil { return nil }
    return a.httpSrv.Start(ctx, a.statusJSON, &kvService{app: a})
}

// Stop shuts the HTTP server down.
func (a *App) Stop(ctx context.Context) error {
    if a.httpSrv == nil { return nil }
    return a.httpSrv.Stop(ctx)
}

// KV returns the engine-backed key/value surface, usable in-process.
func (a *App) KV() transport.KVService { return &kvService{app: a} }

func (a *App) statusJSON(context.Context) ([]byte, error) {
    return json.Marshal(a.Engine.Status())
}

// kvService routes HTTP key/value calls through the engine using pooled
// tokens, so every request takes the same linearizable path as embedded
// callers.
type kvService struct {
    app *App
}

func (s *kvService) Get(ctx context.Context, key string) (string, error) {
    tok := s.app.Pool.Get()
    defer s.app.Pool.Put(tok)
    res, err := s.app.Engine.Execute(tok, kvmap.Get(key))
    if err != nil { return "", err }
    if errors.Is(res.Err, kvmap.ErrNotFound) {
        return "", fmt.Errorf("%w: %s", transport.ErrNotFound, key)
    }
    if res.Err != nil { return "", res.Err }
    return string(res.Data), nil
}

func (s *kvService) Put(ctx context.Context, key, value string) error {
    tok := s.app.Pool.Get()
    defer s.app.Pool.Put(tok)
    res, err := s.app.Engine.ExecuteMut(tok, kvmap.Put(key, value))
    if err != nil { return err }
    return res.Err
}

func (s *kvService) Delete(ctx context.Context, key string) error {
    tok := s.app.Pool.Get()
    defer s.app.Pool.Put(tok)
    res, err := s.app.Engine.ExecuteMut(tok, kvmap.Delete(key))
    if err != nil { return err }
    if errors.Is(res.Err, kvmap.ErrNotFound) {
        return fmt.Errorf("%w: %s", transport.ErrNotFound, key)
    }
    return res.Err
}

func (s *kvService) Keys(ctx context.Context) ([]string, error) {
    tok := s.app.Pool.Get()
    defer s.app.Pool.Put(tok)
    res, err := s.app.Engine.Execute(tok, kvmap.Keys())
    if err != nil { return nil, err }
    if res.Err != nil { return nil, res.Err }
    var keys []string
    if err := json.Unmarshal(res.Data, &keys); err != nil { return nil, err }
    return keys, nil
}

var _ transport.KVService = (*kvService)(nil)

// Run builds the app and starts its HTTP surface, returning the instance
// for lifecycle control.
func Run(ctx context.Context, cfg Config) (*App, error) {
    app, err := Build(cfg)
    if err != nil { return nil, err }
    if err := app.Start(ctx); err != nil { return nil, err }
    return app, nil
}
