package cli

import (
    "context"
    "encoding/json"
    "fmt"
    "log"
    "os"
    "os/signal"
    "sync"
    "syscall"
    "time"

    "github.com/spf13/cobra"
    "golang.org/x/sync/errgroup"

    "github.com/numanode/go-nr/pkg/bootstrap"
    "github.com/numanode/go-nr/pkg/dispatch"
    "github.com/numanode/go-nr/pkg/ds/counter"
    "github.com/numanode/go-nr/pkg/nr"
    tracing "github.com/numanode/go-nr/pkg/observability/tracing"
    httpjson "github.com/numanode/go-nr/pkg/transport/httpjson"
)

// AddAll attaches engine subcommands (serve/status/get/put/del/keys/demo)
// to the provided root command.
func AddAll(root *cobra.Command) {
    root.AddCommand(NewServeCmd())
    root.AddCommand(NewStatusCmd())
    root.AddCommand(NewGetCmd())
    root.AddCommand(NewPutCmd())
    root.AddCommand(NewDelCmd())
    root.AddCommand(NewKeysCmd())
    root.AddCommand(NewDemoCmd())
}

// NewServeCmd returns the "serve" command used to run a key/value engine
// process with the HTTP management surface.
func NewServeCmd() *cobra.Command {
    var (
        configPath                              string
        replicas, threads, maxBatch, retries    int
        poolSize                                int
        logCapacity                             uint64
        httpAddr                                string
        traceEnable                             bool
    )
    cmd := &cobra.Command{
        Use:   "serve",
        Short: "Run a key/value engine with the HTTP management API",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := signalContext()
            defer cancel()

            if traceEnable {
                shutdown, err := tracing.Setup(true)
                if err != nil {
                    log.Printf("tracing setup error: %v", err)
                } else {
                    defer func() { _ = shutdown(context.Background()) }()
                }
            }

            cfg := bootstrap.Config{
                Replicas:          replicas,
                LogCapacity:       logCapacity,
                ThreadsPerReplica: threads,
                MaxBatch:          maxBatch,
                CombinerRetries:   retries,
                HTTPAddr:          httpAddr,
                PoolSize:          poolSize,
                Logger:            log.Default(),
            }
            if configPath != "" {
                fileCfg, err := bootstrap.LoadFile(configPath)
                if err != nil { return err }
                fileCfg.Logger = log.Default()
                cfg = fileCfg
            }
            app, err := bootstrap.Run(ctx, cfg)
            if err != nil { return err }
            defer app.Stop(context.Background())

            fmt.Println("engine running. Press Ctrl+C to exit.")
            <-ctx.Done()
            return nil
        },
    }
    cmd.Flags().StringVar(&configPath, "config", "", "config file (yaml/json/toml); overrides the other flags")
    cmd.Flags().IntVar(&replicas, "replicas", 1, "number of replicas (typically one per NUMA node)")
    cmd.Flags().Uint64Var(&logCapacity, "log-capacity", 0, "shared log slot count (0 = default)")
    cmd.Flags().IntVar(&threads, "threads", 0, "registration slots per replica (0 = default)")
    cmd.Flags().IntVar(&maxBatch, "max-batch", 0, "max operations per combining round (0 = default)")
    cmd.Flags().IntVar(&retries, "retries", 0, "log-full retries per combining round (0 = default)")
    cmd.Flags().StringVar(&httpAddr, "http-addr", ":17080", "management HTTP address (tcp)")
    cmd.Flags().IntVar(&poolSize, "pool-size", 0, "pre-registered tokens for HTTP handlers (0 = one per replica)")
    cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable OpenTelemetry stdout tracing (dev)")
    return cmd
}

// NewStatusCmd returns the "status" command.
func NewStatusCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
    )
    cmd := &cobra.Command{
        Use:   "status",
        Short: "Fetch engine status as JSON",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            client := httpjson.NewClient(timeout)
            data, err := client.GetStatus(ctx, addr)
            if err != nil { return fmt.Errorf("status error: %w", err) }
            os.Stdout.Write(data)
            if len(data) == 0 || data[len(data)-1] != '\n' { os.Stdout.Write([]byte("\n")) }
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17080", "management HTTP address (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewGetCmd returns the "get" command.
func NewGetCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
    )
    cmd := &cobra.Command{
        Use:   "get <key>",
        Short: "Read one key",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            client := httpjson.NewClient(timeout)
            v, err := client.GetKey(ctx, addr, args[0])
            if err != nil { return fmt.Errorf("get error: %w", err) }
            fmt.Println(v)
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17080", "management HTTP address (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewPutCmd returns the "put" command.
func NewPutCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
    )
    cmd := &cobra.Command{
        Use:   "put <key> <value>",
        Short: "Write one key",
        Args:  cobra.ExactArgs(2),
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            client := httpjson.NewClient(timeout)
            if err := client.PutKey(ctx, addr, args[0], args[1]); err != nil {
                return fmt.Errorf("put error: %w", err)
            }
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17080", "management HTTP address (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewDelCmd returns the "del" command.
func NewDelCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
    )
    cmd := &cobra.Command{
        Use:   "del <key>",
        Short: "Delete one key",
        Args:  cobra.ExactArgs(1),
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            client := httpjson.NewClient(timeout)
            if err := client.DeleteKey(ctx, addr, args[0]); err != nil {
                return fmt.Errorf("del error: %w", err)
            }
            return nil
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17080", "management HTTP address (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewKeysCmd returns the "keys" command.
func NewKeysCmd() *cobra.Command {
    var (
        addr    string
        timeout time.Duration
    )
    cmd := &cobra.Command{
        Use:   "keys",
        Short: "List all keys",
        RunE: func(cmd *cobra.Command, args []string) error {
            ctx, cancel := context.WithTimeout(context.Background(), timeout)
            defer cancel()
            client := httpjson.NewClient(timeout)
            keys, err := client.Keys(ctx, addr)
            if err != nil { return fmt.Errorf("keys error: %w", err) }
            return json.NewEncoder(os.Stdout).Encode(keys)
        },
    }
    cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17080", "management HTTP address (host:port)")
    cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
    return cmd
}

// NewDemoCmd returns the "demo" command: an in-process counter engine
// hammered by concurrent writers, useful for smoke-testing a machine.
func NewDemoCmd() *cobra.Command {
    var (
        replicas, workers, ops int
    )
    cmd := &cobra.Command{
        Use:   "demo",
        Short: "Run an in-process counter demo and print the totals",
        RunE: func(cmd *cobra.Command, args []string) error {
            var mu sync.Mutex
            states := map[uint32]*counter.Counter{}
            eng, err := nr.New(nr.Options{
                Replicas:          replicas,
                ThreadsPerReplica: workers,
                NewState: func(id uint32) dispatch.Dispatch {
                    c := counter.New()
                    mu.Lock()
                    states[id] = c
                    mu.Unlock()
                    return c
                },
            })
            if err != nil { return err }

            g, _ := errgroup.WithContext(context.Background())
            start := time.Now()
            for w := 0; w < workers*replicas; w++ {
                tok, err := eng.Register(uint32(w % replicas))
                if err != nil { return err }
                g.Go(func() error {
                    for i := 0; i < ops; i++ {
                        if _, err := eng.ExecuteMut(tok, counter.Add(1)); err != nil { return err }
                    }
                    return nil
                })
            }
            if err := g.Wait(); err != nil { return err }
            elapsed := time.Since(start)

            eng.Sync()
            total := replicas * workers * ops
            for id, c := range states {
                fmt.Printf("replica %d total: %d\n", id, c.Value())
            }
            fmt.Printf("%d ops in %s (%.0f ops/s)\n", total, elapsed, float64(total)/elapsed.Seconds())
            return nil
        },
    }
    cmd.Flags().IntVar(&replicas, "replicas", 2, "number of replicas")
    cmd.Flags().IntVar(&workers, "workers", 4, "writer goroutines per replica")
    cmd.Flags().IntVar(&ops, "ops", 10000, "operations per writer")
    return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(context.Background())
    go func() {
        ch := make(chan os.Signal, 1)
        signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
        <-ch
        cancel()
    }()
    return ctx, cancel
}
