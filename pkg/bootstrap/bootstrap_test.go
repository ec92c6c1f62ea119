package bootstrap

import (
    "context"
    "testing"
)

func TestConfigValidate(t *testing.T) {
    if err := (Config{}).Validate(); err != nil {
        t.Fatalf("zero config should validate: %v", err)
    }
    if err := (Config{Replicas: -1}).Validate(); err == nil {
        t.Fatal("expected error for negative Replicas")
    }
    if err := (Config{Replicas: 2, ThreadsPerReplica: 1, PoolSize: 4}).Validate(); err == nil {
        t.Fatal("expected error for pool larger than slots")
    }
}

func TestBuildServesKVInProcess(t *testing.T) {
    app, err := Build(Config{Replicas: 2})
    if err != nil { t.Fatalf("build: %v", err) }

    ctx := context.Background()
    kv := app.KV()
    if err := kv.Put(ctx, "k", "v"); err != nil { t.Fatalf("put: %v", err) }
    v, err := kv.Get(ctx, "k")
    if err != nil { t.Fatalf("get: %v", err) }
    if v != "v" { t.Fatalf("got %q, want v", v) }
    if err := kv.Delete(ctx, "k"); err != nil { t.Fatalf("delete: %v", err) }
    if _, err := kv.Get(ctx, "k"); err == nil {
        t.Fatal("expected error for deleted key")
    }
}
