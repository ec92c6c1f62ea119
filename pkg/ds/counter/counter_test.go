package counter

import (
    "testing"

    "github.com/numanode/go-nr/pkg/dispatch"
)

func TestAddAccumulates(t *testing.T) {
    c := New()
    for _, d := range []int64{5, -2, 7} {
        if res := c.ApplyMut(Add(d)); res.Err != nil {
            t.Fatalf("add %d: %v", d, res.Err)
        }
    }
    if c.Value() != 10 {
        t.Fatalf("value = %d, want 10", c.Value())
    }
    res := c.ApplyRO(Get())
    if res.Err != nil || string(res.Data) != "10" {
        t.Fatalf("get = (%q, %v), want (\"10\", nil)", res.Data, res.Err)
    }
}

func TestBadPayloadRejected(t *testing.T) {
    c := New()
    if res := c.ApplyMut(dispatch.Operation{Op: OpAdd, Payload: []byte("abc")}); res.Err == nil {
        t.Fatal("expected error for non-numeric delta")
    }
    if res := c.ApplyMut(dispatch.Operation{Op: "bogus"}); res.Err == nil {
        t.Fatal("expected error for unknown op")
    }
}
