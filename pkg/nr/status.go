package nr

import (
    "fmt"

    obsmetrics "github.com/numanode/go-nr/pkg/observability/metrics"
)

// ReplicaStatus is one replica's progress against the shared log.
type ReplicaStatus struct {
    ID         uint32 `json:"id"`
    Applied    uint64 `json:"applied"`
    Lag        uint64 `json:"lag"`
    Registered int    `json:"registered"`
}

// Status is a point-in-time snapshot of the engine. Counters are read
// without stopping the world, so fields are individually accurate but the
// snapshot as a whole is advisory.
type Status struct {
    Tail          uint64          `json:"tail"`
    CompletedTail uint64          `json:"completed_tail"`
    Capacity      uint64          `json:"capacity"`
    Replicas      []ReplicaStatus `json:"replicas"`
}

// Status synthesizes the snapshot and refreshes the progress gauges.
func (n *NodeReplicated) Status() *Status {
    tail := n.log.Tail()
    s := &Status{
        Tail:          tail,
        CompletedTail: n.log.CompletedTail(),
        Capacity:      n.log.Capacity(),
        Replicas:      make([]ReplicaStatus, len(n.replicas)),
    }
    for i, r := range n.replicas {
        applied := r.Applied()
        s.Replicas[i] = ReplicaStatus{
            ID:         r.ID(),
            Applied:    applied,
            Lag:        tail - applied,
            Registered: r.Registered(),
        }
        obsmetrics.ReplicaLag.WithLabelValues(fmt.Sprint(r.ID())).Set(float64(tail - applied))
    }
    obsmetrics.LogTail.Set(float64(tail))
    obsmetrics.CompletedTail.Set(float64(s.CompletedTail))
    return s
}
