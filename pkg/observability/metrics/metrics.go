package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    MutableOps = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_nr",
        Name:      "mutable_ops_total",
        Help:      "Total number of completed mutating operations",
    })

    ReadonlyOps = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_nr",
        Name:      "readonly_ops_total",
        Help:      "Total number of completed read-only operations",
    })

    CombineRounds = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_nr",
        Subsystem: "combiner",
        Name:      "rounds_total",
        Help:      "Total number of flat-combining rounds executed",
    })

    BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "go_nr",
        Subsystem: "combiner",
        Name:      "batch_size",
        Help:      "Number of operations appended per combining round",
        Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
    })

    LogFullTotal = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_nr",
        Subsystem: "log",
        Name:      "full_total",
        Help:      "Total number of append attempts rejected because the log was full",
    })

    LogTail = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_nr",
        Subsystem: "log",
        Name:      "tail",
        Help:      "Current global tail of the shared log",
    })

    CompletedTail = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_nr",
        Subsystem: "log",
        Name:      "completed_tail",
        Help:      "Index up to which all entries are known applied on some replica",
    })

    RegisteredThreads = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_nr",
        Name:      "registered_threads",
        Help:      "Number of registered threads per replica",
    }, []string{"replica"})

    ReplicaLag = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_nr",
        Name:      "replica_lag",
        Help:      "Distance between the global tail and each replica's local tail",
    }, []string{"replica"})
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(MutableOps)
        prometheus.MustRegister(ReadonlyOps)
        prometheus.MustRegister(CombineRounds)
        prometheus.MustRegister(BatchSize)
        prometheus.MustRegister(LogFullTotal)
        prometheus.MustRegister(LogTail)
        prometheus.MustRegister(CompletedTail)
        prometheus.MustRegister(RegisteredThreads)
        prometheus.MustRegister(ReplicaLag)
    })
}
