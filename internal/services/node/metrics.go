package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics are per-cycle counters; the process is short-lived so they are pushed, not scraped.
type Metrics struct {
	Registry        *prometheus.Registry
	Cycles          *prometheus.CounterVec
	Received        *prometheus.CounterVec
	MergeErrors     prometheus.Counter
	CommandsApplied *prometheus.CounterVec
	CommandsInvalid prometheus.Counter
	Relayed         prometheus.Counter
	DeliveryErrors  prometheus.Counter
	ActiveSeconds   prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "espnode_cycles_total",
			Help: "Wake cycles by how they ended",
		}, []string{"end"}),
		Received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "espnode_datagrams_received_total",
			Help: "Datagrams taken from the mailbox by kind",
		}, []string{"kind"}),
		MergeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "espnode_merge_errors_total",
			Help: "Incoming snapshots rejected by the aggregator",
		}),
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "espnode_commands_applied_total",
			Help: "Timing commands applied by source",
		}, []string{"source"}),
		CommandsInvalid: f.NewCounter(prometheus.CounterOpts{
			Name: "espnode_commands_invalid_total",
			Help: "Timing commands discarded as invalid",
		}),
		Relayed: f.NewCounter(prometheus.CounterOpts{
			Name: "espnode_commands_relayed_total",
			Help: "Pending commands forwarded to the neighbour",
		}),
		DeliveryErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "espnode_collector_errors_total",
			Help: "Failed deliveries to the remote collector",
		}),
		ActiveSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "espnode_active_seconds",
			Help:    "Time spent awake per cycle",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
	}
}

// Push sends the registry to a Pushgateway, grouped by board.
func (m *Metrics) Push(url, board string) error {
	if url == "" {
		return nil
	}
	return push.New(url, "espnode").Grouping("board", board).Gatherer(m.Registry).Push()
}
