package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ruteri/software-update-ledger/interfaces"
)

// LedgerMetrics counts committed ledger events and the value the escrow
// forwarded to manufacturers. It is registered with the ledger as an
// interfaces.EventSink.
type LedgerMetrics struct {
	events         *prometheus.CounterVec
	forwardedValue prometheus.Counter
	lastSeq        prometheus.Gauge
}

// NewLedgerMetrics registers the ledger collectors with reg.
func NewLedgerMetrics(namespace string, reg prometheus.Registerer) (*LedgerMetrics, error) {
	m := &LedgerMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Committed ledger events by kind.",
		}, []string{"kind"}),
		forwardedValue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "forwarded_value_total",
			Help:      "Native value forwarded to manufacturers by key deliveries, in base units.",
		}),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "last_event_seq",
			Help:      "Sequence number of the most recent committed event.",
		}),
	}

	for _, c := range []prometheus.Collector{m.events, m.forwardedValue, m.lastSeq} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OnEvents implements interfaces.EventSink.
func (m *LedgerMetrics) OnEvents(events []interfaces.Event) {
	for _, e := range events {
		m.events.WithLabelValues(string(e.Kind)).Inc()
		if e.Kind == interfaces.EventKeyDelivered && e.Amount != nil && e.Amount.Sign() > 0 {
			v, _ := new(big.Float).SetInt(e.Amount).Float64()
			m.forwardedValue.Add(v)
		}
		m.lastSeq.Set(float64(e.Seq))
	}
}
