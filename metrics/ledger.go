package metrics

import (
	"github.com/flashbots/statledger/protocol"
	"github.com/prometheus/client_golang/prometheus"
)

// LedgerCollector tracks ledger activity. It is a protocol.EventSink.
type LedgerCollector struct {
	events       *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	pending      prometheus.Gauge
	batch        prometheus.Gauge
	batchOpen    prometheus.Gauge
	paused       prometheus.Gauge
	providers    prometheus.Gauge
	lastSeq      prometheus.Gauge
	storeFailure prometheus.Counter
}

// NewLedgerCollector registers the ledger metrics with reg.
func NewLedgerCollector(namespace string, reg prometheus.Registerer) *LedgerCollector {
	c := &LedgerCollector{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "count of emitted ledger events by kind",
		}, []string{"kind"}),

		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rejected_calls_total",
			Help:      "count of rejected ledger calls by operation and error kind",
		}, []string{"op", "error"}),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "pending_disclosures",
			Help:      "disclosure requests awaiting an accepted callback",
		}),

		batch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "batch_id",
			Help:      "current batch id",
		}),

		batchOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "batch_open",
			Help:      "1 while a batch is open",
		}),

		paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "paused",
			Help:      "1 while the ledger is paused",
		}),

		providers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "providers",
			Help:      "number of registered providers",
		}),

		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "last_event_seq",
			Help:      "sequence number of the last emitted event",
		}),

		storeFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "journal_failures_total",
			Help:      "count of events the journal failed to persist",
		}),
	}

	reg.MustRegister(c.events, c.rejections, c.pending, c.batch, c.batchOpen, c.paused, c.providers, c.lastSeq, c.storeFailure)
	return c
}

func (c *LedgerCollector) Publish(ev protocol.Event) {
	c.events.WithLabelValues(string(ev.Kind)).Inc()
	c.lastSeq.Set(float64(ev.Seq))

	switch ev.Kind {
	case protocol.EventProviderAdded:
		c.providers.Inc()
	case protocol.EventProviderRemoved:
		c.providers.Dec()
	case protocol.EventDisclosureRequested:
		c.pending.Inc()
	case protocol.EventDisclosureCompleted, protocol.EventDisclosurePruned:
		c.pending.Dec()
	case protocol.EventBatchOpened:
		c.batch.Set(float64(ev.BatchID))
		c.batchOpen.Set(1)
	case protocol.EventBatchClosed:
		c.batchOpen.Set(0)
	case protocol.EventPauseToggled:
		if ev.Paused != nil && *ev.Paused {
			c.paused.Set(1)
		} else {
			c.paused.Set(0)
		}
	}
}

// Rejected counts a rejected call.
func (c *LedgerCollector) Rejected(op string, err error) {
	c.rejections.WithLabelValues(op, protocol.ErrorKind(err)).Inc()
}

// JournalFailure counts an event the journal could not persist.
func (c *LedgerCollector) JournalFailure() {
	c.storeFailure.Inc()
}

// Init sets the gauges from a ledger snapshot, taken when the collector is attached to a running ledger.
func (c *LedgerCollector) Init(state protocol.State) {
	c.pending.Set(float64(state.Pending))
	c.batch.Set(float64(state.BatchID))
	c.providers.Set(float64(len(state.Providers)))
	c.lastSeq.Set(float64(state.LastSeq))
	if state.BatchOpen {
		c.batchOpen.Set(1)
	}
	if state.Paused {
		c.paused.Set(1)
	}
}
