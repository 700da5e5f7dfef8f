package metrics

import (
	"github.com/flashbots/statledger/oracle"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterOracle exposes the job counters of o.
func RegisterOracle(namespace string, reg prometheus.Registerer, o *oracle.LocalOracle) error {
	counter := func(name, help string, value func(oracle.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(o.Stats())) })
	}

	for _, c := range []prometheus.Collector{
		counter("jobs_submitted_total", "count of accepted decryption submissions", func(s oracle.Stats) uint64 { return s.Submitted }),
		counter("jobs_delivered_total", "count of results accepted by their ledger", func(s oracle.Stats) uint64 { return s.Delivered }),
		counter("jobs_rejected_total", "count of results rejected by their ledger", func(s oracle.Stats) uint64 { return s.Rejected }),
		counter("jobs_failed_total", "count of jobs that could not be decrypted or delivered", func(s oracle.Stats) uint64 { return s.Failed }),
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
