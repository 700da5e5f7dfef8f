// Package metrics exposes Prometheus metrics for the ledger and oracle
// services on a dedicated registry.
package metrics
