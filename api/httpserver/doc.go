// Package httpserver provides the HTTP server shared by the ledger and oracle
// binaries.
//
// A BaseServer mounts the routes of one or more RouteRegistrar services, each
// behind slog request logging, and adds:
//
//   - /livez and /readyz health endpoints
//   - /drain and /undrain, toggling readiness ahead of a shutdown
//   - /version
//   - /debug pprof handlers when EnablePprof is set
//
// Metrics are served by a separate listener on MetricsAddr. Pass the
// metrics.MetricsServer to New when collectors must be registered before the
// routes are built:
//
//	m, _ := metrics.New(common.PackageName, cfg.MetricsAddr)
//	svc := services.NewLedgerService(ledger, services.LedgerServiceConfig{Metrics: metrics.NewLedgerCollector(m.Namespace(), m.Registry())})
//	srv, _ := httpserver.New(cfg, m, svc)
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
