// Package metrics exposes Prometheus collectors for image builds.
//
// Collectors are registered on a caller-supplied registry so the daemon can
// serve them and tests can inspect them in isolation. A nil *Metrics is
// valid and records nothing.
//
//	m := metrics.New(prometheus.NewRegistry())
//	m.CacheLookup(true)
//	m.PhaseDone("deps-installed", 42*time.Second)
//	m.BuildFinished(metrics.ResultSuccess)
package metrics
