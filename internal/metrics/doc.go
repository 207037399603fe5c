// Package metrics defines the Prometheus collectors for the realtime layer.
//
// A nil *Metrics is valid everywhere: every method is a no-op on nil, so
// components can run without a registry in tests.
package metrics
