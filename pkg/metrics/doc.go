/*
Package metrics provides Prometheus metrics collection and exposition
for the storage and execution core.

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Families                 │          │
	│  │  pager:    allocations, frees, would-block  │          │
	│  │  buffer:   cache hit/miss, dirty count      │          │
	│  │  vpager:   index walks, cache hits          │          │
	│  │  btree:    splits, height                   │          │
	│  │  table:    row counts, row operations       │          │
	│  │  txn:      started/committed/rolled-back    │          │
	│  │  query:    plans optimized, rewrites, exec  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │      metrics.Collector (Source polling)      │          │
	│  │  - ticker-driven, same stopCh idiom as the   │          │
	│  │    rest of the engine's background loops     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

A table, buffered pager, or virtual pager table registers itself as a
metrics.Source so the collector can sample gauges (row counts, dirty
page counts, tree height) off the request path. Counters and
histograms are updated inline by the code that causes them, not by the
collector.

Handler exposes the registry over HTTP for scraping; health.go exposes
a parallel /health, /ready, /live surface built on the same component
registry used across the engine (device, pager, catalog).
*/
package metrics
