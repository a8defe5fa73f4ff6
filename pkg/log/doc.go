/*
Package log provides structured logging for weaver using zerolog.

Every subsystem (device, pager, B+Tree, table, query executor,
transaction coordinator) logs through a component-scoped child logger
instead of constructing its own zerolog instance:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - zerolog instance, set via log.Init()     │          │
	│  │  - safe for concurrent use                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Component Loggers                 │          │
	│  │  - WithComponent("btree")                   │          │
	│  │  - WithTableID("public", "users")            │          │
	│  │  - WithTxID(42)                              │          │
	│  │  - WithPageID(17)                            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  JSON:    {"level":"info","component":      │          │
	│  │            "btree","msg":"leaf split"}       │          │
	│  │  Console: 10:30AM INF leaf split component= │          │
	│  │           btree                              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Log Levels

  - Debug: page-level detail (slot moves, cache hits/misses)
  - Info: structural events (page splits, transaction commits)
  - Warn: recoverable conditions (would-block retried, allocation
    failure converted to a split)
  - Error: operation-ending failures (bad magic, schema mismatch)
  - Fatal: unrecoverable process-level failures

Init must be called once, typically from the process embedding the
engine (a CLI, a test's TestMain, or an embedding service); the engine
itself never reads configuration files (out of scope, see spec §1).
*/
package log
