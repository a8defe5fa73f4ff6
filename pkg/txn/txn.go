// Package txn implements the transaction coordinator from spec §4.11:
// monotonic id allocation, the visibility predicate, and commit/
// rollback signalling. There is no write-ahead log (spec Non-goals);
// rollback is the no-op-beyond-signal documented as Open Question 3.
package txn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/weaverdb/weaver/pkg/kind"
	"github.com/weaverdb/weaver/pkg/log"
	"github.com/weaverdb/weaver/pkg/metrics"
)

// DropBehavior decides how a transaction that goes out of scope
// without an explicit Commit/Rollback call is treated. Per spec §9,
// the default is Rollback.
type DropBehavior int

const (
	DropRollback DropBehavior = iota
	DropCommit
)

// completion is the token a Transaction sends to the coordinator on
// commit or rollback.
type completion struct {
	id        uint64
	committed bool
}

// Transaction is {id, look-behind, completed, drop-behavior, sender?}.
// TraceID is a log-correlation identifier only; it plays no part in
// visibility or commit ordering.
type Transaction struct {
	ID           uint64
	LookBehind   uint64
	DropBehavior DropBehavior
	TraceID      string

	coord     *Coordinator
	completed atomic.Bool
}

// Visible reports whether a row tagged with txID is visible to t:
// look_behind ≤ txID ≤ id. A zero txID (untagged row) is always
// visible.
func (t *Transaction) Visible(txID uint64) bool {
	if txID == 0 {
		return true
	}
	return t.LookBehind <= txID && txID <= t.ID
}

// Commit marks the transaction committed and notifies the coordinator.
func (t *Transaction) Commit() error {
	return t.finish(true)
}

// Rollback marks the transaction rolled back and notifies the
// coordinator. There is no log to undo writes against; callers that
// need atomicity must avoid partial writes before calling Rollback
// (spec §9 Open Question 3).
func (t *Transaction) Rollback() error {
	return t.finish(false)
}

func (t *Transaction) finish(committed bool) error {
	if !t.completed.CompareAndSwap(false, true) {
		return kind.Wrap(kind.Concurrency, fmt.Errorf("txn: transaction %d already completed", t.ID))
	}
	t.coord.complete(completion{id: t.ID, committed: committed})
	if committed {
		metrics.TransactionsCommittedTotal.Inc()
	} else {
		metrics.TransactionsRolledBackTotal.Inc()
	}
	metrics.TransactionsInFlight.Dec()
	return nil
}

// Close applies DropBehavior if the transaction was never explicitly
// completed. Callers that acquire a Transaction in a defer pattern
// should `defer tx.Close()` immediately after Begin.
func (t *Transaction) Close() {
	if t.completed.Load() {
		return
	}
	if t.DropBehavior == DropCommit {
		_ = t.Commit()
	} else {
		_ = t.Rollback()
	}
}

// Coordinator allocates transaction ids and tracks the commit
// watermark used as the next transaction's look-behind.
type Coordinator struct {
	mu        sync.Mutex
	nextID    atomic.Uint64
	watermark uint64 // highest committed id; next tx's look-behind baseline
	inFlight  map[uint64]*Transaction
	history   []completion
}

// NewCoordinator returns a coordinator with id allocation starting
// at 1 (id 0 is reserved to mean "untagged").
func NewCoordinator() *Coordinator {
	c := &Coordinator{inFlight: make(map[uint64]*Transaction)}
	c.nextID.Store(1)
	return c
}

// Begin allocates a new transaction. lookBehind fixes the oldest
// tx-id this transaction can see; callers typically pass the
// coordinator's current watermark via Watermark().
func (c *Coordinator) Begin(lookBehind uint64, drop DropBehavior) *Transaction {
	id := c.nextID.Add(1) - 1
	t := &Transaction{ID: id, LookBehind: lookBehind, DropBehavior: drop, TraceID: uuid.New().String(), coord: c}
	c.mu.Lock()
	c.inFlight[id] = t
	c.mu.Unlock()
	metrics.TransactionsStartedTotal.Inc()
	metrics.TransactionsInFlight.Inc()
	log.WithTxID(id).Debug().Str("trace_id", t.TraceID).Msg("transaction started")
	return t
}

// Watermark returns the highest transaction id known committed, the
// natural look-behind default for a new read-only transaction.
func (c *Coordinator) Watermark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

func (c *Coordinator) complete(comp completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, comp.id)
	c.history = append(c.history, comp)
	if comp.committed && comp.id > c.watermark {
		c.watermark = comp.id
	}
}

// InFlight reports the number of transactions that have not completed.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}
