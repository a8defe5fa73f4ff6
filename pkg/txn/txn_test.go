package txn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorBeginAllocatesMonotonicIDs(t *testing.T) {
	c := NewCoordinator()
	t1 := c.Begin(0, DropRollback)
	t2 := c.Begin(0, DropRollback)
	assert.Equal(t, uint64(1), t1.ID)
	assert.Equal(t, uint64(2), t2.ID)
}

func TestTransactionVisibleUntaggedRowAlwaysVisible(t *testing.T) {
	c := NewCoordinator()
	tx := c.Begin(0, DropRollback)
	assert.True(t, tx.Visible(0))
}

func TestTransactionVisibleRespectsLookBehindAndID(t *testing.T) {
	c := NewCoordinator()
	tx := c.Begin(5, DropRollback)
	tx.ID = 10

	assert.True(t, tx.Visible(5))
	assert.True(t, tx.Visible(7))
	assert.True(t, tx.Visible(10))
	assert.False(t, tx.Visible(4))
	assert.False(t, tx.Visible(11))
}

func TestCommitAdvancesWatermark(t *testing.T) {
	c := NewCoordinator()
	tx := c.Begin(c.Watermark(), DropRollback)
	require.NoError(t, tx.Commit())
	assert.Equal(t, tx.ID, c.Watermark())
}

func TestRollbackDoesNotAdvanceWatermark(t *testing.T) {
	c := NewCoordinator()
	before := c.Watermark()
	tx := c.Begin(before, DropRollback)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, before, c.Watermark())
}

func TestFinishTwiceReturnsConcurrencyError(t *testing.T) {
	c := NewCoordinator()
	tx := c.Begin(0, DropRollback)
	require.NoError(t, tx.Commit())
	err := tx.Commit()
	assert.Error(t, err)
}

func TestCloseAppliesDropBehaviorRollback(t *testing.T) {
	c := NewCoordinator()
	before := c.Watermark()
	tx := c.Begin(before, DropRollback)
	tx.Close()
	assert.Equal(t, before, c.Watermark())
	assert.Equal(t, 0, c.InFlight())
}

func TestCloseAppliesDropBehaviorCommit(t *testing.T) {
	c := NewCoordinator()
	tx := c.Begin(c.Watermark(), DropCommit)
	tx.Close()
	assert.Equal(t, tx.ID, c.Watermark())
}

func TestCloseIsNoOpAfterExplicitCompletion(t *testing.T) {
	c := NewCoordinator()
	tx := c.Begin(c.Watermark(), DropRollback)
	require.NoError(t, tx.Commit())
	tx.Close() // must not panic or double-signal the coordinator
	assert.Equal(t, tx.ID, c.Watermark())
}

func TestInFlightTracksOpenTransactions(t *testing.T) {
	c := NewCoordinator()
	assert.Equal(t, 0, c.InFlight())
	tx := c.Begin(0, DropRollback)
	assert.Equal(t, 1, c.InFlight())
	require.NoError(t, tx.Commit())
	assert.Equal(t, 0, c.InFlight())
}

func TestVisibleExcludesTransactionsStartedAfterLookBehindWasFixed(t *testing.T) {
	c := NewCoordinator()

	tx := c.Begin(c.Watermark(), DropRollback)
	// A transaction started later than tx carries a higher id, so it
	// falls outside tx's [look_behind, id] window and stays invisible
	// to tx even if it commits first.
	later := c.Begin(c.Watermark(), DropRollback)
	require.NoError(t, later.Commit())

	assert.False(t, tx.Visible(later.ID))

	next := c.Begin(c.Watermark(), DropRollback)
	assert.True(t, next.Visible(later.ID))
}
