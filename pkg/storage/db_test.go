package storage

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/displaykit/vrrctl/pkg/residency"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "residency.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestStatesRoundTrip(t *testing.T) {
	db := newTestDB(t)
	session := uuid.NewString()

	states := []residency.State{
		{ID: 0, Name: "OFF"},
		{ID: 1, Name: "NBM:1080x2400@120"},
	}

	require.NoError(t, db.InsertStates(session, states))

	got, err := db.States(session)
	require.NoError(t, err)
	assert.Equal(t, states, got)
}

func TestDuplicateStateInsertFails(t *testing.T) {
	db := newTestDB(t)
	session := uuid.NewString()

	states := []residency.State{{ID: 0, Name: "OFF"}}

	require.NoError(t, db.InsertStates(session, states))
	assert.Error(t, db.InsertStates(session, states))
}

func TestSnapshotsInRange(t *testing.T) {
	db := newTestDB(t)
	session := uuid.NewString()

	first := []residency.StateResidency{
		{ID: 0, TotalStateEntryCount: 1, TotalTimeInStateMs: 10, LastEntryTimestampMs: 5},
	}
	second := []residency.StateResidency{
		{ID: 0, TotalStateEntryCount: 3, TotalTimeInStateMs: 40, LastEntryTimestampMs: 90},
	}

	require.NoError(t, db.InsertSnapshot(session, 100, first))
	require.NoError(t, db.InsertSnapshot(session, 200, second))

	rows, err := db.SnapshotsInRange(session, 0, 150)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, int64(100), rows[0].CapturedAtMs)
	assert.Equal(t, uint64(1), rows[0].EntryCount)
	assert.Equal(t, int64(10), rows[0].TimeInStateMs)
}

func TestLatestSnapshot(t *testing.T) {
	db := newTestDB(t)
	session := uuid.NewString()

	require.NoError(t, db.InsertSnapshot(session, 100, []residency.StateResidency{{ID: 0}}))
	require.NoError(t, db.InsertSnapshot(session, 200, []residency.StateResidency{
		{ID: 0, TotalStateEntryCount: 2},
		{ID: 1, TotalStateEntryCount: 7},
	}))

	rows, err := db.LatestSnapshot(session)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(200), rows[0].CapturedAtMs)
	assert.Equal(t, uint64(7), rows[1].EntryCount)
}

func TestLatestSnapshotEmpty(t *testing.T) {
	db := newTestDB(t)

	rows, err := db.LatestSnapshot(uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestSessionsAreIsolated(t *testing.T) {
	db := newTestDB(t)

	a := uuid.NewString()
	b := uuid.NewString()

	require.NoError(t, db.InsertSnapshot(a, 100, []residency.StateResidency{{ID: 0}}))

	rows, err := db.SnapshotsInRange(b, 0, 1_000)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
