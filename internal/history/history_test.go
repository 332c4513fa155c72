package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddAndQuery(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	records := []*Record{
		{RunID: "run-1", TargetName: "Eniro", Country: "SE", TargetType: "email", Status: StatusSent, ProcessedAt: base},
		{RunID: "run-1", TargetName: "MrKoll", Country: "SE", TargetType: "mrkoll_flow", Status: StatusTimeout, Detail: "login timed out", ProcessedAt: base.Add(time.Minute)},
		{RunID: "run-2", TargetName: "Eniro", Country: "SE", TargetType: "email", Status: StatusFailed, Detail: "SMTP authentication failed", ProcessedAt: base.Add(time.Hour)},
	}
	for _, r := range records {
		require.NoError(t, store.Add(r))
		assert.NotZero(t, r.ID)
	}

	recent, err := store.GetRecentRequests(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-2", recent[0].RunID)
	assert.Equal(t, "MrKoll", recent[1].TargetName)
	assert.Equal(t, "login timed out", recent[1].Detail)

	last, err := store.GetLastForTarget("Eniro")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, StatusFailed, last.Status)
	assert.True(t, base.Add(time.Hour).Equal(last.ProcessedAt))

	missing, err := store.GetLastForTarget("Nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	run, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Len(t, run, 2)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, map[Status]int{StatusSent: 1, StatusTimeout: 1, StatusFailed: 1}, stats)
}

func TestAddDefaultsProcessedAt(t *testing.T) {
	store := newTestStore(t)

	r := &Record{RunID: "r", TargetName: "x", TargetType: "manual_eid", Status: StatusHandled}
	require.NoError(t, store.Add(r))
	assert.False(t, r.ProcessedAt.IsZero())
}
