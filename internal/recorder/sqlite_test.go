package recorder

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRecorder(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "history.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer r.Close()

	runID := uuid.NewString()
	require.NoError(t, r.RecordRun(&RunEvent{
		RunID:      runID,
		StartedAt:  time.Now(),
		Duration:   1500 * time.Millisecond,
		RangeStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Requested:  3,
		Batches:    1,
		Tier1Hits:  1,
		Tier3Hits:  1,
		Unresolved: []string{"ZZZ"},
	}))
	require.NoError(t, r.RecordPromotionFailure(&PromotionFailure{RunID: runID, Symbol: "BBB", Tier: "tier2", Error: "disk full"}))
	require.NoError(t, r.RecordSweep(&SweepEvent{Removed: 2, FreedBytes: 4096}))

	var requested, unresolved int
	var symbols string
	require.NoError(t, r.db.QueryRow(`SELECT requested, unresolved, unresolved_symbols FROM fetch_runs WHERE run_id = ?`, runID).
		Scan(&requested, &unresolved, &symbols))
	assert.Equal(t, 3, requested)
	assert.Equal(t, 1, unresolved)
	assert.Equal(t, "ZZZ", symbols)

	var n int
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM promotion_failures WHERE run_id = ?`, runID).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, r.db.QueryRow(`SELECT COUNT(*) FROM sweeps`).Scan(&n))
	assert.Equal(t, 1, n)

	// A duplicate run id is rejected.
	assert.Error(t, r.RecordRun(&RunEvent{RunID: runID}))
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordRun(&RunEvent{}))
	assert.NoError(t, r.RecordPromotionFailure(&PromotionFailure{}))
	assert.NoError(t, r.RecordSweep(&SweepEvent{}))
	assert.NoError(t, r.Close())
}
