package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modgen/pkg/pipeline"
	"modgen/pkg/state"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, pipeline.Verdict{
		RunID:    "run-1",
		Success:  false,
		Attempts: 3,
		Duration: 1500 * time.Millisecond,
		Error:    "execution failed: exit status 1",
	}))
	require.NoError(t, j.Record(ctx, pipeline.Verdict{
		RunID:    "run-2",
		Success:  true,
		Attempts: 1,
		Duration: 700 * time.Millisecond,
		PackageInfo: map[string]any{
			state.KeyModulePath: "/tmp/out/generated_module_x",
		},
	}))

	recent, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	byID := map[string]RunRecord{}
	for _, r := range recent {
		byID[r.ID] = r
	}
	assert.True(t, byID["run-2"].Success)
	assert.Equal(t, "/tmp/out/generated_module_x", byID["run-2"].ModulePath)
	assert.False(t, byID["run-1"].Success)
	assert.Equal(t, 3, byID["run-1"].Attempts)
	assert.Contains(t, byID["run-1"].Error, "exit status 1")
}

func TestJournalRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(ctx, pipeline.Verdict{
			RunID:    string(rune('a' + i)),
			Attempts: 1,
		}))
	}
	recent, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}

func TestJournalReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, pipeline.Verdict{RunID: "persisted", Attempts: 2}))
	require.NoError(t, j.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = j2.Close() }()

	recent, err := j2.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "persisted", recent[0].ID)
}
