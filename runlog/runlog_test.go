package runlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/model"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/testutils"
)

const remoteKey = "datasets/HCPD/processing_log.txt"

func newTestRunLog(t *testing.T, store *testutils.MemStore) *RunLog {
	t.Helper()
	localPath := filepath.Join(t.TempDir(), "logs", "processing_log.txt")
	return New(store, localPath, remoteKey, nil, false)
}

func TestMergeUnion(t *testing.T) {
	a := "line one\nline two\n"
	b := "line two\nline three\n"

	merged := Merge(a, b)
	require.Equal(t, "line one\nline three\nline two\n", merged)
}

func TestMergeIdempotentAndCommutative(t *testing.T) {
	a := "x\ny\n"
	b := "y\nz\n"

	ab := Merge(a, b)
	require.Equal(t, ab, Merge(ab, b))
	require.Equal(t, ab, Merge(a, ab))
	require.Equal(t, ab, Merge(b, a))
}

func TestMergeDropsBlankLines(t *testing.T) {
	merged := Merge("a\n\n\nb\n", "\n")
	require.Equal(t, "a\nb\n", merged)
}

func TestMergeEmpty(t *testing.T) {
	require.Equal(t, "", Merge("", ""))
}

func TestRecordAppendsLines(t *testing.T) {
	r := newTestRunLog(t, testutils.NewMemStore())

	when := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	outcomes := []model.Outcome{
		{Subject: "100_V1_MR", Status: model.StatusCompleted, Time: when},
		{Subject: "200_V1_MR", Status: model.StatusFailed, Cause: model.CauseTransferError, Time: when},
	}
	require.NoError(t, r.Record(outcomes))
	require.NoError(t, r.Record(outcomes[:1]))

	data, err := os.ReadFile(r.localPath)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, "2026-03-01 10:30:00: Successfully processed 100_V1_MR")
	require.Contains(t, content, "2026-03-01 10:30:00: Failed to process (transfer error) 200_V1_MR")
	// Append-only: the duplicate stays until Reconcile deduplicates.
	require.Len(t, strings.Split(strings.TrimSpace(content), "\n"), 3)
}

func TestReconcileFirstRun(t *testing.T) {
	store := testutils.NewMemStore()
	r := newTestRunLog(t, store)

	require.NoError(t, os.MkdirAll(filepath.Dir(r.localPath), 0755))
	require.NoError(t, os.WriteFile(r.localPath, []byte("b line\na line\n"), 0644))

	require.NoError(t, r.Reconcile(context.Background()))

	data, _, err := store.Get(context.Background(), remoteKey)
	require.NoError(t, err)
	require.Equal(t, "a line\nb line\n", string(data))

	local, err := os.ReadFile(r.localPath)
	require.NoError(t, err)
	require.Equal(t, string(data), string(local))
}

func TestReconcileMergesRemoteHistory(t *testing.T) {
	store := testutils.NewMemStore()
	store.Seed(remoteKey, []byte("old line\n"))
	r := newTestRunLog(t, store)

	require.NoError(t, os.MkdirAll(filepath.Dir(r.localPath), 0755))
	require.NoError(t, os.WriteFile(r.localPath, []byte("new line\n"), 0644))

	require.NoError(t, r.Reconcile(context.Background()))

	data, _, err := store.Get(context.Background(), remoteKey)
	require.NoError(t, err)
	require.Equal(t, "new line\nold line\n", string(data))
}

func TestReconcileRetriesOnLostRace(t *testing.T) {
	store := testutils.NewMemStore()
	store.RejectPuts = 1
	r := newTestRunLog(t, store)

	require.NoError(t, os.MkdirAll(filepath.Dir(r.localPath), 0755))
	require.NoError(t, os.WriteFile(r.localPath, []byte("line\n"), 0644))

	require.NoError(t, r.Reconcile(context.Background()))
	require.True(t, store.Has(remoteKey))
}

func TestReconcileGivesUpAfterRepeatedRaces(t *testing.T) {
	store := testutils.NewMemStore()
	store.RejectPuts = maxPushAttempts + 1
	r := newTestRunLog(t, store)

	require.NoError(t, os.MkdirAll(filepath.Dir(r.localPath), 0755))
	require.NoError(t, os.WriteFile(r.localPath, []byte("line\n"), 0644))

	err := r.Reconcile(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "concurrent writers")
}

func TestReconcileFallsBackWithoutConditionalWrites(t *testing.T) {
	store := testutils.NewMemStore()
	store.Unconditional = true
	r := newTestRunLog(t, store)

	require.NoError(t, os.MkdirAll(filepath.Dir(r.localPath), 0755))
	require.NoError(t, os.WriteFile(r.localPath, []byte("line\n"), 0644))

	require.NoError(t, r.Reconcile(context.Background()))

	data, _, err := store.Get(context.Background(), remoteKey)
	require.NoError(t, err)
	require.Equal(t, "line\n", string(data))
}

func TestReconcileDryRunDoesNotWriteRemote(t *testing.T) {
	store := testutils.NewMemStore()
	localPath := filepath.Join(t.TempDir(), "processing_log.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("line\n"), 0644))

	r := New(store, localPath, remoteKey, nil, true)
	require.NoError(t, r.Reconcile(context.Background()))
	require.False(t, store.Has(remoteKey))

	// The local copy is still rewritten to the merged form.
	local, err := os.ReadFile(localPath)
	require.NoError(t, err)
	require.Equal(t, "line\n", string(local))
}
