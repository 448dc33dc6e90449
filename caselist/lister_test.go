package caselist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/config"
	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/testutils"
)

func newTestLister(t *testing.T, store *testutils.MemStore) *Lister {
	t.Helper()
	cfg := &config.PipelineConfig{
		CaselistPath:     "cases.txt",
		GroupName:        "HCPD",
		LocalRoot:        t.TempDir(),
		RemoteRoot:       "datasets",
		TransformCommand: "dwi_masking.py",
		ModelDir:         "/models/cnn",
	}
	cfg.ApplyDefaults()

	l, err := NewLister(store, cfg, nil)
	require.NoError(t, err)
	return l
}

func writeCaselist(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cases.txt")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func seedSubject(store *testutils.MemStore, id string) {
	store.Seed("datasets/HCPD/"+id+"/derivatives/dwipreproc/Diffusion/x.nii.gz", []byte("d"))
}

func TestListWindow(t *testing.T) {
	store := testutils.NewMemStore()
	for _, id := range []string{"100_V1_MR", "200_V1_MR", "300_V1_MR", "400_V1_MR"} {
		seedSubject(store, id)
	}
	l := newTestLister(t, store)
	path := writeCaselist(t, "100\n200\n300\n400\n")

	subjects, err := l.List(context.Background(), path, 2, 3)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	require.Equal(t, "200_V1_MR", subjects[0].ID)
	require.Equal(t, "300_V1_MR", subjects[1].ID)
}

func TestListWindowOpenEnd(t *testing.T) {
	store := testutils.NewMemStore()
	for _, id := range []string{"100_V1_MR", "200_V1_MR", "300_V1_MR"} {
		seedSubject(store, id)
	}
	l := newTestLister(t, store)
	path := writeCaselist(t, "100\n200\n300\n")

	subjects, err := l.List(context.Background(), path, 2, 0)
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	// End past the last line clamps instead of failing.
	subjects, err = l.List(context.Background(), path, 1, 99)
	require.NoError(t, err)
	require.Len(t, subjects, 3)
}

func TestListSkipsCommentsAndBlanks(t *testing.T) {
	store := testutils.NewMemStore()
	seedSubject(store, "100_V1_MR")
	seedSubject(store, "200_V1_MR")
	l := newTestLister(t, store)
	path := writeCaselist(t, "# cohort A\n\n100\n\n# cohort B\n200\n")

	subjects, err := l.List(context.Background(), path, 1, 0)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	require.Equal(t, "100_V1_MR", subjects[0].ID)
	require.Equal(t, "200_V1_MR", subjects[1].ID)
}

func TestListStartPastEnd(t *testing.T) {
	store := testutils.NewMemStore()
	seedSubject(store, "100_V1_MR")
	l := newTestLister(t, store)
	path := writeCaselist(t, "100\n")

	subjects, err := l.List(context.Background(), path, 5, 0)
	require.NoError(t, err)
	require.Empty(t, subjects)
}

func TestListRejectsBadRanges(t *testing.T) {
	l := newTestLister(t, testutils.NewMemStore())
	path := writeCaselist(t, "100\n")

	_, err := l.List(context.Background(), path, 0, 0)
	require.ErrorIs(t, err, ErrRange)

	_, err = l.List(context.Background(), path, 3, 2)
	require.ErrorIs(t, err, ErrRange)
}

func TestListDropsAbsentSubjects(t *testing.T) {
	store := testutils.NewMemStore()
	seedSubject(store, "100_V1_MR")
	l := newTestLister(t, store)
	path := writeCaselist(t, "100\n999\n")

	subjects, err := l.List(context.Background(), path, 1, 0)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	require.Equal(t, "100_V1_MR", subjects[0].ID)
}

func TestListFailsOnQueryFailure(t *testing.T) {
	store := testutils.NewMemStore()
	seedSubject(store, "100_V1_MR")
	seedSubject(store, "200_V1_MR")
	store.ExistsErrs = map[string]error{
		"datasets/HCPD/200_V1_MR": errors.New("connection reset"),
	}
	l := newTestLister(t, store)
	path := writeCaselist(t, "100\n200\n")

	// A failed query is not "absent": dropping the subject would shrink the
	// backlog without a trace, so the whole listing fails instead.
	_, err := l.List(context.Background(), path, 1, 0)
	require.Error(t, err)
	require.ErrorContains(t, err, "200_V1_MR")
	require.ErrorContains(t, err, "connection reset")
}

func TestListFetchesRemoteCaselist(t *testing.T) {
	store := testutils.NewMemStore()
	store.Seed("lists/cases.txt", []byte("100\n"))
	seedSubject(store, "100_V1_MR")
	l := newTestLister(t, store)

	subjects, err := l.List(context.Background(), "lists/cases.txt", 1, 0)
	require.NoError(t, err)
	require.Len(t, subjects, 1)
}

func TestNormalizeAppendsAppendage(t *testing.T) {
	l := newTestLister(t, testutils.NewMemStore())

	s := l.Normalize("1234")
	require.Equal(t, "1234", s.Token)
	require.Equal(t, "1234_V1_MR", s.ID)
	require.Equal(t, "1234", s.Name)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	l := newTestLister(t, testutils.NewMemStore())

	once := l.Normalize("1234")
	twice := l.Normalize(once.ID)
	require.Equal(t, once.ID, twice.ID)
	require.Equal(t, once.Name, twice.Name)
}

func TestNormalizeKeepsExistingMarker(t *testing.T) {
	l := newTestLister(t, testutils.NewMemStore())

	s := l.Normalize("5678_V2_MR")
	require.Equal(t, "5678_V2_MR", s.ID)
	require.Equal(t, "5678", s.Name)
}
