package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
}

func TestBuildListsMatchingFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "100_V1_MR", "dwi", "100_EdEp.nii.gz"))
	writeFile(t, filepath.Join(root, "200_V1_MR", "dwi", "200_EdEp.nii.gz"))
	writeFile(t, filepath.Join(root, "200_V1_MR", "dwi", "200_EdEp.bval"))
	writeFile(t, filepath.Join(root, "200_V1_MR", "dwi", "200_T1w.nii.gz"))

	outputPath := filepath.Join(t.TempDir(), "process_list.txt")
	b := NewBuilder(nil)
	count, err := b.Build(root, "_EdEp.nii.gz", outputPath)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasSuffix(content, "\n"))

	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		require.True(t, filepath.IsAbs(line), "manifest lines must be absolute: %s", line)
		require.True(t, strings.HasSuffix(line, "_EdEp.nii.gz"))
		_, err := os.Stat(line)
		require.NoError(t, err, "manifest entry must exist on disk")
	}
}

func TestBuildOverwritesStaleManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "300_V1_MR", "300_EdEp.nii.gz"))

	outputPath := filepath.Join(t.TempDir(), "process_list.txt")
	require.NoError(t, os.WriteFile(outputPath, []byte("/stale/entry_EdEp.nii.gz\n"), 0644))

	b := NewBuilder(nil)
	count, err := b.Build(root, "_EdEp.nii.gz", outputPath)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.NotContains(t, string(data), "stale")
}

func TestBuildEmptyRoot(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "process_list.txt")
	b := NewBuilder(nil)

	count, err := b.Build(t.TempDir(), "_EdEp.nii.gz", outputPath)
	require.NoError(t, err)
	require.Zero(t, count)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestBuildMissingRoot(t *testing.T) {
	outputPath := filepath.Join(t.TempDir(), "process_list.txt")
	b := NewBuilder(nil)

	count, err := b.Build(filepath.Join(t.TempDir(), "does-not-exist"), "_EdEp.nii.gz", outputPath)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestBuildCreatesManifestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "400_V1_MR", "400_EdEp.nii.gz"))

	outputPath := filepath.Join(t.TempDir(), "nested", "dir", "process_list.txt")
	b := NewBuilder(nil)
	count, err := b.Build(root, "_EdEp.nii.gz", outputPath)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
