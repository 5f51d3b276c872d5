package diskmanager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeClip creates a clip of the given size with a controlled mtime.
func writeClip(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestEnforceBounds_CountLimit(t *testing.T) {
	dir := t.TempDir()
	oldest := writeClip(t, dir, "a.mp4", 10, 3*time.Hour)
	writeClip(t, dir, "b.mp4", 10, 2*time.Hour)
	writeClip(t, dir, "c.mp4", 10, time.Hour)

	evicted, err := EnforceBounds(dir, Policy{MaxClips: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)
	assert.NoFileExists(t, oldest, "oldest clip goes first")

	files, err := ListClipFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestEnforceBounds_StorageLimit(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.mp4", 600, 3*time.Hour)
	writeClip(t, dir, "b.mp4", 600, 2*time.Hour)
	keep := writeClip(t, dir, "c.mp4", 600, time.Hour)

	evicted, err := EnforceBounds(dir, Policy{MaxStorageBytes: 700})
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)
	assert.FileExists(t, keep)

	stats, err := GetStorageStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ClipCount)
	assert.LessOrEqual(t, stats.TotalBytes, int64(700))
}

func TestEnforceBounds_Invariant(t *testing.T) {
	dir := t.TempDir()
	for i, age := range []time.Duration{9, 8, 7, 6, 5, 4, 3, 2, 1} {
		writeClip(t, dir, filepath.Base(t.Name())+string(rune('a'+i))+".mp4", 100, age*time.Minute)
	}

	policy := Policy{MaxClips: 4, MaxStorageBytes: 350}
	_, err := EnforceBounds(dir, policy)
	require.NoError(t, err)

	stats, err := GetStorageStats(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, stats.ClipCount, policy.MaxClips)
	assert.LessOrEqual(t, stats.TotalBytes, policy.MaxStorageBytes)
}

func TestEnforceBounds_RemovesSidecars(t *testing.T) {
	dir := t.TempDir()
	clip := writeClip(t, dir, "a.mp4", 10, 2*time.Hour)
	sidecar := filepath.Join(dir, "a.json")
	thumb := filepath.Join(dir, "a.jpg")
	require.NoError(t, os.WriteFile(sidecar, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(thumb, []byte("jpg"), 0o644))
	writeClip(t, dir, "b.mp4", 10, time.Hour)

	_, err := EnforceBounds(dir, Policy{MaxClips: 1})
	require.NoError(t, err)
	assert.NoFileExists(t, clip)
	assert.NoFileExists(t, sidecar)
	assert.NoFileExists(t, thumb)
}

func TestAgeSweep(t *testing.T) {
	dir := t.TempDir()
	expired := writeClip(t, dir, "old.mp4", 10, 48*time.Hour)
	fresh := writeClip(t, dir, "new.mp4", 10, time.Hour)

	swept, err := AgeSweep(dir, Policy{MaxAgeDays: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	assert.NoFileExists(t, expired)
	assert.FileExists(t, fresh)
}

func TestAgeSweep_DisabledWithoutBound(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "old.mp4", 10, 1000*time.Hour)

	swept, err := AgeSweep(dir, Policy{})
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestListClipFiles_IgnoresNonClips(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.mp4", 10, time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	files, err := ListClipFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestListClipFiles_MissingDir(t *testing.T) {
	files, err := ListClipFiles(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, files)
}
