package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	arts := NewArtifactStore(dir)

	saved, err := arts.Save(StageFetch, "run-1", "in", 2, []string{"a", "b"})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, StageFetch, "latest.json"))
	_, err = os.Stat(filepath.Join(dir, StageFetch, "latest.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	var out []string
	loaded, err := arts.Load(StageFetch, &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, out)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, 2, loaded.Records)
	assert.Equal(t, saved.OutputFingerprint, loaded.OutputFingerprint)

	fp, err := Fingerprint([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, fp, loaded.OutputFingerprint)
}

func TestArtifactStore_Missing(t *testing.T) {
	_, err := NewArtifactStore(t.TempDir()).Load(StageEnrich, nil)
	assert.True(t, errors.Is(err, ErrNoArtifact))
}

func TestArtifactStore_Unchanged(t *testing.T) {
	arts := NewArtifactStore(t.TempDir())
	assert.False(t, arts.Unchanged(StageStore, "abc"))

	_, err := arts.Save(StageStore, "run-1", "abc", 1, map[string]int{"written": 1})
	require.NoError(t, err)
	assert.True(t, arts.Unchanged(StageStore, "abc"))
	assert.False(t, arts.Unchanged(StageStore, "def"))
	assert.False(t, arts.Unchanged(StageStore, ""))
}

func TestFingerprint_Stable(t *testing.T) {
	a, err := Fingerprint(map[string]int{"x": 1, "y": 2})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]int{"y": 2, "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}
