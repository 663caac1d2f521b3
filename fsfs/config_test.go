package fsfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRepositoryRejectsFormatOutOfRange(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	_, err := CreateRepository(dir, MaxFormat+1, nil)
	assert.Error(t, err)
	assert.True(t, IsKind(err, KindFormatUnsupported))
}

func TestLoadConfigFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.conf"), MaxFormat)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(MaxFormat), cfg)
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsfs.conf")
	want := DefaultConfig(MaxFormat)
	want.EnableDirDeltification = true
	want.MaxDeltificationWalk = 42

	require.NoError(t, WriteDefaultConfig(path, want))

	got, err := LoadConfig(path, MaxFormat)
	require.NoError(t, err)
	assert.Equal(t, want.EnableDirDeltification, got.EnableDirDeltification)
	assert.Equal(t, want.MaxDeltificationWalk, got.MaxDeltificationWalk)
}
