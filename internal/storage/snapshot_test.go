package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
)

func TestExportImport(t *testing.T) {
	source, _ := setupTest(t)
	ctx := context.Background()

	require.NoError(t, source.Set(ctx, "key1", "value1"))
	require.NoError(t, source.Set(ctx, "key2", "value2"))
	require.NoError(t, source.Set(ctx, "key1", "value1_updated"))
	require.NoError(t, source.Set(ctx, "key3", "value3"))
	require.NoError(t, source.Remove(ctx, "key3"))

	path := filepath.Join(t.TempDir(), "snapshot.gob")
	count, err := source.Export(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	target, _ := setupTest(t)
	require.NoError(t, target.Set(ctx, "key2", "will be replaced"))
	require.NoError(t, target.Set(ctx, "other", "untouched"))

	count, err = target.Import(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Equal(t, map[string]string{
		"key1":  "value1_updated",
		"key2":  "value2",
		"other": "untouched",
	}, snapshotOf(t, target))
}

func TestImportInvalidSnapshot(t *testing.T) {
	engine, _ := setupTest(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "garbage.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0644))

	_, err := engine.Import(ctx, path)
	assert.True(t, kvErr.IsInvalidInput(err))

	_, err = engine.Import(ctx, filepath.Join(t.TempDir(), "missing.gob"))
	assert.True(t, kvErr.IsIO(err))
}

func TestExportToMissingDirectory(t *testing.T) {
	engine, _ := setupTest(t)
	ctx := context.Background()
	require.NoError(t, engine.Set(ctx, "a", "1"))

	_, err := engine.Export(ctx, filepath.Join(t.TempDir(), "no", "such", "dir", "out.gob"))
	assert.True(t, kvErr.IsIO(err))
}
