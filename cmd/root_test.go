package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func setupDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "kvs.db")
}

func TestSetGetRemove(t *testing.T) {
	db := setupDB(t)

	res := runCLI(t, "", "-d", db, "set", "a", "3")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Empty(t, res.stdout)

	res = runCLI(t, "", "--db", db, "get", "a")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, "3\n", res.stdout)

	res = runCLI(t, "", "-d", db, "rm", "a")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Empty(t, res.stdout)

	res = runCLI(t, "", "-d", db, "get", "a")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "Key not found\n", res.stdout)
}

func TestRemoveMissingKeyFails(t *testing.T) {
	db := setupDB(t)

	res := runCLI(t, "", "-d", db, "rm", "ghost")
	assert.Equal(t, 1, res.code)
	assert.Empty(t, res.stdout)
	assert.Equal(t, "Key not found\n", res.stderr)
}

func TestGetMissingKeySucceeds(t *testing.T) {
	res := runCLI(t, "", "-d", setupDB(t), "get", "ghost")
	assert.Equal(t, 0, res.code)
	assert.Equal(t, "Key not found\n", res.stdout)
}

func TestWrongArity(t *testing.T) {
	db := setupDB(t)

	for _, args := range [][]string{
		{"set", "a"},
		{"set", "a", "b", "c"},
		{"get"},
		{"rm", "a", "b"},
		{"compact", "now"},
	} {
		res := runCLI(t, "", append([]string{"-d", db}, args...)...)
		assert.Equal(t, 1, res.code, args)
		assert.Contains(t, res.stderr, "Error:", args)
		assert.Contains(t, res.stdout+res.stderr, "Usage:", args)
	}

	_, err := os.Stat(db)
	assert.True(t, os.IsNotExist(err), "argument errors must not open the store")
}

func TestUnknownCommand(t *testing.T) {
	res := runCLI(t, "", "-d", setupDB(t), "frobnicate")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, `unknown command "frobnicate"`)
}

func TestVersion(t *testing.T) {
	res := runCLI(t, "", "--version")
	assert.Equal(t, 0, res.code)
	assert.Contains(t, res.stdout, Version)
}

func TestDefaultDatabaseDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	res := runCLI(t, "", "set", "a", "1")
	require.Equal(t, 0, res.code, res.stderr)

	info, err := os.Stat(filepath.Join(dir, defaultDB))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestShellTranscript(t *testing.T) {
	db := setupDB(t)

	input := "set a 3\nset b 5\nget a\nset a 55\nget a\nget c\nrm c\nexit\n"
	res := runCLI(t, input, "-d", db, "shell")
	require.Equal(t, 0, res.code, res.stderr)

	out := strings.ReplaceAll(res.stdout, ">>> ", "")
	assert.Equal(t, "3\n55\nKey not found\nKey not found\nBye!\n", out)

	// shell writes are durable for later invocations
	res = runCLI(t, "", "-d", db, "get", "b")
	assert.Equal(t, "5\n", res.stdout)
}

func TestShellEndOfInput(t *testing.T) {
	res := runCLI(t, "set a 1\n", "-d", setupDB(t), "shell")
	require.Equal(t, 0, res.code, res.stderr)
	assert.True(t, strings.HasSuffix(res.stdout, "Bye!\n"))
}

func TestShellMetricsAddr(t *testing.T) {
	res := runCLI(t, "exit\n", "-d", setupDB(t), "-v", "shell", "--metrics-addr", "127.0.0.1:0")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stderr, "metrics available at http://127.0.0.1:")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "kvs.db")
	cfgPath := filepath.Join(dir, "kvs.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
max_segment_bytes = 64
compaction_threshold = 1000000
log_level = "error"
`), 0o644))

	for i := 0; i < 10; i++ {
		res := runCLI(t, "", "-d", db, "-c", cfgPath, "set", fmt.Sprintf("key-%d", i), "value")
		require.Equal(t, 0, res.code, res.stderr)
	}

	segments, err := filepath.Glob(filepath.Join(db, "*.log"))
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1, "small max_segment_bytes should roll segments over")
}

func TestInvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "kvs.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("compaction_threshold = -1\n"), 0o644))

	res := runCLI(t, "", "-d", filepath.Join(dir, "kvs.db"), "-c", cfgPath, "get", "a")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "compaction_threshold must be positive")
}

func TestCompact(t *testing.T) {
	db := setupDB(t)
	for i := 0; i < 20; i++ {
		require.Equal(t, 0, runCLI(t, "", "-d", db, "set", "k", fmt.Sprintf("v%d", i)).code)
	}

	res := runCLI(t, "", "-d", db, "compact")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "compacted 1 keys in "+db+":")

	res = runCLI(t, "", "-d", db, "get", "k")
	assert.Equal(t, "v19\n", res.stdout)
}

func TestExportImport(t *testing.T) {
	src := setupDB(t)
	dst := setupDB(t)
	snapshot := filepath.Join(t.TempDir(), "snapshot.gob")

	require.Equal(t, 0, runCLI(t, "", "-d", src, "set", "a", "1").code)
	require.Equal(t, 0, runCLI(t, "", "-d", src, "set", "b", "2").code)

	res := runCLI(t, "", "-d", src, "export", snapshot)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, fmt.Sprintf("exported 2 keys to %s\n", snapshot), res.stdout)

	res = runCLI(t, "", "-d", dst, "import", snapshot)
	require.Equal(t, 0, res.code, res.stderr)
	assert.Equal(t, fmt.Sprintf("imported 2 keys from %s\n", snapshot), res.stdout)

	assert.Equal(t, "2\n", runCLI(t, "", "-d", dst, "get", "b").stdout)
}

func TestImportMissingFile(t *testing.T) {
	res := runCLI(t, "", "-d", setupDB(t), "import", filepath.Join(t.TempDir(), "missing.gob"))
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Error:")
}

func TestStats(t *testing.T) {
	db := setupDB(t)
	require.Equal(t, 0, runCLI(t, "", "-d", db, "set", "a", "1").code)
	require.Equal(t, 0, runCLI(t, "", "-d", db, "set", "b", "2").code)

	res := runCLI(t, "", "-d", db, "stats")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "# TYPE kvs_keys gauge")
	assert.Contains(t, res.stdout, "kvs_keys 2")
	assert.Contains(t, res.stdout, "kvs_segments 1")
}
