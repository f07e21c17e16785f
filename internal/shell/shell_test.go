package shell

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
	"github.com/sajjad-MoBe/kvs/internal/storage"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) Set(ctx context.Context, key, value string) error {
	args := m.Called(key, value)
	return args.Error(0)
}

func (m *mockStore) Remove(ctx context.Context, key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func runShell(t *testing.T, store Store, input string) string {
	t.Helper()
	var out bytes.Buffer
	sh := New(store, strings.NewReader(input), &out, nil)
	require.NoError(t, sh.Run(context.Background()))
	return out.String()
}

func openEngine(t *testing.T) *storage.Engine {
	t.Helper()
	engine, err := storage.Open(filepath.Join(t.TempDir(), "kvs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestTranscript(t *testing.T) {
	engine := openEngine(t)

	out := runShell(t, engine, strings.Join([]string{
		"set a 3",
		"set b 5",
		"get a",
		"set a 55",
		"get a",
		"get c",
		"rm b",
		"get b",
		"rm b",
		"exit",
		"get a",
	}, "\n"))

	lines := strings.Split(strings.ReplaceAll(out, Prompt, ""), "\n")
	assert.Equal(t, []string{"3", "55", NotFound, NotFound, NotFound, Farewell, ""}, lines)
	assert.Equal(t, 10, strings.Count(out, Prompt))
}

func TestBlankLinesAndExtraWhitespace(t *testing.T) {
	engine := openEngine(t)

	out := runShell(t, engine, "\n   \n  set   key    value  \n\tget key\nexit\n")
	assert.Contains(t, out, "value\n")
	assert.Contains(t, out, Farewell)
}

func TestLongValueLine(t *testing.T) {
	engine := openEngine(t)
	value := strings.Repeat("v", 70*1024)

	out := runShell(t, engine, "set k "+value+"\nget k\nexit\n")
	assert.Contains(t, out, value+"\n")
	assert.True(t, strings.HasSuffix(out, Farewell+"\n"))

	got, found, err := engine.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, got, len(value))
}

func TestEndOfInputExits(t *testing.T) {
	engine := openEngine(t)

	out := runShell(t, engine, "set a 1\n")
	assert.True(t, strings.HasSuffix(out, Farewell+"\n"))
}

func TestInvalidCommands(t *testing.T) {
	store := new(mockStore)

	out := runShell(t, store, "frobnicate\nget\nset onlykey\nrm a b\nexit now\nexit\n")

	assert.Contains(t, out, `Error: unknown command "frobnicate"`)
	assert.Contains(t, out, "Error: accepts 1 arg(s), received 0")
	assert.Contains(t, out, "Error: accepts 2 arg(s), received 1")
	assert.Contains(t, out, "Error: accepts 1 arg(s), received 2")
	assert.Contains(t, out, `Error: unknown command "now"`)
	assert.Equal(t, 1, strings.Count(out, Farewell))
	store.AssertNotCalled(t, "Get", mock.Anything)
}

func TestStoreErrorsArePrintedAndLoopContinues(t *testing.T) {
	store := new(mockStore)
	store.On("Set", "a", "1").Return(kvErr.New(kvErr.ErrorTypeIO, "disk full", nil))
	store.On("Get", "a").Return("", false, errors.New("boom"))
	store.On("Remove", "a").Return(kvErr.New(kvErr.ErrorTypeKeyNotFound, "Key not found", nil))

	out := runShell(t, store, "set a 1\nget a\nrm a\nexit\n")

	assert.Contains(t, out, "Error: IO: disk full")
	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, NotFound+"\n")
	assert.Contains(t, out, Farewell)
	store.AssertExpectations(t)
}

func TestPanicIsRecovered(t *testing.T) {
	store := new(mockStore)
	store.On("Get", "a").Run(func(mock.Arguments) { panic("index exploded") })

	var out bytes.Buffer
	sh := New(store, strings.NewReader(""), &out, nil)
	sh.Exec(context.Background(), "get a")

	assert.Contains(t, out.String(), "INTERNAL: recovered from panic (index exploded)")
	assert.False(t, sh.Done())
}

func TestHelp(t *testing.T) {
	out := runShell(t, new(mockStore), "help\nexit\n")
	assert.Contains(t, out, "get key from storage")
	assert.Contains(t, out, "remove key-value pair from storage")
	assert.Contains(t, out, "quit shell")
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	sh := New(new(mockStore), strings.NewReader("exit\n"), &out, nil)
	assert.ErrorIs(t, sh.Run(ctx), context.Canceled)
}
