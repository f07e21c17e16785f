package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sajjad-MoBe/kvs/internal/codec"
	"github.com/sajjad-MoBe/kvs/internal/wal"
)

func loc(segment uint64, offset, length int64) wal.Location {
	return wal.Location{Segment: segment, Offset: offset, Length: length}
}

func TestSetGetRemove(t *testing.T) {
	idx := New()

	_, ok := idx.Get("a")
	assert.False(t, ok)

	_, replaced := idx.Set("a", loc(1, 0, 10))
	assert.False(t, replaced)

	prev, replaced := idx.Set("a", loc(1, 10, 12))
	assert.True(t, replaced)
	assert.Equal(t, loc(1, 0, 10), prev)

	got, ok := idx.Get("a")
	require.True(t, ok)
	assert.Equal(t, loc(1, 10, 12), got)
	assert.Equal(t, 1, idx.Len())

	prev, ok = idx.Remove("a")
	assert.True(t, ok)
	assert.Equal(t, loc(1, 10, 12), prev)

	_, ok = idx.Remove("a")
	assert.False(t, ok)
	assert.Equal(t, 0, idx.Len())
}

func TestKeysSorted(t *testing.T) {
	idx := New()
	for i, k := range []string{"c", "a", "b"} {
		idx.Set(k, loc(1, int64(i), 1))
	}
	assert.Equal(t, []string{"a", "b", "c"}, idx.Keys())
}

func TestApplyFold(t *testing.T) {
	idx := New()

	var stale int64
	stale += idx.Apply(loc(1, 0, 10), codec.Set("a", "1"))
	stale += idx.Apply(loc(1, 10, 10), codec.Set("b", "2"))
	assert.Equal(t, int64(0), stale)

	// overwrite makes the first Set stale
	stale += idx.Apply(loc(1, 20, 11), codec.Set("a", "11"))
	assert.Equal(t, int64(10), stale)

	// a remove makes both the Set it masks and itself stale
	stale += idx.Apply(loc(2, 0, 8), codec.Remove("b"))
	assert.Equal(t, int64(28), stale)

	// removing an absent key only wastes the tombstone
	stale += idx.Apply(loc(2, 8, 8), codec.Remove("zzz"))
	assert.Equal(t, int64(36), stale)

	assert.Equal(t, []string{"a"}, idx.Keys())
	got, _ := idx.Get("a")
	assert.Equal(t, loc(1, 20, 11), got)
}

func TestBuildFromLog(t *testing.T) {
	log, err := wal.Open(t.TempDir(), wal.Config{MaxSegmentBytes: 32}, nil)
	require.NoError(t, err)
	defer log.Close()

	cmds := []codec.Command{
		codec.Set("a", "1"),
		codec.Set("b", "2"),
		codec.Set("a", "3"),
		codec.Remove("b"),
		codec.Set("c", "4"),
	}
	var locs []wal.Location
	for _, cmd := range cmds {
		l, err := log.Append(cmd)
		require.NoError(t, err)
		locs = append(locs, l)
	}

	idx, stale, err := Build(log)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "c"}, idx.Keys())
	got, _ := idx.Get("a")
	assert.Equal(t, locs[2], got)
	assert.Equal(t, locs[0].Length+locs[1].Length+locs[3].Length, stale)
}
