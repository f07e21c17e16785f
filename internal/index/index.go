// Package index keeps the in-memory map from each live key to the location of
// its most recent Set command.
package index

import (
	"sort"

	"github.com/sajjad-MoBe/kvs/internal/codec"
	"github.com/sajjad-MoBe/kvs/internal/wal"
)

// Index maps keys to log locations. It is not safe for concurrent use.
type Index struct {
	entries map[string]wal.Location
}

// New returns an empty index.
func New() *Index {
	return &Index{entries: make(map[string]wal.Location)}
}

// Get returns the location of key's current value.
func (i *Index) Get(key string) (wal.Location, bool) {
	loc, ok := i.entries[key]
	return loc, ok
}

// Set points key at loc and returns the location it replaced, if any.
func (i *Index) Set(key string, loc wal.Location) (wal.Location, bool) {
	prev, ok := i.entries[key]
	i.entries[key] = loc
	return prev, ok
}

// Remove drops key and reports whether it was present.
func (i *Index) Remove(key string) (wal.Location, bool) {
	prev, ok := i.entries[key]
	if ok {
		delete(i.entries, key)
	}
	return prev, ok
}

// Len returns the number of live keys.
func (i *Index) Len() int {
	return len(i.entries)
}

// Keys returns the live keys in sorted order.
func (i *Index) Keys() []string {
	keys := make([]string, 0, len(i.entries))
	for k := range i.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply folds one replayed command into the index and returns the number of
// log bytes that became unreachable because of it.
func (i *Index) Apply(loc wal.Location, cmd codec.Command) int64 {
	switch cmd.Kind {
	case codec.KindSet:
		if prev, ok := i.Set(cmd.Key, loc); ok {
			return prev.Length
		}
		return 0
	case codec.KindRemove:
		stale := loc.Length
		if prev, ok := i.Remove(cmd.Key); ok {
			stale += prev.Length
		}
		return stale
	default:
		// the codec never yields other kinds; count the frame as garbage
		return loc.Length
	}
}

// Build replays the whole log into a fresh index and returns it together with
// the number of stale bytes found.
func Build(log *wal.Manager) (*Index, int64, error) {
	idx := New()
	var stale int64
	err := log.Replay(func(loc wal.Location, cmd codec.Command) error {
		stale += idx.Apply(loc, cmd)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return idx, stale, nil
}
