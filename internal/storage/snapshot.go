package storage

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	kvErr "github.com/sajjad-MoBe/kvs/internal/errors"
)

// Export writes every live key/value pair to a gob snapshot at path and
// returns the number of pairs written.
func (e *Engine) Export(ctx context.Context, path string) (int, error) {
	var count int
	err := e.traceOperation(ctx, "export", "", func(context.Context) (string, error) {
		if err := e.checkOpen(); err != nil {
			return "", err
		}

		data := make(map[string]string, e.index.Len())
		for _, key := range e.index.Keys() {
			loc, _ := e.index.Get(key)
			cmd, err := e.readLive(key, loc)
			if err != nil {
				return "", err
			}
			data[key] = cmd.Value
		}

		if err := writeSnapshot(path, data); err != nil {
			return "", err
		}
		count = len(data)
		return "done", nil
	})
	return count, err
}

// Import applies every pair of a snapshot written by Export as a Set and
// returns the number of pairs applied.
func (e *Engine) Import(ctx context.Context, path string) (int, error) {
	data, err := readSnapshot(path)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, key := range keys {
		if err := e.Set(ctx, key, data[key]); err != nil {
			return i, fmt.Errorf("failed to import %q: %w", key, err)
		}
	}
	return len(keys), nil
}

func writeSnapshot(path string, data map[string]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return kvErr.New(kvErr.ErrorTypeIO, "failed to create snapshot file", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(data); err != nil {
		tmp.Close()
		return kvErr.New(kvErr.ErrorTypeIO, "failed to encode snapshot data", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return kvErr.New(kvErr.ErrorTypeIO, "failed to sync snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		return kvErr.New(kvErr.ErrorTypeIO, "failed to close snapshot file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return kvErr.New(kvErr.ErrorTypeIO, "failed to move snapshot into place", err)
	}
	return nil
}

func readSnapshot(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, kvErr.New(kvErr.ErrorTypeIO, "failed to open snapshot file", err)
	}
	defer file.Close()

	var data map[string]string
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, kvErr.New(kvErr.ErrorTypeInvalidInput, "failed to decode snapshot data", err)
	}
	return data, nil
}
