package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// fileKVStore persists the key/value map as a single JSON object. Every write
// rewrites the file through a temp file and rename.
type fileKVStore struct {
	path string

	mu     sync.Mutex
	values map[string]string
}

func NewFileKVStore(path string) (repository.KVStore, error) {
	s := &fileKVStore{path: path, values: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Internal("Failed to read state file", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.values); err != nil {
			return nil, errors.Internal("State file is not a JSON object", err)
		}
	}
	return s, nil
}

func (s *fileKVStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fileKVStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flush()
}

func (s *fileKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flush()
}

func (s *fileKVStore) flush() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return errors.Internal("Failed to encode state", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Internal("Failed to create state directory", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Internal("Failed to write state file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Internal("Failed to replace state file", err)
	}
	return nil
}
