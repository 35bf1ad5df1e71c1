package vector

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TextStore persists the text shard belonging to each vector entry,
// addressed by vector hash.
type TextStore interface {
	Write(hash, text string) error
	Read(hash string) (string, error)
	Delete(hash string) error
}

// MemTextStore keeps shards in memory. Used in tests and for indexes whose
// persistence is handled wholesale by the snapshot adapter.
type MemTextStore struct {
	mu     sync.RWMutex
	shards map[string]string
}

// NewMemTextStore creates an empty in-memory shard store.
func NewMemTextStore() *MemTextStore {
	return &MemTextStore{shards: make(map[string]string)}
}

func (s *MemTextStore) Write(hash, text string) error {
	s.mu.Lock()
	s.shards[hash] = text
	s.mu.Unlock()
	return nil
}

func (s *MemTextStore) Read(hash string) (string, error) {
	s.mu.RLock()
	text, ok := s.shards[hash]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("text shard %s not found", hash)
	}
	return text, nil
}

func (s *MemTextStore) Delete(hash string) error {
	s.mu.Lock()
	delete(s.shards, hash)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored shards.
func (s *MemTextStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shards)
}

// FSTextStore stores one text_<hash>.txt file per shard under dir.
type FSTextStore struct {
	dir string
}

// NewFSTextStore creates the directory if needed and returns the store.
func NewFSTextStore(dir string) (*FSTextStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create text shard dir: %w", err)
	}
	return &FSTextStore{dir: dir}, nil
}

func (s *FSTextStore) path(hash string) string {
	return filepath.Join(s.dir, "text_"+hash+".txt")
}

func (s *FSTextStore) Write(hash, text string) error {
	tmp := s.path(hash) + ".tmp"
	if err := os.WriteFile(tmp, []byte(text), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(hash))
}

func (s *FSTextStore) Read(hash string) (string, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *FSTextStore) Delete(hash string) error {
	err := os.Remove(s.path(hash))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var (
	_ TextStore = (*MemTextStore)(nil)
	_ TextStore = (*FSTextStore)(nil)
)
