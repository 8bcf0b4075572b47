package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStorage persists one JSON file per queued request under a directory.
// It is the default backend: no external infrastructure, and entries
// survive process restarts.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

// NewFileStorage creates the directory if needed.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}
	return &FileStorage{dir: dir}, nil
}

func (s *FileStorage) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the entry atomically (temp file + rename).
func (s *FileStorage) Save(_ context.Context, req *ReplayRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding queue entry: %w", err)
	}
	tmp := s.path(req.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing queue entry: %w", err)
	}
	return os.Rename(tmp, s.path(req.ID))
}

func (s *FileStorage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStorage) List(_ context.Context) ([]*ReplayRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading queue directory: %w", err)
	}

	var out []*ReplayRequest
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, de.Name()))
		if err != nil {
			return nil, err
		}
		var req ReplayRequest
		if err := json.Unmarshal(data, &req); err != nil {
			// A corrupt entry should not wedge the whole queue.
			continue
		}
		out = append(out, &req)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}
