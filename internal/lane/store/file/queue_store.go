package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BrandonDHaskell/Portunus/lane/internal/lane/types"
)

// QueueStore keeps the offline queue in a human-readable JSON file. Every
// Save rewrites the whole file through a temp file + rename so a crash
// mid-write leaves the previous snapshot intact.
type QueueStore struct {
	path string
}

func NewQueueStore(path string) *QueueStore {
	if path == "" {
		path = "./data/offline_queue.json"
	}
	return &QueueStore{path: path}
}

func (s *QueueStore) Path() string { return s.path }

// Load returns the stored queue. A missing file is an empty queue, not an
// error. A file that cannot be parsed is reported so the caller can log it
// and start empty.
func (s *QueueStore) Load(_ context.Context) ([]types.QueuedRequest, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}

	var reqs []types.QueuedRequest
	if err := json.Unmarshal(b, &reqs); err != nil {
		return nil, fmt.Errorf("parse queue file %s: %w", s.path, err)
	}
	return reqs, nil
}

func (s *QueueStore) Save(_ context.Context, reqs []types.QueuedRequest) error {
	if reqs == nil {
		reqs = []types.QueuedRequest{}
	}
	b, err := json.MarshalIndent(reqs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir queue dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.json")
	if err != nil {
		return fmt.Errorf("create temp queue file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write queue file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync queue file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close queue file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace queue file: %w", err)
	}
	return nil
}
