package localfs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kirillkom/policy-analyst/internal/core/domain"
)

// Journal is a file-backed memory journal for single-node deployments that
// run without Postgres. Records are appended as JSON lines; the file is the
// source of truth and survives restarts.
type Journal struct {
	mu   sync.Mutex
	path string
}

func NewJournal(basePath string) (*Journal, error) {
	if basePath == "" {
		basePath = "./data/storage"
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &Journal{path: filepath.Join(basePath, "memory_journal.jsonl")}, nil
}

func (j *Journal) Append(_ context.Context, record domain.MemoryRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal line: %w", err)
	}
	return f.Sync()
}

// Load returns up to limit records, newest first.
func (j *Journal) Load(_ context.Context, limit int) ([]domain.MemoryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var all []domain.MemoryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record domain.MemoryRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("decode journal line: %w", err)
		}
		all = append(all, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	if limit > len(all) {
		limit = len(all)
	}
	out := make([]domain.MemoryRecord, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
