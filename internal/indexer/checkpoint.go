package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CursorStore persists the last fully reconciled block.
type CursorStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, block uint64) error
}

// StateStore is a named block-height table, such as indexer_state.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, block uint64) error
}

// StateCursorStore keeps the cursor in a StateStore row, next to the
// orders and payments it describes.
type StateCursorStore struct {
	State StateStore
	Name  string
}

func (s *StateCursorStore) Load(ctx context.Context) (uint64, bool, error) {
	block, ok, err := s.State.LoadState(ctx, s.Name)
	if err != nil {
		return 0, false, fmt.Errorf("load cursor %s: %w", s.Name, err)
	}
	return block, ok, nil
}

func (s *StateCursorStore) Save(ctx context.Context, block uint64) error {
	if err := s.State.SaveState(ctx, s.Name, block); err != nil {
		return fmt.Errorf("save cursor %s: %w", s.Name, err)
	}
	return nil
}

// FileCursorStore keeps the cursor in a local JSON file.
type FileCursorStore struct {
	Path string
}

type cursorRecord struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

func (s *FileCursorStore) Load(_ context.Context) (uint64, bool, error) {
	stat, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat cursor file: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("cursor path is a directory: %s", s.Path)
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, false, fmt.Errorf("read cursor file: %w", err)
	}
	var rec cursorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, false, fmt.Errorf("parse cursor file: %w", err)
	}
	return rec.LastProcessedBlock, true, nil
}

func (s *FileCursorStore) Save(_ context.Context, block uint64) error {
	dir := filepath.Dir(s.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cursor dir: %w", err)
		}
	}

	data, err := json.Marshal(cursorRecord{
		LastProcessedBlock: block,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal cursor: %w", err)
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cursor tmp: %w", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		return fmt.Errorf("rename cursor: %w", err)
	}
	return nil
}
