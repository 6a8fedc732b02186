package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"paysync/internal/model"
)

// DeadLetterFile appends dropped events to a JSONL file. The file is opened
// on the first non-empty batch and kept open until Close.
type DeadLetterFile struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func NewDeadLetterFile(path string) *DeadLetterFile {
	return &DeadLetterFile{path: path}
}

// PutDroppedBatch writes one JSON line per event and syncs the file.
func (d *DeadLetterFile) PutDroppedBatch(events []model.DroppedEvent) error {
	if len(events) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.openLocked(); err != nil {
		return err
	}

	w := bufio.NewWriter(d.file)
	enc := json.NewEncoder(w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("encode dropped event %s: %w", event.TransactionHash, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write dead letter: %w", err)
	}
	return d.file.Sync()
}

func (d *DeadLetterFile) openLocked() error {
	if d.file != nil {
		return nil
	}
	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dead letter dir: %w", err)
		}
	}
	file, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open dead letter: %w", err)
	}
	d.file = file
	return nil
}

// Close closes the file if it was opened.
func (d *DeadLetterFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
