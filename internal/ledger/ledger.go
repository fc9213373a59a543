// Package ledger persists the append-only checkpoint file that lets a re-run
// skip collections completed by a previous run.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger records one collection id per line. The file is append-only within a
// run; readers treat it as a set, so duplicate lines are harmless. The handle
// stays open for the duration of the run and every mark is flushed to disk
// before MarkDone returns.
type Ledger struct {
	mu   sync.Mutex
	f    *os.File
	done map[string]struct{}
}

// Open loads existing checkpoint state and opens the file for appending,
// creating it (and its directory) if absent.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint file %s: %w", path, err)
	}

	done := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			done[id] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read checkpoint file %s: %w", path, err)
	}

	return &Ledger{f: f, done: done}, nil
}

// Done reports whether the collection was completed by this or a prior run.
func (l *Ledger) Done(collectionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.done[collectionID]
	return ok
}

// MarkDone durably records the collection as completed. Marking twice is a
// no-op; the write is synced so the record survives a crash on the next line.
func (l *Ledger) MarkDone(collectionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.done[collectionID]; ok {
		return nil
	}
	if _, err := fmt.Fprintln(l.f, collectionID); err != nil {
		return fmt.Errorf("append checkpoint: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	l.done[collectionID] = struct{}{}
	return nil
}

// Count reports how many collections are checkpointed.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.done)
}

// Close releases the file handle.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.f.Close(); err != nil {
		return fmt.Errorf("close checkpoint file: %w", err)
	}
	return nil
}
