// Package sink persists run output: the CSV record file and downloaded media
// files.
package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crawlkit/mediaharvest/internal/pipeline"
)

// Header is the record file schema, readable by any downstream tool.
var Header = []string{
	"source_locator", "display_name", "collection_id",
	"content_kind", "status", "local_path", "message",
}

// CSV appends item records to a file opened in append mode for the run.
// Writes serialize through a single lock and flush per row, so concurrent
// appenders produce whole rows. Rows are at-least-once across restarts; the
// fingerprint store, not row uniqueness, is the source of truth for "seen".
type CSV struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenCSV opens (or creates) the record file. The header row is written only
// when the file is empty.
func OpenCSV(path string) (*CSV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open record file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat record file: %w", err)
	}

	s := &CSV{f: f, w: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := s.writeRow(Header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	return s, nil
}

// Append writes one record row.
func (s *CSV) Append(rec pipeline.Record) error {
	return s.writeRow([]string{
		rec.SourceLocator,
		rec.DisplayName,
		rec.CollectionID,
		string(rec.Kind),
		string(rec.Status),
		rec.LocalPath,
		rec.Message,
	})
}

func (s *CSV) writeRow(row []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	return nil
}

// Close flushes and releases the file handle.
func (s *CSV) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("flush record file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("close record file: %w", err)
	}
	return nil
}
