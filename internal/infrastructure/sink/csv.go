// Package sink implements ports.StatusSink for CSV exports, a JSON status
// file, RMM custom fields and a git report archive.
package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// CSV appends rows to <dir>/<sinkID>.csv, writing a header when the file is
// new. An existing file keeps its column order as long as its header covers
// the record's columns; otherwise it is renamed to
// <sinkID>.<UTC timestamp>.csv and a fresh file is started. SetStatus is
// ignored.
type CSV struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	files map[string]*csvFile
}

type csvFile struct {
	f      *os.File
	w      *csv.Writer
	header []string
}

// NewCSV creates a CSV sink rooted at dir.
func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir: %w", err)
	}
	return &CSV{dir: dir, now: time.Now, files: make(map[string]*csvFile)}, nil
}

// Path returns the file that rows for sinkID are written to.
func (s *CSV) Path(sinkID string) string {
	return filepath.Join(s.dir, fileStem(sinkID)+".csv")
}

func fileStem(sinkID string) string {
	name := unsafeName.ReplaceAllString(sinkID, "_")
	if name == "" {
		name = "rows"
	}
	return name
}

// SetStatus implements ports.StatusSink.
func (s *CSV) SetStatus(context.Context, string, string) error { return nil }

// AppendRow implements ports.StatusSink. Rows for one sink share the column
// layout chosen when its file was opened; unknown columns are dropped and
// missing ones left empty.
func (s *CSV) AppendRow(ctx context.Context, sinkID string, record ports.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cf, err := s.open(sinkID, record.Names())
	if err != nil {
		return err
	}
	row := make([]string, len(cf.header))
	for i, name := range cf.header {
		row[i], _ = record.Get(name)
	}
	if err := cf.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	cf.w.Flush()
	return cf.w.Error()
}

func (s *CSV) open(sinkID string, names []string) (*csvFile, error) {
	if cf, ok := s.files[sinkID]; ok {
		return cf, nil
	}
	path := s.Path(sinkID)
	existing, err := readHeader(path)
	if err != nil || (existing != nil && !covers(existing, names)) {
		if err := s.rotate(sinkID); err != nil {
			return nil, err
		}
		existing = nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv sink: %w", err)
	}
	cf := &csvFile{f: f, w: csv.NewWriter(f), header: existing}
	if existing == nil {
		cf.header = names
		if err := cf.w.Write(names); err != nil {
			f.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}
	s.files[sinkID] = cf
	return cf, nil
}

// rotate moves an export whose header no longer fits aside.
func (s *CSV) rotate(sinkID string) error {
	stamp := s.now().UTC().Format("20060102T150405Z")
	rotated := filepath.Join(s.dir, fileStem(sinkID)+"."+stamp+".csv")
	if err := os.Rename(s.Path(sinkID), rotated); err != nil {
		return fmt.Errorf("rotate csv sink: %w", err)
	}
	return nil
}

// readHeader returns the first record of an existing export, or nil when the
// file is missing or empty.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open csv sink: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}

func covers(header, names []string) bool {
	have := make(map[string]struct{}, len(header))
	for _, h := range header {
		have[h] = struct{}{}
	}
	for _, n := range names {
		if _, ok := have[n]; !ok {
			return false
		}
	}
	return true
}

// Close implements ports.StatusSink.
func (s *CSV) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, cf := range s.files {
		cf.w.Flush()
		if err := cf.w.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, id)
	}
	return firstErr
}

var _ ports.StatusSink = (*CSV)(nil)
