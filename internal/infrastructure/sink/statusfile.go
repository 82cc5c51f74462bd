package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
	"github.com/alexisbeaulieu97/convergo/pkg/diff"
)

// StatusFile keeps scalar status fields in a JSON document that monitoring
// agents can read. Each SetStatus rewrites the file atomically and logs the
// drift from the previous content.
type StatusFile struct {
	path   string
	logger ports.Logger
	now    func() time.Time

	mu sync.Mutex
}

type statusDocument struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Fields    map[string]string `json:"fields"`
}

// NewStatusFile creates the sink. Existing fields in path are preserved.
func NewStatusFile(path string, logger ports.Logger) *StatusFile {
	return &StatusFile{path: path, logger: logger, now: time.Now}
}

// Fields returns the stored fields.
func (s *StatusFile) Fields() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, _, err := s.load()
	return doc.Fields, err
}

func (s *StatusFile) load() (statusDocument, []byte, error) {
	doc := statusDocument{Fields: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil, nil
	}
	if err != nil {
		return doc, nil, fmt.Errorf("read status file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, data, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return statusDocument{Fields: map[string]string{}}, data, fmt.Errorf("decode status file: %w", err)
	}
	if doc.Fields == nil {
		doc.Fields = map[string]string{}
	}
	return doc, data, nil
}

// SetStatus implements ports.StatusSink. A corrupt file is replaced.
func (s *StatusFile) SetStatus(ctx context.Context, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, previous, err := s.load()
	if err != nil && s.logger != nil {
		s.logger.Warn(ctx, "replacing unreadable status file", "path", s.path, "error", err)
	}
	if old, ok := doc.Fields[field]; ok && old == value {
		return nil
	}
	doc.Fields[field] = value
	doc.UpdatedAt = s.now().UTC()

	data, err := encodeStatus(doc)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, data, 0o644); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Debug(ctx, "status file updated", "path", s.path, "field", field,
			"diff", diff.Unified(previous, data, s.path+" (previous)", s.path))
	}
	return nil
}

// AppendRow implements ports.StatusSink; rows are not kept in the status file.
func (s *StatusFile) AppendRow(context.Context, string, ports.Record) error { return nil }

// Close implements ports.StatusSink.
func (s *StatusFile) Close(context.Context) error { return nil }

func encodeStatus(doc statusDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode status file: %w", err)
	}
	return append(data, '\n'), nil
}

// writeFileAtomic replaces path through a temp file in the same directory.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

var _ ports.StatusSink = (*StatusFile)(nil)
