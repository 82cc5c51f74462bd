package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/alexisbeaulieu97/convergo/internal/ports"
)

const (
	gitRetries      = 3
	gitInitialDelay = 200 * time.Millisecond
	gitMaxDelay     = 5 * time.Second
)

// GitArchive buffers a run's status fields and rows and commits them to a
// local repository on Close, under a directory named after the host. The
// history doubles as an audit trail of every run.
type GitArchive struct {
	*Recorder

	repo   *git.Repository
	root   string
	host   string
	name   string
	email  string
	logger ports.Logger
	now    func() time.Time
}

// NewGitArchive opens the repository at path, initialising it when absent.
func NewGitArchive(path, host, authorName, authorEmail string, logger ports.Logger) (*GitArchive, error) {
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open report archive %s: %w", path, err)
	}
	if authorName == "" {
		authorName = "convergo"
	}
	if authorEmail == "" {
		authorEmail = "convergo@localhost"
	}
	if host == "" {
		host = "unknown-host"
	}
	return &GitArchive{
		Recorder: NewRecorder(),
		repo:     repo,
		root:     path,
		host:     unsafeName.ReplaceAllString(host, "_"),
		name:     authorName,
		email:    authorEmail,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Close writes the buffered report and commits it. Nothing is committed when
// the report is unchanged since the previous run.
func (g *GitArchive) Close(ctx context.Context) error {
	if err := g.Recorder.Close(ctx); err != nil {
		return err
	}
	files, err := g.render()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	wt, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		abs := filepath.Join(g.root, name)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
		if err := os.WriteFile(abs, files[name], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := wt.Add(filepath.ToSlash(name)); err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		if g.logger != nil {
			g.logger.Debug(ctx, "report archive unchanged", "path", g.root)
		}
		return nil
	}

	when := g.now()
	msg := fmt.Sprintf("Report %s at %s", g.host, when.UTC().Format(time.RFC3339))
	hash, err := retry.DoWithData(func() (string, error) {
		h, err := wt.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{Name: g.name, Email: g.email, When: when},
		})
		return h.String(), err
	}, retry.Attempts(gitRetries), retry.Delay(gitInitialDelay), retry.MaxDelay(gitMaxDelay), retry.Context(ctx))
	if err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	if g.logger != nil {
		g.logger.Info(ctx, "report archived", "path", g.root, "commit", hash)
	}
	return nil
}

func (g *GitArchive) render() (map[string][]byte, error) {
	files := make(map[string][]byte)

	fields := g.Fields()
	if len(fields) > 0 {
		doc := make(map[string]string, len(fields))
		for _, f := range fields {
			doc[f], _ = g.Status(f)
		}
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode status: %w", err)
		}
		files[filepath.Join(g.host, "status.json")] = append(data, '\n')
	}

	g.Recorder.mu.Lock()
	sinkIDs := make([]string, 0, len(g.Recorder.rows))
	for id := range g.Recorder.rows {
		sinkIDs = append(sinkIDs, id)
	}
	g.Recorder.mu.Unlock()

	for _, id := range sinkIDs {
		rows := g.Rows(id)
		if len(rows) == 0 {
			continue
		}
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		header := rows[0].Names()
		_ = w.Write(header)
		for _, r := range rows {
			line := make([]string, len(header))
			for i, name := range header {
				line[i], _ = r.Get(name)
			}
			_ = w.Write(line)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("encode rows: %w", err)
		}
		files[filepath.Join(g.host, unsafeName.ReplaceAllString(id, "_")+".csv")] = buf.Bytes()
	}
	return files, nil
}

var _ ports.StatusSink = (*GitArchive)(nil)
