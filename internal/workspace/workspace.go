// Package workspace produces a compact file-tree snapshot of the project the
// agent works in. The snapshot is embedded in the anchor prompt and refreshed
// after commands that change files.
package workspace

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"shellsage/internal/config"
	"shellsage/internal/logging"
)

// Options controls what a scan includes.
type Options struct {
	Root       string
	Ignore     []string // doublestar globs relative to Root
	MaxEntries int
}

// FromConfig builds Options from the workspace section.
func FromConfig(c config.Config) Options {
	return Options{Root: c.Workspace.Root, Ignore: c.Workspace.Ignore, MaxEntries: c.Workspace.MaxEntries}
}

// Entry is one file or directory, slash-separated and relative to the root.
type Entry struct {
	Path string
	Dir  bool
}

// Snapshot is the result of one scan.
type Snapshot struct {
	Root      string
	Entries   []Entry
	Truncated bool
	TakenAt   time.Time
}

// Scan walks opts.Root in lexical order, skipping ignored paths, and stops
// after MaxEntries entries.
func Scan(ctx context.Context, opts Options) (Snapshot, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve workspace root: %w", err)
	}
	for _, p := range opts.Ignore {
		if !doublestar.ValidatePattern(p) {
			return Snapshot{}, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	limit := opts.MaxEntries
	if limit <= 0 {
		limit = 200
	}

	snap := Snapshot{Root: root, TakenAt: time.Now()}
	errLimit := fmt.Errorf("limit reached")
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel, d.IsDir(), opts.Ignore) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if len(snap.Entries) >= limit {
			snap.Truncated = true
			return errLimit
		}
		snap.Entries = append(snap.Entries, Entry{Path: rel, Dir: d.IsDir()})
		return nil
	})
	if err != nil && err != errLimit {
		return Snapshot{}, fmt.Errorf("scan workspace: %w", err)
	}
	return snap, nil
}

func ignored(rel string, dir bool, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if dir {
			if ok, _ := doublestar.Match(p, rel+"/"); ok {
				return true
			}
		}
	}
	return false
}

// Render formats the snapshot as an indented tree.
func (s Snapshot) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project files (root: %s):\n", s.Root)
	if len(s.Entries) == 0 {
		sb.WriteString("(empty)\n")
		return sb.String()
	}
	for _, e := range s.Entries {
		depth := strings.Count(e.Path, "/")
		name := e.Path[strings.LastIndex(e.Path, "/")+1:]
		if e.Dir {
			name += "/"
		}
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	if s.Truncated {
		fmt.Fprintf(&sb, "... (listing truncated at %d entries)\n", len(s.Entries))
	}
	return sb.String()
}

// Tracker holds the latest snapshot and rescans on demand.
type Tracker struct {
	opts   Options
	logger *logging.Logger

	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker performs an initial scan.
func NewTracker(ctx context.Context, opts Options, logger *logging.Logger) (*Tracker, error) {
	if info, err := os.Stat(opts.Root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", opts.Root)
	}
	t := &Tracker{opts: opts, logger: logger.With("workspace")}
	if err := t.Rescan(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Snapshot returns the latest snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Rescan refreshes the snapshot.
func (t *Tracker) Rescan(ctx context.Context) error {
	snap, err := Scan(ctx, t.opts)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.snap = snap
	t.mu.Unlock()
	t.logger.Dev("scanned %d entries (truncated=%v)", len(snap.Entries), snap.Truncated)
	return nil
}
