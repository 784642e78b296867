// Package fsstore is the default, required Store implementation: a
// single rooted directory tree on the local filesystem, with every write
// going through an atomic write-temp-then-rename helper.
package fsstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/store"
	"forge.dev/forge/internal/telemetry"
)

// Store is a filesystem-backed store.Store rooted at a project directory.
type Store struct {
	root   string
	logger telemetry.Logger
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger supplies a Logger, used to warn on a checkpoint schema
// version mismatch. Defaults to a noop implementation.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New constructs a Store rooted at root. The directory tree is created
// lazily on first write.
func New(root string, opts ...Option) *Store {
	s := &Store{root: root, logger: telemetry.NewNoopLogger("fsstore")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

// atomicWriteJSON marshals v with two-space indentation and writes it to
// path via write-temp-then-rename, so a crash mid-write never leaves a
// half-written file in place.
func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsstore: marshal %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsstore: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("fsstore: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsstore: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsstore: sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsstore: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("fsstore: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

// readJSON decodes path into v. A missing file leaves v untouched and
// reports no error, so callers naturally get the zero value: reads
// tolerate missing files.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("fsstore: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("fsstore: unmarshal %s: %w", path, err)
	}
	return nil
}

// LoadBacklog reads planning/backlog.json, returning an empty Backlog if
// it does not exist.
func (s *Store) LoadBacklog(_ context.Context) (store.Backlog, error) {
	var b store.Backlog
	err := readJSON(s.path("planning", "backlog.json"), &b)
	return b, err
}

// SaveBacklog writes planning/backlog.json atomically.
func (s *Store) SaveBacklog(_ context.Context, b store.Backlog) error {
	return atomicWriteJSON(s.path("planning", "backlog.json"), b)
}

// LoadSprint reads planning/sprints/<id>.json, returning a zero-value
// Sprint if it does not exist.
func (s *Store) LoadSprint(_ context.Context, sprintID string) (domain.Sprint, error) {
	var sp domain.Sprint
	err := readJSON(s.path("planning", "sprints", sprintID+".json"), &sp)
	return sp, err
}

// SaveSprint writes planning/sprints/<id>.json atomically.
func (s *Store) SaveSprint(_ context.Context, sp domain.Sprint) error {
	return atomicWriteJSON(s.path("planning", "sprints", sp.ID+".json"), sp)
}

// LoadCheckpoint reads checkpoints/complete-<sprintId>.json. A missing
// file is not an error: it returns (nil, nil), signalling "start fresh"
// to the scheduler.
func (s *Store) LoadCheckpoint(ctx context.Context, sprintID string) (*domain.CheckpointState, error) {
	path := s.path("checkpoints", "complete-"+sprintID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsstore: read %s: %w", path, err)
	}
	var cp domain.CheckpointState
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupted checkpoint restores silently from scratch rather than
		// failing the phase.
		return nil, nil
	}
	if cp.SchemaVersion != domain.CurrentSchemaVersion {
		// The mismatch is checked, not enforced: the checkpoint is still
		// returned and used as-is, but a warning is logged so a stale
		// on-disk schema doesn't go unnoticed.
		s.logger.Warn(ctx, "checkpoint schema version mismatch",
			"sprint_id", sprintID,
			"found_version", cp.SchemaVersion,
			"current_version", domain.CurrentSchemaVersion,
		)
	}
	return &cp, nil
}

// SaveCheckpoint writes checkpoints/complete-<sprintId>.json atomically,
// stamping the current schema version.
func (s *Store) SaveCheckpoint(_ context.Context, cp domain.CheckpointState) error {
	cp.SchemaVersion = domain.CurrentSchemaVersion
	return atomicWriteJSON(s.path("checkpoints", "complete-"+cp.SprintID+".json"), cp)
}

// SaveResults writes results/<sprintId>-results.json atomically. The
// accompanying Markdown rendering is an external collaborator's
// responsibility.
func (s *Store) SaveResults(_ context.Context, r store.Results) error {
	return atomicWriteJSON(s.path("results", r.SprintID+"-results.json"), r)
}

var _ store.Store = (*Store)(nil)
