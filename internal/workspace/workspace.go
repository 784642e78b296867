// Package workspace is the default iterator.FileSaver: it writes a task's
// generated files into the project's working tree under a subdirectory
// per task ID, atomically per file, and reports back which paths were
// created or modified (a path whose content is unchanged is not listed)
// plus a unified-style diff of what changed.
package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/iterator"
)

// Saver writes FileSets to disk rooted at root, under one subdirectory per
// task so that two tasks touching files with the same relative path never
// collide when run concurrently by the scheduler's parallel batch mode.
type Saver struct {
	root string
}

// New constructs a Saver rooted at root. The directory tree is created
// lazily on first write.
func New(root string) *Saver {
	return &Saver{root: root}
}

func (s *Saver) taskDir(task domain.Task) string {
	return filepath.Join(s.root, "workspace", task.ID)
}

// SaveFiles writes every entry of files to task's subdirectory, classifying
// each path as created or modified by checking whether it already existed,
// and returns a unified diff of the changed content.
func (s *Saver) SaveFiles(_ context.Context, task domain.Task, files iterator.FileSet) (domain.FileChangeSet, string, error) {
	dir := s.taskDir(task)
	var changes domain.FileChangeSet
	var diffs strings.Builder

	for relPath, content := range files {
		full := filepath.Join(dir, relPath)
		before, err := os.ReadFile(full)
		existed := err == nil
		if err != nil && !os.IsNotExist(err) {
			return domain.FileChangeSet{}, "", fmt.Errorf("workspace: read %s: %w", full, err)
		}
		if existed && string(before) == content {
			continue
		}
		if err := writeFileAtomic(full, content); err != nil {
			return domain.FileChangeSet{}, "", err
		}
		if existed {
			changes.Modified = append(changes.Modified, relPath)
			diffs.WriteString(unifiedDiff(relPath, string(before), content))
		} else {
			changes.Created = append(changes.Created, relPath)
			diffs.WriteString(unifiedDiff(relPath, "", content))
		}
	}
	return changes, diffs.String(), nil
}

func writeFileAtomic(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("workspace: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("workspace: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("workspace: rename %s -> %s: %w", tmpPath, path, err)
	}
	return nil
}

var _ iterator.FileSaver = (*Saver)(nil)
