// Package trust persists trust_project/trust_global confirmation
// decisions as small JSON files, one per project and one shared across
// all projects.
package trust

import (
	"encoding/json"
	"os"
	"path/filepath"

	"forge.dev/forge/internal/tools"
)

// Store tracks trusted tool names for one scope (a project, or the
// caller's global config directory).
type Store struct {
	path    string
	trusted map[tools.Ident]struct{}
}

// NewProjectStore opens the trust store at <projectRoot>/.forge/trust.json.
func NewProjectStore(projectRoot string) (*Store, error) {
	return load(filepath.Join(projectRoot, ".forge", "trust.json"))
}

// NewGlobalStore opens the trust store at
// <os.UserConfigDir()>/forge/trust.json, the persistence layer for
// trust_global decisions.
func NewGlobalStore() (*Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, err
	}
	return load(filepath.Join(dir, "forge", "trust.json"))
}

type trustFile struct {
	Trusted []string `json:"trusted"`
}

func load(path string) (*Store, error) {
	s := &Store{path: path, trusted: make(map[tools.Ident]struct{})}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var f trustFile
	if err := json.Unmarshal(data, &f); err != nil {
		// A corrupted trust file is treated as empty rather than fatal:
		// confirmation prompts simply reappear, never silently bypassed.
		return s, nil
	}
	for _, name := range f.Trusted {
		s.trusted[tools.Ident(name)] = struct{}{}
	}
	return s, nil
}

// IsTrusted reports whether name has been trusted in this scope.
func (s *Store) IsTrusted(name tools.Ident) bool {
	_, ok := s.trusted[name]
	return ok
}

// Trust marks name as trusted and persists the change atomically
// (write-temp-then-rename, matching the artifact store's write
// discipline).
func (s *Store) Trust(name tools.Ident) error {
	s.trusted[name] = struct{}{}
	return s.save()
}

func (s *Store) save() error {
	names := make([]string, 0, len(s.trusted))
	for name := range s.trusted {
		names = append(names, string(name))
	}
	data, err := json.MarshalIndent(trustFile{Trusted: names}, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".trust-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}
