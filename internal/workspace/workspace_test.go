package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"forge.dev/forge/internal/domain"
	"forge.dev/forge/internal/iterator"
)

func TestSaver_SaveFilesCreatesNewFiles(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	task := domain.Task{ID: "t1"}

	changes, diff, err := s.SaveFiles(context.Background(), task, iterator.FileSet{
		"widget.go": "package widget\n",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"widget.go"}, changes.Created)
	require.Empty(t, changes.Modified)
	require.Contains(t, diff, "+++ b/widget.go")
	require.Contains(t, diff, "+package widget")

	written, err := os.ReadFile(filepath.Join(root, "workspace", "t1", "widget.go"))
	require.NoError(t, err)
	require.Equal(t, "package widget\n", string(written))
}

func TestSaver_SaveFilesDetectsModification(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	task := domain.Task{ID: "t1"}

	_, _, err := s.SaveFiles(context.Background(), task, iterator.FileSet{
		"widget.go": "package widget\n",
	})
	require.NoError(t, err)

	changes, diff, err := s.SaveFiles(context.Background(), task, iterator.FileSet{
		"widget.go": "package widget\n\nfunc New() {}\n",
	})
	require.NoError(t, err)
	require.Empty(t, changes.Created)
	require.Equal(t, []string{"widget.go"}, changes.Modified)
	require.Contains(t, diff, "+func New() {}")
}

func TestSaver_SaveFilesSkipsUnchangedContent(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	task := domain.Task{ID: "t1"}

	_, _, err := s.SaveFiles(context.Background(), task, iterator.FileSet{
		"widget.go": "package widget\n",
	})
	require.NoError(t, err)

	changes, diff, err := s.SaveFiles(context.Background(), task, iterator.FileSet{
		"widget.go": "package widget\n",
	})
	require.NoError(t, err)
	require.Empty(t, changes.Created)
	require.Empty(t, changes.Modified)
	require.Empty(t, diff)
}

func TestSaver_SaveFilesScopesByTaskID(t *testing.T) {
	root := t.TempDir()
	s := New(root)

	_, _, err := s.SaveFiles(context.Background(), domain.Task{ID: "t1"}, iterator.FileSet{
		"widget.go": "package a\n",
	})
	require.NoError(t, err)
	_, _, err = s.SaveFiles(context.Background(), domain.Task{ID: "t2"}, iterator.FileSet{
		"widget.go": "package b\n",
	})
	require.NoError(t, err)

	a, err := os.ReadFile(filepath.Join(root, "workspace", "t1", "widget.go"))
	require.NoError(t, err)
	b, err := os.ReadFile(filepath.Join(root, "workspace", "t2", "widget.go"))
	require.NoError(t, err)
	require.Equal(t, "package a\n", string(a))
	require.Equal(t, "package b\n", string(b))
}
