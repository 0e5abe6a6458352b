package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"specter/pkg/agent/types"
	"specter/pkg/config"
)

func TestMatchActions(t *testing.T) {
	m := New(config.FilesConfig{Roots: []string{t.TempDir()}})

	tests := []struct {
		text   string
		action string
		slot   string
		value  string
	}{
		{text: "organize my downloads", action: "organize", slot: "dir", value: "downloads"},
		{text: "find duplicate files in Projects", action: "duplicates", slot: "dir", value: "Projects"},
		{text: "delete empty folders in my downloads folder", action: "clean", slot: "dir", value: "downloads"},
		{text: "find my python files", action: "find", slot: "extensions", value: ".py"},
		{text: "search for files named budget", action: "find", slot: "name", value: "budget"},
		{text: "find .csv files", action: "find", slot: "extensions", value: ".csv"},
		{text: "read notes/todo.txt", action: "read", slot: "path", value: "notes/todo.txt"},
		{text: "list files in Documents", action: "list", slot: "dir", value: "Documents"},
		{text: "what's in my desktop", action: "list", slot: "dir", value: "desktop"},
		{text: "move pdf files from downloads to documents", action: "move", slot: "to", value: "documents"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := m.Match(types.NewUtterance(tt.text, types.SourceTyped), types.Snapshot{})
			require.Equal(t, ID, got.ModuleID)
			require.GreaterOrEqual(t, got.Confidence, 0.8)
			require.Equal(t, tt.action, got.Slot("action"))
			require.Equal(t, tt.value, got.Slot(tt.slot))
		})
	}
}

func TestMatchIgnoresUnrelated(t *testing.T) {
	m := New(config.FilesConfig{Roots: []string{t.TempDir()}})

	for _, text := range []string{"what is in the news", "what's the weather in paris", "set a timer for 2.5 minutes", "hello"} {
		got := m.Match(types.NewUtterance(text, types.SourceTyped), types.Snapshot{})
		require.Zero(t, got.Confidence, text)
	}
}

func TestUnavailableWithoutRoots(t *testing.T) {
	m := New(config.FilesConfig{Roots: []string{filepath.Join(t.TempDir(), "missing")}})
	require.False(t, m.Available())
	require.Error(t, m.Err())

	result := m.Execute(context.Background(), types.Match{Slots: map[string]string{"action": "list"}}, types.Snapshot{})
	require.Equal(t, types.StatusFailure, result.Status)
}

func TestFindReportsMatches(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "Documents/report.pdf", "pdf")
	seed(t, root, "Downloads/invoice.pdf", "pdf")
	seed(t, root, "Downloads/photo.jpg", "jpg")
	m := New(config.FilesConfig{Roots: []string{root}})

	result := run(t, m, "find pdf files")
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Contains(t, result.Payload, "Found 2 PDF files:")
	require.Contains(t, result.Payload, "report.pdf (Documents, 3 B, modified")
	require.Equal(t, "2", result.Data["count"])

	result = run(t, m, "find video files")
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "No videos found.", result.Payload)
}

func TestReadAndList(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "notes/todo.txt", "buy milk\n")
	seed(t, root, "notes/.secret", "x")
	require.NoError(t, os.Mkdir(filepath.Join(root, "notes", "old"), 0o755))
	m := New(config.FilesConfig{Roots: []string{root}})

	result := run(t, m, "read notes/todo.txt")
	require.Equal(t, "todo.txt:\nbuy milk", result.Payload)

	result = run(t, m, "list files in notes")
	require.Equal(t, "notes has 2 items:\n- old/\n- todo.txt (9 B)", result.Payload)

	result = run(t, m, "read missing.txt")
	require.Equal(t, types.StatusFailure, result.Status)
	require.Equal(t, "I couldn't find that file or folder.", result.Payload)
}

func TestOrganizeSortsByCategory(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "Downloads/a.pdf", "a")
	seed(t, root, "Downloads/b.jpg", "b")
	seed(t, root, "Downloads/c.txt", "c")
	seed(t, root, "Downloads/setup.unknown", "d")
	seed(t, root, "Downloads/Documents/a.pdf", "old")
	m := New(config.FilesConfig{Roots: []string{root}})

	result := run(t, m, "organize my downloads")
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "Organized 3 files in Downloads: 2 Documents, 1 Images.", result.Payload)
	require.FileExists(t, filepath.Join(root, "Downloads", "Documents", "a_1.pdf"))
	require.FileExists(t, filepath.Join(root, "Downloads", "Images", "b.jpg"))
	require.FileExists(t, filepath.Join(root, "Downloads", "setup.unknown"))

	result = run(t, m, "organize my downloads")
	require.Equal(t, "Downloads is already tidy.", result.Payload)
}

func TestDuplicatesAndClean(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "Downloads/a.txt", "same")
	seed(t, root, "Downloads/copy/a.txt", "same")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Downloads", "empty", "inner"), 0o755))
	m := New(config.FilesConfig{Roots: []string{root}})

	result := run(t, m, "find duplicate files in downloads")
	require.Equal(t, "Found 1 set of duplicate files in Downloads:\n1. a.txt, copy/a.txt (4 B each)", result.Payload)

	result = run(t, m, "remove empty folders in downloads")
	require.Equal(t, "Removed 2 empty folders from Downloads.", result.Payload)
	require.NoDirExists(t, filepath.Join(root, "Downloads", "empty"))

	result = run(t, m, "remove empty folders in downloads")
	require.Equal(t, "No empty folders in Downloads.", result.Payload)
}

func TestMoveByType(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "Downloads/a.pdf", "a")
	seed(t, root, "Downloads/b.pdf", "b")
	seed(t, root, "Downloads/c.png", "c")
	require.NoError(t, os.Mkdir(filepath.Join(root, "Documents"), 0o755))
	m := New(config.FilesConfig{Roots: []string{root}})

	result := run(t, m, "move pdf files from downloads to documents")
	require.Equal(t, types.StatusSuccess, result.Status)
	require.Equal(t, "Moved 2 PDF files to Documents.", result.Payload)
	require.FileExists(t, filepath.Join(root, "Documents", "b.pdf"))
	require.FileExists(t, filepath.Join(root, "Downloads", "c.png"))

	result = run(t, m, "move pdf files from downloads to documents")
	require.Equal(t, "There are no PDF files in Downloads.", result.Payload)
}

func TestMoveRejectsOutsideRoots(t *testing.T) {
	root := t.TempDir()
	seed(t, root, "Downloads/a.pdf", "a")
	m := New(config.FilesConfig{Roots: []string{root}})

	result := run(t, m, "move pdf files from downloads to /etc")
	require.Equal(t, types.StatusFailure, result.Status)
	require.Equal(t, "That location is outside the folders I'm allowed to use.", result.Payload)
}

func TestCategory(t *testing.T) {
	require.Equal(t, "Documents", Category("Report.PDF"))
	require.Equal(t, "Code", Category("main.go"))
	require.Equal(t, "", Category("Makefile"))
}

func run(t *testing.T, m *Module, text string) types.Result {
	t.Helper()

	mt := m.Match(types.NewUtterance(text, types.SourceTyped), types.Snapshot{})
	require.Equal(t, ID, mt.ModuleID, text)

	return m.Execute(context.Background(), mt, types.Snapshot{})
}

func seed(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
