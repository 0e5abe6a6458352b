package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"specter/pkg/workspace"
)

func TestReadAndListHappyPaths(t *testing.T) {
	service, guard := mustService(t)
	ctx := context.Background()
	seed(t, guard.Root(), "notes/file.txt", "hello world")

	readResult, err := service.ReadFile(ctx, "notes/file.txt")
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if readResult.Content != "hello world" || readResult.Truncated {
		t.Fatalf("ReadFile = %+v, want full content", readResult)
	}

	listed, err := service.ListDir(ctx, "notes")
	if err != nil {
		t.Fatalf("ListDir error: %v", err)
	}
	if len(listed.Entries) != 1 || listed.Entries[0].Name != "file.txt" {
		t.Fatalf("ListDir entries = %+v, want one file.txt", listed.Entries)
	}

	rel := guard.RelPath(readResult.Path)
	if rel != filepath.Join("notes", "file.txt") {
		t.Fatalf("RelPath = %q, want %q", rel, filepath.Join("notes", "file.txt"))
	}
}

func TestReadFileTruncatesAtRuneBoundary(t *testing.T) {
	service, guard := mustService(t)
	service.WithMaxReadBytes(4)
	seed(t, guard.Root(), "utf.txt", "abcé and more")

	result, err := service.ReadFile(context.Background(), "utf.txt")
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}
	if result.Content != "abc" || !result.Truncated {
		t.Fatalf("ReadFile = %+v, want truncated %q", result, "abc")
	}
	if result.Bytes != len("abcé and more") {
		t.Fatalf("Bytes = %d", result.Bytes)
	}
}

func TestReadFileNotFound(t *testing.T) {
	service, _ := mustService(t)

	_, err := service.ReadFile(context.Background(), "missing.txt")
	if workspace.CategoryFromError(err) != workspace.ErrorPathNotFound {
		t.Fatalf("error category = %q, want %q", workspace.CategoryFromError(err), workspace.ErrorPathNotFound)
	}
}

func TestReadFileRejectsBinary(t *testing.T) {
	service, guard := mustService(t)
	path := filepath.Join(guard.Root(), "bin.dat")
	if err := os.WriteFile(path, []byte{0x00, 0x01, 0x02}, 0o600); err != nil {
		t.Fatalf("write binary file: %v", err)
	}

	_, err := service.ReadFile(context.Background(), "bin.dat")
	if workspace.CategoryFromError(err) != workspace.ErrorNotText {
		t.Fatalf("error category = %q, want %q", workspace.CategoryFromError(err), workspace.ErrorNotText)
	}
}

func TestListDirTruncatesDeterministically(t *testing.T) {
	service, guard := mustService(t)
	service.maxListEntries = 2

	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		seed(t, guard.Root(), name, "x")
	}

	result, err := service.ListDir(context.Background(), ".")
	if err != nil {
		t.Fatalf("ListDir error: %v", err)
	}
	if !result.Truncated {
		t.Fatal("expected truncated list")
	}
	if len(result.Entries) != 2 {
		t.Fatalf("entries len = %d, want 2", len(result.Entries))
	}
	if result.Entries[0].Name != "a.txt" || result.Entries[1].Name != "b.txt" {
		t.Fatalf("entries order = %q, %q, want a.txt, b.txt", result.Entries[0].Name, result.Entries[1].Name)
	}
}

func TestFindByExtensionAndName(t *testing.T) {
	service, guard := mustService(t)
	root := guard.Root()
	seed(t, root, "code/main.py", "print()")
	seed(t, root, "code/deep/util.PY", "x")
	seed(t, root, "docs/report.pdf", "pdf")
	seed(t, root, ".hidden/secret.py", "x")
	seed(t, root, "node_modules/pkg/index.py", "x")

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(root, "code/deep/util.PY"), old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	result, err := service.Find(context.Background(), FindQuery{Extensions: []string{"py"}})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(result.Matches) != 2 {
		t.Fatalf("matches = %+v, want 2", result.Matches)
	}
	if result.Matches[0].Rel != filepath.Join("code", "main.py") {
		t.Fatalf("newest match = %q, want code/main.py", result.Matches[0].Rel)
	}

	result, err = service.Find(context.Background(), FindQuery{NameContains: "REPORT", Limit: 1})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Rel != filepath.Join("docs", "report.pdf") {
		t.Fatalf("matches = %+v", result.Matches)
	}

	if _, err := service.Find(context.Background(), FindQuery{}); workspace.CategoryFromError(err) != workspace.ErrorInvalidPath {
		t.Fatalf("empty query error = %v", err)
	}
}

func TestFindRespectsDepthLimit(t *testing.T) {
	service, guard := mustService(t)
	service.maxWalkDepth = 2
	seed(t, guard.Root(), "a/b/c/d/deep.txt", "x")
	seed(t, guard.Root(), "a/shallow.txt", "x")

	result, err := service.Find(context.Background(), FindQuery{Extensions: []string{".txt"}})
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if len(result.Matches) != 1 || filepath.Base(result.Matches[0].Path) != "shallow.txt" {
		t.Fatalf("matches = %+v, want only shallow.txt", result.Matches)
	}
}

func TestMoveAddsSuffixOnConflict(t *testing.T) {
	service, guard := mustService(t)
	root := guard.Root()
	seed(t, root, "Downloads/report.pdf", "new")
	seed(t, root, "Downloads/Documents/report.pdf", "old")

	target, err := service.Move(context.Background(), "Downloads/report.pdf", "Downloads/Documents")
	if err != nil {
		t.Fatalf("Move error: %v", err)
	}
	if filepath.Base(target) != "report_1.pdf" {
		t.Fatalf("target = %q, want report_1.pdf", target)
	}
	content, err := os.ReadFile(target)
	if err != nil || string(content) != "new" {
		t.Fatalf("moved content = %q, %v", content, err)
	}
	if _, err := os.Stat(filepath.Join(root, "Downloads", "report.pdf")); !os.IsNotExist(err) {
		t.Fatalf("source still exists: %v", err)
	}
}

func TestDuplicatesGroupsIdenticalContent(t *testing.T) {
	service, guard := mustService(t)
	root := guard.Root()
	seed(t, root, "dl/a.txt", "same content")
	seed(t, root, "dl/sub/b.txt", "same content")
	seed(t, root, "dl/c.txt", "diff content")
	seed(t, root, "dl/empty1.txt", "")
	seed(t, root, "dl/empty2.txt", "")

	groups, err := service.Duplicates(context.Background(), "dl")
	if err != nil {
		t.Fatalf("Duplicates error: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Paths) != 2 {
		t.Fatalf("groups = %+v, want one pair", groups)
	}
	if !strings.HasSuffix(groups[0].Paths[0], "a.txt") {
		t.Fatalf("group = %+v", groups[0])
	}
}

func TestRemoveEmptyDirs(t *testing.T) {
	service, guard := mustService(t)
	root := guard.Root()
	for _, dir := range []string{"dl/empty/nested", "dl/keep"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	seed(t, root, "dl/keep/file.txt", "x")

	removed, err := service.RemoveEmptyDirs(context.Background(), "dl")
	if err != nil {
		t.Fatalf("RemoveEmptyDirs error: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want nested and its parent", removed)
	}
	if _, err := os.Stat(filepath.Join(root, "dl", "keep")); err != nil {
		t.Fatalf("non-empty dir removed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "dl")); err != nil {
		t.Fatalf("target dir removed: %v", err)
	}
}

func TestServiceRespectsCancelledContext(t *testing.T) {
	service, guard := mustService(t)
	seed(t, guard.Root(), "file.txt", "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := service.ReadFile(ctx, "file.txt")
	if workspace.CategoryFromError(err) != workspace.ErrorIO {
		t.Fatalf("error category = %q, want %q", workspace.CategoryFromError(err), workspace.ErrorIO)
	}
	_, err = service.Find(ctx, FindQuery{Extensions: []string{"txt"}})
	if workspace.CategoryFromError(err) != workspace.ErrorIO {
		t.Fatalf("Find error category = %q, want %q", workspace.CategoryFromError(err), workspace.ErrorIO)
	}
}

func mustService(t *testing.T) (*Service, *workspace.Guard) {
	t.Helper()

	guard, err := workspace.NewGuard(t.TempDir())
	if err != nil {
		t.Fatalf("NewGuard error: %v", err)
	}

	return NewService(guard), guard
}

func seed(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}
