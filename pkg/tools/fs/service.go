package fs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"specter/pkg/workspace"
)

const (
	MaxReadBytes         = 256 * 1024
	MaxListEntries       = 500
	MaxWalkDepth         = 8
	MaxWalkEntries       = 200_000
	MaxOperationDuration = 10 * time.Second
)

// skipDirs are never descended into while searching.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"Library":      true,
	"AppData":      true,
}

// errStopWalk ends a directory walk early without reporting an error.
var errStopWalk = errors.New("stop walk")

// Service executes bounded filesystem operations inside the guarded roots.
type Service struct {
	guard                *workspace.Guard
	maxReadBytes         int
	maxListEntries       int
	maxWalkDepth         int
	maxWalkEntries       int
	maxOperationDuration time.Duration
}

type ReadResult struct {
	Path      string
	Content   string
	Bytes     int
	Truncated bool
}

type ListEntry struct {
	Name    string
	Type    string
	Size    int64
	IsDir   bool
	ModTime time.Time
}

type ListResult struct {
	Path      string
	Entries   []ListEntry
	Truncated bool
	Total     int
}

// FindQuery selects files by extension and/or a case-insensitive name
// fragment. An empty Dir searches every root.
type FindQuery struct {
	Dir          string
	Extensions   []string
	NameContains string
	Limit        int
}

type FileMatch struct {
	Path    string
	Rel     string
	Size    int64
	ModTime time.Time
}

type FindResult struct {
	Matches   []FileMatch
	Truncated bool
	Scanned   int
}

type DuplicateGroup struct {
	Size  int64
	Paths []string
}

func NewService(guard *workspace.Guard) *Service {
	return &Service{
		guard:                guard,
		maxReadBytes:         MaxReadBytes,
		maxListEntries:       MaxListEntries,
		maxWalkDepth:         MaxWalkDepth,
		maxWalkEntries:       MaxWalkEntries,
		maxOperationDuration: MaxOperationDuration,
	}
}

// WithMaxReadBytes caps how much of a file ReadFile returns.
func (s *Service) WithMaxReadBytes(limit int) *Service {
	if limit > 0 {
		s.maxReadBytes = limit
	}
	return s
}

func (s *Service) Guard() *workspace.Guard {
	return s.guard
}

// ReadFile returns up to the read limit of a text file. Longer files are
// cut at a rune boundary and flagged as truncated.
func (s *Service) ReadFile(ctx context.Context, path string) (ReadResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	resolvedPath, err := s.guard.ResolvePath(path)
	if err != nil {
		return ReadResult{}, err
	}
	if err := checkContext(ctx); err != nil {
		return ReadResult{}, err
	}

	file, err := os.Open(resolvedPath)
	if err != nil {
		return ReadResult{}, workspace.NormalizeIOError(err, "read failed")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return ReadResult{}, workspace.NormalizeIOError(err, "stat failed")
	}
	if info.IsDir() {
		return ReadResult{}, workspace.NewError(workspace.ErrorInvalidPath, "path is a directory")
	}

	content, err := io.ReadAll(io.LimitReader(file, int64(s.maxReadBytes)))
	if err != nil {
		return ReadResult{}, workspace.NormalizeIOError(err, "read failed")
	}

	truncated := info.Size() > int64(len(content))
	if truncated {
		for len(content) > 0 && !utf8.Valid(content) {
			content = content[:len(content)-1]
		}
	}
	if err := ensureText(content); err != nil {
		return ReadResult{}, err
	}

	return ReadResult{
		Path:      resolvedPath,
		Content:   string(content),
		Bytes:     int(info.Size()),
		Truncated: truncated,
	}, nil
}

func (s *Service) ListDir(ctx context.Context, path string) (ListResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	if strings.TrimSpace(path) == "" {
		path = "."
	}
	if err := checkContext(ctx); err != nil {
		return ListResult{}, err
	}

	resolvedPath, err := s.guard.ResolvePath(path)
	if err != nil {
		return ListResult{}, err
	}

	entries, err := os.ReadDir(resolvedPath)
	if err != nil {
		return ListResult{}, workspace.NormalizeIOError(err, "list directory failed")
	}

	sort.Slice(entries, func(i int, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	limited := entries
	truncated := false
	if len(entries) > s.maxListEntries {
		limited = entries[:s.maxListEntries]
		truncated = true
	}

	resultEntries := make([]ListEntry, 0, len(limited))
	for _, entry := range limited {
		entryInfo, infoErr := entry.Info()
		if infoErr != nil {
			return ListResult{}, workspace.NormalizeIOError(infoErr, "read directory metadata failed")
		}

		entryType := "file"
		if entry.IsDir() {
			entryType = "dir"
		}

		resultEntries = append(resultEntries, ListEntry{
			Name:    entry.Name(),
			Type:    entryType,
			Size:    entryInfo.Size(),
			IsDir:   entry.IsDir(),
			ModTime: entryInfo.ModTime(),
		})
	}

	return ListResult{
		Path:      resolvedPath,
		Entries:   resultEntries,
		Truncated: truncated,
		Total:     len(entries),
	}, nil
}

// Find walks the query directory (or every root) breadth-limited by depth
// and returns matching regular files, newest first.
func (s *Service) Find(ctx context.Context, query FindQuery) (FindResult, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	dirs := s.guard.Roots()
	if strings.TrimSpace(query.Dir) != "" {
		resolved, err := s.guard.ResolvePath(query.Dir)
		if err != nil {
			return FindResult{}, err
		}
		dirs = []string{resolved}
	}

	extensions := make(map[string]bool, len(query.Extensions))
	for _, ext := range query.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[ext] = true
	}
	needle := strings.ToLower(strings.TrimSpace(query.NameContains))
	if len(extensions) == 0 && needle == "" {
		return FindResult{}, workspace.NewError(workspace.ErrorInvalidPath, "a file type or name is required")
	}

	result := FindResult{Matches: make([]FileMatch, 0)}
	for _, dir := range dirs {
		err := s.walk(ctx, dir, &result.Scanned, func(path string, entry iofs.DirEntry) error {
			name := strings.ToLower(entry.Name())
			if len(extensions) > 0 && !extensions[filepath.Ext(name)] {
				return nil
			}
			if needle != "" && !strings.Contains(name, needle) {
				return nil
			}

			info, err := entry.Info()
			if err != nil {
				return nil
			}
			result.Matches = append(result.Matches, FileMatch{
				Path:    path,
				Rel:     s.guard.RelPath(path),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			})
			return nil
		})
		if err != nil {
			return FindResult{}, err
		}
	}

	sort.SliceStable(result.Matches, func(i, j int) bool {
		return result.Matches[i].ModTime.After(result.Matches[j].ModTime)
	})
	if query.Limit > 0 && len(result.Matches) > query.Limit {
		result.Matches = result.Matches[:query.Limit]
		result.Truncated = true
	}

	return result, nil
}

// Move renames src into dstDir, creating dstDir when needed. A name that is
// already taken gets a numeric suffix: report.pdf becomes report_1.pdf.
func (s *Service) Move(ctx context.Context, src string, dstDir string) (string, error) {
	if err := checkContext(ctx); err != nil {
		return "", err
	}

	resolvedSrc, err := s.guard.ResolvePath(src)
	if err != nil {
		return "", err
	}
	resolvedDir, err := s.guard.ResolvePath(dstDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(resolvedDir, 0o755); err != nil {
		return "", workspace.NormalizeIOError(err, "create target directory failed")
	}
	if err := s.guard.EnsureContained(resolvedDir); err != nil {
		return "", err
	}

	target, err := uniquePath(resolvedDir, filepath.Base(resolvedSrc))
	if err != nil {
		return "", err
	}
	if err := os.Rename(resolvedSrc, target); err != nil {
		return "", workspace.NormalizeIOError(err, "move failed")
	}

	return target, nil
}

// Duplicates groups files under dir with identical content. Files are
// grouped by size first so only candidates are hashed.
func (s *Service) Duplicates(ctx context.Context, dir string) ([]DuplicateGroup, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	resolved, err := s.guard.ResolvePath(dir)
	if err != nil {
		return nil, err
	}

	bySize := make(map[int64][]string)
	scanned := 0
	err = s.walk(ctx, resolved, &scanned, func(path string, entry iofs.DirEntry) error {
		info, err := entry.Info()
		if err != nil || info.Size() == 0 {
			return nil
		}
		bySize[info.Size()] = append(bySize[info.Size()], path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	groups := make([]DuplicateGroup, 0)
	for size, paths := range bySize {
		if len(paths) < 2 {
			continue
		}
		byHash := make(map[string][]string)
		for _, path := range paths {
			if err := checkContext(ctx); err != nil {
				return nil, err
			}
			sum, err := hashFile(path)
			if err != nil {
				continue
			}
			byHash[sum] = append(byHash[sum], path)
		}
		for _, same := range byHash {
			if len(same) > 1 {
				sort.Strings(same)
				groups = append(groups, DuplicateGroup{Size: size, Paths: same})
			}
		}
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Size != groups[j].Size {
			return groups[i].Size > groups[j].Size
		}
		return groups[i].Paths[0] < groups[j].Paths[0]
	})

	return groups, nil
}

// RemoveEmptyDirs deletes empty directories below dir, deepest first. dir
// itself is kept.
func (s *Service) RemoveEmptyDirs(ctx context.Context, dir string) ([]string, error) {
	ctx, cancel := s.withOperationContext(ctx)
	defer cancel()

	resolved, err := s.guard.ResolvePath(dir)
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0)
	err = filepath.WalkDir(resolved, func(path string, entry iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == resolved {
				return walkErr
			}
			return iofs.SkipDir
		}
		if err := checkContext(ctx); err != nil {
			return err
		}
		if entry.IsDir() && path != resolved {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, workspace.NormalizeIOError(err, "walk failed")
	}

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})

	removed := make([]string, 0)
	for _, path := range dirs {
		entries, err := os.ReadDir(path)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := s.guard.EnsureContained(path); err != nil {
			return removed, err
		}
		if err := os.Remove(path); err != nil {
			continue
		}
		removed = append(removed, path)
	}

	return removed, nil
}

// walk visits regular, non-hidden files below dir up to the depth limit.
func (s *Service) walk(ctx context.Context, dir string, scanned *int, visit func(path string, entry iofs.DirEntry) error) error {
	baseDepth := strings.Count(dir, string(filepath.Separator))

	err := filepath.WalkDir(dir, func(path string, entry iofs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			return nil
		}
		if err := checkContext(ctx); err != nil {
			return err
		}

		*scanned++
		if *scanned > s.maxWalkEntries {
			return errStopWalk
		}

		name := entry.Name()
		if entry.IsDir() {
			if path == dir {
				return nil
			}
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return iofs.SkipDir
			}
			if strings.Count(path, string(filepath.Separator))-baseDepth >= s.maxWalkDepth {
				return iofs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !entry.Type().IsRegular() {
			return nil
		}

		return visit(path, entry)
	})
	if errors.Is(err, errStopWalk) {
		return nil
	}
	if err != nil {
		var categorized *workspace.Error
		if errors.As(err, &categorized) {
			return err
		}
		return workspace.NormalizeIOError(err, "walk failed")
	}

	return nil
}

func (s *Service) withOperationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	if s.maxOperationDuration <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.maxOperationDuration)
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return workspace.NewError(workspace.ErrorIO, err.Error())
	}

	return nil
}

func ensureText(content []byte) error {
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return workspace.NewError(workspace.ErrorNotText, "file appears to be binary or invalid utf-8")
	}

	return nil
}

func uniquePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; i < 10_000; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, iofs.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", workspace.NormalizeIOError(err, "stat failed")
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}

	return "", workspace.NewError(workspace.ErrorIO, "no free name for "+name)
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
