// Package files finds, lists, reads and tidies files inside the configured
// root folders.
package files

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"specter/pkg/agent/types"
	"specter/pkg/config"
	"specter/pkg/modules/match"
	fstools "specter/pkg/tools/fs"
	"specter/pkg/workspace"
)

const (
	ID            = "files"
	defaultFolder = "Downloads"
)

var (
	explicitExtRe = regexp.MustCompile(`(?i)(?:^|\s)\.([a-z0-9]{1,5})\b`)
	folderRe      = regexp.MustCompile(`(?i)\b(?:in|from|of|inside)\s+(?:my\s+|the\s+)?(\S+?)(?:\s+(?:folder|directory|dir))?\s*[?.!]*$`)
	sourceRe      = regexp.MustCompile(`(?i)\bfrom\s+(?:my\s+|the\s+)?(\S+)`)
	destRe        = regexp.MustCompile(`(?i)\bto\s+(?:my\s+|the\s+)?(\S+?)(?:\s+(?:folder|directory|dir))?\s*[?.!]*$`)
	nameRe        = regexp.MustCompile(`(?i)\b(?:named|called)\s+(\S+)`)
)

var findVerbs = []string{"find", "search for", "search", "locate", "where is", "where are", "look for", "where's"}

var findStopWords = []string{
	"find", "search", "for", "locate", "where", "is", "are", "where's", "look", "my", "the", "a", "all",
	"file", "files", "me", "please", "can", "you", "any", "some", "in", "on", "computer",
}

type Module struct {
	service    *fstools.Service
	maxResults int
	err        error
}

// New guards the configured roots. When no root is usable the module is
// registered but unavailable; Err reports why.
func New(cfg config.FilesConfig) *Module {
	m := &Module{maxResults: cfg.MaxResults}
	if m.maxResults <= 0 {
		m.maxResults = 10
	}

	guard, err := workspace.NewGuard(cfg.Roots...)
	if err != nil {
		m.err = err
		return m
	}
	m.service = fstools.NewService(guard).WithMaxReadBytes(cfg.MaxReadBytes)

	return m
}

func (m *Module) Err() error          { return m.err }
func (m *Module) ID() string          { return ID }
func (m *Module) DisplayName() string { return "Files" }
func (m *Module) Available() bool     { return m.service != nil }

func (m *Module) Help() []string {
	return []string{
		"find pdf files / find files named <name>",
		"list files in <folder>",
		"read <file.txt>",
		"organize my downloads",
		"find duplicate files in <folder>",
		"delete empty folders in <folder>",
		"move pdf files from <folder> to <folder>",
	}
}

func (m *Module) Match(utt types.Utterance, _ types.Snapshot) types.Match {
	text := utt.Normalized()
	action, confidence := classify(text, utt.Text)
	if action == "" {
		return types.Match{}
	}

	slots := map[string]string{"action": action}
	switch action {
	case "find":
		label, extensions := fileKind(text, utt.Text)
		slots["label"] = label
		slots["extensions"] = strings.Join(extensions, ",")
		slots["name"] = fileName(text, utt.Text, len(extensions) > 0)
	case "read":
		slots["path"] = fileToken(utt.Text)
	case "move":
		label, extensions := fileKind(text, utt.Text)
		slots["label"] = label
		slots["extensions"] = strings.Join(extensions, ",")
		slots["from"] = submatch(sourceRe, utt.Text, defaultFolder)
		slots["to"] = submatch(destRe, utt.Text, "")
	case "list":
		slots["dir"] = folder(text, utt.Text, ".")
	default:
		slots["dir"] = folder(text, utt.Text, defaultFolder)
	}

	return types.Match{ModuleID: ID, Confidence: confidence, Utterance: utt, Slots: slots}
}

func classify(text, raw string) (string, float64) {
	_, kindExt := fileKind(text, raw)
	fileish := match.HasAny(text, "file", "files", "folder", "folders", "directory", "directories", "downloads") ||
		len(kindExt) > 0 || fileToken(raw) != ""

	switch {
	case match.HasAny(text, "organize", "organise", "tidy up", "sort out"):
		return "organize", 0.9
	case match.HasAny(text, "clean up") && fileish:
		return "organize", 0.85
	case match.HasAny(text, "empty folders", "empty folder", "empty directories"):
		return "clean", 0.9
	case match.HasAny(text, "duplicate", "duplicates", "duplicated") && fileish:
		return "duplicates", 0.9
	case match.HasPhrase(text, "move") && fileish && submatch(destRe, raw, "") != "":
		return "move", 0.85
	case match.HasAny(text, "read", "contents of", "open and read") && fileToken(raw) != "":
		return "read", 0.85
	case match.HasAny(text, "list files", "list the files", "show files", "show my files",
		"list folder", "list directory", "list the folder"):
		return "list", 0.85
	case match.HasAny(text, "what's in", "what is in", "whats in", "list my") && (fileish || knownFolder(text) != ""):
		return "list", 0.85
	case match.HasAny(text, findVerbs...) && fileish:
		return "find", 0.85
	}

	return "", 0
}

func (m *Module) Execute(ctx context.Context, mt types.Match, _ types.Snapshot) types.Result {
	if m.service == nil {
		return types.Failed(m.err, "File access is not configured.")
	}

	switch mt.Slot("action") {
	case "find":
		return m.find(ctx, mt)
	case "read":
		return m.read(ctx, mt.Slot("path"))
	case "list":
		return m.list(ctx, mt.Slot("dir"))
	case "organize":
		return m.organize(ctx, mt.Slot("dir"))
	case "duplicates":
		return m.duplicates(ctx, mt.Slot("dir"))
	case "clean":
		return m.clean(ctx, mt.Slot("dir"))
	case "move":
		return m.move(ctx, mt)
	default:
		return types.Succeeded("I can find, list, read, organize or move files, and clean up duplicates or empty folders.")
	}
}

func (m *Module) find(ctx context.Context, mt types.Match) types.Result {
	query := fstools.FindQuery{NameContains: mt.Slot("name"), Limit: m.maxResults}
	if raw := mt.Slot("extensions"); raw != "" {
		query.Extensions = strings.Split(raw, ",")
	}
	label := mt.Slot("label")
	if label == "" {
		label = fmt.Sprintf("files matching '%s'", query.NameContains)
	} else if query.NameContains != "" {
		label = fmt.Sprintf("%s matching '%s'", label, query.NameContains)
	}
	if len(query.Extensions) == 0 && query.NameContains == "" {
		return types.Failed(workspace.NewError(workspace.ErrorInvalidPath, "no file type or name"), "What kind of file should I look for?")
	}

	result, err := m.service.Find(ctx, query)
	if err != nil {
		return failure(err)
	}
	if len(result.Matches) == 0 {
		return types.Result{Status: types.StatusSuccess, Payload: fmt.Sprintf("No %s found.", label), Data: map[string]string{"count": "0"}}
	}

	var b strings.Builder
	count := strconv.Itoa(len(result.Matches))
	if result.Truncated {
		count = "more than " + count
	}
	fmt.Fprintf(&b, "Found %s %s:", count, label)
	for i, f := range result.Matches {
		location := filepath.Dir(f.Rel)
		if location == "." {
			location = "top folder"
		}
		fmt.Fprintf(&b, "\n%d. %s (%s, %s, modified %s)", i+1, filepath.Base(f.Path), location,
			humanize.Bytes(uint64(f.Size)), humanize.Time(f.ModTime))
	}

	return types.Result{
		Status:  types.StatusSuccess,
		Payload: b.String(),
		Data:    map[string]string{"count": strconv.Itoa(len(result.Matches)), "first_path": result.Matches[0].Path},
	}
}

func (m *Module) read(ctx context.Context, path string) types.Result {
	if path == "" {
		return types.Failed(workspace.NewError(workspace.ErrorInvalidPath, "no file"), "Which file should I read?")
	}

	result, err := m.service.ReadFile(ctx, path)
	if err != nil {
		return failure(err)
	}

	content := strings.TrimSpace(result.Content)
	if content == "" {
		return types.Succeeded(fmt.Sprintf("%s is empty.", filepath.Base(result.Path)))
	}
	text := fmt.Sprintf("%s:\n%s", filepath.Base(result.Path), content)
	if result.Truncated {
		text += fmt.Sprintf("\n(showing the start of a %s file)", humanize.Bytes(uint64(result.Bytes)))
	}

	return types.Result{Status: types.StatusSuccess, Payload: text, Data: map[string]string{"path": result.Path}}
}

func (m *Module) list(ctx context.Context, dir string) types.Result {
	result, err := m.service.ListDir(ctx, dir)
	if err != nil {
		return failure(err)
	}

	name := m.displayName(result.Path)
	visible := make([]fstools.ListEntry, 0, len(result.Entries))
	for _, entry := range result.Entries {
		if !strings.HasPrefix(entry.Name, ".") {
			visible = append(visible, entry)
		}
	}
	if len(visible) == 0 {
		return types.Succeeded(fmt.Sprintf("%s is empty.", name))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s has %d %s:", name, len(visible), plural(len(visible), "item", "items"))
	for i, entry := range visible {
		if i == m.maxResults {
			fmt.Fprintf(&b, "\n...and %d more.", len(visible)-i)
			break
		}
		if entry.IsDir {
			fmt.Fprintf(&b, "\n- %s/", entry.Name)
			continue
		}
		fmt.Fprintf(&b, "\n- %s (%s)", entry.Name, humanize.Bytes(uint64(entry.Size)))
	}

	return types.Result{Status: types.StatusSuccess, Payload: b.String(), Data: map[string]string{"count": strconv.Itoa(len(visible))}}
}

func (m *Module) organize(ctx context.Context, dir string) types.Result {
	listing, err := m.service.ListDir(ctx, dir)
	if err != nil {
		return failure(err)
	}

	name := m.displayName(listing.Path)
	moved := make(map[string]int)
	total := 0
	for _, entry := range listing.Entries {
		if entry.IsDir || strings.HasPrefix(entry.Name, ".") {
			continue
		}
		category := Category(entry.Name)
		if category == "" {
			continue
		}
		if _, err := m.service.Move(ctx, filepath.Join(listing.Path, entry.Name), filepath.Join(listing.Path, category)); err != nil {
			if total == 0 {
				return failure(err)
			}
			return types.Failed(err, fmt.Sprintf("I moved %d %s in %s before something went wrong.", total, plural(total, "file", "files"), name))
		}
		moved[category]++
		total++
	}
	if total == 0 {
		return types.Succeeded(fmt.Sprintf("%s is already tidy.", name))
	}

	parts := make([]string, 0, len(moved))
	for _, category := range categoryOrder {
		if n := moved[category]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, category))
		}
	}

	return types.Result{
		Status:  types.StatusSuccess,
		Payload: fmt.Sprintf("Organized %d %s in %s: %s.", total, plural(total, "file", "files"), name, strings.Join(parts, ", ")),
		Data:    map[string]string{"moved": strconv.Itoa(total)},
	}
}

func (m *Module) duplicates(ctx context.Context, dir string) types.Result {
	resolved, err := m.service.Guard().ResolvePath(dir)
	if err != nil {
		return failure(err)
	}
	groups, err := m.service.Duplicates(ctx, resolved)
	if err != nil {
		return failure(err)
	}

	name := m.displayName(resolved)
	if len(groups) == 0 {
		return types.Result{Status: types.StatusSuccess, Payload: fmt.Sprintf("No duplicate files found in %s.", name), Data: map[string]string{"groups": "0"}}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d %s of duplicate files in %s:", len(groups), plural(len(groups), "set", "sets"), name)
	for i, group := range groups {
		if i == m.maxResults {
			fmt.Fprintf(&b, "\n...and %d more.", len(groups)-i)
			break
		}
		names := make([]string, 0, len(group.Paths))
		for _, path := range group.Paths {
			rel, err := filepath.Rel(resolved, path)
			if err != nil {
				rel = path
			}
			names = append(names, rel)
		}
		fmt.Fprintf(&b, "\n%d. %s (%s each)", i+1, strings.Join(names, ", "), humanize.Bytes(uint64(group.Size)))
	}

	return types.Result{Status: types.StatusSuccess, Payload: b.String(), Data: map[string]string{"groups": strconv.Itoa(len(groups))}}
}

func (m *Module) clean(ctx context.Context, dir string) types.Result {
	resolved, err := m.service.Guard().ResolvePath(dir)
	if err != nil {
		return failure(err)
	}
	removed, err := m.service.RemoveEmptyDirs(ctx, resolved)
	if err != nil {
		return failure(err)
	}

	name := m.displayName(resolved)
	if len(removed) == 0 {
		return types.Succeeded(fmt.Sprintf("No empty folders in %s.", name))
	}

	return types.Result{
		Status:  types.StatusSuccess,
		Payload: fmt.Sprintf("Removed %d empty %s from %s.", len(removed), plural(len(removed), "folder", "folders"), name),
		Data:    map[string]string{"removed": strconv.Itoa(len(removed))},
	}
}

func (m *Module) move(ctx context.Context, mt types.Match) types.Result {
	extensions := mt.Slot("extensions")
	if extensions == "" {
		return types.Failed(workspace.NewError(workspace.ErrorInvalidPath, "no file type"), "Which kind of files should I move?")
	}
	wanted := strings.Split(extensions, ",")

	listing, err := m.service.ListDir(ctx, mt.Slot("from"))
	if err != nil {
		return failure(err)
	}
	dest, err := m.service.Guard().ResolvePath(mt.Slot("to"))
	if err != nil {
		return failure(err)
	}

	moved := 0
	for _, entry := range listing.Entries {
		if entry.IsDir || !hasExtension(entry.Name, wanted) {
			continue
		}
		if _, err := m.service.Move(ctx, filepath.Join(listing.Path, entry.Name), dest); err != nil {
			return failure(err)
		}
		moved++
	}

	label := mt.Slot("label")
	if moved == 0 {
		return types.Succeeded(fmt.Sprintf("There are no %s in %s.", label, m.displayName(listing.Path)))
	}

	return types.Result{
		Status:  types.StatusSuccess,
		Payload: fmt.Sprintf("Moved %d %s to %s.", moved, label, m.displayName(dest)),
		Data:    map[string]string{"moved": strconv.Itoa(moved)},
	}
}

func (m *Module) displayName(path string) string {
	rel := m.service.Guard().RelPath(path)
	if rel == "." {
		return "your " + filepath.Base(path) + " folder"
	}
	return rel
}

func failure(err error) types.Result {
	return types.Failed(err, workspace.Message(err))
}

// fileKind returns a label and extension list for the file type named in
// the utterance, if any.
func fileKind(text, raw string) (string, []string) {
	if sub := explicitExtRe.FindStringSubmatch(raw); sub != nil {
		ext := "." + strings.ToLower(sub[1])
		return strings.ToUpper(sub[1]) + " files", []string{ext}
	}
	for _, kind := range kindWords {
		if match.HasAny(text, kind.words...) {
			return kind.label, kind.extensions
		}
	}

	return "", nil
}

// fileName picks the name fragment to search for: an explicit "named X",
// the stem of a file token, or whatever is left once filler words go.
func fileName(text, raw string, hasKind bool) string {
	if sub := nameRe.FindStringSubmatch(raw); sub != nil {
		return strings.Trim(sub[1], `"'?.!,`)
	}
	if token := fileToken(raw); token != "" {
		return filepath.Base(token)
	}
	if hasKind {
		return ""
	}

	return match.StripWords(text, findStopWords...)
}

// fileToken returns the first word that looks like a file name or path.
func fileToken(raw string) string {
	for _, word := range strings.Fields(raw) {
		word = strings.Trim(word, `"'?!,;:()`)
		word = strings.TrimRight(word, ".")
		ext := filepath.Ext(word)
		if len(ext) < 2 || len(ext) > 6 || ext == word {
			continue
		}
		if !isAlnum(ext[1:]) || !hasLetter(ext) {
			continue
		}
		return word
	}

	return ""
}

func folder(text, raw, fallback string) string {
	if dir := submatch(folderRe, raw, ""); dir != "" && !match.HasAny(dir, "computer", "system") {
		return dir
	}
	if name := knownFolder(text); name != "" {
		return name
	}

	return fallback
}

func knownFolder(text string) string {
	for _, name := range knownFolders {
		if match.HasPhrase(text, name) {
			return name
		}
	}
	return ""
}

func submatch(re *regexp.Regexp, raw, fallback string) string {
	sub := re.FindStringSubmatch(strings.TrimSpace(raw))
	if sub == nil {
		return fallback
	}
	value := strings.Trim(sub[1], `"'?!.,`)
	if value == "" {
		return fallback
	}

	return value
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, candidate := range extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func hasLetter(s string) bool {
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' {
			return true
		}
	}
	return false
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
