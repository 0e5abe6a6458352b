package files

import (
	"path/filepath"
	"strings"
)

// Category names double as the folder names organize creates.
var categoryOrder = []string{"Documents", "Images", "Videos", "Audio", "Archives", "Code"}

var categoryExtensions = map[string][]string{
	"Documents": {".pdf", ".doc", ".docx", ".txt", ".rtf", ".odt", ".md", ".xlsx", ".pptx"},
	"Images":    {".jpg", ".jpeg", ".png", ".gif", ".bmp", ".svg", ".tiff", ".webp", ".heic"},
	"Videos":    {".mp4", ".avi", ".mkv", ".mov", ".wmv", ".flv", ".webm"},
	"Audio":     {".mp3", ".wav", ".flac", ".aac", ".ogg", ".wma", ".m4a"},
	"Archives":  {".zip", ".rar", ".7z", ".tar", ".gz", ".bz2", ".xz"},
	"Code":      {".py", ".js", ".ts", ".go", ".html", ".css", ".cpp", ".c", ".java", ".php", ".rs", ".sh"},
}

// kindWords maps spoken file kinds to the extensions they stand for.
var kindWords = []struct {
	words      []string
	label      string
	extensions []string
}{
	{words: []string{"python"}, label: "Python files", extensions: []string{".py"}},
	{words: []string{"pdf", "pdfs"}, label: "PDF files", extensions: []string{".pdf"}},
	{words: []string{"text file", "text files", "txt"}, label: "text files", extensions: []string{".txt"}},
	{words: []string{"image", "images", "picture", "pictures", "photo", "photos"}, label: "images", extensions: categoryExtensions["Images"]},
	{words: []string{"music", "song", "songs", "audio", "mp3", "mp3s"}, label: "audio files", extensions: categoryExtensions["Audio"]},
	{words: []string{"video", "videos", "movie", "movies"}, label: "videos", extensions: categoryExtensions["Videos"]},
	{words: []string{"document", "documents"}, label: "documents", extensions: categoryExtensions["Documents"]},
	{words: []string{"archive", "archives", "zip", "zips"}, label: "archives", extensions: categoryExtensions["Archives"]},
	{words: []string{"code", "source"}, label: "code files", extensions: categoryExtensions["Code"]},
}

// knownFolders are the user folders that can be named without a path.
var knownFolders = []string{"downloads", "documents", "desktop", "pictures", "music", "videos"}

// Category returns the organize folder for a file name, or "" when the
// extension belongs to no category.
func Category(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	for _, category := range categoryOrder {
		for _, candidate := range categoryExtensions[category] {
			if ext == candidate {
				return category
			}
		}
	}

	return ""
}
