package workspace

import (
	"path/filepath"
	"strings"
)

var languages = map[string]string{
	".go":    "go",
	".rs":    "rust",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".py":    "python",
	".rb":    "ruby",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".html":  "html",
	".css":   "css",
	".sh":    "shell",
	".sql":   "sql",
	".proto": "protobuf",
}

var languagesByName = map[string]string{
	"Makefile":   "makefile",
	"Dockerfile": "dockerfile",
}

// DetectLanguage guesses the editor language of path from its name, or nil.
func DetectLanguage(path string) *string {
	base := filepath.Base(path)
	if lang, ok := languagesByName[base]; ok {
		return &lang
	}
	if lang, ok := languages[strings.ToLower(filepath.Ext(base))]; ok {
		return &lang
	}
	return nil
}
