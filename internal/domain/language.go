package domain

import (
	"path/filepath"
	"strings"
)

// languageByExt maps file extensions to the language name handed to the
// review collaborator. Detection is purely extension-based.
var languageByExt = map[string]string{
	".py":   "Python",
	".js":   "JavaScript",
	".ts":   "TypeScript",
	".jsx":  "React JavaScript",
	".tsx":  "React TypeScript",
	".java": "Java",
	".cpp":  "C++",
	".cc":   "C++",
	".c":    "C",
	".go":   "Go",
	".rs":   "Rust",
	".php":  "PHP",
	".rb":   "Ruby",
	".html": "HTML",
	".css":  "CSS",
}

// DetectLanguage resolves the review language for a filename.
// Unknown extensions fall back to the configured default.
func DetectLanguage(filename, fallback string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return fallback
}
