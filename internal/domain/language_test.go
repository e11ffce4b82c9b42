package domain

import "testing"

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		filename string
		fallback string
		want     string
	}{
		{"main.py", "Python", "Python"},
		{"src/app/server.go", "Python", "Go"},
		{"web/App.tsx", "Python", "React TypeScript"},
		{"lib/util.JS", "Python", "JavaScript"},
		{"Makefile", "Python", "Python"},
		{"config.yaml", "Text", "Text"},
		{"noext", "", ""},
	}

	for _, tt := range tests {
		if got := DetectLanguage(tt.filename, tt.fallback); got != tt.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}
