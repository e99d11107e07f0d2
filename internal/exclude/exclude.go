package exclude

import (
	"strings"
)

// DefaultPatterns are applied when the configuration does not list any
// exclusion patterns of its own.
var DefaultPatterns = []string{
	".git",
	".gitignore",
	"__pycache__",
	"*.pyc",
	"*.pyo",
	".DS_Store",
	"Thumbs.db",
	".env",
	".env.local",
	"deploy_config.json",
	"deploy.log",
	"deploy_history.json",
	"*.tmp",
	"*.log",
	".vscode",
	".idea",
	"*.swp",
	"*.swo",
}

// Matcher decides whether a repository-relative path is excluded from deployment.
//
// A pattern starting with "*" is a suffix pattern: "*.log" excludes every path
// ending in ".log". Any other pattern excludes paths that contain it anywhere.
type Matcher struct {
	suffixes   []string
	substrings []string
}

// New builds a Matcher from the configured patterns. Empty patterns are ignored.
func New(patterns []string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "*") {
			m.suffixes = append(m.suffixes, p[1:])
			continue
		}
		m.substrings = append(m.substrings, p)
	}
	return m
}

// Excluded reports whether path matches any pattern.
func (m *Matcher) Excluded(path string) bool {
	for _, s := range m.suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	for _, s := range m.substrings {
		if strings.Contains(path, s) {
			return true
		}
	}
	return false
}

// Filter returns the paths that are not excluded, preserving their order.
func (m *Matcher) Filter(paths []string) []string {
	result := make([]string, 0, len(paths))
	for _, p := range paths {
		if !m.Excluded(p) {
			result = append(result, p)
		}
	}
	return result
}
