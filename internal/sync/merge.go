package sync

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Merger folds always-synced paths into a change set. It reads the local
// tree through fs, which is rooted at the app's local path.
type Merger struct {
	fs     billy.Filesystem
	logger *slog.Logger
}

// NewMerger creates a merger over fs
func NewMerger(fs billy.Filesystem, logger *slog.Logger) *Merger {
	return &Merger{fs: fs, logger: logger}
}

// Merge adds every always-sync path to cs and returns the remote directories
// to clear before uploading. A file is uploaded unconditionally. A directory
// is cleared remotely, every file below it is uploaded, and pending deletions
// below it are dropped. Paths missing locally are skipped with a warning.
func (m *Merger) Merge(cs ChangeSet, alwaysSync []string, remoteRoot string) ([]string, error) {
	var toClear []string
	cleared := make(map[string]bool)

	for _, entry := range alwaysSync {
		rel := normalizeRel(entry)

		info, err := m.fs.Stat(rel)
		if err != nil {
			if os.IsNotExist(err) {
				m.logger.Warn("always-sync path does not exist, skipping", "path", entry)
				continue
			}
			return nil, fmt.Errorf("failed to stat always-sync path %s: %w", entry, err)
		}

		if !info.IsDir() {
			m.logger.Info("always-sync file added", "path", rel)
			cs.Upload.Add(rel)
			cs.Delete.Remove(rel)
			continue
		}

		m.logger.Info("always-sync directory will be cleared and re-uploaded", "path", rel)
		remoteDir := path.Join(remoteRoot, rel)
		if !cleared[remoteDir] {
			cleared[remoteDir] = true
			toClear = append(toClear, remoteDir)
		}

		prefix := rel + "/"
		if rel == "." {
			prefix = ""
		}
		for p := range cs.Delete {
			if strings.HasPrefix(p, prefix) {
				cs.Delete.Remove(p)
			}
		}

		files, err := m.walkFiles(rel)
		if err != nil {
			return nil, fmt.Errorf("failed to walk always-sync directory %s: %w", entry, err)
		}
		cs.Upload.Add(files...)
	}

	return toClear, nil
}

// walkFiles lists every regular file below dir as slash-separated paths
// relative to the filesystem root
func (m *Merger) walkFiles(dir string) ([]string, error) {
	var files []string
	err := util.Walk(m.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && info.Name() == ".git" {
			return filepath.SkipDir
		}
		if info.Mode().IsRegular() {
			files = append(files, normalizeRel(p))
		}
		return nil
	})
	return files, err
}

// normalizeRel converts p to a clean slash-separated relative path
func normalizeRel(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	return strings.TrimPrefix(p, "/")
}
