package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"
)

// Options controls how the reconciler applies operations
type Options struct {
	// Overwrite re-uploads files that already exist remotely. When false an
	// existing remote file is left alone even if the local content differs.
	Overwrite bool
	// Attempts is the maximum number of tries for one upload or delete
	Attempts int
	// Delay is the fixed pause between attempts
	Delay time.Duration
}

// Upload is one local file to store remotely
type Upload struct {
	Source string // local path, for logging
	Remote string // absolute remote path
	Open   func() (io.ReadCloser, error)
}

// Batch is the set of operations for one run. Apply executes Clear, then
// Delete, then Upload.
type Batch struct {
	Clear  []string
	Delete []string
	Upload []Upload
}

// Failure records one operation that could not be completed
type Failure struct {
	Op   string
	Path string
	Err  error
}

// Report summarises an applied batch
type Report struct {
	Cleared  int
	Deleted  int
	Uploaded int
	Skipped  int
	Failures []Failure
}

// Failed returns the number of failed operations
func (r *Report) Failed() int {
	return len(r.Failures)
}

// Reconciler applies a Batch against one open Session, strictly in sequence
type Reconciler struct {
	sess   Session
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	known  map[string]bool // remote directories known to exist
}

// NewReconciler creates a reconciler bound to sess
func NewReconciler(sess Session, opts Options, logger *slog.Logger) *Reconciler {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Reconciler{
		sess:   sess,
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
		known:  map[string]bool{"/": true},
	}
}

// Apply runs the batch in the fixed order clear, delete, upload. Failed
// deletes and uploads are collected in the report; a failed clear or a
// cancelled context aborts the batch with an error.
func (r *Reconciler) Apply(ctx context.Context, b Batch) (*Report, error) {
	report := &Report{}

	for _, dir := range b.Clear {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.ClearDir(ctx, dir); err != nil {
			return report, err
		}
		report.Cleared++
	}

	if len(b.Delete) > 0 {
		r.logger.Info("deleting remote files", "count", len(b.Delete))
	}
	for _, p := range b.Delete {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := r.Delete(ctx, p); err != nil {
			r.logger.Error("delete failed", "remote", p, "error", err)
			report.Failures = append(report.Failures, Failure{Op: "delete", Path: p, Err: err})
			continue
		}
		report.Deleted++
	}

	if len(b.Upload) > 0 {
		r.logger.Info("uploading files", "count", len(b.Upload))
	}
	for _, u := range b.Upload {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		skipped, err := r.Upload(ctx, u)
		if err != nil {
			r.logger.Error("upload failed", "source", u.Source, "remote", u.Remote, "error", err)
			report.Failures = append(report.Failures, Failure{Op: "upload", Path: u.Remote, Err: err})
			continue
		}
		if skipped {
			report.Skipped++
			continue
		}
		report.Uploaded++
	}

	return report, nil
}

// EnsureDir creates every missing segment of dir. A segment that cannot be
// created stops the walk; the error is logged and returned but callers are
// expected to carry on and let the following transfer fail on its own.
func (r *Reconciler) EnsureDir(dir string) error {
	dir = path.Clean("/" + dir)
	if r.known[dir] {
		return nil
	}
	if err := r.sess.ChangeDir(dir); err == nil {
		r.known[dir] = true
		return nil
	}

	current := ""
	for _, segment := range strings.Split(strings.TrimPrefix(dir, "/"), "/") {
		current += "/" + segment
		if r.known[current] {
			continue
		}
		if err := r.sess.ChangeDir(current); err == nil {
			r.known[current] = true
			continue
		}
		if err := r.sess.MakeDir(current); err != nil {
			// Someone else may have created it; only a directory we can
			// enter counts as existing.
			if r.sess.ChangeDir(current) == nil {
				r.known[current] = true
				continue
			}
			r.logger.Warn("failed to create remote directory", "dir", current, "error", err)
			return fmt.Errorf("create remote directory %s: %w", current, err)
		}
		r.logger.Info("created remote directory", "dir", current)
		r.known[current] = true
	}
	return nil
}

// Upload stores one file. It reports skipped=true when overwrite is disabled
// and the remote file already exists.
func (r *Reconciler) Upload(ctx context.Context, u Upload) (bool, error) {
	if dir := path.Dir(u.Remote); dir != "/" && dir != "." {
		_ = r.EnsureDir(dir)
	}

	if !r.opts.Overwrite {
		if _, err := r.sess.FileSize(u.Remote); err == nil {
			r.logger.Info("remote file exists and overwrite is disabled, skipping", "remote", u.Remote)
			return true, nil
		}
	}

	err := r.retry(ctx, "upload", u.Remote, func() (outcome, error) {
		f, err := u.Open()
		if err != nil {
			return permanent, fmt.Errorf("failed to open local file %s: %w", u.Source, err)
		}
		defer func() {
			_ = f.Close()
		}()

		err = r.sess.Stor(u.Remote, f)
		return classify(err), err
	})
	if err != nil {
		return false, err
	}

	r.logger.Info("uploaded", "source", u.Source, "remote", u.Remote)
	return false, nil
}

// Delete removes one remote file. A file that is already gone counts as deleted.
func (r *Reconciler) Delete(ctx context.Context, remotePath string) error {
	err := r.retry(ctx, "delete", remotePath, func() (outcome, error) {
		err := r.sess.Delete(remotePath)
		if IsNotFound(err) {
			r.logger.Warn("remote file already absent", "remote", remotePath)
			return succeeded, nil
		}
		return classify(err), err
	})
	if err != nil {
		return err
	}

	r.logger.Info("deleted", "remote", remotePath)
	return nil
}

// entryKind tags what a remote path turned out to be while clearing
type entryKind int

const (
	entryMissing entryKind = iota
	entryFile
	entryDir
)

// clearItem is a worklist entry. A directory is pushed twice: once to be
// expanded and, below its children, once more to be removed after them.
type clearItem struct {
	path     string
	expanded bool
}

// ClearDir removes everything below dir but keeps dir itself. A missing
// dir is already clear. Any other failure aborts the clear.
func (r *Reconciler) ClearDir(ctx context.Context, dir string) error {
	dir = path.Clean("/" + dir)
	r.logger.Info("clearing remote directory", "dir", dir)

	if original, err := r.sess.CurrentDir(); err == nil {
		defer func() {
			_ = r.sess.ChangeDir(original)
		}()
	}

	if err := r.sess.ChangeDir(dir); err != nil {
		if IsNotFound(err) {
			r.logger.Info("remote directory does not exist, nothing to clear", "dir", dir)
			return nil
		}
		return fmt.Errorf("clear %s: %w", dir, err)
	}

	children, err := r.list(dir)
	if err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}

	stack := make([]clearItem, 0, len(children))
	for _, child := range children {
		stack = append(stack, clearItem{path: child})
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}

		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if item.expanded {
			if err := r.removeDir(item.path); err != nil {
				return fmt.Errorf("clear %s: %w", dir, err)
			}
			continue
		}

		kind, err := r.removeEntry(item.path)
		if err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
		if kind != entryDir {
			continue
		}

		grandchildren, err := r.list(item.path)
		if err != nil {
			return fmt.Errorf("clear %s: %w", dir, err)
		}
		stack = append(stack, clearItem{path: item.path, expanded: true})
		for _, child := range grandchildren {
			stack = append(stack, clearItem{path: child})
		}
	}

	r.forgetBelow(dir)
	return nil
}

// removeEntry deletes p if it is a file and reports what p was. Directories
// are left for the caller to expand.
func (r *Reconciler) removeEntry(p string) (entryKind, error) {
	err := r.sess.ChangeDir(p)
	if err == nil {
		return entryDir, nil
	}
	if !IsNotFound(err) {
		return entryMissing, fmt.Errorf("probe %s: %w", p, err)
	}

	if err := r.sess.Delete(p); err != nil {
		if IsNotFound(err) {
			return entryMissing, nil
		}
		return entryMissing, fmt.Errorf("delete %s: %w", p, err)
	}
	return entryFile, nil
}

// removeDir steps out of p and removes it. Servers answer 550 both for a
// missing directory and for one that is not empty, so a 550 only counts as
// removed when p can no longer be entered.
func (r *Reconciler) removeDir(p string) error {
	if err := r.sess.ChangeDir(path.Dir(p)); err != nil {
		return fmt.Errorf("leave %s: %w", p, err)
	}

	err := r.sess.RemoveDir(p)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("remove directory %s: %w", p, err)
	}

	cdErr := r.sess.ChangeDir(p)
	if cdErr != nil && IsNotFound(cdErr) {
		return nil
	}
	if cdErr == nil {
		_ = r.sess.ChangeDir(path.Dir(p))
	}
	return fmt.Errorf("remove directory %s: still present: %w", p, err)
}

// list returns the absolute paths of the entries directly below dir.
// Servers that answer an empty listing with "not found" yield no entries.
func (r *Reconciler) list(dir string) ([]string, error) {
	names, err := r.sess.NameList(dir)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	result := make([]string, 0, len(names))
	for _, name := range names {
		base := path.Base(strings.TrimRight(name, "/"))
		if base == "." || base == ".." || base == "/" || base == "" {
			continue
		}
		result = append(result, path.Join(dir, base))
	}
	return result, nil
}

// forgetBelow drops cached directories under dir, which no longer exist
func (r *Reconciler) forgetBelow(dir string) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for known := range r.known {
		if known != dir && strings.HasPrefix(known, prefix) {
			delete(r.known, known)
		}
	}
}
