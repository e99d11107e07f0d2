package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/tekku-taro/lolipop-deploy-tool/internal/config"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/exclude"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/git"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/remote"
)

var (
	// ErrAppNotFound is returned for an app name missing from the configuration
	ErrAppNotFound = errors.New("app not found")
	// ErrLocalPathMissing is returned when an app's local path does not exist
	ErrLocalPathMissing = errors.New("local path does not exist")
	// ErrNotRepository is returned when an app's local path is not a git working tree
	ErrNotRepository = git.ErrNotRepository
	// ErrIncomplete is returned when some remote operations failed. The
	// deploy record is left unchanged.
	ErrIncomplete = errors.New("deployment incomplete")
)

// Checkouter refreshes a local working tree from a remote repository
type Checkouter interface {
	EnsureCheckout(ctx context.Context, url, ref, destDir string) (string, error)
}

// Options controls one deployment
type Options struct {
	// Force uploads every tracked file regardless of the last deployment
	Force bool
	// DryRun logs the plan without connecting to the remote
	DryRun bool
}

// Plan is the ordered work of one deployment
type Plan struct {
	Clear  []string // remote directories
	Delete []string // relative paths
	Upload []string // relative paths
}

// Empty reports whether the plan has nothing to do
func (p *Plan) Empty() bool {
	return len(p.Clear) == 0 && len(p.Delete) == 0 && len(p.Upload) == 0
}

// Result describes a finished deployment
type Result struct {
	App      string
	Baseline string
	Revision string
	// UpToDate is set when the baseline already was the current revision
	UpToDate bool
	Plan     *Plan
	Report   *remote.Report
	// Committed is set when the deploy record was advanced
	Committed bool
}

// Engine orchestrates deployments of configured apps
type Engine struct {
	cfg      *config.Config
	history  git.History
	checkout Checkouter
	dialer   remote.Dialer
	state    *StateStore
	logger   *slog.Logger
	filter   *exclude.Matcher
	newFS    func(root string) billy.Filesystem
}

// NewEngine creates a new deploy engine. checkout may be nil when no app
// refreshes its tree from a remote repository.
func NewEngine(cfg *config.Config, history git.History, checkout Checkouter, dialer remote.Dialer, state *StateStore, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		history:  history,
		checkout: checkout,
		dialer:   dialer,
		state:    state,
		logger:   logger,
		filter:   exclude.New(cfg.ExcludePatterns),
		newFS: func(root string) billy.Filesystem {
			return osfs.New(root)
		},
	}
}

// DeployApps deploys the named apps one after another. Every app is
// attempted; the returned error joins the failures.
func (e *Engine) DeployApps(ctx context.Context, names []string, opts Options) error {
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			break
		}
		if _, err := e.Deploy(ctx, name, opts); err != nil {
			e.logger.Error("deployment failed", "app", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Deploy runs one deployment of the named app
func (e *Engine) Deploy(ctx context.Context, name string, opts Options) (*Result, error) {
	app := e.cfg.App(name)
	if app == nil {
		return nil, fmt.Errorf("%w: %s", ErrAppNotFound, name)
	}
	logger := e.logger.With("app", app.Name)
	logger.Info("starting deployment",
		"local_path", app.LocalPath,
		"remote_path", app.RemotePath,
		"force", opts.Force,
		"dry_run", opts.DryRun)

	if app.Repo.URL != "" && e.checkout != nil {
		logger.Info("refreshing local checkout", "repo", app.Repo.URL, "ref", app.Repo.Ref)
		commit, err := e.checkout.EnsureCheckout(ctx, app.Repo.URL, app.Repo.Ref, app.LocalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to checkout repository: %w", err)
		}
		logger.Info("repository checked out", "commit", commit)
	}

	if err := ValidateLocalPath(app.LocalPath); err != nil {
		return nil, err
	}

	result := &Result{App: app.Name}

	rec, ok, err := e.state.Get(app.Name)
	if err != nil {
		logger.Warn("failed to load deploy state (will treat as first deployment)", "error", err)
	} else if ok {
		result.Baseline = rec.LastCommit
		logger.Info("last deployment", "commit", rec.LastCommit, "at", rec.LastDeploy)
	}

	res, err := NewResolver(e.history, e.filter).Resolve(ctx, app.LocalPath, result.Baseline, opts.Force)
	if err != nil {
		return nil, err
	}
	result.Revision = res.Revision
	logger.Info("current revision", "commit", res.Revision)

	if res.UpToDate {
		result.UpToDate = true
		logger.Info("no changes since last deployment, skipping")
		return result, nil
	}
	if res.Full {
		logger.Info("full deployment, remote deletions are skipped")
	}

	fs := e.newFS(app.LocalPath)
	toClear, err := NewMerger(fs, logger).Merge(res.Changes, app.AlwaysSync, app.RemotePath)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Clear:  toClear,
		Delete: res.Changes.Delete.Sorted(),
		Upload: res.Changes.Upload.Sorted(),
	}
	result.Plan = plan

	if plan.Empty() {
		logger.Info("no files to deploy")
		// Every change may have been excluded; the revision still counts
		// as deployed.
		if !opts.DryRun && result.Baseline != res.Revision {
			if err := e.state.Set(app.Name, res.Revision); err != nil {
				return result, fmt.Errorf("failed to save deploy state: %w", err)
			}
			result.Committed = true
			logger.Info("deploy record advanced without transfers", "commit", res.Revision)
		}
		return result, nil
	}

	e.logPlan(logger, plan, opts.DryRun)
	if opts.DryRun {
		logger.Info("dry-run complete, no changes applied")
		return result, nil
	}

	report, err := e.apply(ctx, logger, app, fs, plan)
	result.Report = report
	if err != nil {
		return result, err
	}

	logger.Info("deployment summary",
		"cleared", report.Cleared,
		"deleted", report.Deleted,
		"uploaded", report.Uploaded,
		"skipped", report.Skipped,
		"failed", report.Failed())

	if report.Failed() > 0 {
		return result, fmt.Errorf("%w: %d operations failed, deploy record left at %s",
			ErrIncomplete, report.Failed(), displayRevision(result.Baseline))
	}

	if err := e.state.Set(app.Name, res.Revision); err != nil {
		return result, fmt.Errorf("failed to save deploy state: %w", err)
	}
	result.Committed = true
	logger.Info("deployment completed successfully", "commit", res.Revision)
	return result, nil
}

// apply opens one remote session, applies the plan and always closes the session
func (e *Engine) apply(ctx context.Context, logger *slog.Logger, app *config.AppConfig, fs billy.Filesystem, plan *Plan) (*remote.Report, error) {
	logger.Info("connecting to remote")
	sess, err := e.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote: %w", err)
	}
	defer func() {
		if err := sess.Quit(); err != nil {
			logger.Warn("failed to close remote session", "error", err)
		}
	}()

	batch := remote.Batch{Clear: plan.Clear}
	for _, rel := range plan.Delete {
		batch.Delete = append(batch.Delete, path.Join(app.RemotePath, rel))
	}
	for _, rel := range plan.Upload {
		batch.Upload = append(batch.Upload, remote.Upload{
			Source: filepath.Join(app.LocalPath, filepath.FromSlash(rel)),
			Remote: path.Join(app.RemotePath, rel),
			Open:   opener(fs, rel),
		})
	}

	reconciler := remote.NewReconciler(sess, remote.Options{
		Overwrite: e.cfg.OverwriteEnabled(),
		Attempts:  e.cfg.Retry.Attempts,
		Delay:     e.cfg.RetryDelay(),
	}, logger)

	report, err := reconciler.Apply(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("failed to apply deployment: %w", err)
	}
	return report, nil
}

func opener(fs billy.Filesystem, rel string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		f, err := fs.Open(rel)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// logPlan logs every planned operation
func (e *Engine) logPlan(logger *slog.Logger, plan *Plan, dryRun bool) {
	logger.Info("deployment plan",
		"clear", len(plan.Clear),
		"delete", len(plan.Delete),
		"upload", len(plan.Upload))

	prefix := ""
	if dryRun {
		prefix = "[dry-run] "
	}
	for _, dir := range plan.Clear {
		logger.Info(prefix+"[clear]", "remote", dir)
	}
	for _, p := range plan.Delete {
		logger.Info(prefix+"[delete]", "path", p)
	}
	for _, p := range plan.Upload {
		logger.Info(prefix+"[upload]", "path", p)
	}
}

// ValidateLocalPath checks that dir exists and is a git working tree
func ValidateLocalPath(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrLocalPathMissing, dir)
		}
		return fmt.Errorf("failed to stat local path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrLocalPathMissing, dir)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return fmt.Errorf("%w: %s", ErrNotRepository, dir)
	}
	return nil
}

func displayRevision(rev string) string {
	if rev == "" {
		return "(none)"
	}
	return rev
}
