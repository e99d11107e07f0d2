package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tekku-taro/lolipop-deploy-tool/internal/activation"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/config"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/git"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/remote"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/sync"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/webhook"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	logFile   string

	// Deploy flags
	appNames []string
	forceAll bool
	dryRun   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lolipop-deploy",
	Short: "Incrementally deploy git working trees to an FTP server",
	Long: `lolipop-deploy uploads only the files that changed in a git working tree
since its last successful deployment to a shared-hosting FTP server, and
deletes remotely what was removed locally.

Always-deployed paths that live outside version control (build output,
environment files) are pushed on every run.`,
	SilenceUsage: true,
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy one or more apps",
	Long: `Deploy compares each app's HEAD with the commit recorded at its last successful
deployment and applies the difference to the FTP server: always-deployed
directories are cleared, deleted files are removed, changed files are uploaded.

The deploy record only advances when every operation succeeded. Apps are
deployed one after another.`,
	RunE: runDeploy,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(setupLogger(io.Discard))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		printApps(cmd.OutOrStdout(), cfg)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check local repositories and the FTP login",
	RunE:  runCheck,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Serve starts a long-running HTTP server that listens for GitHub push events
and deploys the configured apps when an allowed ref is updated.

An initial deployment runs before the server starts accepting requests. When
started through a systemd .socket unit the activated socket is used instead
of serve.listen_addr.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lolipop-deploy %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $XDG_CONFIG_HOME/lolipop-deploy/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append log output to this file")

	// Deploy command flags
	deployCmd.Flags().StringArrayVarP(&appNames, "app", "a", nil, "app to deploy (repeatable)")
	deployCmd.Flags().BoolVarP(&forceAll, "all", "A", false, "upload every tracked file regardless of the last deployment")
	deployCmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false, "show what would be done without connecting")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	out, closeLog, err := openLogOutput()
	if err != nil {
		return err
	}
	defer closeLog()
	logger := setupLogger(out)

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(appNames) == 0 {
		printApps(cmd.ErrOrStderr(), cfg)
		return fmt.Errorf("no app selected, use --app")
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	opts := sync.Options{Force: forceAll, DryRun: dryRun}
	if err := engine.DeployApps(ctx, appNames, opts); err != nil {
		logger.Error("deploy failed", "error", err)
		return err
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger(os.Stdout)
	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	w := cmd.OutOrStdout()
	failed := false
	for _, app := range cfg.Apps {
		if err := sync.ValidateLocalPath(app.LocalPath); err != nil {
			failed = true
			switch {
			case errors.Is(err, sync.ErrLocalPathMissing):
				_, _ = fmt.Fprintf(w, "  [NG] %s: local path does not exist: %s\n", app.Name, app.LocalPath)
			case errors.Is(err, sync.ErrNotRepository):
				_, _ = fmt.Fprintf(w, "  [NG] %s: not a git repository: %s\n", app.Name, app.LocalPath)
			default:
				_, _ = fmt.Fprintf(w, "  [NG] %s: %v\n", app.Name, err)
			}
			continue
		}
		_, _ = fmt.Fprintf(w, "  [OK] %s: %s\n", app.Name, app.LocalPath)
	}

	dialer, err := newDialer(cfg)
	if err != nil {
		return err
	}
	if err := checkRemote(ctx, dialer); err != nil {
		failed = true
		_, _ = fmt.Fprintf(w, "  [NG] ftp %s: %v\n", cfg.FTPAddr(), err)
	} else {
		_, _ = fmt.Fprintf(w, "  [OK] ftp %s\n", cfg.FTPAddr())
	}

	if failed {
		return fmt.Errorf("check failed")
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	out, closeLog, err := openLogOutput()
	if err != nil {
		return err
	}
	defer closeLog()
	logger := setupLogger(out)

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Serve.Enabled {
		return fmt.Errorf("serve is not enabled in the configuration")
	}

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	server, err := webhook.NewServer(cfg, engine, logger)
	if err != nil {
		return fmt.Errorf("failed to create webhook server: %w", err)
	}

	ln, err := activation.Listener("webhook")
	if err != nil {
		return fmt.Errorf("failed to use activated socket: %w", err)
	}

	return server.Start(ctx, ln)
}

// newEngine wires the deploy engine from the configuration
func newEngine(cfg *config.Config, logger *slog.Logger) (*sync.Engine, error) {
	shell := git.NewShellClient(cfg.Auth.SSHKeyFile, cfg.Auth.HTTPSTokenFile)

	var history git.History = shell
	if cfg.Git.Backend == config.BackendGoGit {
		history = git.NewGoGitClient()
	}

	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}

	logger.Debug("deploy engine configured",
		"git_backend", cfg.Git.Backend,
		"git_auth", cfg.AuthMethod(),
		"ftp", cfg.FTPAddr(),
		"state_file", cfg.Paths.StateFile)

	return sync.NewEngine(cfg, history, shell, dialer, sync.NewStateStore(cfg.Paths.StateFile), logger), nil
}

func newDialer(cfg *config.Config) (*remote.FTPDialer, error) {
	password, err := cfg.FTPPassword()
	if err != nil {
		return nil, err
	}
	return &remote.FTPDialer{
		Addr:        cfg.FTPAddr(),
		Username:    cfg.FTP.Username,
		Password:    password,
		Timeout:     cfg.DialTimeout(),
		ExplicitTLS: cfg.FTP.ExplicitTLS,
		DisableEPSV: cfg.FTP.DisableEPSV,
	}, nil
}

// checkRemote opens and closes one session
func checkRemote(ctx context.Context, dialer remote.Dialer) error {
	sess, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	return sess.Quit()
}

func printApps(w io.Writer, cfg *config.Config) {
	_, _ = fmt.Fprintln(w, "Configured apps:")
	for _, app := range cfg.Apps {
		_, _ = fmt.Fprintf(w, "  - %s: %s -> %s\n", app.Name, app.LocalPath, app.RemotePath)
	}
	if len(cfg.Apps) > 0 {
		_, _ = fmt.Fprintf(w, "\nExample: lolipop-deploy deploy --app %s\n", cfg.Apps[0].Name)
	}
}

// openLogOutput returns stdout, teed into --log-file when set
func openLogOutput() (io.Writer, func(), error) {
	if logFile == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return io.MultiWriter(os.Stdout, f), func() {
		_ = f.Close()
	}, nil
}

func setupLogger(out io.Writer) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"apps", len(cfg.Apps),
		"ftp_host", cfg.FTP.Host,
		"overwrite", cfg.OverwriteEnabled(),
		"exclude_patterns", len(cfg.ExcludePatterns))

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
