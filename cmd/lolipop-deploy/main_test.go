package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tekku-taro/lolipop-deploy-tool/internal/config"
	"github.com/tekku-taro/lolipop-deploy-tool/internal/remote/remotetest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

const testConfig = `ftp:
  host: "ftp.example.com"
  username: "user"
  password: "secret"
apps:
  - name: "site"
    local_path: "/srv/site"
    remote_path: "/public_html"
  - name: "admin"
    local_path: "/srv/admin"
    remote_path: "admin"
`

func TestSetupLogger(t *testing.T) {
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
		wantDebug bool
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text", wantDebug: true},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger(io.Discard)
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tc.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tc.wantDebug)
			}
		})
	}
}

func TestOpenLogOutput_TeesIntoFile(t *testing.T) {
	origLogFile := logFile
	t.Cleanup(func() { logFile = origLogFile })

	logFile = filepath.Join(t.TempDir(), "deploy.log")
	out, closeLog, err := openLogOutput()
	if err != nil {
		t.Fatalf("openLogOutput: %v", err)
	}
	setupLogger(out).Info("deployment completed successfully", "app", "site")
	closeLog()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "app=site") {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestOpenLogOutput_BadPath(t *testing.T) {
	origLogFile := logFile
	t.Cleanup(func() { logFile = origLogFile })

	logFile = filepath.Join(t.TempDir(), "missing", "deploy.log")
	if _, _, err := openLogOutput(); err == nil {
		t.Error("expected error for unwritable log file")
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = writeConfig(t, testConfig)

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	if len(cfg.Apps) != 2 {
		t.Fatalf("expected 2 apps, got %d", len(cfg.Apps))
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	if _, err := loadConfig(testLogger()); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestPrintApps(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = writeConfig(t, testConfig)

	cfg, err := loadConfig(testLogger())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printApps(&buf, cfg)
	out := buf.String()

	for _, want := range []string{
		"site: /srv/site -> /public_html",
		"admin: /srv/admin -> /admin",
		"deploy --app site",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunDeploy_NoAppListsApps(t *testing.T) {
	origCfgFile, origApps := cfgFile, appNames
	t.Cleanup(func() {
		cfgFile = origCfgFile
		appNames = origApps
	})
	cfgFile = writeConfig(t, testConfig)
	appNames = nil

	var stderr bytes.Buffer
	deployCmd.SetErr(&stderr)
	t.Cleanup(func() { deployCmd.SetErr(nil) })

	if err := runDeploy(deployCmd, nil); err == nil {
		t.Fatal("expected error without --app")
	}
	if !strings.Contains(stderr.String(), "site: /srv/site -> /public_html") {
		t.Errorf("expected app list on stderr, got:\n%s", stderr.String())
	}
}

func TestNewEngine_Backends(t *testing.T) {
	for _, backend := range []config.GitBackend{config.BackendShell, config.BackendGoGit} {
		cfg := &config.Config{
			FTP:   config.FTPConfig{Host: "ftp.example.com", Username: "u", Password: "p"},
			Git:   config.GitConfig{Backend: backend},
			Paths: config.PathsConfig{StateFile: filepath.Join(t.TempDir(), "state.json")},
		}
		if _, err := newEngine(cfg, testLogger()); err != nil {
			t.Errorf("backend %s: %v", backend, err)
		}
	}
}

func TestNewDialer(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "ftp_password")
	if err := os.WriteFile(secretFile, []byte("from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		FTP:     config.FTPConfig{Host: "ftp.example.com", Username: "user", PasswordFile: secretFile},
		Timeout: 15,
	}
	d, err := newDialer(cfg)
	if err != nil {
		t.Fatalf("newDialer: %v", err)
	}
	if d.Addr != "ftp.example.com:21" || d.Password != "from-file" || d.Timeout.Seconds() != 15 {
		t.Errorf("unexpected dialer: %+v", d)
	}

	cfg.FTP.PasswordFile = filepath.Join(t.TempDir(), "missing")
	if _, err := newDialer(cfg); err == nil {
		t.Error("expected error for missing password file")
	}
}

func TestCheckRemote(t *testing.T) {
	srv := remotetest.New()
	if err := checkRemote(context.Background(), srv); err != nil {
		t.Fatalf("checkRemote: %v", err)
	}
	if srv.Dials != 1 || srv.Quits != 1 {
		t.Errorf("expected one dial and one quit, got %d/%d", srv.Dials, srv.Quits)
	}

	srv.DialErr = errors.New("530 Login incorrect")
	if err := checkRemote(context.Background(), srv); err == nil {
		t.Error("expected dial error")
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestVersionCmd(t *testing.T) {
	// versionCmd.Run simply prints version info; should not panic.
	versionCmd.Run(versionCmd, []string{})
}
