//go:build integration

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const configTemplate = `ftp:
  host: "127.0.0.1:1"
  username: "deploy"
  password: "secret"
apps:
  - name: "site"
    local_path: %q
    remote_path: "public_html"
    always_deploy_files:
      - "dist"
timeout: 1
retry:
  attempts: 1
  delay: 0
paths:
  state_file: %q
`

func TestCLI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	if err := h.Build(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	repo := h.Repo(map[string]string{
		"index.html":     "<h1>hello</h1>",
		"css/style.css":  "body {}",
		"debug.log":      "noise",
		".gitignore":     "dist/\n",
		"README.md":      "# site",
		"app/config.php": "<?php",
	})
	h.WriteFile(filepath.Join(repo, "dist", "bundle.js"), "console.log(1)")

	statePath := h.Path("state", "deploy_history.json")
	cfg := h.Config(fmt.Sprintf(configTemplate, repo, statePath))

	t.Run("A_List", func(t *testing.T) {
		stdout, _ := h.MustRun(ctx, "--config", cfg, "list")
		if !strings.Contains(stdout, "site: "+repo+" -> /public_html") {
			t.Errorf("list output missing app:\n%s", stdout)
		}
	})

	t.Run("B_DeployWithoutApp", func(t *testing.T) {
		_, stderr, exitCode, err := h.Run(ctx, "--config", cfg, "deploy")
		if err != nil {
			t.Fatal(err)
		}
		if exitCode == 0 {
			t.Fatal("expected non-zero exit without --app")
		}
		if !strings.Contains(stderr, "Configured apps:") {
			t.Errorf("expected app list on stderr:\n%s", stderr)
		}
	})

	t.Run("C_DryRunFirstDeployment", func(t *testing.T) {
		stdout, _ := h.MustRun(ctx, "--config", cfg, "deploy", "--app", "site", "--dry-run")

		for _, want := range []string{
			"path=index.html",
			"path=css/style.css",
			"path=app/config.php",
			"path=README.md",
			"path=dist/bundle.js",
			"remote=/public_html/dist",
			"dry-run complete",
		} {
			if !strings.Contains(stdout, want) {
				t.Errorf("dry-run output missing %q:\n%s", want, stdout)
			}
		}
		for _, unwanted := range []string{"path=debug.log", "path=.gitignore", "connecting to remote"} {
			if strings.Contains(stdout, unwanted) {
				t.Errorf("dry-run output should not contain %q:\n%s", unwanted, stdout)
			}
		}

		if _, err := os.Stat(statePath); !os.IsNotExist(err) {
			t.Errorf("dry-run must not write the deploy record, stat err = %v", err)
		}
	})

	t.Run("D_DeployUnreachableServer", func(t *testing.T) {
		stdout, _, exitCode, err := h.Run(ctx, "--config", cfg, "deploy", "--app", "site")
		if err != nil {
			t.Fatal(err)
		}
		if exitCode == 0 {
			t.Fatalf("expected failure against unreachable server:\n%s", stdout)
		}
		if _, err := os.Stat(statePath); !os.IsNotExist(err) {
			t.Errorf("failed deployment must not write the deploy record, stat err = %v", err)
		}
	})

	t.Run("E_UnknownApp", func(t *testing.T) {
		_, _, exitCode, err := h.Run(ctx, "--config", cfg, "deploy", "--app", "nope", "--dry-run")
		if err != nil {
			t.Fatal(err)
		}
		if exitCode == 0 {
			t.Error("expected non-zero exit for unknown app")
		}
	})

	t.Run("F_Check", func(t *testing.T) {
		stdout, _, exitCode, err := h.Run(ctx, "--config", cfg, "check")
		if err != nil {
			t.Fatal(err)
		}
		if exitCode == 0 {
			t.Error("expected check to fail for unreachable ftp server")
		}
		if !strings.Contains(stdout, "[OK] site") {
			t.Errorf("expected local repository to pass:\n%s", stdout)
		}
		if !strings.Contains(stdout, "[NG] ftp 127.0.0.1:1") {
			t.Errorf("expected ftp check to fail:\n%s", stdout)
		}
	})
}
