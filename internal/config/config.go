package config

import (
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/tekku-taro/lolipop-deploy-tool/internal/exclude"
)

// GitBackend selects how version-control history is read
type GitBackend string

const (
	BackendShell GitBackend = "shell"
	BackendGoGit GitBackend = "go-git"
)

const (
	defaultTimeout       = 30
	defaultRetryAttempts = 3
	defaultRetryDelay    = 5
	defaultFTPPort       = "21"
)

// Config represents the complete deployment configuration. The key names
// match the JSON file written by the setup wizard, which YAML
// parses as well.
type Config struct {
	FTP             FTPConfig   `yaml:"ftp"`
	Apps            []AppConfig `yaml:"apps"`
	Overwrite       *bool       `yaml:"overwrite"`
	ExcludePatterns []string    `yaml:"exclude_patterns"`
	Timeout         int         `yaml:"timeout"` // seconds
	Retry           RetryConfig `yaml:"retry"`
	Git             GitConfig   `yaml:"git"`
	Paths           PathsConfig `yaml:"paths"`
	Auth            AuthConfig  `yaml:"auth"`
	Serve           ServeConfig `yaml:"serve"`
}

// FTPConfig configures the remote FTP server
type FTPConfig struct {
	Host         string `yaml:"host"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
	ExplicitTLS  bool   `yaml:"explicit_tls"`
	DisableEPSV  bool   `yaml:"disable_epsv"`
}

// AppConfig describes one deployment target
type AppConfig struct {
	Name       string   `yaml:"name"`
	LocalPath  string   `yaml:"local_path"`
	RemotePath string   `yaml:"remote_path"`
	AlwaysSync []string `yaml:"always_deploy_files"`
	// Repo, when set, refreshes LocalPath from a remote repository before
	// every deployment
	Repo RepoConfig `yaml:"repo"`
}

// RepoConfig configures the Git repository a local tree is checked out from
type RepoConfig struct {
	URL string `yaml:"url"`
	Ref string `yaml:"ref"`
}

// RetryConfig configures per-file retries of uploads and deletions
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	Delay    int `yaml:"delay"` // seconds
}

// GitConfig selects the history backend
type GitConfig struct {
	Backend GitBackend `yaml:"backend"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StateFile string `yaml:"state_file"`
}

// AuthConfig configures Git authentication
type AuthConfig struct {
	SSHKeyFile     string `yaml:"ssh_key_file"`
	HTTPSTokenFile string `yaml:"https_token_file"`
}

// ServeConfig configures the webhook server
type ServeConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	ListenAddr              string   `yaml:"listen_addr"`
	GitHubWebhookSecretFile string   `yaml:"github_webhook_secret_file"`
	AllowedEventTypes       []string `yaml:"allowed_event_types"`
	AllowedRefs             []string `yaml:"allowed_refs"`
	// Apps lists the apps deployed on an accepted event; empty means all
	Apps []string `yaml:"apps"`
}

// DefaultPath returns the configuration file used when none is given
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "lolipop-deploy", "config.yaml")
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.FTP.Host = os.ExpandEnv(c.FTP.Host)
	c.FTP.Username = os.ExpandEnv(c.FTP.Username)
	c.FTP.Password = os.ExpandEnv(c.FTP.Password)
	c.FTP.PasswordFile = os.ExpandEnv(c.FTP.PasswordFile)
	for i := range c.Apps {
		app := &c.Apps[i]
		app.LocalPath = os.ExpandEnv(app.LocalPath)
		app.RemotePath = os.ExpandEnv(app.RemotePath)
		app.Repo.URL = os.ExpandEnv(app.Repo.URL)
		app.Repo.Ref = os.ExpandEnv(app.Repo.Ref)
	}
	c.Paths.StateFile = os.ExpandEnv(c.Paths.StateFile)
	c.Auth.SSHKeyFile = os.ExpandEnv(c.Auth.SSHKeyFile)
	c.Auth.HTTPSTokenFile = os.ExpandEnv(c.Auth.HTTPSTokenFile)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.GitHubWebhookSecretFile = os.ExpandEnv(c.Serve.GitHubWebhookSecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Overwrite == nil {
		overwrite := true
		c.Overwrite = &overwrite
	}
	if c.ExcludePatterns == nil {
		c.ExcludePatterns = append([]string(nil), exclude.DefaultPatterns...)
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = defaultRetryAttempts
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = defaultRetryDelay
	}
	if c.Git.Backend == "" {
		c.Git.Backend = BackendShell
	}
	if c.Paths.StateFile == "" {
		c.Paths.StateFile = filepath.Join(xdg.StateHome, "lolipop-deploy", "deploy_history.json")
	}
	for i := range c.Apps {
		app := &c.Apps[i]
		if app.RemotePath != "" {
			app.RemotePath = path.Clean("/" + app.RemotePath)
		}
		if app.Repo.URL != "" && app.Repo.Ref == "" {
			app.Repo.Ref = "main"
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.FTP.Host == "" {
		return fmt.Errorf("ftp.host is required")
	}
	if c.FTP.Username == "" {
		return fmt.Errorf("ftp.username is required")
	}
	if c.FTP.Password == "" && c.FTP.PasswordFile == "" {
		return fmt.Errorf("one of ftp.password or ftp.password_file is required")
	}
	if c.FTP.Password != "" && c.FTP.PasswordFile != "" {
		return fmt.Errorf("ftp: only one of password or password_file may be set")
	}

	if len(c.Apps) == 0 {
		return fmt.Errorf("at least one app must be configured")
	}
	seen := make(map[string]bool, len(c.Apps))
	for i, app := range c.Apps {
		if app.Name == "" {
			return fmt.Errorf("apps[%d].name is required", i)
		}
		if seen[app.Name] {
			return fmt.Errorf("duplicate app name: %s", app.Name)
		}
		seen[app.Name] = true
		if app.LocalPath == "" {
			return fmt.Errorf("apps[%d].local_path is required", i)
		}
		if app.RemotePath == "" {
			return fmt.Errorf("apps[%d].remote_path is required", i)
		}
		for _, p := range app.AlwaysSync {
			if filepath.IsAbs(p) || strings.HasPrefix(filepath.Clean(p), "..") {
				return fmt.Errorf("apps[%d].always_deploy_files entry must be relative to local_path: %s", i, p)
			}
		}
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %d", c.Timeout)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1: %d", c.Retry.Attempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry.delay must not be negative: %d", c.Retry.Delay)
	}

	switch c.Git.Backend {
	case BackendShell, BackendGoGit:
		// valid
	default:
		return fmt.Errorf("invalid git.backend: %s (must be shell or go-git)", c.Git.Backend)
	}

	// Validate auth: only one auth method may be configured
	if c.Auth.SSHKeyFile != "" && c.Auth.HTTPSTokenFile != "" {
		return fmt.Errorf("auth: only one of ssh_key_file or https_token_file may be set")
	}

	if c.Serve.Enabled {
		if c.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if c.Serve.GitHubWebhookSecretFile == "" {
			return fmt.Errorf("serve.github_webhook_secret_file is required when serve is enabled")
		}
		for _, name := range c.Serve.Apps {
			if c.App(name) == nil {
				return fmt.Errorf("serve.apps references unknown app: %s", name)
			}
		}
	}

	return nil
}

// App returns the app with the given name, or nil
func (c *Config) App(name string) *AppConfig {
	for i := range c.Apps {
		if c.Apps[i].Name == name {
			return &c.Apps[i]
		}
	}
	return nil
}

// FTPAddr returns host:port, defaulting the port to 21
func (c *Config) FTPAddr() string {
	if _, _, err := net.SplitHostPort(c.FTP.Host); err == nil {
		return c.FTP.Host
	}
	return net.JoinHostPort(c.FTP.Host, defaultFTPPort)
}

// FTPPassword returns the configured secret, reading password_file if set
func (c *Config) FTPPassword() (string, error) {
	if c.FTP.PasswordFile == "" {
		return c.FTP.Password, nil
	}
	data, err := os.ReadFile(c.FTP.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("failed to read FTP password file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// DialTimeout returns the connection timeout
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// RetryDelay returns the pause between attempts
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.Delay) * time.Second
}

// OverwriteEnabled reports whether existing remote files are replaced
func (c *Config) OverwriteEnabled() bool {
	return c.Overwrite == nil || *c.Overwrite
}

// AuthMethod returns a description of the configured auth method
func (c *Config) AuthMethod() string {
	if c.Auth.SSHKeyFile != "" {
		return "ssh"
	}
	if c.Auth.HTTPSTokenFile != "" {
		return "https"
	}
	return "none"
}
