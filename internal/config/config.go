package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete notegarden configuration
type Config struct {
	Vault   VaultConfig   `yaml:"vault"`
	GitHub  GitHubConfig  `yaml:"github"`
	Mirror  MirrorConfig  `yaml:"mirror"`
	Webhook WebhookConfig `yaml:"webhook"`
	Paths   PathsConfig   `yaml:"paths"`
	Serve   ServeConfig   `yaml:"serve"`
}

// VaultConfig configures the local note vault
type VaultConfig struct {
	Dir string `yaml:"dir"`
}

// GitHubConfig configures the git-hosting publish target
type GitHubConfig struct {
	Owner      string `yaml:"owner"`
	Repo       string `yaml:"repo"`
	Branch     string `yaml:"branch"`
	APIBaseURL string `yaml:"api_base_url"`
	TokenFile  string `yaml:"token_file"`
	BasePath   string `yaml:"base_path"`
	ContentDir string `yaml:"content_dir"`
	AssetsDir  string `yaml:"assets_dir"`
	// FastForwardOnly disables forced branch updates. The default
	// (false) keeps last-writer-wins semantics: a concurrent push to
	// the branch between head read and ref update is overwritten.
	FastForwardOnly bool `yaml:"fast_forward_only"`
}

// MirrorConfig configures the local filesystem publish target
type MirrorConfig struct {
	RootDir   string `yaml:"root_dir"`
	NotesDir  string `yaml:"notes_dir"`
	AssetsDir string `yaml:"assets_dir"`
}

// WebhookConfig configures the post-publish restart webhook
type WebhookConfig struct {
	URL       string `yaml:"url"`
	TokenFile string `yaml:"token_file"`
}

// PathsConfig configures local state paths
type PathsConfig struct {
	StateDir string `yaml:"state_dir"`
}

// ServeConfig configures the timer-driven daemon mode
type ServeConfig struct {
	Interval time.Duration `yaml:"-"`
}

// UnmarshalYAML parses the interval from its "5m" / "90s" string form.
func (s *ServeConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Interval string `yaml:"interval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Interval == "" {
		return nil
	}
	d, err := time.ParseDuration(raw.Interval)
	if err != nil {
		return fmt.Errorf("invalid serve.interval: %w", err)
	}
	s.Interval = d
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
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
	c.Vault.Dir = os.ExpandEnv(c.Vault.Dir)
	c.GitHub.Owner = os.ExpandEnv(c.GitHub.Owner)
	c.GitHub.Repo = os.ExpandEnv(c.GitHub.Repo)
	c.GitHub.Branch = os.ExpandEnv(c.GitHub.Branch)
	c.GitHub.APIBaseURL = os.ExpandEnv(c.GitHub.APIBaseURL)
	c.GitHub.TokenFile = os.ExpandEnv(c.GitHub.TokenFile)
	c.GitHub.BasePath = os.ExpandEnv(c.GitHub.BasePath)
	c.Mirror.RootDir = os.ExpandEnv(c.Mirror.RootDir)
	c.Webhook.URL = os.ExpandEnv(c.Webhook.URL)
	c.Webhook.TokenFile = os.ExpandEnv(c.Webhook.TokenFile)
	c.Paths.StateDir = os.ExpandEnv(c.Paths.StateDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.GitHub.Branch == "" {
		c.GitHub.Branch = "main"
	}
	if c.GitHub.APIBaseURL == "" {
		c.GitHub.APIBaseURL = "https://api.github.com"
	}
	if c.GitHub.ContentDir == "" {
		c.GitHub.ContentDir = "content"
	}
	if c.GitHub.AssetsDir == "" {
		c.GitHub.AssetsDir = "assets"
	}
	if c.Mirror.NotesDir == "" {
		c.Mirror.NotesDir = "notes"
	}
	if c.Mirror.AssetsDir == "" {
		c.Mirror.AssetsDir = "assets"
	}
	if c.Serve.Interval == 0 {
		c.Serve.Interval = 5 * time.Minute
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Vault.Dir == "" {
		return fmt.Errorf("vault.dir is required")
	}
	if !filepath.IsAbs(c.Vault.Dir) {
		return fmt.Errorf("vault.dir must be an absolute path: %s", c.Vault.Dir)
	}

	if c.Paths.StateDir == "" {
		return fmt.Errorf("paths.state_dir is required")
	}
	if !filepath.IsAbs(c.Paths.StateDir) {
		return fmt.Errorf("paths.state_dir must be an absolute path: %s", c.Paths.StateDir)
	}

	// At least one publish target must be configured
	if !c.GitHub.Enabled() && !c.Mirror.Enabled() {
		return fmt.Errorf("no publish target configured: set github.owner/github.repo or mirror.root_dir")
	}

	if c.GitHub.Enabled() {
		if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
			return fmt.Errorf("github.owner and github.repo must both be set")
		}
		if c.GitHub.TokenFile == "" {
			return fmt.Errorf("github.token_file is required when the github target is configured")
		}
		if !strings.HasPrefix(c.GitHub.APIBaseURL, "https://") && !strings.HasPrefix(c.GitHub.APIBaseURL, "http://") {
			return fmt.Errorf("github.api_base_url must be an HTTP(S) URL: %s", c.GitHub.APIBaseURL)
		}
	}

	if c.Mirror.Enabled() && !filepath.IsAbs(c.Mirror.RootDir) {
		return fmt.Errorf("mirror.root_dir must be an absolute path: %s", c.Mirror.RootDir)
	}

	if c.Webhook.Enabled() {
		u, err := url.Parse(c.Webhook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("webhook.url must be an HTTP(S) URL: %s", c.Webhook.URL)
		}
		if !c.Mirror.Enabled() {
			return fmt.Errorf("webhook.url is set but no mirror target is configured (the webhook restarts the mirror's serving process)")
		}
	}

	if c.Serve.Interval < time.Second {
		return fmt.Errorf("serve.interval must be at least 1s: %s", c.Serve.Interval)
	}

	return nil
}

// Enabled reports whether the github target is configured
func (g GitHubConfig) Enabled() bool {
	return g.Owner != "" || g.Repo != ""
}

// Ref returns the branch reference in the short form the hosting API
// expects, e.g. "heads/main".
func (g GitHubConfig) Ref() string {
	return "heads/" + g.Branch
}

// Enabled reports whether the mirror target is configured
func (m MirrorConfig) Enabled() bool {
	return m.RootDir != ""
}

// Enabled reports whether the restart webhook is configured
func (w WebhookConfig) Enabled() bool {
	return w.URL != ""
}

// LedgerPath returns the path to the publication ledger database
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.StateDir, "ledger.db")
}
