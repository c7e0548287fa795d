package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoConfig holds per-repository overrides from the config file.
type RepoConfig struct {
	// WorktreeScript replaces the default `git worktree add` invocation.
	// Supports {worktreePath}, {branchName} and {localPath} placeholders.
	WorktreeScript string `yaml:"worktreeScript,omitempty"`
	// PostCreateScript runs fire-and-forget in a freshly created worktree.
	PostCreateScript string `yaml:"postCreateScript,omitempty"`
}

// Config is the server runtime configuration. Values come from the
// environment first, then from ~/.vibetree/config.yaml when present.
type Config struct {
	Port    int    `yaml:"port,omitempty"`
	HomeDir string `yaml:"-"`
	DBPath  string `yaml:"dbPath,omitempty"`
	Shell   string `yaml:"-"`
	// GitHubToken is forwarded to external content fetches when present.
	GitHubToken string `yaml:"-"`
	// Repos maps repo id to per-repo overrides.
	Repos map[string]RepoConfig `yaml:"repos,omitempty"`
}

const defaultPort = 8181

// Load builds the runtime configuration. A missing config file is not an
// error; a malformed one is.
func Load() (*Config, error) {
	home := os.Getenv("VIBETREE_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			userHome = "."
		}
		home = filepath.Join(userHome, ".vibetree")
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:        defaultPort,
		HomeDir:     home,
		DBPath:      filepath.Join(home, "vibetree.db"),
		Shell:       shellFromEnv(),
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
		Repos:       make(map[string]RepoConfig),
	}

	if data, err := os.ReadFile(filepath.Join(home, "config.yaml")); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if port := os.Getenv("VIBETREE_PORT"); port != "" {
		if p, ok := parsePort(port); ok {
			cfg.Port = p
		}
	}
	if cfg.Repos == nil {
		cfg.Repos = make(map[string]RepoConfig)
	}

	return cfg, nil
}

// RepoOverrides returns the configured overrides for a repo id, zero-valued
// when none exist.
func (c *Config) RepoOverrides(repoID string) RepoConfig {
	return c.Repos[repoID]
}

func shellFromEnv() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

func parsePort(s string) (int, bool) {
	p := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		p = p*10 + int(r-'0')
	}
	if p <= 0 || p > 65535 {
		return 0, false
	}
	return p, true
}
