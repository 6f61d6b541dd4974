package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete gitcrew configuration.
type Config struct {
	Git       GitConfig       `mapstructure:"git"`
	Session   SessionConfig   `mapstructure:"session"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Paths     PathsConfig     `mapstructure:"paths"`
}

// GitConfig controls repository-level behavior.
type GitConfig struct {
	// MainBranch is the repository trunk the integration branch is cut from.
	MainBranch string `mapstructure:"main_branch"`
	// RemoteTimeoutSeconds bounds push/pull calls against the remote.
	RemoteTimeoutSeconds int `mapstructure:"remote_timeout_seconds"`
	// CreatePR gates the optional post-merge PR-creation hook.
	CreatePR bool `mapstructure:"create_pr"`
}

// SessionConfig controls orchestration behavior.
type SessionConfig struct {
	// CheckIntervalSeconds is the health-loop period for stall detection.
	// Independent of telemetry.collect_interval_seconds.
	CheckIntervalSeconds int `mapstructure:"check_interval"`
	// BranchPrefix is prepended to feature branch names when the task file
	// does not name a branch explicitly.
	BranchPrefix string `mapstructure:"branch_prefix"`
	// StatusCallbackURL, when set, receives a POST per task status
	// transition keyed by work_item_id.
	StatusCallbackURL string `mapstructure:"status_callback_url"`
}

// WorkerConfig bounds the task execution loop.
type WorkerConfig struct {
	// MaxIterations caps reasoning-loop turns per task.
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxTokens caps cumulative tokens per task.
	MaxTokens int64 `mapstructure:"max_tokens"`
}

// BackendConfig selects and configures the reasoning backend.
type BackendConfig struct {
	// Model is the model identifier sent to the completion API.
	Model string `mapstructure:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `mapstructure:"api_key_env"`
	// BaseURL overrides the completion API endpoint (empty = provider default).
	BaseURL string `mapstructure:"base_url"`
	// RequestTimeoutSeconds bounds one completion call.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// TelemetryConfig controls the collector and its sink.
type TelemetryConfig struct {
	// CollectIntervalSeconds is the snapshot period of the collector loop.
	CollectIntervalSeconds int `mapstructure:"collect_interval_seconds"`
	// SinkURL is the HTTP endpoint snapshots are posted to. Ignored in
	// headless mode.
	SinkURL string `mapstructure:"sink_url"`
	// SinkTimeoutSeconds bounds one snapshot POST.
	SinkTimeoutSeconds int `mapstructure:"sink_timeout_seconds"`
	// GitActivityCap, ToolCallCap and ActivityLogCap size the per-agent ring
	// buffers.
	GitActivityCap int `mapstructure:"git_activity_cap"`
	ToolCallCap    int `mapstructure:"tool_call_cap"`
	ActivityLogCap int `mapstructure:"activity_log_cap"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
}

// PathsConfig controls where gitcrew stores ephemeral state.
type PathsConfig struct {
	// WorkspaceDir is where worktrees and telemetry files are created.
	// If empty, defaults to ".gitcrew" relative to the repository root.
	// Supports ~ for home directory expansion.
	WorkspaceDir string `mapstructure:"workspace_dir"`
}

// ResolveWorkspaceDir returns the resolved workspace directory path.
func (p *PathsConfig) ResolveWorkspaceDir(repoDir string) string {
	if p.WorkspaceDir == "" {
		return filepath.Join(repoDir, ".gitcrew")
	}

	path := p.WorkspaceDir
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoDir, path)
	}
	return path
}

// CheckInterval returns the health-loop period as a time.Duration.
func (s *SessionConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// CollectInterval returns the telemetry snapshot period as a time.Duration.
func (t *TelemetryConfig) CollectInterval() time.Duration {
	return time.Duration(t.CollectIntervalSeconds) * time.Second
}

// RemoteTimeout returns the remote-call timeout as a time.Duration.
func (g *GitConfig) RemoteTimeout() time.Duration {
	return time.Duration(g.RemoteTimeoutSeconds) * time.Second
}

// RequestTimeout returns the completion-call timeout as a time.Duration.
func (b *BackendConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

// SinkTimeout returns the snapshot POST timeout as a time.Duration.
func (t *TelemetryConfig) SinkTimeout() time.Duration {
	return time.Duration(t.SinkTimeoutSeconds) * time.Second
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Git: GitConfig{
			MainBranch:           "main",
			RemoteTimeoutSeconds: 60,
			CreatePR:             false,
		},
		Session: SessionConfig{
			CheckIntervalSeconds: 60,
			BranchPrefix:         "gitcrew",
		},
		Worker: WorkerConfig{
			MaxIterations: 50,
			MaxTokens:     500_000,
		},
		Backend: BackendConfig{
			Model:                 "gpt-4o",
			APIKeyEnv:             "OPENAI_API_KEY",
			BaseURL:               "",
			RequestTimeoutSeconds: 120,
		},
		Telemetry: TelemetryConfig{
			CollectIntervalSeconds: 2,
			SinkURL:                "",
			SinkTimeoutSeconds:     5,
			GitActivityCap:         15,
			ToolCallCap:            30,
			ActivityLogCap:         80,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Paths: PathsConfig{
			WorkspaceDir: "",
		},
	}
}

// SetDefaults registers default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("git.main_branch", defaults.Git.MainBranch)
	viper.SetDefault("git.remote_timeout_seconds", defaults.Git.RemoteTimeoutSeconds)
	viper.SetDefault("git.create_pr", defaults.Git.CreatePR)

	viper.SetDefault("session.check_interval", defaults.Session.CheckIntervalSeconds)
	viper.SetDefault("session.branch_prefix", defaults.Session.BranchPrefix)
	viper.SetDefault("session.status_callback_url", defaults.Session.StatusCallbackURL)

	viper.SetDefault("worker.max_iterations", defaults.Worker.MaxIterations)
	viper.SetDefault("worker.max_tokens", defaults.Worker.MaxTokens)

	viper.SetDefault("backend.model", defaults.Backend.Model)
	viper.SetDefault("backend.api_key_env", defaults.Backend.APIKeyEnv)
	viper.SetDefault("backend.base_url", defaults.Backend.BaseURL)
	viper.SetDefault("backend.request_timeout_seconds", defaults.Backend.RequestTimeoutSeconds)

	viper.SetDefault("telemetry.collect_interval_seconds", defaults.Telemetry.CollectIntervalSeconds)
	viper.SetDefault("telemetry.sink_url", defaults.Telemetry.SinkURL)
	viper.SetDefault("telemetry.sink_timeout_seconds", defaults.Telemetry.SinkTimeoutSeconds)
	viper.SetDefault("telemetry.git_activity_cap", defaults.Telemetry.GitActivityCap)
	viper.SetDefault("telemetry.tool_call_cap", defaults.Telemetry.ToolCallCap)
	viper.SetDefault("telemetry.activity_log_cap", defaults.Telemetry.ActivityLogCap)

	viper.SetDefault("logging.level", defaults.Logging.Level)

	viper.SetDefault("paths.workspace_dir", defaults.Paths.WorkspaceDir)
}

// Load reads the configuration from viper into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gitcrew")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gitcrew"
	}
	return filepath.Join(home, ".config", "gitcrew")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidationErrors aggregates multiple validation failures into one error.
type ValidationErrors []error

// Error joins all validation failures into a single message.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() []error {
	var errs []error

	if c.Git.MainBranch == "" {
		errs = append(errs, fmt.Errorf("git.main_branch must not be empty"))
	}
	if c.Session.CheckIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("session.check_interval must be positive, got %d", c.Session.CheckIntervalSeconds))
	}
	if c.Telemetry.CollectIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("telemetry.collect_interval_seconds must be positive, got %d", c.Telemetry.CollectIntervalSeconds))
	}
	if c.Worker.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_iterations must be positive, got %d", c.Worker.MaxIterations))
	}
	if c.Worker.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_tokens must be positive, got %d", c.Worker.MaxTokens))
	}
	for _, cap := range []struct {
		name string
		val  int
	}{
		{"telemetry.git_activity_cap", c.Telemetry.GitActivityCap},
		{"telemetry.tool_call_cap", c.Telemetry.ToolCallCap},
		{"telemetry.activity_log_cap", c.Telemetry.ActivityLogCap},
	} {
		if cap.val <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", cap.name, cap.val))
		}
	}

	level := strings.ToUpper(c.Logging.Level)
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	return errs
}
