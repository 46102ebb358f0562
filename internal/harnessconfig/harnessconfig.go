// Package harnessconfig loads the project-local HarnessConfig: retry
// tunables, runtime thresholds, timeouts, gate commands, and model
// selection, from a YAML file with environment-variable overrides.
//
// Wired through spf13/viper + gopkg.in/yaml.v3 so environment overrides
// layer cleanly onto the YAML file without hand-rolled precedence
// handling.
package harnessconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Fr3nn3r/ada-harness/internal/types"
)

// RetryConfig mirrors internal/retry.Config's tunables, duplicated here
// as the on-disk/override shape so retry.Config can be constructed from
// it without importing harnessconfig into retry (which must stay free of
// I/O concerns).
type RetryConfig struct {
	BaseSeconds          float64 `mapstructure:"base_seconds" yaml:"base_seconds"`
	RateLimitBaseSeconds float64 `mapstructure:"rate_limit_base_seconds" yaml:"rate_limit_base_seconds"`
	ExponentialBase      float64 `mapstructure:"exponential_base" yaml:"exponential_base"`
	MaxDelaySeconds      float64 `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds"`
	Jitter               float64 `mapstructure:"jitter" yaml:"jitter"`
	MaxRetries           int     `mapstructure:"max_retries" yaml:"max_retries"`
}

// HarnessConfig is the full project configuration, loaded once at
// startup and consulted by the Scheduler, Session Runtime, and
// Verification Pipeline.
type HarnessConfig struct {
	SessionMode      string `mapstructure:"session_mode" yaml:"session_mode"` // "subprocess" | "streaming"
	Model            string `mapstructure:"model" yaml:"model"`
	ProgressFile     string `mapstructure:"progress_file" yaml:"progress_file"`
	BacklogFile      string `mapstructure:"backlog_file" yaml:"backlog_file"`
	InitScript       string `mapstructure:"init_script" yaml:"init_script"`
	AutoCommit       bool   `mapstructure:"auto_commit" yaml:"auto_commit"`
	RunTestsBeforeCommit bool `mapstructure:"run_tests_before_commit" yaml:"run_tests_before_commit"`
	MaxSessions      int    `mapstructure:"max_sessions" yaml:"max_sessions"`
	TestCommand      string `mapstructure:"test_command" yaml:"test_command"`

	ContextThresholdPercent float64 `mapstructure:"context_threshold_percent" yaml:"context_threshold_percent"`
	SessionTimeoutSeconds   int     `mapstructure:"session_timeout_seconds" yaml:"session_timeout_seconds"`
	SilenceWindowSeconds    int     `mapstructure:"silence_window_seconds" yaml:"silence_window_seconds"`

	AllowedTools  []string `mapstructure:"allowed_tools" yaml:"allowed_tools"`
	CLIMaxTurns   int      `mapstructure:"cli_max_turns" yaml:"cli_max_turns"`

	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	DefaultQualityGates types.QualityGates `mapstructure:"default_quality_gates" yaml:"default_quality_gates"`

	ProgressRotationThresholdKB int `mapstructure:"progress_rotation_threshold_kb" yaml:"progress_rotation_threshold_kb"`
	ProgressKeepEntries         int `mapstructure:"progress_keep_entries" yaml:"progress_keep_entries"`
}

// defaults mirrors original_source/models.py::HarnessConfig's field
// defaults.
func defaults(v *viper.Viper) {
	v.SetDefault("session_mode", "subprocess")
	v.SetDefault("model", "claude-opus-4-5-20251101")
	v.SetDefault("progress_file", "claude-progress.txt")
	v.SetDefault("backlog_file", "feature-list.json")
	v.SetDefault("auto_commit", true)
	v.SetDefault("run_tests_before_commit", true)
	v.SetDefault("max_sessions", 0) // 0 == unbounded
	v.SetDefault("test_command", "")

	v.SetDefault("context_threshold_percent", 70.0)
	v.SetDefault("session_timeout_seconds", 1800)
	v.SetDefault("silence_window_seconds", 300)

	v.SetDefault("cli_max_turns", 100)

	v.SetDefault("retry.base_seconds", 5.0)
	v.SetDefault("retry.rate_limit_base_seconds", 30.0)
	v.SetDefault("retry.exponential_base", 2.0)
	v.SetDefault("retry.max_delay_seconds", 300.0)
	v.SetDefault("retry.jitter", 0.10)
	v.SetDefault("retry.max_retries", 3)

	v.SetDefault("progress_rotation_threshold_kb", 50)
	v.SetDefault("progress_keep_entries", 100)
}

// Load reads configPath (a YAML file, typically .ada/config.json's
// sibling or a dedicated ada.config.yaml at the project root) layering
// environment-variable overrides prefixed ADA_ on top, e.g.
// ADA_CONTEXT_THRESHOLD_PERCENT=80. A missing file is not an error: the
// project simply runs on defaults plus any env overrides.
func Load(configPath string) (*HarnessConfig, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ADA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		_, isNotFoundErr := err.(viper.ConfigFileNotFoundError)
		if !isNotFoundErr && !os.IsNotExist(err) {
			return nil, fmt.Errorf("harnessconfig: read %s: %w", configPath, err)
		}
	}

	var cfg HarnessConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("harnessconfig: unmarshal: %w", err)
	}
	return &cfg, nil
}

// SessionTimeout returns the configured session hard timeout as a
// time.Duration, for direct use by agentrun.Config.
func (c *HarnessConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// SilenceWindow returns the configured stall-detector silence window.
func (c *HarnessConfig) SilenceWindow() time.Duration {
	return time.Duration(c.SilenceWindowSeconds) * time.Second
}

// WriteTemplate writes a commented starter ada.config.yaml at path built
// from the same defaults Load falls back to, unless a file already
// exists there. `init` calls this so a freshly-initialized project has a
// config file to edit instead of relying on defaults invisibly.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("harnessconfig: stat %s: %w", path, err)
	}

	v := viper.New()
	defaults(v)
	var cfg HarnessConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("harnessconfig: unmarshal defaults: %w", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("harnessconfig: marshal template: %w", err)
	}
	header := "# ada-harness project configuration. Unset fields fall back to the\n" +
		"# defaults baked into internal/harnessconfig; every field that has a\n" +
		"# built-in default can also be overridden with an ADA_-prefixed\n" +
		"# environment variable, nested keys joined by _, e.g.\n" +
		"# ADA_CONTEXT_THRESHOLD_PERCENT=80 or ADA_RETRY_MAX_RETRIES=5.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}
