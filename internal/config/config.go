package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir   string `toml:"work_dir"`
	OutputDir string `toml:"output_dir"`
	BundleDir string `toml:"bundle_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
	APIToken  string `toml:"api_token"`
}

// Scheduler bounds batch execution.
type Scheduler struct {
	MaxConcurrent int `toml:"max_concurrent"`
	MaxRetries    int `toml:"max_retries"`
	RetryDelay    int `toml:"retry_delay"`
}

// Retention controls how long jobs, batches, and delivered artifacts live.
// All values are seconds.
type Retention struct {
	JobExpiry     int `toml:"job_expiry"`
	BatchExpiry   int `toml:"batch_expiry"`
	SweepInterval int `toml:"sweep_interval"`
	DeliveryGrace int `toml:"delivery_grace"`
	BundleGrace   int `toml:"bundle_grace"`
	CancelWait    int `toml:"cancel_wait"`
}

// Progress controls how often progress writes reach the registry.
type Progress struct {
	UpdatesPerSecond float64 `toml:"updates_per_second"`
}

// Source configures the yt-dlp source provider.
type Source struct {
	Binary         string   `toml:"binary"`
	ResolveTimeout int      `toml:"resolve_timeout"`
	ExtraArgs      []string `toml:"extra_args"`
}

// Muxer configures the ffmpeg muxer.
type Muxer struct {
	Binary string `toml:"binary"`
}

// History controls the terminal-outcome ledger.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tubemux.
//
// Configuration sections by subsystem:
//   - Paths: scratch, output, and bundle directories plus the API bind address
//   - Scheduler: batch admission limit and retry policy
//   - Retention: expiry sweep and delivery grace periods
//   - Progress: progress update coalescing
//   - Source: yt-dlp invocation
//   - Muxer: ffmpeg invocation
//   - History: SQLite ledger of finished jobs
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Scheduler Scheduler `toml:"scheduler"`
	Retention Retention `toml:"retention"`
	Progress  Progress  `toml:"progress"`
	Source    Source    `toml:"source"`
	Muxer     Muxer     `toml:"muxer"`
	History   History   `toml:"history"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tubemux.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.BundleDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.History.Enabled && c.History.Path != "" {
		if err := os.MkdirAll(filepath.Dir(c.History.Path), 0o755); err != nil {
			return fmt.Errorf("create history directory: %w", err)
		}
	}
	return nil
}

// SourceBinary returns the yt-dlp executable name.
func (c *Config) SourceBinary() string {
	if strings.TrimSpace(c.Source.Binary) == "" {
		return defaultSourceBinary
	}
	return c.Source.Binary
}

// MuxerBinary returns the ffmpeg executable name.
func (c *Config) MuxerBinary() string {
	if strings.TrimSpace(c.Muxer.Binary) == "" {
		return defaultMuxerBinary
	}
	return c.Muxer.Binary
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "tubemuxd.lock")
}

// RetryDelay returns the pause between batch retry attempts.
func (c *Config) RetryDelay() time.Duration {
	return seconds(c.Scheduler.RetryDelay)
}

// JobExpiry returns the age after which standalone jobs are swept.
func (c *Config) JobExpiry() time.Duration {
	return seconds(c.Retention.JobExpiry)
}

// BatchExpiry returns the age after which batches are swept.
func (c *Config) BatchExpiry() time.Duration {
	return seconds(c.Retention.BatchExpiry)
}

// SweepInterval returns the registry sweep period.
func (c *Config) SweepInterval() time.Duration {
	return seconds(c.Retention.SweepInterval)
}

// DeliveryGrace returns the delay between full delivery of a job output and its deletion.
func (c *Config) DeliveryGrace() time.Duration {
	return seconds(c.Retention.DeliveryGrace)
}

// BundleGrace returns the delay between full delivery of a bundle and its deletion.
func (c *Config) BundleGrace() time.Duration {
	return seconds(c.Retention.BundleGrace)
}

// CancelWait bounds how long a delete waits for an active executor to exit.
func (c *Config) CancelWait() time.Duration {
	return seconds(c.Retention.CancelWait)
}

// ResolveTimeout bounds a single source resolution.
func (c *Config) ResolveTimeout() time.Duration {
	return seconds(c.Source.ResolveTimeout)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
