package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if c.Progress.UpdatesPerSecond <= 0 {
		return errors.New("progress.updates_per_second must be positive")
	}
	if c.Source.ResolveTimeout <= 0 {
		return errors.New("source.resolve_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return errors.New("scheduler.max_concurrent must be positive")
	}
	if c.Scheduler.MaxRetries < 0 {
		return errors.New("scheduler.max_retries must be >= 0")
	}
	if c.Scheduler.RetryDelay < 0 {
		return errors.New("scheduler.retry_delay must be >= 0")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if err := ensurePositiveMap(map[string]int{
		"retention.job_expiry":     c.Retention.JobExpiry,
		"retention.batch_expiry":   c.Retention.BatchExpiry,
		"retention.sweep_interval": c.Retention.SweepInterval,
		"retention.cancel_wait":    c.Retention.CancelWait,
	}); err != nil {
		return err
	}
	if c.Retention.DeliveryGrace < 0 {
		return errors.New("retention.delivery_grace must be >= 0")
	}
	if c.Retention.BundleGrace < 0 {
		return errors.New("retention.bundle_grace must be >= 0")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
