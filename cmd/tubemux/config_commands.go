package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tubemux/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check the tubemuxd configuration",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample config for tubemuxd",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := sampleTarget(path)
			if err != nil {
				return err
			}
			if !force {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("%s already exists; pass --force to replace it", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("inspect %s: %w", target, err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set paths.api_token or TUBEMUX_API_TOKEN before binding the API to a non-loopback address.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Where to write the file (default: the tubemuxd config path)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Replace an existing file")
	return cmd
}

func sampleTarget(path string) (string, error) {
	if path = strings.TrimSpace(path); path == "" {
		return config.DefaultConfigPath()
	}
	return config.ExpandPath(path)
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the config, create its directories, and summarize it",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			summarizeConfig(cmd.OutOrStdout(), cfg, path, exists)
			return nil
		},
	}
}

func summarizeConfig(out io.Writer, cfg *config.Config, path string, exists bool) {
	if exists {
		fmt.Fprintf(out, "Config path: %s\n", path)
	} else {
		fmt.Fprintf(out, "Config path: %s (missing, using defaults)\n", path)
	}
	fmt.Fprintf(out, "API bind:    %s (token required: %s)\n", cfg.Paths.APIBind, yesNo(cfg.Paths.APIToken != ""))
	fmt.Fprintf(out, "Tools:       %s, %s\n", cfg.SourceBinary(), cfg.MuxerBinary())
	fmt.Fprintf(out, "Batch limit: %d concurrent, %d retries\n", cfg.Scheduler.MaxConcurrent, cfg.Scheduler.MaxRetries)
	fmt.Fprintf(out, "Expiry:      jobs %s, batches %s\n", cfg.JobExpiry(), cfg.BatchExpiry())
	fmt.Fprintln(out, "Configuration valid")
}
