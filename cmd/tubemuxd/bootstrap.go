package main

import (
	"fmt"
	"log/slog"

	"tubemux/internal/config"
	"tubemux/internal/daemon"
	"tubemux/internal/history"
	"tubemux/internal/muxer"
	"tubemux/internal/source"
	"tubemux/internal/workflow"
)

// build wires the yt-dlp provider, the ffmpeg muxer, the optional history
// ledger, and the workflow manager into a daemon.
func build(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	var (
		store *history.Store
		opts  []workflow.ManagerOption
	)
	if cfg.History.Enabled {
		var err error
		store, err = history.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		opts = append(opts, workflow.WithHistory(store))
	}

	provider := source.NewYTDLP(cfg.SourceBinary(), cfg.Source.ExtraArgs, cfg.ResolveTimeout(), logger)
	mux := muxer.NewFFmpeg(cfg.MuxerBinary(), logger)
	mgr := workflow.NewManager(cfg, provider, mux, logger, opts...)

	d, err := daemon.New(cfg, logger, mgr, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	return d, nil
}
