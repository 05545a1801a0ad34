package config

const (
	defaultConfigPath         = "~/.config/tubemux/config.toml"
	defaultWorkDir            = "~/.local/share/tubemux/work"
	defaultOutputDir          = "~/.local/share/tubemux/output"
	defaultBundleDir          = "~/.local/share/tubemux/bundles"
	defaultLogDir             = "~/.local/share/tubemux/logs"
	defaultHistoryPath        = "~/.local/share/tubemux/history.db"
	defaultAPIBind            = "127.0.0.1:7488"
	defaultMaxConcurrent      = 3
	defaultMaxRetries         = 2
	defaultRetryDelay         = 3
	defaultJobExpiry          = 3600
	defaultBatchExpiry        = 21600
	defaultSweepInterval      = 300
	defaultDeliveryGrace      = 60
	defaultBundleGrace        = 60
	defaultCancelWait         = 10
	defaultUpdatesPerSecond   = 10.0
	defaultSourceBinary       = "yt-dlp"
	defaultSourceResolveLimit = 60
	defaultMuxerBinary        = "ffmpeg"
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:   defaultWorkDir,
			OutputDir: defaultOutputDir,
			BundleDir: defaultBundleDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Scheduler: Scheduler{
			MaxConcurrent: defaultMaxConcurrent,
			MaxRetries:    defaultMaxRetries,
			RetryDelay:    defaultRetryDelay,
		},
		Retention: Retention{
			JobExpiry:     defaultJobExpiry,
			BatchExpiry:   defaultBatchExpiry,
			SweepInterval: defaultSweepInterval,
			DeliveryGrace: defaultDeliveryGrace,
			BundleGrace:   defaultBundleGrace,
			CancelWait:    defaultCancelWait,
		},
		Progress: Progress{
			UpdatesPerSecond: defaultUpdatesPerSecond,
		},
		Source: Source{
			Binary:         defaultSourceBinary,
			ResolveTimeout: defaultSourceResolveLimit,
		},
		Muxer: Muxer{
			Binary: defaultMuxerBinary,
		},
		History: History{
			Enabled: true,
			Path:    defaultHistoryPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
