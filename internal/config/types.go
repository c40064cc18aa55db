package config

// Config is the full on-disk configuration. All duration fields are Go
// duration strings (e.g. "500ms", "10s", "5m"); zero values fall back to
// the owning service's defaults.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Runner      RunnerConfig      `json:"runner,omitempty"`
	Leaderboard LeaderboardConfig `json:"leaderboard,omitempty"`
	Cleanup     CleanupConfig     `json:"cleanup,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Ops         OpsConfig         `json:"ops,omitempty"`

	// Timezone anchors leaderboard windows and the maintenance schedule,
	// e.g. "Europe/Berlin". Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout, default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RatePerSec caps outbound API calls.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// RunnerConfig controls the background job runner.
type RunnerConfig struct {
	Workers       int    `json:"workers,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	LeaseTimeout  string `json:"lease_timeout,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	MaxAttempts   int    `json:"max_attempts,omitempty"`
}

// LeaderboardConfig controls the ranked-board cache.
type LeaderboardConfig struct {
	Size int `json:"size,omitempty"`
	// Metrics is the secondary metric whitelist (snake_case stat names).
	Metrics         []string `json:"metrics,omitempty"`
	KeepGenerations int      `json:"keep_generations,omitempty"`
}

// CleanupConfig controls delayed deletion of group chat messages.
type CleanupConfig struct {
	Delay       string `json:"delay,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// MaintenanceConfig controls the periodic housekeeping schedule.
type MaintenanceConfig struct {
	RecomputeSpec string `json:"recompute_spec,omitempty"`
	PruneSpec     string `json:"prune_spec,omitempty"`
	JobRetention  string `json:"job_retention,omitempty"`
}

// OpsConfig controls the operational HTTP endpoint (health, metrics,
// pprof). Bind it to loopback unless you know what you are doing.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9090"
}
