package config

import (
	"reflect"
	"sort"
	"strings"

	"primeboard/pkg/logx"
)

// SummarizeChange returns the list of changed sections plus structured
// attrs safe for logging (the Telegram token never appears).
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.RatePerSec != newCfg.Telegram.RatePerSec ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.rate_per_sec", newCfg.Telegram.RatePerSec),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Runner, newCfg.Runner) {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Int("runner.workers", newCfg.Runner.Workers),
			logx.Int("runner.batch_size", newCfg.Runner.BatchSize),
			logx.Int("runner.max_attempts", newCfg.Runner.MaxAttempts),
		)
	}

	if !reflect.DeepEqual(oldCfg.Leaderboard, newCfg.Leaderboard) {
		changed = append(changed, "leaderboard")
		attrs = append(attrs,
			logx.Int("leaderboard.size", newCfg.Leaderboard.Size),
			logx.Int("leaderboard.metrics", len(newCfg.Leaderboard.Metrics)),
			logx.Int("leaderboard.keep_generations", newCfg.Leaderboard.KeepGenerations),
		)
	}

	if !reflect.DeepEqual(oldCfg.Cleanup, newCfg.Cleanup) {
		changed = append(changed, "cleanup")
		attrs = append(attrs,
			logx.String("cleanup.delay", strings.TrimSpace(newCfg.Cleanup.Delay)),
			logx.Int("cleanup.max_attempts", newCfg.Cleanup.MaxAttempts),
		)
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.recompute_spec", strings.TrimSpace(newCfg.Maintenance.RecomputeSpec)),
			logx.String("maintenance.prune_spec", strings.TrimSpace(newCfg.Maintenance.PruneSpec)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
		)
	}

	if strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newCfg.Timezone)))
	}

	sort.Strings(changed)
	return changed, attrs
}
