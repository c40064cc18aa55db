package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "bot.yaml", `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
  rate_per_sec: 25
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: ./primeboard.db
leaderboard:
  size: 10
  metrics: [hacks, xm_collected]
cleanup:
  delay: 5m
timezone: Europe/Berlin
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Leaderboard.Metrics) != 2 || cfg.Leaderboard.Metrics[0] != "hacks" {
		t.Errorf("metrics = %v", cfg.Leaderboard.Metrics)
	}
	if cfg.Timezone != "Europe/Berlin" {
		t.Errorf("timezone = %q", cfg.Timezone)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get did not return the committed config")
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "bot.yaml", `
telegram:
  token: "x"
  pol_timeout: "10s"
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
storage:
  path: ./db
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected unknown-key error")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("cleanup.delay", "5m"); err != nil || d != 5*time.Minute {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("cleanup.delay", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("cleanup.delay", "five minutes"); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := ParseDurationField("cleanup.delay", "-1s"); err == nil {
		t.Fatal("expected negative rejection")
	}
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{
		Telegram:    TelegramConfig{Token: "a", RatePerSec: 25},
		Leaderboard: LeaderboardConfig{Size: 10},
	}
	newCfg := &Config{
		Telegram:    TelegramConfig{Token: "a", RatePerSec: 25},
		Leaderboard: LeaderboardConfig{Size: 25},
		Timezone:    "UTC",
	}

	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := map[string]bool{"leaderboard": true, "timezone": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v", changed)
	}
	for _, c := range changed {
		if !want[c] {
			t.Fatalf("unexpected section %q in %v", c, changed)
		}
	}
}
