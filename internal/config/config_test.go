package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"fanin/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "fanin")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Dispatch.Mode != config.DispatchModeLog {
		t.Fatalf("expected log dispatch by default, got %q", cfg.Dispatch.Mode)
	}
	if cfg.Signals.CompletedEvent != "ItemCompleted" || cfg.Signals.WorkDoneEvent != "WorkDone" {
		t.Fatalf("unexpected event names: %q %q", cfg.Signals.CompletedEvent, cfg.Signals.WorkDoneEvent)
	}
	if cfg.DefaultBatchTimeout().Seconds() != 300 {
		t.Fatalf("unexpected default batch timeout: %s", cfg.DefaultBatchTimeout())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	info, err := os.Stat(cfg.Paths.StateDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected state dir to exist: %v", err)
	}
	if filepath.Dir(cfg.DatabasePath()) != cfg.Paths.StateDir {
		t.Fatalf("database path %q outside state dir", cfg.DatabasePath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "fanin.toml")

	type payload struct {
		Paths struct {
			StateDir string `toml:"state_dir"`
		} `toml:"paths"`
		Gate struct {
			Name         string `toml:"name"`
			LeaseSeconds int    `toml:"lease_seconds"`
		} `toml:"gate"`
		Dispatch struct {
			Mode string `toml:"mode"`
			URL  string `toml:"url"`
		} `toml:"dispatch"`
	}
	custom := payload{}
	custom.Paths.StateDir = filepath.Join(tempDir, "state")
	custom.Gate.Name = " object-builder "
	custom.Gate.LeaseSeconds = 60
	custom.Dispatch.Mode = "HTTP"
	custom.Dispatch.URL = "http://worker.local/jobs"

	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempDir, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Gate.Name != "object-builder" {
		t.Fatalf("expected trimmed gate name, got %q", cfg.Gate.Name)
	}
	if cfg.LeaseTTL().Seconds() != 60 {
		t.Fatalf("unexpected lease ttl: %s", cfg.LeaseTTL())
	}
	if cfg.Dispatch.Mode != config.DispatchModeHTTP {
		t.Fatalf("expected dispatch mode normalized to http, got %q", cfg.Dispatch.Mode)
	}
}

func TestLoadReadsDotEnvNextToConfig(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "fanin.toml")
	if err := os.WriteFile(configPath, []byte("[paths]\nstate_dir = \""+filepath.ToSlash(filepath.Join(tempDir, "state"))+"\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, ".env"), []byte("FANIN_NTFY_TOPIC=https://ntfy.sh/from-env-file\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("FANIN_NTFY_TOPIC", "")
	os.Unsetenv("FANIN_NTFY_TOPIC")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/from-env-file" {
		t.Fatalf("expected ntfy topic from .env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestKafkaBrokersFromEnv(t *testing.T) {
	t.Setenv("FANIN_KAFKA_BROKERS", "broker-a:9092, broker-b:9092,broker-a:9092")
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Signals.KafkaEnabled = true

	path := filepath.Join(t.TempDir(), "fanin.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	got := strings.Join(loaded.Signals.KafkaBrokers, ",")
	if got != "broker-a:9092,broker-b:9092" {
		t.Fatalf("unexpected brokers: %q", got)
	}
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"zero lease", func(c *config.Config) { c.Gate.LeaseSeconds = 0 }, "gate.lease_seconds"},
		{"reap longer than lease", func(c *config.Config) { c.Gate.LeaseSeconds = 5; c.Gate.ReapIntervalSeconds = 10 }, "gate.reap_interval_seconds"},
		{"http without url", func(c *config.Config) { c.Dispatch.Mode = config.DispatchModeHTTP }, "dispatch.url"},
		{"relative url", func(c *config.Config) { c.Dispatch.Mode = config.DispatchModeHTTP; c.Dispatch.URL = "/jobs" }, "absolute URL"},
		{"kafka without brokers", func(c *config.Config) { c.Dispatch.Mode = config.DispatchModeKafka }, "dispatch.kafka_brokers"},
		{"unknown mode", func(c *config.Config) { c.Dispatch.Mode = "smtp" }, "dispatch.mode"},
		{"colon in event", func(c *config.Config) { c.Signals.CompletedEvent = "a:b" }, "signals.completed_event"},
		{"same event names", func(c *config.Config) { c.Signals.WorkDoneEvent = c.Signals.CompletedEvent }, "must differ"},
		{"zero cas retries", func(c *config.Config) { c.Store.CASRetries = 0 }, "store.cas_retries"},
		{"zero timeout", func(c *config.Config) { c.Batch.DefaultTimeoutSeconds = 0 }, "batch.default_timeout_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleLoads(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	t.Setenv("HOME", tempDir)
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if cfg.Gate.Name != "worker" {
		t.Fatalf("unexpected gate name from sample: %q", cfg.Gate.Name)
	}
}
