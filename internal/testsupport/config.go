package testsupport

import (
	"path/filepath"
	"testing"

	"fanin/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with a unique temp state directory per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Batch.DefaultTimeoutSeconds = 5
	cfgVal.Gate.RetryIntervalSeconds = 1
	cfgVal.Dispatch.BackoffMillis = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIToken requires bearer authentication on the generated config.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithDispatchMode overrides the dispatch mode and target URL.
func WithDispatchMode(mode, url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.Mode = mode
		b.cfg.Dispatch.URL = url
	}
}

// WithGateRetryInterval sets how long a busy dispatch waits before polling the gate again.
func WithGateRetryInterval(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Gate.RetryIntervalSeconds = seconds
	}
}

// WithoutDispatch disables queuing work for accepted signals.
func WithoutDispatch() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Batch.DispatchOnSignal = false
	}
}

// WithNtfyTopic points notifications at a test endpoint.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
