package preflight

import (
	"context"

	"fanin/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Names of checks RunAll may emit.
const (
	NameStateDir     = "State directory"
	NameDispatch     = "Dispatch endpoint"
	NameSignalKafka  = "Signal brokers"
	NameNotification = "Notifications"
)

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckDirectoryAccess(NameStateDir, cfg.Paths.StateDir)}

	switch cfg.Dispatch.Mode {
	case config.DispatchModeHTTP:
		results = append(results, CheckHTTPEndpoint(ctx, NameDispatch, cfg.Dispatch.URL))
	case config.DispatchModeKafka:
		results = append(results, CheckKafkaBrokers(ctx, NameDispatch, cfg.Dispatch.KafkaBrokers))
	}

	if cfg.Signals.KafkaEnabled {
		results = append(results, CheckKafkaBrokers(ctx, NameSignalKafka, cfg.Signals.KafkaBrokers))
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckHTTPEndpoint(ctx, NameNotification, cfg.Notifications.NtfyTopic))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
