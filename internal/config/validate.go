package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateGate(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateSignals(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBatch() error {
	return ensurePositiveMap(map[string]int{
		"batch.default_timeout_seconds": c.Batch.DefaultTimeoutSeconds,
		"batch.max_items":               c.Batch.MaxItems,
	})
}

func (c *Config) validateGate() error {
	if err := ensurePositiveMap(map[string]int{
		"gate.lease_seconds":          c.Gate.LeaseSeconds,
		"gate.retry_interval_seconds": c.Gate.RetryIntervalSeconds,
		"gate.reap_interval_seconds":  c.Gate.ReapIntervalSeconds,
	}); err != nil {
		return err
	}
	if c.Gate.ReapIntervalSeconds > c.Gate.LeaseSeconds {
		return errors.New("gate.reap_interval_seconds must not exceed gate.lease_seconds")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if err := ensurePositiveMap(map[string]int{
		"dispatch.request_timeout": c.Dispatch.RequestTimeout,
		"dispatch.max_attempts":    c.Dispatch.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Dispatch.BackoffMillis < 0 {
		return errors.New("dispatch.backoff_ms must be >= 0")
	}
	switch c.Dispatch.Mode {
	case DispatchModeLog:
	case DispatchModeHTTP:
		if c.Dispatch.URL == "" {
			return errors.New("dispatch.url must be set when dispatch.mode is \"http\" (or set FANIN_DISPATCH_URL)")
		}
		parsed, err := url.Parse(c.Dispatch.URL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("dispatch.url %q is not an absolute URL", c.Dispatch.URL)
		}
	case DispatchModeKafka:
		if len(c.Dispatch.KafkaBrokers) == 0 {
			return errors.New("dispatch.kafka_brokers must be set when dispatch.mode is \"kafka\" (or set FANIN_KAFKA_BROKERS)")
		}
	default:
		return fmt.Errorf("dispatch.mode: unsupported value %q", c.Dispatch.Mode)
	}
	return nil
}

func (c *Config) validateSignals() error {
	for key, value := range map[string]string{
		"signals.completed_event": c.Signals.CompletedEvent,
		"signals.work_done_event": c.Signals.WorkDoneEvent,
	} {
		if strings.Contains(value, ":") {
			return fmt.Errorf("%s must not contain ':'", key)
		}
	}
	if c.Signals.CompletedEvent == c.Signals.WorkDoneEvent {
		return errors.New("signals.completed_event and signals.work_done_event must differ")
	}
	if c.Signals.KafkaEnabled && len(c.Signals.KafkaBrokers) == 0 {
		return errors.New("signals.kafka_brokers must be set when signals.kafka_enabled is true (or set FANIN_KAFKA_BROKERS)")
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.CASRetries <= 0 {
		return errors.New("store.cas_retries must be positive")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
