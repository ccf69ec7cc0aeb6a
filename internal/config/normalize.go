package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeGate()
	c.normalizeDispatch()
	c.normalizeSignals()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("FANIN_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeGate() {
	c.Gate.Name = strings.TrimSpace(c.Gate.Name)
	if c.Gate.Name == "" {
		c.Gate.Name = defaultGateName
	}
}

func (c *Config) normalizeDispatch() {
	c.Dispatch.Mode = strings.ToLower(strings.TrimSpace(c.Dispatch.Mode))
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = defaultDispatchMode
	}
	c.Dispatch.URL = strings.TrimSpace(c.Dispatch.URL)
	if c.Dispatch.URL == "" {
		if value, ok := os.LookupEnv("FANIN_DISPATCH_URL"); ok {
			c.Dispatch.URL = strings.TrimSpace(value)
		}
	}
	c.Dispatch.KafkaBrokers = normalizeList(c.Dispatch.KafkaBrokers)
	if len(c.Dispatch.KafkaBrokers) == 0 {
		c.Dispatch.KafkaBrokers = brokersFromEnv()
	}
	c.Dispatch.KafkaTopic = strings.TrimSpace(c.Dispatch.KafkaTopic)
	if c.Dispatch.KafkaTopic == "" {
		c.Dispatch.KafkaTopic = defaultKafkaDispatchTopic
	}
}

func (c *Config) normalizeSignals() {
	c.Signals.CompletedEvent = strings.TrimSpace(c.Signals.CompletedEvent)
	if c.Signals.CompletedEvent == "" {
		c.Signals.CompletedEvent = defaultCompletedEvent
	}
	c.Signals.WorkDoneEvent = strings.TrimSpace(c.Signals.WorkDoneEvent)
	if c.Signals.WorkDoneEvent == "" {
		c.Signals.WorkDoneEvent = defaultWorkDoneEvent
	}
	c.Signals.KafkaBrokers = normalizeList(c.Signals.KafkaBrokers)
	if len(c.Signals.KafkaBrokers) == 0 {
		c.Signals.KafkaBrokers = brokersFromEnv()
	}
	c.Signals.KafkaTopic = strings.TrimSpace(c.Signals.KafkaTopic)
	if c.Signals.KafkaTopic == "" {
		c.Signals.KafkaTopic = defaultKafkaSignalTopic
	}
	c.Signals.KafkaGroup = strings.TrimSpace(c.Signals.KafkaGroup)
	if c.Signals.KafkaGroup == "" {
		c.Signals.KafkaGroup = defaultKafkaSignalGroup
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("FANIN_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func brokersFromEnv() []string {
	value, ok := os.LookupEnv("FANIN_KAFKA_BROKERS")
	if !ok {
		return nil
	}
	return normalizeList(strings.Split(value, ","))
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
