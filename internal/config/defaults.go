package config

const (
	defaultConfigPath            = "~/.config/fanin/config.toml"
	defaultStateDir              = "~/.local/share/fanin"
	defaultAPIBind               = "127.0.0.1:7490"
	defaultBatchTimeoutSeconds   = 300
	defaultBatchMaxItems         = 10000
	defaultGateName              = "worker"
	defaultGateLeaseSeconds      = 900
	defaultGateRetrySeconds      = 5
	defaultGateReapSeconds       = 10
	defaultDispatchMode          = DispatchModeLog
	defaultDispatchTimeout       = 10
	defaultDispatchMaxAttempts   = 3
	defaultDispatchBackoffMillis = 500
	defaultCompletedEvent        = "ItemCompleted"
	defaultWorkDoneEvent         = "WorkDone"
	defaultKafkaSignalTopic      = "fanin-signals"
	defaultKafkaSignalGroup      = "fanin"
	defaultKafkaDispatchTopic    = "fanin-work"
	defaultCASRetries            = 5
	defaultNotifyTimeout         = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Dispatch modes.
const (
	DispatchModeLog   = "log"
	DispatchModeHTTP  = "http"
	DispatchModeKafka = "kafka"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			APIBind:  defaultAPIBind,
		},
		Batch: Batch{
			DefaultTimeoutSeconds: defaultBatchTimeoutSeconds,
			MaxItems:              defaultBatchMaxItems,
			DispatchOnSignal:      true,
		},
		Gate: Gate{
			Name:                 defaultGateName,
			LeaseSeconds:         defaultGateLeaseSeconds,
			RetryIntervalSeconds: defaultGateRetrySeconds,
			ReapIntervalSeconds:  defaultGateReapSeconds,
		},
		Dispatch: Dispatch{
			Mode:           defaultDispatchMode,
			RequestTimeout: defaultDispatchTimeout,
			MaxAttempts:    defaultDispatchMaxAttempts,
			BackoffMillis:  defaultDispatchBackoffMillis,
			KafkaTopic:     defaultKafkaDispatchTopic,
		},
		Signals: Signals{
			CompletedEvent: defaultCompletedEvent,
			WorkDoneEvent:  defaultWorkDoneEvent,
			KafkaTopic:     defaultKafkaSignalTopic,
			KafkaGroup:     defaultKafkaSignalGroup,
		},
		Store: Store{
			CASRetries: defaultCASRetries,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			BatchCompleted: true,
			BatchTimedOut:  true,
			DispatchErrors: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
