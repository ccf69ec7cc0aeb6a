package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fanin/internal/config"
	"fanin/internal/correlate"
	"fanin/internal/dispatch"
	"fanin/internal/gate"
	"fanin/internal/logging"
	"fanin/internal/notifications"
)

// finalizeRetry is how long an instance waits before retrying a terminal
// transition the store rejected.
const finalizeRetry = time.Second

// Manager owns every running batch instance in this process and the dispatch
// lane that feeds the external worker.
type Manager struct {
	cfg        *config.Config
	store      Store
	gate       *gate.Gate
	logger     *slog.Logger
	notifier   notifications.Service
	dispatcher dispatch.Dispatcher
	policy     dispatch.Policy
	correlator *correlate.Correlator

	retryInterval time.Duration
	reapInterval  time.Duration
	kick          chan struct{}

	mu        sync.RWMutex
	running   bool
	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	instances map[string]*batch
	lastErr   error
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithNotifier overrides the notification service built from config.
func WithNotifier(n notifications.Service) ManagerOption {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

// WithDispatcher overrides the dispatcher used for queued work.
func WithDispatcher(d dispatch.Dispatcher) ManagerOption {
	return func(m *Manager) {
		if d != nil {
			m.dispatcher = d
		}
	}
}

// WithCorrelator overrides the signal correlator built from config.
func WithCorrelator(c *correlate.Correlator) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.correlator = c
		}
	}
}

// NewManager constructs a coordinator over st that dispatches under g.
func NewManager(cfg *config.Config, st Store, g *gate.Gate, logger *slog.Logger, opts ...ManagerOption) *Manager {
	logger = logging.NewComponentLogger(logger, "coordinator")
	m := &Manager{
		cfg:           cfg,
		store:         st,
		gate:          g,
		logger:        logger,
		notifier:      notifications.NewService(cfg),
		dispatcher:    dispatch.NewLogDispatcher(logger),
		policy:        dispatch.PolicyFromConfig(cfg),
		correlator:    correlate.New(cfg.Signals.CompletedEvent, cfg.Signals.WorkDoneEvent),
		retryInterval: time.Duration(cfg.Gate.RetryIntervalSeconds) * time.Second,
		reapInterval:  time.Duration(cfg.Gate.ReapIntervalSeconds) * time.Second,
		kick:          make(chan struct{}, 1),
		instances:     make(map[string]*batch),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retryInterval <= 0 {
		m.retryInterval = time.Second
	}
	if m.reapInterval <= 0 {
		m.reapInterval = 10 * time.Second
	}
	return m
}

// Correlator returns the correlator used for inbound signals.
func (m *Manager) Correlator() *correlate.Correlator {
	return m.correlator
}

// Running reports whether Start has been called without a matching Stop.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) kickDispatch() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}
