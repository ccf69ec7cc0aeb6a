package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"fanin/internal/api"
	"fanin/internal/config"
	"fanin/internal/logging"
	"fanin/internal/notifications"
	"fanin/internal/signals"
	"fanin/internal/store"
	"fanin/internal/workflow"
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	manager *workflow.Manager
	source  *signals.Source
	closers []io.Closer
	api     *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// Option configures optional daemon collaborators.
type Option func(*Daemon)

// WithSignalSource consumes signals from Kafka while the daemon runs.
func WithSignalSource(src *signals.Source) Option {
	return func(d *Daemon) {
		d.source = src
	}
}

// WithCloser registers a resource released by Close, such as a dispatcher
// connection.
func WithCloser(c io.Closer) Option {
	return func(d *Daemon) {
		if c != nil {
			d.closers = append(d.closers, c)
		}
	}
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, mgr *workflow.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || mgr == nil {
		return nil, errors.New("daemon requires config, store, and coordinator")
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		manager:  mgr,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock and launches the coordinator, the API
// server and the signal source.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fanin daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.manager.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start coordinator: %w", err)
	}
	if err := d.api.listen(); err != nil {
		d.manager.Stop()
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return d.api.serve(groupCtx)
	})
	if d.source != nil {
		group.Go(func() error {
			if err := d.source.Run(groupCtx); err != nil {
				logging.WarnWithContext(d.logger, "signal source stopped", "signal_source_stopped",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check signals.kafka_brokers; restart the daemon to resume"),
					logging.String(logging.FieldImpact, "signals are accepted only over HTTP and IPC"),
				)
			}
			return nil
		})
	}

	d.cancel = cancel
	d.group = group
	d.running.Store(true)
	d.logger.Info("fanin daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
		logging.Bool("kafka_signals", d.source != nil),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.cancel()
	if err := d.group.Wait(); err != nil {
		d.logger.Debug("background services stopped with error", logging.Error(err))
	}
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldErrorHint, "remove the lock file if no daemon is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.cancel = nil
	d.group = nil
	d.running.Store(false)
	d.logger.Info("fanin daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.source != nil {
		errs = append(errs, d.source.Close())
	}
	for _, c := range d.closers {
		errs = append(errs, c.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// APIAddress returns the bound API address, or "" when the API is disabled
// or not listening.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// CreateBatch starts a new batch.
func (d *Daemon) CreateBatch(ctx context.Context, req api.CreateBatchRequest) (api.CreateBatchResponse, error) {
	return d.manager.Create(ctx, req)
}

// Batch returns the current result for one batch.
func (d *Daemon) Batch(ctx context.Context, batchID string, withItems bool) (api.BatchResult, error) {
	return d.manager.Result(ctx, strings.TrimSpace(batchID), withItems)
}

// ListBatches returns batch summaries filtered by optional statuses.
func (d *Daemon) ListBatches(ctx context.Context, statuses []store.Status) ([]api.BatchSummary, error) {
	return d.manager.List(ctx, statuses...)
}

// Await blocks until the batch is terminal or timeout elapses.
func (d *Daemon) Await(ctx context.Context, batchID string, timeout time.Duration) (api.BatchResult, error) {
	return d.manager.Await(ctx, strings.TrimSpace(batchID), timeout)
}

// Signal routes an inbound completion signal.
func (d *Daemon) Signal(ctx context.Context, sig api.Signal) (api.SignalResponse, error) {
	return d.manager.Ingest(ctx, sig)
}

// WorkDone reports that the worker finished a dispatched item.
func (d *Daemon) WorkDone(ctx context.Context, req api.WorkDoneRequest) (api.SignalResponse, error) {
	outcome, err := d.manager.WorkDone(ctx, strings.TrimSpace(req.BatchID), strings.TrimSpace(req.ItemID))
	if err != nil {
		return api.SignalResponse{}, err
	}
	return api.SignalResponse{Outcome: string(outcome), BatchID: req.BatchID, ItemID: req.ItemID}, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.cfg.LogPath()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	return api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		SocketPath:   d.cfg.SocketPath(),
		APIBind:      d.api.address(),
		DispatchMode: d.cfg.Dispatch.Mode,
		Gate:         d.manager.GateStatus(ctx),
		Coordinator:  d.manager.Status(ctx),
	}
}
