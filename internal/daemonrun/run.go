// Package daemonrun wires the fanin daemon process together: logger, state
// store, worker gate, dispatcher, coordinator, signal source and the control
// surfaces.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"fanin/internal/config"
	"fanin/internal/daemon"
	"fanin/internal/dispatch"
	"fanin/internal/gate"
	"fanin/internal/ipc"
	"fanin/internal/logging"
	"fanin/internal/preflight"
	"fanin/internal/signals"
	"fanin/internal/store"
	"fanin/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the fanin daemon and blocks until the process is signalled or
// cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := runPreflight(signalCtx, cfg, logger); err != nil {
		return err
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "fanin.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open state store", logging.Error(err))
		return err
	}

	g, err := gate.New(cfg.Gate.Name, cfg.LeaseTTL(), st, logger,
		gate.WithExpiryHandler(workflow.TicketExpiryHandler(st, logger)))
	if err != nil {
		st.Close()
		return fmt.Errorf("create worker gate: %w", err)
	}

	dispatcher, err := dispatch.New(cfg, logger)
	if err != nil {
		st.Close()
		return fmt.Errorf("create dispatcher: %w", err)
	}

	mgr := workflow.NewManager(cfg, st, g, logger, workflow.WithDispatcher(dispatcher))

	daemonOpts := []daemon.Option{}
	if closer, ok := dispatcher.(dispatch.Closer); ok {
		daemonOpts = append(daemonOpts, daemon.WithCloser(closer))
	}
	if cfg.Signals.KafkaEnabled {
		source, err := signals.NewKafkaSource(cfg, mgr, logger)
		if err != nil {
			st.Close()
			return fmt.Errorf("create signal source: %w", err)
		}
		daemonOpts = append(daemonOpts, daemon.WithSignalSource(source))
	}

	d, err := daemon.New(cfg, st, mgr, logger, daemonOpts...)
	if err != nil {
		st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the state directory and that no other daemon holds the lock"),
			logging.String(logging.FieldImpact, "batches are not coordinated until started over IPC"),
		)
	}

	<-signalCtx.Done()
	logger.Info("fanin daemon shutting down")
	return nil
}

func runPreflight(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, cfg)) {
		if result.Name == preflight.NameStateDir {
			return fmt.Errorf("state directory unusable: %s", result.Detail)
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run fanin doctor for details"),
			logging.String(logging.FieldImpact, "dispatch or signal delivery may fail until the endpoint recovers"),
		)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
