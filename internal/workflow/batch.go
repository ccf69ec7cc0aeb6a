package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"fanin/internal/logging"
	"fanin/internal/store"
)

// batch is the in-process state machine for one running batch. All signal
// handling and finalization happens on its run goroutine.
type batch struct {
	m       *Manager
	id      string
	timeout time.Duration
	resumed bool
	logger  *slog.Logger

	signals chan signalRequest
	expire  chan struct{}
	done    chan struct{}

	// Owned by run; status is safe to read once done is closed.
	deadline time.Time
	expiring bool
	timer    *time.Timer
	status   store.Status
}

func (m *Manager) newBatch(rec *store.BatchRecord, resumed bool) *batch {
	return &batch{
		m:        m,
		id:       rec.ID,
		timeout:  rec.Timeout,
		resumed:  resumed,
		logger:   logging.ForBatch(m.logger, rec.ID),
		signals:  make(chan signalRequest),
		expire:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		deadline: rec.CreatedAt.Add(rec.Timeout),
		status:   store.StatusRunning,
	}
}

// requestExpiry asks the instance to close the batch now, as if its wait
// window had passed.
func (b *batch) requestExpiry() {
	select {
	case b.expire <- struct{}{}:
	default:
	}
}

func (b *batch) run(ctx context.Context) {
	defer b.m.wg.Done()
	defer close(b.done)

	b.timer = time.NewTimer(time.Until(b.deadline))
	defer b.timer.Stop()

	if b.resumed {
		if b.recover(ctx) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.signals:
			outcome, err := b.handleSignal(ctx, req.itemID, req.bytes)
			req.reply <- signalReply{outcome: outcome, err: err}
			if b.status.Terminal() {
				return
			}
		case <-b.expire:
			b.expiring = true
			if b.evaluate(ctx) {
				return
			}
		case <-b.timer.C:
			if b.evaluate(ctx) {
				return
			}
		}
	}
}

// recover rebuilds the wait window for a batch picked up from the store and
// closes it right away when it is already due.
func (b *batch) recover(ctx context.Context) bool {
	rec, err := b.m.store.GetBatch(ctx, b.id)
	if err != nil {
		b.warnStore("batch reload failed; retrying", err)
		b.timer.Reset(finalizeRetry)
		return false
	}
	if rec.Status.Terminal() {
		b.status = rec.Status
		b.m.forget(b)
		return true
	}
	items, err := b.m.store.ListItems(ctx, b.id)
	if err != nil {
		b.warnStore("item reload failed; retrying", err)
		b.timer.Reset(finalizeRetry)
		return false
	}
	last := rec.CreatedAt
	for _, item := range items {
		if item.CompletedAt != nil && item.CompletedAt.After(last) {
			last = *item.CompletedAt
		}
	}
	b.deadline = last.Add(b.timeout)
	b.logger.Debug("batch resumed",
		logging.Int("completed", rec.CompletedCount),
		logging.Int("expected", rec.ExpectedCount),
		logging.String("deadline", b.deadline.UTC().Format(time.RFC3339)),
	)
	return b.evaluate(ctx)
}

func (b *batch) handleSignal(ctx context.Context, itemID string, bytes int64) (Outcome, error) {
	logger := b.logger.With(logging.String(logging.FieldItemID, itemID))
	accepted, err := b.m.store.MarkCompleted(ctx, b.id, itemID, store.Completion{
		Bytes:         bytes,
		QueueDispatch: b.m.cfg.Batch.DispatchOnSignal,
	})
	if errors.Is(err, store.ErrNotFound) {
		logging.WarnWithContext(logger, "signal for item outside batch ignored", "signal_ignored",
			logging.String(logging.FieldErrorHint, "check that the producer reports only items listed at batch creation"),
			logging.String(logging.FieldImpact, "signal dropped; batch state unchanged"),
		)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if !accepted {
		logger.Debug("duplicate completion signal")
		return OutcomeDuplicate, nil
	}

	logger.Info("item completed", logging.Int64("bytes", bytes))
	if b.m.cfg.Batch.DispatchOnSignal {
		b.m.kickDispatch()
	}
	b.deadline = time.Now().Add(b.timeout)
	b.evaluate(ctx)
	return OutcomeAccepted, nil
}

// evaluate closes the batch when the store reports every item done or the
// wait window has passed, and otherwise re-arms the timer. It returns true
// once the batch is terminal.
func (b *batch) evaluate(ctx context.Context) bool {
	full, err := b.m.store.IsFullyCompleted(ctx, b.id)
	if err != nil {
		b.warnStore("completion check failed; retrying", err)
		b.timer.Reset(finalizeRetry)
		return false
	}
	switch {
	case full:
		return b.finish(ctx, store.StatusCompleted)
	case b.expiring || !time.Now().Before(b.deadline):
		return b.finish(ctx, store.StatusTimedOut)
	}
	b.timer.Reset(time.Until(b.deadline))
	return false
}

func (b *batch) finish(ctx context.Context, to store.Status) bool {
	won, err := b.m.store.TransitionBatch(ctx, b.id, store.StatusRunning, to)
	if err != nil {
		b.warnStore("batch finalize failed; retrying", err)
		b.timer.Reset(finalizeRetry)
		return false
	}
	status := to
	if !won {
		rec, err := b.m.store.GetBatch(ctx, b.id)
		if err != nil || !rec.Status.Terminal() {
			b.warnStore("batch finalize lost race; rechecking", err)
			b.timer.Reset(finalizeRetry)
			return false
		}
		status = rec.Status
		b.logger.Debug("batch finalized elsewhere", logging.String("status", string(status)))
	}
	b.status = status
	b.m.forget(b)
	if won {
		b.m.onFinalized(ctx, b.id, status)
	}
	return true
}

func (b *batch) warnStore(msg string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	b.m.setLastError(err)
	logging.WarnWithContext(b.logger, msg, "batch_store_error",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check state database access"),
		logging.String(logging.FieldImpact, "batch stays running until the store answers"),
	)
}
