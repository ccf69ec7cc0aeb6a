package dispatch

import (
	"context"
	"log/slog"
	"time"

	"fanin/internal/logging"
)

// LogDispatcher records requests without contacting a worker.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher returns a dispatcher that only logs.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logging.NewComponentLogger(logger, "dispatch")}
}

func (l *LogDispatcher) Dispatch(ctx context.Context, req Request) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, failed(err)
	}
	l.logger.Info("work dispatched",
		logging.String(logging.FieldEventType, "work_dispatched"),
		logging.String(logging.FieldBatchID, req.BatchID),
		logging.String(logging.FieldItemID, req.ItemID),
		logging.String(logging.FieldTicketID, req.TicketID),
	)
	return Receipt{TicketID: req.TicketID, AcceptedAt: time.Now().UTC()}, nil
}
