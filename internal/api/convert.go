package api

import (
	"time"

	"fanin/internal/store"
)

// FromBatch builds a BatchResult from a batch record and its item rows.
// When withItems is set the per-item detail is included.
func FromBatch(rec *store.BatchRecord, items []store.ItemRecord, withItems bool) BatchResult {
	if rec == nil {
		return BatchResult{}
	}
	result := BatchResult{
		BatchID:       rec.ID,
		Status:        string(rec.Status),
		Completed:     make([]string, 0, len(items)),
		Pending:       make([]string, 0, len(items)),
		ExpectedCount: rec.ExpectedCount,
		CreatedAt:     formatTime(rec.CreatedAt),
		FinishedAt:    formatTimePtr(rec.FinishedAt),
	}
	for _, item := range items {
		if item.Completed {
			result.Completed = append(result.Completed, item.ItemID)
		} else {
			result.Pending = append(result.Pending, item.ItemID)
		}
		result.TotalBytes += item.Bytes
		if item.DispatchState == store.DispatchError {
			if result.DispatchErrors == nil {
				result.DispatchErrors = make(map[string]string)
			}
			result.DispatchErrors[item.ItemID] = item.DispatchError
		}
		if withItems {
			result.Items = append(result.Items, FromItem(item))
		}
	}
	return result
}

// FromItem converts an item row to its API form.
func FromItem(item store.ItemRecord) BatchItem {
	return BatchItem{
		ItemID:        item.ItemID,
		Completed:     item.Completed,
		Bytes:         item.Bytes,
		CompletedAt:   formatTimePtr(item.CompletedAt),
		DispatchState: string(item.DispatchState),
		DispatchError: item.DispatchError,
		TicketID:      item.TicketID,
	}
}

// FromBatchRecords converts batch rows to summaries.
func FromBatchRecords(records []store.BatchRecord) []BatchSummary {
	out := make([]BatchSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, BatchSummary{
			BatchID:        rec.ID,
			Status:         string(rec.Status),
			ExpectedCount:  rec.ExpectedCount,
			CompletedCount: rec.CompletedCount,
			TotalBytes:     rec.TotalBytes,
			CreatedAt:      formatTime(rec.CreatedAt),
			FinishedAt:     formatTimePtr(rec.FinishedAt),
		})
	}
	return out
}

// FromLease converts the current gate lease (possibly nil) to GateStatus.
func FromLease(name string, lease *store.Lease) GateStatus {
	status := GateStatus{Name: name}
	if lease == nil {
		return status
	}
	status.Held = true
	status.Holder = lease.Holder
	status.LeaseID = lease.ID
	status.ExpiresAt = formatTime(lease.ExpiresAt)
	return status
}

// ParseTime reads a timestamp produced by this package.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
