package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "Fanin-Go/0.1.0"

// HTTPDispatcher posts requests as JSON to a worker endpoint.
type HTTPDispatcher struct {
	url    string
	client *http.Client
}

// NewHTTPDispatcher returns a dispatcher for url. A non-positive timeout uses 10s.
func NewHTTPDispatcher(url string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type httpReceipt struct {
	Reference string `json:"reference"`
}

// Dispatch posts req and treats any 2xx as accepted. 409, 429 and 503 mean
// the worker is busy.
func (h *HTTPDispatcher) Dispatch(ctx context.Context, req Request) (Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, failed(fmt.Errorf("encode request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, failed(fmt.Errorf("build request: %w", err))
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.TicketID)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Receipt{}, failed(fmt.Errorf("post %s: %w", h.url, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Receipt{}, failed(fmt.Errorf("%w: worker returned %d", ErrWorkerBusy, resp.StatusCode))
	default:
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Receipt{}, failed(fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text))))
	}

	receipt := Receipt{TicketID: req.TicketID, AcceptedAt: time.Now().UTC()}
	var decoded httpReceipt
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &decoded) == nil {
		receipt.Reference = decoded.Reference
	}
	return receipt, nil
}
