package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"fanin/internal/api"
	"fanin/internal/config"
	"fanin/internal/logging"
	"fanin/internal/store"
	"fanin/internal/workflow"
)

const maxRequestBody = 4 << 20

// service is the daemon surface the HTTP handlers call.
type service interface {
	CreateBatch(ctx context.Context, req api.CreateBatchRequest) (api.CreateBatchResponse, error)
	Batch(ctx context.Context, batchID string, withItems bool) (api.BatchResult, error)
	ListBatches(ctx context.Context, statuses []store.Status) ([]api.BatchSummary, error)
	Await(ctx context.Context, batchID string, timeout time.Duration) (api.BatchResult, error)
	Signal(ctx context.Context, sig api.Signal) (api.SignalResponse, error)
	WorkDone(ctx context.Context, req api.WorkDoneRequest) (api.SignalResponse, error)
	Status(ctx context.Context) api.DaemonStatus
}

type apiServer struct {
	bind    string
	logger  *slog.Logger
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, svc service, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
	}
	srv.handler = authMiddleware(cfg.Paths.APIToken, srv.routes(svc))
	return srv
}

func (s *apiServer) routes(svc service) http.Handler {
	h := &handlers{svc: svc, logger: s.logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/batches", h.handleListBatches)
	mux.HandleFunc("POST /api/batches", h.handleCreateBatch)
	mux.HandleFunc("GET /api/batches/{id}", h.handleGetBatch)
	mux.HandleFunc("POST /api/batches/{id}/await", h.handleAwait)
	mux.HandleFunc("POST /api/signals", h.handleSignal)
	mux.HandleFunc("POST /api/work-done", h.handleWorkDone)
	return mux
}

func (s *apiServer) listen() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Unlock()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// serve runs until ctx ends, then shuts the server down.
func (s *apiServer) serve(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("api server error", logging.Error(err))
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	s.mu.Lock()
	s.listener = nil
	s.mu.Unlock()
	return nil
}

func (s *apiServer) address() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type handlers struct {
	svc    service
	logger *slog.Logger
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

func (h *handlers) handleListBatches(w http.ResponseWriter, r *http.Request) {
	var statuses []store.Status
	for _, value := range r.URL.Query()["status"] {
		for part := range strings.SplitSeq(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := store.ParseStatus(part)
			if !ok {
				h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	batches, err := h.svc.ListBatches(r.Context(), statuses)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.BatchListResponse{Batches: batches})
}

func (h *handlers) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.CreateBatch(r.Context(), req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	withItems := parseBool(r.URL.Query().Get("items"))
	result, err := h.svc.Batch(r.Context(), r.PathValue("id"), withItems)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handlers) handleAwait(w http.ResponseWriter, r *http.Request) {
	var timeout time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("timeout")); raw != "" {
		parsed, err := parseTimeout(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		timeout = parsed
	}
	result, err := h.svc.Await(r.Context(), r.PathValue("id"), timeout)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handlers) handleSignal(w http.ResponseWriter, r *http.Request) {
	var sig api.Signal
	if !h.decode(w, r, &sig) {
		return
	}
	resp, err := h.svc.Signal(r.Context(), sig)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *handlers) handleWorkDone(w http.ResponseWriter, r *http.Request) {
	var req api.WorkDoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.WorkDone(r.Context(), req)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

func (h *handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// parseTimeout accepts Go durations ("30s") or bare seconds ("30").
func parseTimeout(raw string) (time.Duration, error) {
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds < 0 {
			return 0, errors.New("timeout must not be negative")
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return d, nil
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && value
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrBatchExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStoreUnavailable), errors.Is(err, workflow.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeFailure(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("api request failed",
			logging.Error(err),
			logging.Int("status", status),
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String(logging.FieldErrorHint, "check state database access"),
			logging.String(logging.FieldImpact, "caller should retry"),
		)
	}
	h.writeError(w, status, err.Error())
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
