package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tubemux/internal/api"
	"tubemux/internal/config"
	"tubemux/internal/history"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/services"
	"tubemux/internal/workflow"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	wf     *workflow.Manager

	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
		wf:     d.workflow,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.handleStatus)

	mux.HandleFunc("POST /api/jobs", srv.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", srv.handleJob)
	mux.HandleFunc("GET /api/jobs/{id}/output", srv.handleJobOutput)
	mux.HandleFunc("DELETE /api/jobs/{id}", srv.handleDeleteJob)

	mux.HandleFunc("POST /api/batches", srv.handleCreateBatch)
	mux.HandleFunc("GET /api/batches/{id}", srv.handleBatch)
	mux.HandleFunc("POST /api/batches/{id}/resolve", srv.handleResolveBatch)
	mux.HandleFunc("POST /api/batches/{id}/start", srv.handleStartBatch)
	mux.HandleFunc("GET /api/batches/{id}/bundle", srv.handleBundle)
	mux.HandleFunc("GET /api/batches/{id}/items/{item}/output", srv.handleBatchItemOutput)
	mux.HandleFunc("DELETE /api/batches/{id}", srv.handleDeleteBatch)

	mux.HandleFunc("GET /api/history", srv.handleHistory)
	mux.HandleFunc("DELETE /api/history", srv.handleClearHistory)

	srv.handler = requestIDMiddleware(authMiddleware(strings.TrimSpace(cfg.Paths.APIToken), mux.ServeHTTP))
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return services.Wrap(services.ErrConfiguration, "api-server", "listen", "api_bind is empty", nil)
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	// Artifact downloads can run for minutes, so there is no write timeout.
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		_ = server.Close()
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		LockFilePath: status.LockFilePath,
		HistoryPath:  status.HistoryPath,
		Workflow:     status.Workflow,
		Dependencies: status.Dependencies,
	})
}

func (s *apiServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.wf.CreateJob(r.Context(), req.SourceRef, req.Encoding)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.CreateJobResponse{ID: id})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.wf.Job(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSnapshot(snap))
}

func (s *apiServer) handleJobOutput(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.wf.OpenJobOutput(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.stream(w, r, artifact, "application/octet-stream")
}

func (s *apiServer) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.wf.DeleteJob(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req api.CreateBatchRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, count, err := s.wf.CreateBatch(req.SourceRefs, req.DefaultEncoding)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.CreateBatchResponse{ID: id, Items: count})
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	view, err := s.wf.Batch(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.wf.ResolveBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req api.StartBatchRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	queued, err := s.wf.StartBatch(r.Context(), r.PathValue("id"), req.Overrides)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.StartBatchResponse{Queued: queued})
}

func (s *apiServer) handleBundle(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.wf.OpenBatchBundle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.stream(w, r, artifact, "application/zip")
}

func (s *apiServer) handleBatchItemOutput(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.wf.OpenBatchItem(r.PathValue("id"), r.PathValue("item"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.stream(w, r, artifact, "application/octet-stream")
}

func (s *apiServer) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.wf.DeleteBatch(r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := history.Filter{BatchID: strings.TrimSpace(query.Get("batch"))}
	if value := strings.TrimSpace(query.Get("stage")); value != "" {
		stage, ok := job.ParseStage(value)
		if !ok {
			s.writeStatus(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", value), "")
			return
		}
		filter.Stage = stage
	}
	if value := strings.TrimSpace(query.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			s.writeStatus(w, http.StatusBadRequest, "invalid limit", "")
			return
		}
		filter.Limit = limit
	}
	records, err := s.wf.History(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{Records: records})
}

func (s *apiServer) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	removed, err := s.wf.ClearHistory(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearHistoryResponse{Removed: removed})
}

// stream copies an artifact to the response and always closes it; the
// artifact's close callback decides whether the delivery was complete.
func (s *apiServer) stream(w http.ResponseWriter, r *http.Request, artifact *workflow.Artifact, contentType string) {
	defer artifact.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(artifact.Size(), 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.FileName}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, artifact); err != nil {
		logging.WithContext(r.Context(), s.logger).Warn("artifact delivery interrupted",
			logging.Args(
				logging.String(logging.FieldEventType, "delivery_interrupted"),
				logging.String("file", artifact.FileName),
				logging.Error(err),
			)...,
		)
	}
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := decoder.Decode(dst); err != nil {
		s.writeStatus(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.KindOf(err)
	status := api.StatusForKind(kind)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("request failed",
			logging.Args(append(logging.ErrorAttrs(err),
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
			)...)...,
		)
	}
	s.writeStatus(w, status, err.Error(), kind)
}

func (s *apiServer) writeStatus(w http.ResponseWriter, status int, message string, kind services.ErrorKind) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: string(kind)})
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware stamps every request with a request id, reusing the
// caller's when provided.
func requestIDMiddleware(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}
