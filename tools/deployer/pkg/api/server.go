package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	pkgerrors "github.com/TheStatisticalMind/site-deployer/pkg/errors"
	"github.com/TheStatisticalMind/site-deployer/pkg/log"
	"github.com/TheStatisticalMind/site-deployer/pkg/telemetry"
	"github.com/TheStatisticalMind/site-deployer/tools/deployer/pkg/deployer"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type Server struct {
	deployer   deployer.Deployer
	mu         sync.Mutex
	isRunning  bool
	lastReport *deployer.Report
	lastError  error
	port       int
	server     *http.Server
	// done is signalled after each background deployment.
	done chan struct{}
}

type DeployResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type StatusResponse struct {
	IsRunning        bool      `json:"is_running"`
	LastDeploymentID string    `json:"last_deployment_id,omitempty"`
	LastStatus       string    `json:"last_status,omitempty"`
	LastStartTime    time.Time `json:"last_start_time,omitempty"`
	LastFinishTime   time.Time `json:"last_finish_time,omitempty"`
	FilesUploaded    int       `json:"files_uploaded"`
	BytesUploaded    int64     `json:"bytes_uploaded"`
	LastError        string    `json:"last_error,omitempty"`
}

func NewServer(port int, d deployer.Deployer) *Server {
	return &Server{
		deployer: d,
		port:     port,
		done:     make(chan struct{}, 1),
	}
}

// Handler returns the routes served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.withTelemetry("/health", http.MethodGet, s.handleHealth))
	mux.HandleFunc("/deploy", s.withTelemetry("/deploy", http.MethodPost, s.handleDeploy))
	mux.HandleFunc("/status", s.withTelemetry("/status", http.MethodGet, s.handleStatus))
	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.FromCtx(ctx).Info("Starting API server", zap.Int("port", s.port))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "failed to start server")
	}
	return nil
}

// Done is signalled once a deployment started through /deploy finishes.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// withTelemetry wraps an HTTP handler with telemetry instrumentation
func (s *Server) withTelemetry(endpoint, expectedMethod string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ctx, span := telemetry.Tracer().Start(r.Context(), "deployer.api.request")
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", endpoint),
			attribute.String("http.url", r.URL.Path),
		)
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		if r.Method != expectedMethod {
			http.Error(rw, "Method not allowed", http.StatusMethodNotAllowed)
			statusStr := strconv.Itoa(rw.statusCode)
			telemetry.RecordAPIRequest(endpoint, r.Method, statusStr)
			telemetry.RecordAPIRequestDuration(time.Since(startTime).Seconds(), endpoint, r.Method, statusStr)
			telemetry.RecordAPIRequestError(endpoint, r.Method, "method_not_allowed")
			span.SetAttributes(
				attribute.Int("http.status_code", rw.statusCode),
				attribute.String("error", "method_not_allowed"),
			)
			span.RecordError(eris.Errorf("method not allowed: %s", r.Method))
			return
		}

		handler(rw, r)

		duration := time.Since(startTime).Seconds()
		statusStr := strconv.Itoa(rw.statusCode)
		telemetry.RecordAPIRequest(endpoint, r.Method, statusStr)
		telemetry.RecordAPIRequestDuration(duration, endpoint, r.Method, statusStr)

		if rw.statusCode >= 400 {
			telemetry.RecordAPIRequestError(endpoint, r.Method, fmt.Sprintf("http_%d", rw.statusCode))
			span.RecordError(eris.Errorf("HTTP error: %d", rw.statusCode))
		}

		span.SetAttributes(
			attribute.Int("http.status_code", rw.statusCode),
			attribute.Float64("http.duration", duration),
		)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, DeployResponse{
			Success: false,
			Message: "Deployment already in progress",
			Error:   pkgerrors.DeploymentInProgressError.Error(),
		})
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	startTime := time.Now()

	// The deployment outlives the request, so it only inherits the logger.
	deployCtx := log.ToCtx(context.Background(), log.FromCtx(ctx))

	go func() {
		report, err := s.deployer.Deploy(deployCtx)

		s.mu.Lock()
		s.isRunning = false
		s.lastReport = report
		s.lastError = err
		s.mu.Unlock()

		if err != nil {
			log.FromCtx(deployCtx).Error("Deployment failed", zap.Error(err))
		} else {
			log.FromCtx(deployCtx).Info("Deployment completed successfully")
		}

		select {
		case s.done <- struct{}{}:
		default:
		}
	}()

	writeJSON(w, http.StatusAccepted, DeployResponse{
		Success:   true,
		Message:   "Deployment started",
		StartTime: startTime,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	status := StatusResponse{
		IsRunning: s.isRunning,
	}
	if s.lastReport != nil {
		status.LastDeploymentID = s.lastReport.DeploymentID
		status.LastStatus = s.lastReport.Status()
		status.LastStartTime = s.lastReport.StartedAt
		status.LastFinishTime = s.lastReport.FinishedAt
		status.FilesUploaded = len(s.lastReport.Files)
		status.BytesUploaded = s.lastReport.BytesUploaded()
	}
	if s.lastError != nil {
		status.LastError = s.lastError.Error()
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, status)
}
