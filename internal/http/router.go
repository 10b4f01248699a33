package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/apply"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/auth"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/clone"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/deploy"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/diff"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/progress"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/settings"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/ws"
	"github.com/mike11stevens/AdoProjectManager-sub002/pkg/config"
)

// Router wires HTTP endpoints to services. Sync services are constructed per
// request around the caller's resolved organization client.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	settings settings.Service
	progress progress.Service
	mappings repository.MappingRepository
	runs     repository.RunRepository
	oplogs   repository.OperationLogRepository
	factory  remote.Factory
	cfg      config.APIConfig
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	syncRunsTotal      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitSyncRun   = 20
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, settingsSvc settings.Service, progressSvc progress.Service, mappings repository.MappingRepository, runs repository.RunRepository, oplogs repository.OperationLogRepository, factory remote.Factory, cfg config.APIConfig, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		settings: settingsSvc,
		progress: progressSvc,
		mappings: mappings,
		runs:     runs,
		oplogs:   oplogs,
		factory:  factory,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/signup", r.audit(r.withRateLimit("/auth/signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/connection", r.audit(r.handlerAuthRate("/connection", rateLimitUserWrite, rateWindowDefault, r.handleConnection)))
	r.mux.HandleFunc("/projects", r.audit(r.handlerAuthRate("/projects", rateLimitUserRead, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/sync/analyze", r.audit(r.handlerAuthRate("/sync/analyze", rateLimitSyncRun, rateWindowDefault, r.handleAnalyze)))
	r.mux.HandleFunc("/sync/apply", r.audit(r.handlerAuthRate("/sync/apply", rateLimitSyncRun, rateWindowDefault, r.handleApply)))
	r.mux.HandleFunc("/sync/clone", r.audit(r.handlerAuthRate("/sync/clone", rateLimitSyncRun, rateWindowDefault, r.handleClone)))
	r.mux.HandleFunc("/sync/deploy", r.audit(r.handlerAuthRate("/sync/deploy", rateLimitSyncRun, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/sync/runs", r.audit(r.handlerAuthRate("/sync/runs", rateLimitUserRead, rateWindowDefault, r.handleRuns)))
	r.mux.HandleFunc("/sync/runs/", r.audit(r.handlerAuthRate("/sync/runs/", rateLimitUserRead, rateWindowDefault, r.handleRunByID)))
	r.mux.HandleFunc("/ws/progress", r.audit(r.handlerAuthRate("/ws/progress", rateLimitWebsocket, rateWindowRealtime, r.handleProgressWS)))
	r.mux.HandleFunc("/sse/progress", r.audit(r.handlerAuthRate("/sse/progress", rateLimitWebsocket, rateWindowRealtime, r.handleProgressSSE)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":   map[string]any{"id": user.ID, "email": user.Email},
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   map[string]any{"id": user.ID, "email": user.Email},
		"tokens": tokens,
	})
}

func (r *Router) handleConnection(w http.ResponseWriter, req *http.Request) {
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodPut, http.MethodPost:
		var payload struct {
			OrgURL string `json:"org_url"`
			Token  string `json:"token"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conn, err := r.settings.SaveConnection(req.Context(), info.UserID, payload.OrgURL, payload.Token)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"org_url": conn.OrgURL, "updated_at": conn.UpdatedAt})
	case http.MethodGet:
		conn, err := r.settings.GetConnection(req.Context(), info.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "no connection configured")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"org_url": conn.OrgURL, "updated_at": conn.UpdatedAt})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	api, ok := r.clientFor(w, req, info.UserID)
	if !ok {
		return
	}
	projects, err := api.ListProjects(req.Context())
	if err != nil {
		r.writeRemoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	var payload struct {
		SourceProjectID string `json:"source_project_id"`
		TargetProjectID string `json:"target_project_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	api, ok := r.clientFor(w, req, info.UserID)
	if !ok {
		return
	}
	runID := uuid.NewString()
	r.progress.Begin(req.Context(), &domain.SyncRun{
		ID:              runID,
		UserID:          info.UserID,
		Kind:            domain.RunAnalyze,
		SourceProjectID: payload.SourceProjectID,
		TargetProjectID: payload.TargetProjectID,
		StartedAt:       time.Now().UTC(),
	})
	svc := diff.New(api, r.mappings, r.logger)
	analysis, err := svc.Analyze(req.Context(), payload.SourceProjectID, payload.TargetProjectID)
	if err != nil {
		r.progress.Finish(req.Context(), runID, false, nil)
		r.recordSyncRun(string(domain.RunAnalyze), false)
		r.writeRemoteError(w, err)
		return
	}
	r.progress.Finish(req.Context(), runID, true, analysis)
	r.recordSyncRun(string(domain.RunAnalyze), true)
	writeJSON(w, http.StatusOK, analysis)
}

func (r *Router) handleApply(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	var payload domain.SelectiveUpdateRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	api, ok := r.clientFor(w, req, info.UserID)
	if !ok {
		return
	}
	svc := apply.New(api, r.mappings, r.progress, r.logger)
	result, err := svc.ApplySelectiveUpdates(req.Context(), info.UserID, payload)
	if err != nil {
		r.writeRemoteError(w, err)
		return
	}
	r.recordSyncRun(string(domain.RunApply), result.Success)
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleClone(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	var payload domain.CloneRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	api, ok := r.clientFor(w, req, info.UserID)
	if !ok {
		return
	}
	svc := clone.New(api, r.factory, r.mappings, r.progress, r.cfg.FeatureSettleDelay, r.logger)
	result, err := svc.CloneProject(req.Context(), info.UserID, payload)
	if err != nil {
		r.writeRemoteError(w, err)
		return
	}
	r.recordSyncRun(string(domain.RunClone), result.Success)
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	var payload domain.DeploymentRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	api, ok := r.clientFor(w, req, info.UserID)
	if !ok {
		return
	}
	svc := deploy.New(api, r.mappings, r.progress, r.logger)
	result, err := svc.DeployWorkItems(req.Context(), info.UserID, payload)
	if err != nil {
		r.writeRemoteError(w, err)
		return
	}
	r.recordSyncRun(string(domain.RunDeploy), result.Success)
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	runs, err := r.runs.ListRunsByUser(req.Context(), info.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (r *Router) handleRunByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := r.mustAuthInfo(w, req)
	if !ok {
		return
	}
	runID := strings.TrimPrefix(req.URL.Path, "/sync/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		r.notFound(w)
		return
	}
	run, err := r.runs.GetRunByID(req.Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run.UserID != info.UserID {
		r.notFound(w)
		return
	}
	logs, err := r.oplogs.ListOperationLogs(req.Context(), runID, 500, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":            run,
		"operation_logs": logs,
	})
}

func (r *Router) handleProgressWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.mustAuthInfo(w, req); !ok {
		return
	}
	runID := req.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id query parameter required")
		return
	}
	hub := r.progress.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(runID, client)
	go func() {
		defer func() {
			hub.Unregister(runID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleProgressSSE(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.mustAuthInfo(w, req); !ok {
		return
	}
	runID := req.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id query parameter required")
		return
	}
	hub := r.progress.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	hub.Register(runID, client)
	defer func() {
		hub.Unregister(runID, client)
		client.Close()
	}()
	client.RunHeartbeat(req.Context().Done())
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{"status": "down", "error": err.Error()}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// mustAuthInfo reads the auth info the middleware stored; absence is a wiring
// bug, not a client error.
func (r *Router) mustAuthInfo(w http.ResponseWriter, req *http.Request) (authInfo, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return authInfo{}, false
	}
	return info, true
}

// clientFor resolves the caller's organization client via their stored
// connection.
func (r *Router) clientFor(w http.ResponseWriter, req *http.Request, userID string) (remote.API, bool) {
	api, err := r.settings.Client(req.Context(), userID)
	if err != nil {
		if errors.Is(err, settings.ErrNoConnection) {
			writeError(w, http.StatusPreconditionFailed, err.Error())
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return api, true
}

// writeRemoteError maps the remote error taxonomy onto HTTP statuses.
func (r *Router) writeRemoteError(w http.ResponseWriter, err error) {
	var nf *remote.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var ve *remote.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var ue *remote.UpstreamError
	if errors.As(err, &ue) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
