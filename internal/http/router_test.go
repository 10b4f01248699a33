package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/auth"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/progress"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/settings"
	"github.com/mike11stevens/AdoProjectManager-sub002/pkg/config"
)

type memUsers struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]*domain.User{}, byEmail: map[string]*domain.User{}}
}

func (m *memUsers) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[user.Email]; exists {
		return errors.New("email already registered")
	}
	m.byID[user.ID] = user
	m.byEmail[user.Email] = user
	return nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.byEmail[email]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.byID[id]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

type memConns struct {
	mu    sync.Mutex
	conns map[string]*domain.Connection
}

func (m *memConns) UpsertConnection(_ context.Context, conn *domain.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns == nil {
		m.conns = map[string]*domain.Connection{}
	}
	m.conns[conn.UserID] = conn
	return nil
}

func (m *memConns) GetConnectionByUser(_ context.Context, userID string) (*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[userID]; ok {
		copied := *conn
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]*domain.SyncRun
}

func (m *memRuns) CreateRun(_ context.Context, run *domain.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = map[string]*domain.SyncRun{}
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) FinishRun(_ context.Context, runID string, success bool, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	run.Success = success
	run.Result = result
	run.FinishedAt = &now
	return nil
}

func (m *memRuns) GetRunByID(_ context.Context, runID string) (*domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		copied := *run
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memRuns) ListRunsByUser(_ context.Context, userID string, limit int) ([]domain.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.SyncRun
	for _, run := range m.runs {
		if run.UserID == userID && len(out) < limit {
			out = append(out, *run)
		}
	}
	return out, nil
}

type memOplogs struct {
	mu   sync.Mutex
	logs map[string][]domain.OperationLog
}

func (m *memOplogs) AppendOperationLog(_ context.Context, runID string, entry domain.OperationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.logs == nil {
		m.logs = map[string][]domain.OperationLog{}
	}
	m.logs[runID] = append(m.logs[runID], entry)
	return nil
}

func (m *memOplogs) ListOperationLogs(_ context.Context, runID string, limit, _ int) ([]domain.OperationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.logs[runID]
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

type memMappingsRepo struct{}

func (memMappingsRepo) UpsertMapping(context.Context, *domain.WorkItemMapping) error { return nil }

func (memMappingsRepo) GetMapping(context.Context, string, int, string) (*domain.WorkItemMapping, error) {
	return nil, repository.ErrNotFound
}

func (memMappingsRepo) ListMappings(context.Context, string, string) ([]domain.WorkItemMapping, error) {
	return nil, nil
}

type remoteStub struct {
	remote.API
	projects []domain.Container
}

func (s *remoteStub) ListProjects(context.Context) ([]domain.Container, error) {
	return s.projects, nil
}

func (s *remoteStub) ValidateCredential(context.Context, string, string) (bool, error) {
	return true, nil
}

type limiterCall struct {
	key    string
	limit  int
	window time.Duration
}

type limiterStub struct {
	mu      sync.Mutex
	calls   []limiterCall
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (l *limiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	l.mu.Lock()
	l.calls = append(l.calls, limiterCall{key: key, limit: limit, window: window})
	l.mu.Unlock()
	if l.allowFn != nil {
		return l.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(time.Minute)}
}

func (l *limiterStub) Close() {}

type harness struct {
	router *Router
	users  *memUsers
	conns  *memConns
	runs   *memRuns
	remote *remoteStub
}

func setupRouter(t *testing.T, limiter RateLimiter, dbHealth func(context.Context) error) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{
		JWTSecret:          "test-secret",
		TokenEncryptionKey: "test-cipher-key",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    24 * time.Hour,
	}

	users := newMemUsers()
	conns := &memConns{}
	runs := &memRuns{}
	oplogs := &memOplogs{}
	stub := &remoteStub{projects: []domain.Container{{ID: "p1", Name: "Alpha", State: "wellFormed"}}}
	factory := remote.Factory(func(orgURL, token string) remote.API { return stub })

	authSvc := auth.New(users, logger, cfg)
	settingsSvc := settings.New(conns, factory, logger, cfg)
	progressSvc := progress.New(runs, oplogs, nil, logger)

	router := NewRouter(logger, authSvc, settingsSvc, progressSvc, memMappingsRepo{}, runs, oplogs, factory, cfg, limiter, dbHealth)
	t.Cleanup(router.Close)
	return &harness{router: router, users: users, conns: conns, runs: runs, remote: stub}
}

func (h *harness) signup(t *testing.T, email string) string {
	t.Helper()
	body := bytes.NewBufferString(`{"email":"` + email + `","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/signup", body)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rr.Code, rr.Body.String())
	}
	var payload struct {
		Tokens struct {
			AccessToken string
		} `json:"tokens"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	if payload.Tokens.AccessToken == "" {
		t.Fatal("signup returned no access token")
	}
	return payload.Tokens.AccessToken
}

func TestSignupThenAuthorizedRequest(t *testing.T) {
	h := setupRouter(t, &limiterStub{}, nil)
	token := h.signup(t, "user@example.com")

	req := httptest.NewRequest(http.MethodGet, "/sync/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSyncEndpointsRequireBearerToken(t *testing.T) {
	h := setupRouter(t, &limiterStub{}, nil)
	for _, path := range []string{"/sync/analyze", "/sync/apply", "/sync/clone", "/sync/deploy"} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`))
		rr := httptest.NewRecorder()
		h.router.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestProjectsWithoutConnection(t *testing.T) {
	h := setupRouter(t, &limiterStub{}, nil)
	token := h.signup(t, "user@example.com")

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestConnectionSaveThenProjects(t *testing.T) {
	h := setupRouter(t, &limiterStub{}, nil)
	token := h.signup(t, "user@example.com")

	body := bytes.NewBufferString(`{"org_url":"https://dev.azure.com/acme","token":"secret-pat"}`)
	req := httptest.NewRequest(http.MethodPut, "/connection", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("save connection returned %d: %s", rr.Code, rr.Body.String())
	}

	h.conns.mu.Lock()
	var stored *domain.Connection
	for _, conn := range h.conns.conns {
		stored = conn
	}
	h.conns.mu.Unlock()
	if stored == nil {
		t.Fatal("connection not persisted")
	}
	if bytes.Contains(stored.Token, []byte("secret-pat")) {
		t.Fatal("token stored in the clear")
	}

	req = httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("projects returned %d: %s", rr.Code, rr.Body.String())
	}
	var projects []domain.Container
	if err := json.NewDecoder(rr.Body).Decode(&projects); err != nil {
		t.Fatalf("decode projects: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "p1" {
		t.Fatalf("unexpected projects: %+v", projects)
	}
}

func TestLoginRateLimited(t *testing.T) {
	reset := time.Unix(1_950_000_000, 0)
	limiter := &limiterStub{allowFn: func(string, int, time.Duration) rateDecision {
		return rateDecision{allowed: false, count: rateLimitLogin, windowEnd: reset}
	}}
	h := setupRouter(t, limiter, nil)

	body := bytes.NewBufferString(`{"email":"user@example.com","password":"hunter22"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "12" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Errorf("X-RateLimit-Reset = %q", got)
	}
}

func TestRunLookupHidesForeignRuns(t *testing.T) {
	h := setupRouter(t, &limiterStub{}, nil)
	token := h.signup(t, "user@example.com")

	h.runs.CreateRun(context.Background(), &domain.SyncRun{
		ID:     "run-other",
		UserID: "someone-else",
		Kind:   domain.RunClone,
	})

	req := httptest.NewRequest(http.MethodGet, "/sync/runs/run-other", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign run, got %d", rr.Code)
	}
}

func TestHealthzReportsDatabaseState(t *testing.T) {
	h := setupRouter(t, &limiterStub{}, func(context.Context) error { return nil })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	down := setupRouter(t, &limiterStub{}, func(context.Context) error { return errors.New("connection refused") })
	rr = httptest.NewRecorder()
	down.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when database is down, got %d", rr.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("decode healthz payload: %v", err)
	}
	if payload["status"] != "degraded" {
		t.Fatalf("expected degraded status, got %v", payload["status"])
	}
}
