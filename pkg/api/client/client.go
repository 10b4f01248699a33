package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

// Client provides typed access to the sync API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg := extractError(resp.Body)
		return APIError{Status: resp.StatusCode, Message: msg}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// LoginResponse captures the token payload emitted by the API.
type LoginResponse struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// User reflects API user payloads.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// TokenPair includes access and refresh tokens.
type TokenPair struct {
	AccessToken  string        `json:"AccessToken"`
	RefreshToken string        `json:"RefreshToken"`
	ExpiresIn    time.Duration `json:"ExpiresIn"`
}

// Signup registers a user and returns a token pair.
func (c *Client) Signup(ctx context.Context, email, password string) (LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	body := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// SaveConnection stores the caller's organization connection.
func (c *Client) SaveConnection(ctx context.Context, token, orgURL, pat string) error {
	body := map[string]string{"org_url": orgURL, "token": pat}
	return c.do(ctx, http.MethodPut, "/connection", body, token, nil)
}

// ListProjects returns the containers visible through the stored connection.
func (c *Client) ListProjects(ctx context.Context, token string) ([]domain.Container, error) {
	var projects []domain.Container
	if err := c.do(ctx, http.MethodGet, "/projects", nil, token, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Analyze runs a source/target difference analysis.
func (c *Client) Analyze(ctx context.Context, token, sourceProjectID, targetProjectID string) (*domain.DifferencesAnalysis, error) {
	body := map[string]string{
		"source_project_id": sourceProjectID,
		"target_project_id": targetProjectID,
	}
	var analysis domain.DifferencesAnalysis
	if err := c.do(ctx, http.MethodPost, "/sync/analyze", body, token, &analysis); err != nil {
		return nil, err
	}
	return &analysis, nil
}

// Apply submits a selective update request.
func (c *Client) Apply(ctx context.Context, token string, req domain.SelectiveUpdateRequest) (*domain.SelectiveUpdateResult, error) {
	var result domain.SelectiveUpdateResult
	if err := c.do(ctx, http.MethodPost, "/sync/apply", req, token, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Clone runs the full-project clone pipeline.
func (c *Client) Clone(ctx context.Context, token string, req domain.CloneRequest) (*domain.CloneResult, error) {
	var result domain.CloneResult
	if err := c.do(ctx, http.MethodPost, "/sync/clone", req, token, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Deploy fans template work items out to multiple targets.
func (c *Client) Deploy(ctx context.Context, token string, req domain.DeploymentRequest) (*domain.DeploymentResult, error) {
	var result domain.DeploymentResult
	if err := c.do(ctx, http.MethodPost, "/sync/deploy", req, token, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Run is one persisted sync run row.
type Run struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	SourceProjectID string          `json:"source_project_id"`
	TargetProjectID string          `json:"target_project_id"`
	Success         bool            `json:"success"`
	Result          json.RawMessage `json:"result,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// ListRuns fetches the caller's recent sync runs.
func (c *Client) ListRuns(ctx context.Context, token string, limit int) ([]Run, error) {
	query := ""
	if limit > 0 {
		query = fmt.Sprintf("?limit=%d", limit)
	}
	var runs []Run
	if err := c.do(ctx, http.MethodGet, "/sync/runs"+query, nil, token, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunDetail bundles a run with its operation logs.
type RunDetail struct {
	Run           Run                   `json:"run"`
	OperationLogs []domain.OperationLog `json:"operation_logs"`
}

// GetRun fetches a run and its operation logs.
func (c *Client) GetRun(ctx context.Context, token, runID string) (*RunDetail, error) {
	var detail RunDetail
	path := "/sync/runs/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, token, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}
