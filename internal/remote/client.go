package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

// Client talks to the versioned REST API of the remote tracking service.
type Client struct {
	orgURL     string
	token      string
	apiVersion string
	httpClient *http.Client
}

var _ API = (*Client)(nil)

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

// WithAPIVersion overrides the api-version query parameter.
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// New constructs a Client for the given organization URL and personal access
// token. Request timeouts live here; the sync engine above never sets its own.
func New(orgURL, token string, opts ...Option) *Client {
	trimmed := strings.TrimSpace(orgURL)
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "https://" + trimmed
	}
	c := &Client{
		orgURL:     strings.TrimRight(trimmed, "/"),
		token:      token,
		apiVersion: "7.0",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFactory returns a Factory producing clients that share the given options.
func NewFactory(opts ...Option) Factory {
	return func(orgURL, token string) API {
		return New(orgURL, token, opts...)
	}
}

// listEnvelope is the count/value wrapper the remote service uses for every
// collection response.
type listEnvelope[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

type remoteError struct {
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", c.apiVersion)
	endpoint := c.orgURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.token)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.statusError(resp, path)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &UpstreamError{Err: err}
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func jsonMarshal(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var reader io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, contentType, reader, out)
}

func (c *Client) statusError(resp *http.Response, path string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	var remote remoteError
	_ = json.Unmarshal(data, &remote)
	message := strings.TrimSpace(remote.Message)
	if message == "" {
		message = strings.TrimSpace(string(data))
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Resource: path}
	case resp.StatusCode == http.StatusBadRequest:
		if message == "" {
			message = "remote service rejected the request"
		}
		return &ValidationError{Message: message}
	default:
		return &UpstreamError{Status: resp.StatusCode, Message: message}
	}
}

// ListProjects returns every container visible to the credential.
func (c *Client) ListProjects(ctx context.Context) ([]domain.Container, error) {
	var envelope listEnvelope[projectResource]
	if err := c.doJSON(ctx, http.MethodGet, "/_apis/projects", nil, nil, &envelope); err != nil {
		return nil, err
	}
	projects := make([]domain.Container, 0, len(envelope.Value))
	for _, p := range envelope.Value {
		projects = append(projects, p.toDomain())
	}
	return projects, nil
}

// GetProject resolves one container by ID or name.
func (c *Client) GetProject(ctx context.Context, id string) (*domain.Container, error) {
	var p projectResource
	if err := c.doJSON(ctx, http.MethodGet, "/_apis/projects/"+url.PathEscape(id), nil, nil, &p); err != nil {
		var nf *NotFoundError
		if ok := asNotFound(err, &nf); ok {
			return nil, &NotFoundError{Resource: "project", ID: id}
		}
		return nil, err
	}
	project := p.toDomain()
	return &project, nil
}

// ValidateCredential performs a lightweight connectivity check against the
// given organization. A definite credential rejection yields (false, nil);
// anything else that prevents the check is returned as an error.
func (c *Client) ValidateCredential(ctx context.Context, orgURL, token string) (bool, error) {
	probe := New(orgURL, token, WithHTTPClient(c.httpClient), WithAPIVersion(c.apiVersion))
	_, err := probe.ListProjects(ctx)
	if err == nil {
		return true, nil
	}
	var upstream *UpstreamError
	if asUpstream(err, &upstream) {
		if upstream.Status == http.StatusUnauthorized || upstream.Status == http.StatusForbidden {
			return false, nil
		}
	}
	return false, err
}

type projectResource struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state"`
	URL         string `json:"url"`
}

func (p projectResource) toDomain() domain.Container {
	return domain.Container{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		State:       p.State,
		URL:         p.URL,
	}
}
