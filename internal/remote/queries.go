package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

type queryResource struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Path      string          `json:"path"`
	WIQL      string          `json:"wiql"`
	QueryType string          `json:"queryType"`
	IsFolder  bool            `json:"isFolder"`
	IsPublic  bool            `json:"isPublic"`
	Children  []queryResource `json:"children"`
}

// ListQueries returns the container's query tree, both reserved roots
// included, WIQL bodies expanded.
func (c *Client) ListQueries(ctx context.Context, projectID string) ([]domain.Query, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/wit/queries"
	query := url.Values{"$depth": []string{"2"}, "$expand": []string{"wiql"}}
	var envelope listEnvelope[queryResource]
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &envelope); err != nil {
		return nil, err
	}
	roots := make([]domain.Query, 0, len(envelope.Value))
	for _, resource := range envelope.Value {
		roots = append(roots, resource.toDomain())
	}
	return roots, nil
}

// CreateQueryFolder creates an empty folder under parentPath.
func (c *Client) CreateQueryFolder(ctx context.Context, projectID, parentPath, name string) (*domain.Query, error) {
	payload := map[string]any{"name": name, "isFolder": true}
	return c.postQuery(ctx, projectID, parentPath, payload)
}

// CreateQuery creates a saved query under parentPath.
func (c *Client) CreateQuery(ctx context.Context, projectID, parentPath string, def domain.Query) (*domain.Query, error) {
	payload := map[string]any{
		"name":      def.Name,
		"wiql":      def.WIQL,
		"queryType": def.QueryType,
	}
	return c.postQuery(ctx, projectID, parentPath, payload)
}

func (c *Client) postQuery(ctx context.Context, projectID, parentPath string, payload map[string]any) (*domain.Query, error) {
	endpoint := "/" + url.PathEscape(projectID) + "/_apis/wit/queries/" + escapePathSegments(parentPath)
	var created queryResource
	if err := c.doJSON(ctx, http.MethodPost, endpoint, nil, payload, &created); err != nil {
		return nil, err
	}
	result := created.toDomain()
	return &result, nil
}

func (r queryResource) toDomain() domain.Query {
	q := domain.Query{
		ID:        r.ID,
		Name:      r.Name,
		Path:      r.Path,
		WIQL:      r.WIQL,
		QueryType: r.QueryType,
		IsFolder:  r.IsFolder,
		IsPublic:  r.IsPublic,
	}
	for _, child := range r.Children {
		q.Children = append(q.Children, child.toDomain())
	}
	return q
}
