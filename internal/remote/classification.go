package remote

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

type classificationResource struct {
	ID       int                      `json:"id"`
	Name     string                   `json:"name"`
	Children []classificationResource `json:"children"`
}

// ListClassificationNodes returns the full area or iteration tree rooted at
// the container root node.
func (c *Client) ListClassificationNodes(ctx context.Context, projectID string, kind domain.ClassificationKind) (*domain.ClassificationNode, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/wit/classificationnodes/" + string(kind)
	query := url.Values{"$depth": []string{"20"}}
	var root classificationResource
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &root); err != nil {
		return nil, err
	}
	node := root.toDomain("")
	return &node, nil
}

// CreateClassificationNode creates the named node under the given parent
// path. The path is relative to the tree root; intermediate nodes must exist.
func (c *Client) CreateClassificationNode(ctx context.Context, projectID string, kind domain.ClassificationKind, nodePath string) (*domain.ClassificationNode, error) {
	trimmed := strings.Trim(nodePath, "\\/")
	if trimmed == "" {
		return nil, &ValidationError{Message: "classification node path is required"}
	}
	segments := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '\\' || r == '/' })
	name := segments[len(segments)-1]
	parent := strings.Join(segments[:len(segments)-1], "/")

	endpoint := "/" + url.PathEscape(projectID) + "/_apis/wit/classificationnodes/" + string(kind)
	if parent != "" {
		endpoint += "/" + escapePathSegments(parent)
	}
	var created classificationResource
	if err := c.doJSON(ctx, http.MethodPost, endpoint, nil, map[string]string{"name": name}, &created); err != nil {
		return nil, err
	}
	node := created.toDomain(parent)
	return &node, nil
}

func (r classificationResource) toDomain(parentPath string) domain.ClassificationNode {
	fullPath := r.Name
	if parentPath != "" {
		fullPath = parentPath + "\\" + r.Name
	}
	node := domain.ClassificationNode{ID: r.ID, Name: r.Name, Path: fullPath}
	for _, child := range r.Children {
		node.Children = append(node.Children, child.toDomain(fullPath))
	}
	return node
}

func escapePathSegments(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}
