package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

type groupResource struct {
	ID   string `json:"originId"`
	Name string `json:"displayName"`
}

type memberResource struct {
	PrincipalName string `json:"principalName"`
}

// ListSecurityGroups returns the container's groups with member principal
// names resolved.
func (c *Client) ListSecurityGroups(ctx context.Context, projectID string) ([]domain.SecurityGroup, error) {
	query := url.Values{"projectId": []string{projectID}}
	var envelope listEnvelope[groupResource]
	if err := c.doJSON(ctx, http.MethodGet, "/_apis/graph/groups", query, nil, &envelope); err != nil {
		return nil, err
	}
	groups := make([]domain.SecurityGroup, 0, len(envelope.Value))
	for _, g := range envelope.Value {
		var members listEnvelope[memberResource]
		path := "/_apis/graph/groups/" + url.PathEscape(g.ID) + "/members"
		if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &members); err != nil {
			return nil, err
		}
		group := domain.SecurityGroup{ID: g.ID, Name: g.Name}
		for _, m := range members.Value {
			group.Members = append(group.Members, m.PrincipalName)
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// AddGroupMember adds a principal to a group.
func (c *Client) AddGroupMember(ctx context.Context, groupID, principal string) error {
	path := "/_apis/graph/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(principal)
	return c.doJSON(ctx, http.MethodPut, path, nil, nil, nil)
}

// RemoveGroupMember removes a principal from a group.
func (c *Client) RemoveGroupMember(ctx context.Context, groupID, principal string) error {
	path := "/_apis/graph/groups/" + url.PathEscape(groupID) + "/members/" + url.PathEscape(principal)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

type wikiPageResource struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// ListWikiPages enumerates page paths across the container's wikis.
func (c *Client) ListWikiPages(ctx context.Context, projectID string) ([]domain.WikiPage, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/wiki/pages"
	query := url.Values{"recursionLevel": []string{"full"}}
	var envelope listEnvelope[wikiPageResource]
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &envelope); err != nil {
		return nil, err
	}
	pages := make([]domain.WikiPage, 0, len(envelope.Value))
	for _, p := range envelope.Value {
		pages = append(pages, domain.WikiPage{ID: p.ID, Path: p.Path})
	}
	return pages, nil
}

// GetAttachmentContent downloads an attachment's raw bytes.
func (c *Client) GetAttachmentContent(ctx context.Context, attachmentID string) ([]byte, error) {
	var content []byte
	path := "/_apis/wit/attachments/" + url.PathEscape(attachmentID)
	if err := c.do(ctx, http.MethodGet, path, nil, "", nil, &content); err != nil {
		return nil, err
	}
	return content, nil
}

type attachmentCreated struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateAttachment uploads a byte stream under the given file name and
// returns the new attachment ID.
func (c *Client) CreateAttachment(ctx context.Context, projectID, fileName string, content []byte) (string, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/wit/attachments"
	query := url.Values{"fileName": []string{fileName}}
	var created attachmentCreated
	if err := c.do(ctx, http.MethodPost, path, query, "application/octet-stream", bytes.NewReader(content), &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

type featureStateResource struct {
	State string `json:"state"`
}

// GetFeatureState reads a service feature's enabled state for the container.
func (c *Client) GetFeatureState(ctx context.Context, projectID, featureID string) (bool, error) {
	path := "/_apis/FeatureManagement/FeatureStates/host/project/" + url.PathEscape(projectID) + "/" + url.PathEscape(featureID)
	var state featureStateResource
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &state); err != nil {
		return false, err
	}
	return state.State == "enabled", nil
}

// SetFeatureState sets a service feature's enabled state for the container.
// Propagation on the remote side is eventually consistent.
func (c *Client) SetFeatureState(ctx context.Context, projectID, featureID string, enabled bool) error {
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	path := "/_apis/FeatureManagement/FeatureStates/host/project/" + url.PathEscape(projectID) + "/" + url.PathEscape(featureID)
	return c.doJSON(ctx, http.MethodPatch, path, nil, featureStateResource{State: state}, nil)
}

type repositoryResource struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
	RemoteURL     string `json:"remoteUrl"`
}

// ListRepositories enumerates the container's git repositories.
func (c *Client) ListRepositories(ctx context.Context, projectID string) ([]domain.Repository, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/git/repositories"
	var envelope listEnvelope[repositoryResource]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &envelope); err != nil {
		return nil, err
	}
	repos := make([]domain.Repository, 0, len(envelope.Value))
	for _, r := range envelope.Value {
		repos = append(repos, domain.Repository{ID: r.ID, Name: r.Name, DefaultBranch: r.DefaultBranch, RemoteURL: r.RemoteURL})
	}
	return repos, nil
}

// CreateRepository creates an empty repository in the container.
func (c *Client) CreateRepository(ctx context.Context, projectID, name string) (*domain.Repository, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/git/repositories"
	var created repositoryResource
	if err := c.doJSON(ctx, http.MethodPost, path, nil, map[string]string{"name": name}, &created); err != nil {
		return nil, err
	}
	return &domain.Repository{ID: created.ID, Name: created.Name, DefaultBranch: created.DefaultBranch, RemoteURL: created.RemoteURL}, nil
}

type teamResource struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListTeams enumerates the container's teams.
func (c *Client) ListTeams(ctx context.Context, projectID string) ([]domain.Team, error) {
	path := "/_apis/projects/" + url.PathEscape(projectID) + "/teams"
	var envelope listEnvelope[teamResource]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &envelope); err != nil {
		return nil, err
	}
	teams := make([]domain.Team, 0, len(envelope.Value))
	for _, t := range envelope.Value {
		teams = append(teams, domain.Team{ID: t.ID, Name: t.Name, Description: t.Description})
	}
	return teams, nil
}

// CreateTeam creates a team in the container.
func (c *Client) CreateTeam(ctx context.Context, projectID string, team domain.Team) (*domain.Team, error) {
	path := "/_apis/projects/" + url.PathEscape(projectID) + "/teams"
	payload := map[string]string{"name": team.Name, "description": team.Description}
	var created teamResource
	if err := c.doJSON(ctx, http.MethodPost, path, nil, payload, &created); err != nil {
		return nil, err
	}
	return &domain.Team{ID: created.ID, Name: created.Name, Description: created.Description}, nil
}

type definitionResource struct {
	ID   int             `json:"id"`
	Name string          `json:"name"`
	Path string          `json:"path"`
	Raw  json.RawMessage `json:"-"`
}

// ListPipelineDefinitions enumerates build or release definitions; kind is
// "build" or "release".
func (c *Client) ListPipelineDefinitions(ctx context.Context, projectID, kind string) ([]domain.PipelineDefinition, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/" + url.PathEscape(kind) + "/definitions"
	var envelope listEnvelope[json.RawMessage]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &envelope); err != nil {
		return nil, err
	}
	defs := make([]domain.PipelineDefinition, 0, len(envelope.Value))
	for _, raw := range envelope.Value {
		var meta definitionResource
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		defs = append(defs, domain.PipelineDefinition{ID: meta.ID, Name: meta.Name, Path: meta.Path, Body: append([]byte(nil), raw...)})
	}
	return defs, nil
}

// CreatePipelineDefinition re-creates a definition body in the container.
func (c *Client) CreatePipelineDefinition(ctx context.Context, projectID, kind string, def domain.PipelineDefinition) error {
	path := "/" + url.PathEscape(projectID) + "/_apis/" + url.PathEscape(kind) + "/definitions"
	return c.do(ctx, http.MethodPost, path, nil, "application/json", bytes.NewReader(def.Body), nil)
}

type dashboardResource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ListDashboards enumerates the container's dashboards.
func (c *Client) ListDashboards(ctx context.Context, projectID string) ([]domain.Dashboard, error) {
	path := "/" + url.PathEscape(projectID) + "/_apis/dashboard/dashboards"
	var envelope listEnvelope[dashboardResource]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &envelope); err != nil {
		return nil, err
	}
	dashboards := make([]domain.Dashboard, 0, len(envelope.Value))
	for _, d := range envelope.Value {
		dashboards = append(dashboards, domain.Dashboard{ID: d.ID, Name: d.Name})
	}
	return dashboards, nil
}

// CreateDashboard creates an empty dashboard.
func (c *Client) CreateDashboard(ctx context.Context, projectID, name string) error {
	path := "/" + url.PathEscape(projectID) + "/_apis/dashboard/dashboards"
	return c.doJSON(ctx, http.MethodPost, path, nil, map[string]string{"name": name}, nil)
}

type propertyResource struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// GetProjectProperties reads project-level settings as a flat key/value map.
func (c *Client) GetProjectProperties(ctx context.Context, projectID string) (map[string]string, error) {
	path := "/_apis/projects/" + url.PathEscape(projectID) + "/properties"
	var envelope listEnvelope[propertyResource]
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &envelope); err != nil {
		return nil, err
	}
	props := make(map[string]string, len(envelope.Value))
	for _, p := range envelope.Value {
		switch v := p.Value.(type) {
		case string:
			props[p.Name] = v
		case float64:
			props[p.Name] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			props[p.Name] = strconv.FormatBool(v)
		}
	}
	return props, nil
}

// SetProjectProperties patches project-level settings.
func (c *Client) SetProjectProperties(ctx context.Context, projectID string, props map[string]string) error {
	ops := make([]patchOperation, 0, len(props))
	for name, value := range props {
		ops = append(ops, patchOperation{Op: "add", Path: "/" + name, Value: value})
	}
	if len(ops) == 0 {
		return nil
	}
	path := "/_apis/projects/" + url.PathEscape(projectID) + "/properties"
	return c.doPatchDocument(ctx, http.MethodPatch, path, ops, nil)
}
