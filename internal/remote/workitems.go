package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

// Well-known work item field reference names.
const (
	fieldTitle         = "System.Title"
	fieldState         = "System.State"
	fieldWorkItemType  = "System.WorkItemType"
	fieldAreaPath      = "System.AreaPath"
	fieldIterationPath = "System.IterationPath"
	fieldTags          = "System.Tags"
	fieldAssignedTo    = "System.AssignedTo"
	fieldDescription   = "System.Description"
	fieldPriority      = "Microsoft.VSTS.Common.Priority"
)

const (
	relAttachedFile = "AttachedFile"
	relParent       = "System.LinkTypes.Hierarchy-Reverse"
)

const workItemBatchSize = 200

type wiqlRequest struct {
	Query string `json:"query"`
}

type workItemReference struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

type wiqlResponse struct {
	WorkItems []workItemReference `json:"workItems"`
}

type workItemBatchRequest struct {
	IDs    []int  `json:"ids"`
	Expand string `json:"$expand,omitempty"`
}

type workItemResource struct {
	ID        int                `json:"id"`
	Fields    map[string]any     `json:"fields"`
	Relations []relationResource `json:"relations"`
	URL       string             `json:"url"`
}

type relationResource struct {
	Rel        string         `json:"rel"`
	URL        string         `json:"url"`
	Attributes map[string]any `json:"attributes"`
}

type patchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// ListWorkItems fetches every work item in the container, relations expanded.
func (c *Client) ListWorkItems(ctx context.Context, projectID string) ([]domain.WorkItem, error) {
	wiql := wiqlRequest{Query: "Select [System.Id] From WorkItems Order By [System.Id]"}
	var refs wiqlResponse
	path := "/" + url.PathEscape(projectID) + "/_apis/wit/wiql"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, wiql, &refs); err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(refs.WorkItems))
	for _, ref := range refs.WorkItems {
		ids = append(ids, ref.ID)
	}

	items := make([]domain.WorkItem, 0, len(ids))
	for start := 0; start < len(ids); start += workItemBatchSize {
		end := start + workItemBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := workItemBatchRequest{IDs: ids[start:end], Expand: "relations"}
		var envelope listEnvelope[workItemResource]
		batchPath := "/" + url.PathEscape(projectID) + "/_apis/wit/workitemsbatch"
		if err := c.doJSON(ctx, http.MethodPost, batchPath, nil, batch, &envelope); err != nil {
			return nil, err
		}
		for _, resource := range envelope.Value {
			items = append(items, resource.toDomain())
		}
	}
	return items, nil
}

// CreateWorkItem creates a new work item of the item's type in the container.
func (c *Client) CreateWorkItem(ctx context.Context, projectID string, item domain.WorkItem) (*domain.WorkItem, error) {
	if strings.TrimSpace(item.Type) == "" {
		return nil, &ValidationError{Message: "work item type is required"}
	}
	ops := []patchOperation{{Op: "add", Path: "/fields/" + fieldTitle, Value: item.Title}}
	if item.State != "" {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + fieldState, Value: item.State})
	}
	if item.Priority != 0 {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + fieldPriority, Value: item.Priority})
	}
	if item.AssignedTo != "" {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + fieldAssignedTo, Value: item.AssignedTo})
	}
	if item.AreaPath != "" {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + fieldAreaPath, Value: item.AreaPath})
	}
	if item.IterationPath != "" {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + fieldIterationPath, Value: item.IterationPath})
	}
	if item.Tags != "" {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + fieldTags, Value: item.Tags})
	}
	if item.Description != "" {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + fieldDescription, Value: item.Description})
	}

	path := "/" + url.PathEscape(projectID) + "/_apis/wit/workitems/$" + url.PathEscape(item.Type)
	var created workItemResource
	if err := c.doPatchDocument(ctx, http.MethodPost, path, ops, &created); err != nil {
		return nil, err
	}
	result := created.toDomain()
	return &result, nil
}

// UpdateWorkItem patches only the fields the patch carries.
func (c *Client) UpdateWorkItem(ctx context.Context, projectID string, id int, patch domain.WorkItemPatch) (*domain.WorkItem, error) {
	var ops []patchOperation
	add := func(field string, value any) {
		ops = append(ops, patchOperation{Op: "add", Path: "/fields/" + field, Value: value})
	}
	if patch.Title != nil {
		add(fieldTitle, *patch.Title)
	}
	if patch.State != nil {
		add(fieldState, *patch.State)
	}
	if patch.Priority != nil {
		add(fieldPriority, *patch.Priority)
	}
	if patch.AssignedTo != nil {
		add(fieldAssignedTo, *patch.AssignedTo)
	}
	if patch.AreaPath != nil {
		add(fieldAreaPath, *patch.AreaPath)
	}
	if patch.IterationPath != nil {
		add(fieldIterationPath, *patch.IterationPath)
	}
	if patch.Tags != nil {
		add(fieldTags, *patch.Tags)
	}
	if patch.Description != nil {
		add(fieldDescription, *patch.Description)
	}
	if len(ops) == 0 {
		return nil, &ValidationError{Message: "empty work item patch"}
	}

	path := "/" + url.PathEscape(projectID) + "/_apis/wit/workitems/" + strconv.Itoa(id)
	var updated workItemResource
	if err := c.doPatchDocument(ctx, http.MethodPatch, path, ops, &updated); err != nil {
		return nil, err
	}
	result := updated.toDomain()
	return &result, nil
}

// AddWorkItemRelation appends one relation (parent link, attached file) to an
// existing work item.
func (c *Client) AddWorkItemRelation(ctx context.Context, projectID string, id int, rel domain.Relation) error {
	value := map[string]any{"rel": rel.Rel, "url": rel.URL}
	if rel.Comment != "" {
		value["attributes"] = map[string]any{"comment": rel.Comment}
	}
	ops := []patchOperation{{Op: "add", Path: "/relations/-", Value: value}}
	path := "/" + url.PathEscape(projectID) + "/_apis/wit/workitems/" + strconv.Itoa(id)
	return c.doPatchDocument(ctx, http.MethodPatch, path, ops, nil)
}

func (c *Client) doPatchDocument(ctx context.Context, method, path string, ops []patchOperation, out any) error {
	data, err := jsonMarshal(ops)
	if err != nil {
		return fmt.Errorf("encode patch document: %w", err)
	}
	return c.do(ctx, method, path, nil, "application/json-patch+json", data, out)
}

func (r workItemResource) toDomain() domain.WorkItem {
	item := domain.WorkItem{
		ID:            r.ID,
		Type:          stringField(r.Fields, fieldWorkItemType),
		Title:         stringField(r.Fields, fieldTitle),
		State:         stringField(r.Fields, fieldState),
		Priority:      intField(r.Fields, fieldPriority),
		AssignedTo:    identityField(r.Fields, fieldAssignedTo),
		AreaPath:      stringField(r.Fields, fieldAreaPath),
		IterationPath: stringField(r.Fields, fieldIterationPath),
		Tags:          stringField(r.Fields, fieldTags),
		Description:   stringField(r.Fields, fieldDescription),
	}
	for _, rel := range r.Relations {
		comment := ""
		if raw, ok := rel.Attributes["comment"].(string); ok {
			comment = raw
		}
		relation := domain.Relation{Rel: rel.Rel, URL: rel.URL, Comment: comment}
		item.Relations = append(item.Relations, relation)
		switch rel.Rel {
		case relAttachedFile:
			name := ""
			if raw, ok := rel.Attributes["name"].(string); ok {
				name = raw
			}
			item.Attachments = append(item.Attachments, domain.Attachment{
				ID:      AttachmentIDFromURL(rel.URL),
				Name:    name,
				Comment: comment,
				URL:     rel.URL,
			})
		case relParent:
			item.ParentID = workItemIDFromURL(rel.URL)
		}
	}
	return item
}

// AttachmentIDFromURL extracts the attachment GUID from an attached-file
// relation URL. Returns "" when the URL does not look like an attachment
// endpoint.
func AttachmentIDFromURL(rawURL string) string {
	const marker = "/_apis/wit/attachments/"
	idx := strings.Index(rawURL, marker)
	if idx < 0 {
		return ""
	}
	id := rawURL[idx+len(marker):]
	if q := strings.IndexRune(id, '?'); q >= 0 {
		id = id[:q]
	}
	return id
}

func workItemIDFromURL(rawURL string) int {
	idx := strings.LastIndexByte(rawURL, '/')
	if idx < 0 {
		return 0
	}
	id, err := strconv.Atoi(rawURL[idx+1:])
	if err != nil {
		return 0
	}
	return id
}

func stringField(fields map[string]any, name string) string {
	if raw, ok := fields[name].(string); ok {
		return raw
	}
	return ""
}

func intField(fields map[string]any, name string) int {
	switch v := fields[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return 0
}

// identityField handles both plain strings and the expanded identity object
// the remote service returns for assignee fields.
func identityField(fields map[string]any, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case map[string]any:
		if unique, ok := v["uniqueName"].(string); ok {
			return unique
		}
		if display, ok := v["displayName"].(string); ok {
			return display
		}
	}
	return ""
}
