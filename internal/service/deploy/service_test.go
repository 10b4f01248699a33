package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"log/slog"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/progress"
)

type stubAPI struct {
	remote.API

	sourceItems   []domain.WorkItem
	unreachable   map[string]bool
	createdByProj map[string][]domain.WorkItem
	updatedIDs    []int
	patches       []domain.WorkItemPatch
	createdPaths  []string
	nextItemID    int
}

func (s *stubAPI) ListWorkItems(context.Context, string) ([]domain.WorkItem, error) {
	return s.sourceItems, nil
}

func (s *stubAPI) GetProject(_ context.Context, id string) (*domain.Container, error) {
	if s.unreachable[id] {
		return nil, &remote.UpstreamError{Status: 503, Message: "service unavailable"}
	}
	return &domain.Container{ID: id, Name: id}, nil
}

func (s *stubAPI) CreateWorkItem(_ context.Context, projectID string, item domain.WorkItem) (*domain.WorkItem, error) {
	s.nextItemID++
	out := item
	out.ID = 3000 + s.nextItemID
	if s.createdByProj == nil {
		s.createdByProj = make(map[string][]domain.WorkItem)
	}
	s.createdByProj[projectID] = append(s.createdByProj[projectID], out)
	return &out, nil
}

func (s *stubAPI) UpdateWorkItem(_ context.Context, _ string, id int, patch domain.WorkItemPatch) (*domain.WorkItem, error) {
	s.updatedIDs = append(s.updatedIDs, id)
	s.patches = append(s.patches, patch)
	return &domain.WorkItem{ID: id}, nil
}

func (s *stubAPI) AddWorkItemRelation(context.Context, string, int, domain.Relation) error {
	return nil
}

func (s *stubAPI) CreateClassificationNode(_ context.Context, _ string, _ domain.ClassificationKind, path string) (*domain.ClassificationNode, error) {
	s.createdPaths = append(s.createdPaths, path)
	return &domain.ClassificationNode{Name: path}, nil
}

type memMappings struct {
	byKey map[string]*domain.WorkItemMapping
}

func mappingKey(sourceProjectID string, sourceID int, targetProjectID string) string {
	return fmt.Sprintf("%s/%d/%s", sourceProjectID, sourceID, targetProjectID)
}

func (m *memMappings) UpsertMapping(_ context.Context, mapping *domain.WorkItemMapping) error {
	if m.byKey == nil {
		m.byKey = make(map[string]*domain.WorkItemMapping)
	}
	m.byKey[mappingKey(mapping.SourceProjectID, mapping.SourceID, mapping.TargetProjectID)] = mapping
	return nil
}

func (m *memMappings) GetMapping(_ context.Context, sourceProjectID string, sourceID int, targetProjectID string) (*domain.WorkItemMapping, error) {
	mapping, ok := m.byKey[mappingKey(sourceProjectID, sourceID, targetProjectID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return mapping, nil
}

func (m *memMappings) ListMappings(context.Context, string, string) ([]domain.WorkItemMapping, error) {
	return nil, nil
}

func newService(api *stubAPI, mappings repository.MappingRepository) Service {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(api, mappings, progress.Service{}, logger)
}

func TestDeployRejectsInvalidRequest(t *testing.T) {
	svc := newService(&stubAPI{}, &memMappings{})

	cases := []struct {
		name string
		req  domain.DeploymentRequest
		want error
	}{
		{"missing source", domain.DeploymentRequest{TargetProjectIDs: []string{"t"}, WorkItemIDs: []int{1}}, errMissingSource},
		{"no targets", domain.DeploymentRequest{SourceProjectID: "s", WorkItemIDs: []int{1}}, errNoTargets},
		{"no items", domain.DeploymentRequest{SourceProjectID: "s", TargetProjectIDs: []string{"t"}}, errNoWorkItems},
		{"source as target", domain.DeploymentRequest{SourceProjectID: "s", TargetProjectIDs: []string{"s"}, WorkItemIDs: []int{1}}, errSourceIsTarget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.DeployWorkItems(context.Background(), "u1", tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDeployFanOutIsolation(t *testing.T) {
	api := &stubAPI{
		sourceItems: []domain.WorkItem{{ID: 1, Type: "Task", Title: "Template"}},
		unreachable: map[string]bool{"t2": true},
	}
	svc := newService(api, &memMappings{})

	req := domain.DeploymentRequest{
		SourceProjectID:  "src",
		TargetProjectIDs: []string{"t1", "t2"},
		WorkItemIDs:      []int{1},
	}
	result, err := svc.DeployWorkItems(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SuccessfulProjects != 1 || result.FailedProjects != 1 {
		t.Errorf("successful/failed = %d/%d, want 1/1", result.SuccessfulProjects, result.FailedProjects)
	}
	if !result.Success {
		t.Error("aggregate Success should hold with one reachable target")
	}
	if len(api.createdByProj["t1"]) != 1 {
		t.Errorf("t1 should be fully processed despite t2's failure, created = %d", len(api.createdByProj["t1"]))
	}
	if len(api.createdByProj["t2"]) != 0 {
		t.Error("no items should be created on the unreachable target")
	}
	if result.TotalDeployed != 1 {
		t.Errorf("TotalDeployed = %d, want 1", result.TotalDeployed)
	}
}

func TestDeploySkipsMappedItemsWithoutUpdateExisting(t *testing.T) {
	api := &stubAPI{sourceItems: []domain.WorkItem{{ID: 1, Type: "Task", Title: "Template"}}}
	mappings := &memMappings{}
	_ = mappings.UpsertMapping(context.Background(), &domain.WorkItemMapping{
		SourceProjectID: "src", SourceID: 1, TargetProjectID: "t1", TargetID: 900,
	})
	svc := newService(api, mappings)

	req := domain.DeploymentRequest{
		SourceProjectID:  "src",
		TargetProjectIDs: []string{"t1"},
		WorkItemIDs:      []int{1},
	}
	result, err := svc.DeployWorkItems(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := result.Projects[0]
	if p.Skipped != 1 || p.Created != 0 {
		t.Errorf("skipped/created = %d/%d, want 1/0", p.Skipped, p.Created)
	}
	if p.Details[0].Action != domain.ActionSkipped {
		t.Errorf("action = %s, want skipped", p.Details[0].Action)
	}
	if p.Details[0].TargetID != 900 {
		t.Errorf("detail should carry the mapped target id, got %d", p.Details[0].TargetID)
	}
}

func TestDeployUpdatesMappedItemsWithUpdateExisting(t *testing.T) {
	api := &stubAPI{sourceItems: []domain.WorkItem{{ID: 1, Type: "Task", Title: "Template"}}}
	mappings := &memMappings{}
	_ = mappings.UpsertMapping(context.Background(), &domain.WorkItemMapping{
		SourceProjectID: "src", SourceID: 1, TargetProjectID: "t1", TargetID: 900,
	})
	svc := newService(api, mappings)

	req := domain.DeploymentRequest{
		SourceProjectID:  "src",
		TargetProjectIDs: []string{"t1"},
		WorkItemIDs:      []int{1},
		Options:          domain.DeploymentOptions{UpdateExisting: true},
	}
	result, err := svc.DeployWorkItems(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := result.Projects[0]
	if p.Updated != 1 {
		t.Errorf("Updated = %d, want 1", p.Updated)
	}
	if len(api.updatedIDs) != 1 || api.updatedIDs[0] != 900 {
		t.Errorf("updated IDs = %v, want [900]", api.updatedIDs)
	}
}

func TestDeployCreateMissingPaths(t *testing.T) {
	api := &stubAPI{
		sourceItems: []domain.WorkItem{
			{ID: 1, Type: "Task", Title: "A", AreaPath: "Src\\Team X", IterationPath: "Src\\Sprint 1"},
		},
	}
	svc := newService(api, &memMappings{})

	req := domain.DeploymentRequest{
		SourceProjectID:  "src",
		TargetProjectIDs: []string{"t1"},
		WorkItemIDs:      []int{1},
		Options:          domain.DeploymentOptions{CreateMissingPaths: true},
	}
	if _, err := svc.DeployWorkItems(context.Background(), "u1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]bool{"Team X": true, "Sprint 1": true}
	if len(api.createdPaths) != 2 {
		t.Fatalf("created paths = %v", api.createdPaths)
	}
	for _, path := range api.createdPaths {
		if !want[path] {
			t.Errorf("unexpected path %q", path)
		}
	}
}

func TestDeployCreatesItemsUnderTargetRootedPaths(t *testing.T) {
	api := &stubAPI{
		sourceItems: []domain.WorkItem{
			{ID: 1, Type: "Task", Title: "A", AreaPath: "Src\\Team X", IterationPath: "Src\\Sprint 1"},
		},
	}
	svc := newService(api, &memMappings{})

	req := domain.DeploymentRequest{
		SourceProjectID:  "src",
		TargetProjectIDs: []string{"t1"},
		WorkItemIDs:      []int{1},
	}
	if _, err := svc.DeployWorkItems(context.Background(), "u1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.createdByProj["t1"]) != 1 {
		t.Fatalf("created in t1 = %d, want 1", len(api.createdByProj["t1"]))
	}
	got := api.createdByProj["t1"][0]
	if got.AreaPath != "t1\\Team X" {
		t.Errorf("area path = %q, want t1\\Team X", got.AreaPath)
	}
	if got.IterationPath != "t1\\Sprint 1" {
		t.Errorf("iteration path = %q, want t1\\Sprint 1", got.IterationPath)
	}
}

func TestDeployUpdateRewritesPathsUnderTarget(t *testing.T) {
	api := &stubAPI{
		sourceItems: []domain.WorkItem{
			{ID: 1, Type: "Task", Title: "A", AreaPath: "Src\\Team X"},
		},
	}
	mappings := &memMappings{}
	_ = mappings.UpsertMapping(context.Background(), &domain.WorkItemMapping{
		SourceProjectID: "src", SourceID: 1, TargetProjectID: "t1", TargetID: 900,
	})
	svc := newService(api, mappings)

	req := domain.DeploymentRequest{
		SourceProjectID:  "src",
		TargetProjectIDs: []string{"t1"},
		WorkItemIDs:      []int{1},
		Options:          domain.DeploymentOptions{UpdateExisting: true},
	}
	if _, err := svc.DeployWorkItems(context.Background(), "u1", req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.patches) != 1 {
		t.Fatalf("patches sent = %d, want 1", len(api.patches))
	}
	patch := api.patches[0]
	if patch.AreaPath == nil || *patch.AreaPath != "t1\\Team X" {
		t.Errorf("area path patch = %v, want t1\\Team X", patch.AreaPath)
	}
}

func TestDeployUnknownTemplateIDWarns(t *testing.T) {
	api := &stubAPI{sourceItems: []domain.WorkItem{{ID: 1, Type: "Task", Title: "A"}}}
	svc := newService(api, &memMappings{})

	req := domain.DeploymentRequest{
		SourceProjectID:  "src",
		TargetProjectIDs: []string{"t1"},
		WorkItemIDs:      []int{1, 99},
	}
	result, err := svc.DeployWorkItems(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning for the unknown template id")
	}
	if result.TotalDeployed != 1 {
		t.Errorf("TotalDeployed = %d, want 1", result.TotalDeployed)
	}
}
