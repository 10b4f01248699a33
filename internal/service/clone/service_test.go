package clone

import (
	"context"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/progress"
)

type stubAPI struct {
	remote.API

	credentialOK  bool
	credentialErr error

	projectNames map[string]string

	workItems    []domain.WorkItem
	createErr    map[string]error
	createdItems []domain.WorkItem
	nextItemID   int
	relations    []domain.Relation

	queries        []domain.Query
	createdFolders []string
	createdQueries []string

	areaTree      *domain.ClassificationNode
	createdPaths  []string
	attachments   map[string][]byte
	uploadedFiles []string

	featureStates map[string]bool
	setFeatures   map[string]bool

	properties    map[string]string
	setProperties map[string]string

	repos        []domain.Repository
	createdRepos []string
	teams        []domain.Team
	createdTeams []string
}

func (s *stubAPI) ValidateCredential(context.Context, string, string) (bool, error) {
	return s.credentialOK, s.credentialErr
}

func (s *stubAPI) ListProjects(context.Context) ([]domain.Container, error) {
	return nil, nil
}

func (s *stubAPI) GetProject(_ context.Context, id string) (*domain.Container, error) {
	name := s.projectNames[id]
	if name == "" {
		name = id
	}
	return &domain.Container{ID: id, Name: name}, nil
}

func (s *stubAPI) ListWorkItems(context.Context, string) ([]domain.WorkItem, error) {
	return s.workItems, nil
}

func (s *stubAPI) CreateWorkItem(_ context.Context, _ string, item domain.WorkItem) (*domain.WorkItem, error) {
	if err := s.createErr[item.Title]; err != nil {
		return nil, err
	}
	s.nextItemID++
	out := item
	out.ID = 2000 + s.nextItemID
	s.createdItems = append(s.createdItems, out)
	return &out, nil
}

func (s *stubAPI) AddWorkItemRelation(_ context.Context, _ string, _ int, rel domain.Relation) error {
	s.relations = append(s.relations, rel)
	return nil
}

func (s *stubAPI) ListQueries(context.Context, string) ([]domain.Query, error) {
	return s.queries, nil
}

func (s *stubAPI) CreateQueryFolder(_ context.Context, _, parentPath, name string) (*domain.Query, error) {
	s.createdFolders = append(s.createdFolders, joinQueryPath(parentPath, name))
	return &domain.Query{Name: name, IsFolder: true}, nil
}

func (s *stubAPI) CreateQuery(_ context.Context, _, parentPath string, def domain.Query) (*domain.Query, error) {
	s.createdQueries = append(s.createdQueries, joinQueryPath(parentPath, def.Name))
	return &def, nil
}

func (s *stubAPI) ListClassificationNodes(_ context.Context, projectID string, _ domain.ClassificationKind) (*domain.ClassificationNode, error) {
	if projectID == "src" && s.areaTree != nil {
		return s.areaTree, nil
	}
	return &domain.ClassificationNode{Name: "Tgt", Path: "Tgt"}, nil
}

func (s *stubAPI) CreateClassificationNode(_ context.Context, _ string, _ domain.ClassificationKind, path string) (*domain.ClassificationNode, error) {
	s.createdPaths = append(s.createdPaths, path)
	return &domain.ClassificationNode{Name: path}, nil
}

func (s *stubAPI) GetAttachmentContent(_ context.Context, id string) ([]byte, error) {
	content, ok := s.attachments[id]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return content, nil
}

func (s *stubAPI) CreateAttachment(_ context.Context, _, fileName string, _ []byte) (string, error) {
	s.uploadedFiles = append(s.uploadedFiles, fileName)
	return "attachments/" + fileName, nil
}

func (s *stubAPI) GetFeatureState(_ context.Context, _, featureID string) (bool, error) {
	return s.featureStates[featureID], nil
}

func (s *stubAPI) SetFeatureState(_ context.Context, _, featureID string, enabled bool) error {
	if s.setFeatures == nil {
		s.setFeatures = make(map[string]bool)
	}
	s.setFeatures[featureID] = enabled
	return nil
}

func (s *stubAPI) GetProjectProperties(context.Context, string) (map[string]string, error) {
	return s.properties, nil
}

func (s *stubAPI) SetProjectProperties(_ context.Context, _ string, props map[string]string) error {
	s.setProperties = props
	return nil
}

func (s *stubAPI) ListRepositories(context.Context, string) ([]domain.Repository, error) {
	return s.repos, nil
}

func (s *stubAPI) CreateRepository(_ context.Context, _, name string) (*domain.Repository, error) {
	s.createdRepos = append(s.createdRepos, name)
	return &domain.Repository{Name: name}, nil
}

func (s *stubAPI) ListTeams(context.Context, string) ([]domain.Team, error) {
	return s.teams, nil
}

func (s *stubAPI) CreateTeam(_ context.Context, _ string, team domain.Team) (*domain.Team, error) {
	s.createdTeams = append(s.createdTeams, team.Name)
	return &team, nil
}

func newService(api *stubAPI) Service {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	factory := func(string, string) remote.API { return api }
	return New(api, factory, nil, progress.Service{}, 0, logger)
}

func TestClonePreFlightAbortsBeforeAnyStep(t *testing.T) {
	api := &stubAPI{credentialOK: false, workItems: []domain.WorkItem{{ID: 1, Title: "A"}}}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		TargetOrgURL:    "https://dev.azure.com/other",
		TargetToken:     "pat",
		Options:         domain.CloneOptions{WorkItems: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if !errors.Is(err, errTargetUnreachable) {
		t.Fatalf("err = %v, want %v", err, errTargetUnreachable)
	}
	if result != nil {
		t.Error("a failed pre-flight must not produce a partial result")
	}
	if len(api.createdItems) != 0 {
		t.Error("no step should run after a failed pre-flight")
	}
}

func TestCloneStepFailureDoesNotHaltPipeline(t *testing.T) {
	api := &stubAPI{
		workItems: []domain.WorkItem{
			{ID: 1, Title: "OK", Type: "Task"},
			{ID: 2, Title: "Broken", Type: "Task"},
		},
		createErr:  map[string]error{"Broken": errors.New("boom")},
		properties: map[string]string{"System.Process": "Agile"},
	}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		Options:         domain.CloneOptions{WorkItems: true, ProjectSettings: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TotalSteps != 2 {
		t.Fatalf("TotalSteps = %d, want 2", result.TotalSteps)
	}
	if result.CompletedSteps != 1 {
		t.Errorf("CompletedSteps = %d, want 1", result.CompletedSteps)
	}
	if result.Success {
		t.Error("Success should be false after a step failure")
	}
	if len(result.Steps) != 2 {
		t.Fatalf("steps recorded = %d, want 2", len(result.Steps))
	}
	if result.Steps[0].Success {
		t.Error("work items step should be failed")
	}
	if !result.Steps[1].Success {
		t.Error("project settings step should still run and succeed")
	}
	if api.setProperties == nil {
		t.Error("project settings should have been copied despite the earlier failure")
	}
}

func TestCloneWorkItemsParentOrderAndMapping(t *testing.T) {
	api := &stubAPI{
		workItems: []domain.WorkItem{
			{ID: 2, Title: "Child", Type: "Task", ParentID: 1},
			{ID: 1, Title: "Parent", Type: "Feature"},
		},
	}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		Options:         domain.CloneOptions{WorkItems: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("clone failed: %+v", result.Steps)
	}
	if api.createdItems[0].Title != "Parent" {
		t.Errorf("creation order starts with %q, want Parent", api.createdItems[0].Title)
	}
	if len(api.relations) != 1 || api.relations[0].Rel != "System.LinkTypes.Hierarchy-Reverse" {
		t.Errorf("parent relation = %+v", api.relations)
	}
}

func TestCloneWorkItemsRerootedUnderTargetName(t *testing.T) {
	api := &stubAPI{
		projectNames: map[string]string{"tgt": "Tgt"},
		workItems: []domain.WorkItem{
			{ID: 1, Title: "Task", Type: "Task", AreaPath: "Src\\Team A", IterationPath: "Src\\Iteration 1"},
		},
	}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		Options:         domain.CloneOptions{WorkItems: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("clone failed: %+v", result.Steps)
	}
	if len(api.createdItems) != 1 {
		t.Fatalf("created items = %d, want 1", len(api.createdItems))
	}
	got := api.createdItems[0]
	if got.AreaPath != "Tgt\\Team A" {
		t.Errorf("area path = %q, want Tgt\\Team A", got.AreaPath)
	}
	if got.IterationPath != "Tgt\\Iteration 1" {
		t.Errorf("iteration path = %q, want Tgt\\Iteration 1", got.IterationPath)
	}
}

func TestCloneAttachmentsReuploadedUnderOriginalName(t *testing.T) {
	api := &stubAPI{
		workItems: []domain.WorkItem{
			{ID: 1, Title: "Bug", Type: "Bug", Attachments: []domain.Attachment{
				{ID: "att-1", Name: "log.txt", Comment: "crash log"},
			}},
		},
		attachments: map[string][]byte{"att-1": []byte("stack trace")},
	}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		Options:         domain.CloneOptions{WorkItems: true, IncludeAttachments: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("clone failed: %+v", result.Steps)
	}
	if len(api.uploadedFiles) != 1 || api.uploadedFiles[0] != "log.txt" {
		t.Errorf("uploaded files = %v, want [log.txt]", api.uploadedFiles)
	}
	var attached bool
	for _, rel := range api.relations {
		if rel.Rel == "AttachedFile" && rel.Comment == "crash log" {
			attached = true
		}
	}
	if !attached {
		t.Error("new work item should carry an AttachedFile relation with the original comment")
	}
}

func TestCloneQueriesSkipsReservedFolders(t *testing.T) {
	api := &stubAPI{
		queries: []domain.Query{
			{
				Name: "Shared Queries", IsFolder: true,
				Children: []domain.Query{
					{Name: "Open Bugs", WIQL: "SELECT [System.Id] FROM WorkItems"},
					{
						Name: "Triage", IsFolder: true,
						Children: []domain.Query{{Name: "Untriaged", WIQL: "SELECT [System.Id] FROM WorkItems"}},
					},
				},
			},
		},
	}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		Options:         domain.CloneOptions{Queries: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("clone failed: %+v", result.Steps)
	}
	for _, folder := range api.createdFolders {
		if folder == "Shared Queries" {
			t.Error("reserved folder must never be created")
		}
	}
	if len(api.createdFolders) != 1 || api.createdFolders[0] != "Shared Queries/Triage" {
		t.Errorf("created folders = %v, want [Shared Queries/Triage]", api.createdFolders)
	}
	want := map[string]bool{
		"Shared Queries/Open Bugs":        true,
		"Shared Queries/Triage/Untriaged": true,
	}
	if len(api.createdQueries) != 2 {
		t.Fatalf("created queries = %v", api.createdQueries)
	}
	for _, q := range api.createdQueries {
		if !want[q] {
			t.Errorf("unexpected query path %q", q)
		}
	}
}

func TestCloneServiceVisibilityCopiesFeatureStates(t *testing.T) {
	api := &stubAPI{
		featureStates: map[string]bool{
			"ms.vss-work.agile":           true,
			"ms.vss-code.version-control": false,
			"ms.vss-build.pipelines":      true,
			"ms.vss-test-web.test":        false,
			"ms.azure-artifacts.feature":  true,
		},
	}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		Options:         domain.CloneOptions{ServiceVisibility: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("clone failed: %+v", result.Steps)
	}
	if len(api.setFeatures) != len(serviceFeatures) {
		t.Fatalf("features set = %d, want %d", len(api.setFeatures), len(serviceFeatures))
	}
	for id, enabled := range api.featureStates {
		if api.setFeatures[id] != enabled {
			t.Errorf("feature %s = %v, want %v", id, api.setFeatures[id], enabled)
		}
	}
}

func TestCloneClassificationCreatesMissingPaths(t *testing.T) {
	api := &stubAPI{
		areaTree: &domain.ClassificationNode{
			Name: "Src", Path: "Src",
			Children: []domain.ClassificationNode{
				{Name: "Team A", Path: "Src\\Team A", Children: []domain.ClassificationNode{
					{Name: "Sprint Crew", Path: "Src\\Team A\\Sprint Crew"},
				}},
			},
		},
	}
	svc := newService(api)

	req := domain.CloneRequest{
		SourceProjectID: "src",
		TargetProjectID: "tgt",
		Options:         domain.CloneOptions{AreaPaths: true},
	}
	result, err := svc.CloneProject(context.Background(), "u1", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("clone failed: %+v", result.Steps)
	}
	want := []string{"Team A", "Team A\\Sprint Crew"}
	if len(api.createdPaths) != len(want) {
		t.Fatalf("created paths = %v, want %v", api.createdPaths, want)
	}
	for i, path := range want {
		if api.createdPaths[i] != path {
			t.Errorf("path[%d] = %q, want %q", i, api.createdPaths[i], path)
		}
	}
}
