package remote

import (
	"context"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

// API is the remote tracking service contract the sync engine consumes. The
// HTTP client implements it; tests substitute stubs.
type API interface {
	ListProjects(ctx context.Context) ([]domain.Container, error)
	GetProject(ctx context.Context, id string) (*domain.Container, error)

	ListWorkItems(ctx context.Context, projectID string) ([]domain.WorkItem, error)
	CreateWorkItem(ctx context.Context, projectID string, item domain.WorkItem) (*domain.WorkItem, error)
	UpdateWorkItem(ctx context.Context, projectID string, id int, patch domain.WorkItemPatch) (*domain.WorkItem, error)
	AddWorkItemRelation(ctx context.Context, projectID string, id int, rel domain.Relation) error

	ListClassificationNodes(ctx context.Context, projectID string, kind domain.ClassificationKind) (*domain.ClassificationNode, error)
	CreateClassificationNode(ctx context.Context, projectID string, kind domain.ClassificationKind, path string) (*domain.ClassificationNode, error)

	ListSecurityGroups(ctx context.Context, projectID string) ([]domain.SecurityGroup, error)
	AddGroupMember(ctx context.Context, groupID, principal string) error
	RemoveGroupMember(ctx context.Context, groupID, principal string) error

	ListQueries(ctx context.Context, projectID string) ([]domain.Query, error)
	CreateQueryFolder(ctx context.Context, projectID, parentPath, name string) (*domain.Query, error)
	CreateQuery(ctx context.Context, projectID, parentPath string, def domain.Query) (*domain.Query, error)

	ListWikiPages(ctx context.Context, projectID string) ([]domain.WikiPage, error)

	GetAttachmentContent(ctx context.Context, attachmentID string) ([]byte, error)
	CreateAttachment(ctx context.Context, projectID, fileName string, content []byte) (string, error)

	GetFeatureState(ctx context.Context, projectID, featureID string) (bool, error)
	SetFeatureState(ctx context.Context, projectID, featureID string, enabled bool) error

	ListRepositories(ctx context.Context, projectID string) ([]domain.Repository, error)
	CreateRepository(ctx context.Context, projectID, name string) (*domain.Repository, error)
	ListTeams(ctx context.Context, projectID string) ([]domain.Team, error)
	CreateTeam(ctx context.Context, projectID string, team domain.Team) (*domain.Team, error)
	ListPipelineDefinitions(ctx context.Context, projectID, kind string) ([]domain.PipelineDefinition, error)
	CreatePipelineDefinition(ctx context.Context, projectID, kind string, def domain.PipelineDefinition) error
	ListDashboards(ctx context.Context, projectID string) ([]domain.Dashboard, error)
	CreateDashboard(ctx context.Context, projectID, name string) error
	GetProjectProperties(ctx context.Context, projectID string) (map[string]string, error)
	SetProjectProperties(ctx context.Context, projectID string, props map[string]string) error

	ValidateCredential(ctx context.Context, orgURL, token string) (bool, error)
}

// Factory builds an API bound to an organization URL and access token.
// Injected so services can reach a second organization during cross-org
// clones, and so tests can substitute stubs.
type Factory func(orgURL, token string) API
