package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/service/progress"
)

var (
	errMissingSource  = errors.New("source project id required")
	errNoTargets      = errors.New("at least one target project required")
	errNoWorkItems    = errors.New("at least one work item id required")
	errSourceIsTarget = errors.New("source project cannot be a deployment target")
)

// Service fans a curated set of template work items out to multiple target
// containers. Every target is processed independently; one target's failure
// never touches another's result.
type Service struct {
	api      remote.API
	mappings repository.MappingRepository
	progress progress.Service
	logger   *slog.Logger
}

// New constructs a deployment orchestrator.
func New(api remote.API, mappings repository.MappingRepository, prog progress.Service, logger *slog.Logger) Service {
	return Service{api: api, mappings: mappings, progress: prog, logger: logger}
}

// DeployWorkItems resolves the template items once, then processes each
// target sequentially. Aggregate Success means at least one target finished
// without a project-level failure.
func (s Service) DeployWorkItems(ctx context.Context, userID string, req domain.DeploymentRequest) (*domain.DeploymentResult, error) {
	if strings.TrimSpace(req.SourceProjectID) == "" {
		return nil, errMissingSource
	}
	if len(req.TargetProjectIDs) == 0 {
		return nil, errNoTargets
	}
	if len(req.WorkItemIDs) == 0 {
		return nil, errNoWorkItems
	}
	for _, target := range req.TargetProjectIDs {
		if target == req.SourceProjectID {
			return nil, errSourceIsTarget
		}
	}

	runID := uuid.NewString()
	result := &domain.DeploymentResult{RunID: runID}
	s.progress.Begin(ctx, &domain.SyncRun{
		ID:              runID,
		UserID:          userID,
		Kind:            domain.RunDeploy,
		SourceProjectID: req.SourceProjectID,
		TargetProjectID: strings.Join(req.TargetProjectIDs, ","),
		StartedAt:       time.Now().UTC(),
	})

	templates, warnings, err := s.resolveTemplates(ctx, req)
	if err != nil {
		s.progress.Finish(ctx, runID, false, result)
		return nil, err
	}
	result.Warnings = append(result.Warnings, warnings...)

	for _, targetID := range req.TargetProjectIDs {
		project := s.deployToProject(ctx, runID, targetID, templates, req)
		result.Projects = append(result.Projects, project)
		result.TotalDeployed += project.Created + project.Updated
		result.Warnings = append(result.Warnings, project.Warnings...)
		if project.Success {
			result.SuccessfulProjects++
		} else {
			result.FailedProjects++
		}
	}
	result.Success = result.SuccessfulProjects > 0

	s.progress.Finish(ctx, runID, result.Success, result)
	if s.logger != nil {
		s.logger.Info("deployment finished",
			"run_id", runID,
			"source", req.SourceProjectID,
			"targets", len(req.TargetProjectIDs),
			"deployed", result.TotalDeployed,
			"successful_projects", result.SuccessfulProjects,
			"failed_projects", result.FailedProjects)
	}
	return result, nil
}

// resolveTemplates loads the source container's work items and picks out the
// requested IDs. Unknown IDs become warnings, not failures.
func (s Service) resolveTemplates(ctx context.Context, req domain.DeploymentRequest) ([]domain.WorkItem, []string, error) {
	items, err := s.api.ListWorkItems(ctx, req.SourceProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve template work items: %w", err)
	}
	byID := make(map[int]domain.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	templates := make([]domain.WorkItem, 0, len(req.WorkItemIDs))
	var warnings []string
	for _, id := range req.WorkItemIDs {
		item, ok := byID[id]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("work item #%d not found in source project", id))
			continue
		}
		templates = append(templates, item)
	}
	return templates, warnings, nil
}

func (s Service) deployToProject(ctx context.Context, runID, targetID string, templates []domain.WorkItem, req domain.DeploymentRequest) domain.ProjectDeploymentResult {
	project := domain.ProjectDeploymentResult{ProjectID: targetID}

	// Target resolution failure is the project-level abort for this target;
	// remaining targets still run.
	container, err := s.api.GetProject(ctx, targetID)
	if err != nil {
		project.Error = fmt.Sprintf("resolve target project: %v", err)
		s.progress.Event(runID, targetID, project.Error, false)
		return project
	}
	targetRoot := container.Name

	if req.Options.CreateMissingPaths {
		s.ensurePaths(ctx, targetID, templates, &project)
	}

	created := make(map[int]int, len(templates))
	for _, item := range templates {
		detail := s.deployItem(ctx, req.SourceProjectID, targetID, targetRoot, item, req.Options, created)
		project.Details = append(project.Details, detail)
		switch detail.Action {
		case domain.ActionCreated:
			project.Created++
		case domain.ActionUpdated:
			project.Updated++
		case domain.ActionSkipped:
			project.Skipped++
		case domain.ActionFailed:
			project.Warnings = append(project.Warnings, fmt.Sprintf("%s: work item %q: %s", targetID, item.Title, detail.Message))
		}
	}

	if req.Options.IncludeLinks {
		s.linkParents(ctx, targetID, templates, created, &project)
	}

	project.Success = true
	s.progress.Event(runID, targetID,
		fmt.Sprintf("deployed %d created, %d updated, %d skipped", project.Created, project.Updated, project.Skipped), true)
	return project
}

// ensurePaths creates the distinct area and iteration paths the templates
// reference. Failures warn; item deployment is still attempted.
func (s Service) ensurePaths(ctx context.Context, targetID string, templates []domain.WorkItem, project *domain.ProjectDeploymentResult) {
	ensure := func(kind domain.ClassificationKind, paths map[string]struct{}) {
		for path := range paths {
			if _, err := s.api.CreateClassificationNode(ctx, targetID, kind, path); err != nil {
				project.Warnings = append(project.Warnings, fmt.Sprintf("%s: create %s path %q: %v", targetID, kind, path, err))
			}
		}
	}
	areas := make(map[string]struct{})
	iterations := make(map[string]struct{})
	for _, item := range templates {
		if path := domain.RelativeClassificationPath(item.AreaPath); path != "" {
			areas[path] = struct{}{}
		}
		if path := domain.RelativeClassificationPath(item.IterationPath); path != "" {
			iterations[path] = struct{}{}
		}
	}
	ensure(domain.ClassificationArea, areas)
	ensure(domain.ClassificationIteration, iterations)
}

func (s Service) deployItem(ctx context.Context, sourceProjectID, targetID, targetRoot string, item domain.WorkItem, opts domain.DeploymentOptions, created map[int]int) domain.DeploymentDetail {
	detail := domain.DeploymentDetail{SourceID: item.ID, Title: item.Title}

	mapping := s.lookupMapping(ctx, sourceProjectID, item.ID, targetID)
	if mapping != nil && !opts.UpdateExisting {
		detail.TargetID = mapping.TargetID
		detail.Action = domain.ActionSkipped
		detail.Message = "already deployed; updates disabled"
		return detail
	}
	if mapping != nil {
		patch := fullPatch(item, targetRoot)
		if _, err := s.api.UpdateWorkItem(ctx, targetID, mapping.TargetID, patch); err != nil {
			detail.Action = domain.ActionFailed
			detail.Message = err.Error()
			return detail
		}
		detail.TargetID = mapping.TargetID
		detail.Action = domain.ActionUpdated
		return detail
	}

	targetItem, err := s.api.CreateWorkItem(ctx, targetID, domain.RerootWorkItemPaths(item, targetRoot))
	if err != nil {
		detail.Action = domain.ActionFailed
		detail.Message = err.Error()
		return detail
	}
	created[item.ID] = targetItem.ID
	detail.TargetID = targetItem.ID
	detail.Action = domain.ActionCreated
	s.recordMapping(ctx, sourceProjectID, item.ID, targetID, targetItem.ID)

	if opts.IncludeAttachments {
		s.deployAttachments(ctx, targetID, item, targetItem.ID, &detail)
	}
	return detail
}

func (s Service) deployAttachments(ctx context.Context, targetID string, item domain.WorkItem, targetItemID int, detail *domain.DeploymentDetail) {
	for _, att := range item.Attachments {
		content, err := s.api.GetAttachmentContent(ctx, att.ID)
		if err != nil {
			detail.Message = fmt.Sprintf("attachment %q: %v", att.Name, err)
			continue
		}
		newURL, err := s.api.CreateAttachment(ctx, targetID, att.Name, content)
		if err != nil {
			detail.Message = fmt.Sprintf("attachment %q: %v", att.Name, err)
			continue
		}
		rel := domain.Relation{Rel: "AttachedFile", URL: newURL, Comment: att.Comment}
		if err := s.api.AddWorkItemRelation(ctx, targetID, targetItemID, rel); err != nil {
			detail.Message = fmt.Sprintf("attachment %q: %v", att.Name, err)
		}
	}
}

// linkParents re-points parent relations between items created in this batch.
func (s Service) linkParents(ctx context.Context, targetID string, templates []domain.WorkItem, created map[int]int, project *domain.ProjectDeploymentResult) {
	for _, item := range templates {
		if item.ParentID == 0 {
			continue
		}
		childTargetID, childOK := created[item.ID]
		parentTargetID, parentOK := created[item.ParentID]
		if !childOK || !parentOK {
			continue
		}
		rel := domain.Relation{
			Rel: "System.LinkTypes.Hierarchy-Reverse",
			URL: fmt.Sprintf("workitems/%d", parentTargetID),
		}
		if err := s.api.AddWorkItemRelation(ctx, targetID, childTargetID, rel); err != nil {
			project.Warnings = append(project.Warnings, fmt.Sprintf("%s: link work item #%d to parent #%d: %v", targetID, childTargetID, parentTargetID, err))
		}
	}
}

func (s Service) lookupMapping(ctx context.Context, sourceProjectID string, sourceID int, targetID string) *domain.WorkItemMapping {
	if s.mappings == nil {
		return nil
	}
	mapping, err := s.mappings.GetMapping(ctx, sourceProjectID, sourceID, targetID)
	if err != nil {
		return nil
	}
	return mapping
}

func (s Service) recordMapping(ctx context.Context, sourceProjectID string, sourceID int, targetProjectID string, targetID int) {
	if s.mappings == nil {
		return
	}
	mapping := &domain.WorkItemMapping{
		SourceProjectID: sourceProjectID,
		SourceID:        sourceID,
		TargetProjectID: targetProjectID,
		TargetID:        targetID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.mappings.UpsertMapping(ctx, mapping); err != nil && s.logger != nil {
		s.logger.Warn("failed to record work item mapping", "source_id", sourceID, "target_id", targetID, "error", err)
	}
}

// fullPatch copies every tracked template field onto the existing target
// item, classification paths rewritten under the target container's root.
func fullPatch(item domain.WorkItem, targetRoot string) domain.WorkItemPatch {
	area := domain.RerootPath(item.AreaPath, targetRoot)
	iteration := domain.RerootPath(item.IterationPath, targetRoot)
	return domain.WorkItemPatch{
		Title:         &item.Title,
		State:         &item.State,
		Priority:      &item.Priority,
		AssignedTo:    &item.AssignedTo,
		AreaPath:      &area,
		IterationPath: &iteration,
		Tags:          &item.Tags,
		Description:   &item.Description,
	}
}
