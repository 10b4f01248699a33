package clone

import (
	"context"
	"errors"
	"fmt"
	"sort"
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
	errMissingSource     = errors.New("source project id required")
	errMissingTarget     = errors.New("target project id required")
	errSameProject       = errors.New("target project must differ from source")
	errTargetUnreachable = errors.New("target organization is unreachable with the supplied credential")
)

// serviceFeature maps a service name to its feature toggle ID.
type serviceFeature struct {
	Name      string
	FeatureID string
}

var serviceFeatures = []serviceFeature{
	{"Boards", "ms.vss-work.agile"},
	{"Repos", "ms.vss-code.version-control"},
	{"Pipelines", "ms.vss-build.pipelines"},
	{"Test Plans", "ms.vss-test-web.test"},
	{"Artifacts", "ms.azure-artifacts.feature"},
}

// Service runs the full-project clone pipeline: a fixed ordered list of
// steps, each gated by an option flag. A step failure is recorded and the
// pipeline moves on; only a failed target-organization pre-flight aborts the
// whole run.
type Service struct {
	source      remote.API
	factory     remote.Factory
	mappings    repository.MappingRepository
	progress    progress.Service
	settleDelay time.Duration
	logger      *slog.Logger
}

// New constructs a clone pipeline. settleDelay is the pause after feature
// state writes, letting the remote service propagate visibility changes.
func New(source remote.API, factory remote.Factory, mappings repository.MappingRepository, prog progress.Service, settleDelay time.Duration, logger *slog.Logger) Service {
	return Service{
		source:      source,
		factory:     factory,
		mappings:    mappings,
		progress:    prog,
		settleDelay: settleDelay,
		logger:      logger,
	}
}

type step struct {
	name    string
	enabled bool
	run     func(ctx context.Context) (string, error)
}

// CloneProject executes the pipeline. Cross-organization targets are
// validated before any step runs; that pre-flight is the only hard abort.
func (s Service) CloneProject(ctx context.Context, userID string, req domain.CloneRequest) (*domain.CloneResult, error) {
	if strings.TrimSpace(req.SourceProjectID) == "" {
		return nil, errMissingSource
	}
	if strings.TrimSpace(req.TargetProjectID) == "" {
		return nil, errMissingTarget
	}
	if req.TargetOrgURL == "" && req.SourceProjectID == req.TargetProjectID {
		return nil, errSameProject
	}

	target := s.source
	if req.TargetOrgURL != "" {
		ok, err := s.source.ValidateCredential(ctx, req.TargetOrgURL, req.TargetToken)
		if err != nil {
			return nil, fmt.Errorf("target pre-flight: %w", err)
		}
		if !ok {
			return nil, errTargetUnreachable
		}
		target = s.factory(req.TargetOrgURL, req.TargetToken)
		if _, err := target.ListProjects(ctx); err != nil {
			return nil, fmt.Errorf("target pre-flight: %w", err)
		}
	}

	runID := uuid.NewString()
	result := &domain.CloneResult{
		RunID:           runID,
		SourceProjectID: req.SourceProjectID,
		TargetProjectID: req.TargetProjectID,
		StartedAt:       time.Now().UTC(),
	}
	s.progress.Begin(ctx, &domain.SyncRun{
		ID:              runID,
		UserID:          userID,
		Kind:            domain.RunClone,
		SourceProjectID: req.SourceProjectID,
		TargetProjectID: req.TargetProjectID,
		StartedAt:       result.StartedAt,
	})

	opts := req.Options
	steps := []step{
		{"repositories", opts.Repositories, func(ctx context.Context) (string, error) {
			return s.cloneRepositories(ctx, target, req)
		}},
		{"work items", opts.WorkItems, func(ctx context.Context) (string, error) {
			return s.cloneWorkItems(ctx, target, req, result)
		}},
		{"area paths", opts.AreaPaths, func(ctx context.Context) (string, error) {
			return s.cloneClassification(ctx, target, req, domain.ClassificationArea)
		}},
		{"iteration paths", opts.IterationPaths, func(ctx context.Context) (string, error) {
			return s.cloneClassification(ctx, target, req, domain.ClassificationIteration)
		}},
		{"queries", opts.Queries, func(ctx context.Context) (string, error) {
			return s.cloneQueries(ctx, target, req, result)
		}},
		{"teams", opts.Teams, func(ctx context.Context) (string, error) {
			return s.cloneTeams(ctx, target, req)
		}},
		{"build pipelines", opts.BuildPipelines, func(ctx context.Context) (string, error) {
			return s.clonePipelineDefinitions(ctx, target, req, "build")
		}},
		{"release pipelines", opts.ReleasePipelines, func(ctx context.Context) (string, error) {
			return s.clonePipelineDefinitions(ctx, target, req, "release")
		}},
		{"dashboards", opts.Dashboards, func(ctx context.Context) (string, error) {
			return s.cloneDashboards(ctx, target, req)
		}},
		{"service visibility", opts.ServiceVisibility, func(ctx context.Context) (string, error) {
			return s.cloneServiceVisibility(ctx, target, req, result)
		}},
		{"project settings", opts.ProjectSettings, func(ctx context.Context) (string, error) {
			return s.cloneProjectSettings(ctx, target, req)
		}},
	}

	for _, st := range steps {
		if !st.enabled {
			continue
		}
		result.TotalSteps++
		s.runStep(ctx, st, result)
	}

	result.Success = result.CompletedSteps == result.TotalSteps
	result.FinishedAt = time.Now().UTC()
	s.progress.Finish(ctx, runID, result.Success, result)
	if s.logger != nil {
		s.logger.Info("clone pipeline finished",
			"run_id", runID,
			"source", req.SourceProjectID, "target", req.TargetProjectID,
			"success", result.Success,
			"completed_steps", result.CompletedSteps, "total_steps", result.TotalSteps)
	}
	return result, nil
}

func (s Service) runStep(ctx context.Context, st step, result *domain.CloneResult) {
	started := time.Now().UTC()
	s.progress.Event(result.RunID, st.name, "step started", true)

	message, err := st.run(ctx)
	finished := time.Now().UTC()
	sr := domain.StepResult{
		Name:       st.name,
		Message:    message,
		StartedAt:  started,
		FinishedAt: finished,
		Duration:   finished.Sub(started),
	}
	if err != nil {
		sr.Error = err.Error()
		s.progress.Event(result.RunID, st.name, err.Error(), false)
		if s.logger != nil {
			s.logger.Warn("clone step failed", "run_id", result.RunID, "step", st.name, "error", err)
		}
	} else {
		sr.Success = true
		result.CompletedSteps++
		s.progress.Event(result.RunID, st.name, message, true)
	}
	result.Steps = append(result.Steps, sr)
}

func (s Service) cloneRepositories(ctx context.Context, target remote.API, req domain.CloneRequest) (string, error) {
	sourceRepos, err := s.source.ListRepositories(ctx, req.SourceProjectID)
	if err != nil {
		return "", fmt.Errorf("list source repositories: %w", err)
	}
	targetRepos, err := target.ListRepositories(ctx, req.TargetProjectID)
	if err != nil {
		return "", fmt.Errorf("list target repositories: %w", err)
	}
	existing := make(map[string]struct{}, len(targetRepos))
	for _, repo := range targetRepos {
		existing[repo.Name] = struct{}{}
	}

	var created, failed int
	for _, repo := range sourceRepos {
		if _, ok := existing[repo.Name]; ok {
			continue
		}
		if _, err := target.CreateRepository(ctx, req.TargetProjectID, repo.Name); err != nil {
			failed++
			continue
		}
		created++
	}
	if failed > 0 {
		return "", fmt.Errorf("created %d repositories, %d failed", created, failed)
	}
	return fmt.Sprintf("created %d repositories", created), nil
}

func (s Service) cloneWorkItems(ctx context.Context, target remote.API, req domain.CloneRequest, result *domain.CloneResult) (string, error) {
	items, err := s.source.ListWorkItems(ctx, req.SourceProjectID)
	if err != nil {
		return "", fmt.Errorf("list source work items: %w", err)
	}
	items = orderByParent(items)
	targetRoot := s.targetRootName(ctx, target, req.TargetProjectID)

	created := make(map[int]int, len(items))
	var cloned, failed int
	for _, item := range items {
		targetItem, err := target.CreateWorkItem(ctx, req.TargetProjectID, domain.RerootWorkItemPaths(item, targetRoot))
		if err != nil {
			failed++
			result.Warnings = append(result.Warnings, fmt.Sprintf("work item %q: %v", item.Title, err))
			continue
		}
		cloned++
		created[item.ID] = targetItem.ID
		s.recordMapping(ctx, req, item.ID, targetItem.ID)

		if item.ParentID != 0 {
			if parentTargetID, ok := created[item.ParentID]; ok {
				rel := domain.Relation{
					Rel: "System.LinkTypes.Hierarchy-Reverse",
					URL: fmt.Sprintf("workitems/%d", parentTargetID),
				}
				if err := target.AddWorkItemRelation(ctx, req.TargetProjectID, targetItem.ID, rel); err != nil {
					result.Warnings = append(result.Warnings, fmt.Sprintf("work item #%d: link parent: %v", targetItem.ID, err))
				}
			}
		}
		if req.Options.IncludeAttachments {
			s.cloneAttachments(ctx, target, req.TargetProjectID, item, targetItem.ID, result)
		}
	}
	if failed > 0 {
		return "", fmt.Errorf("cloned %d work items, %d failed", cloned, failed)
	}
	return fmt.Sprintf("cloned %d work items", cloned), nil
}

// cloneAttachments downloads each attached file from the source and re-uploads
// it under the original name, then links it to the new work item preserving
// the comment. Attachment failures warn; the owning item stays created.
func (s Service) cloneAttachments(ctx context.Context, target remote.API, targetProjectID string, item domain.WorkItem, targetItemID int, result *domain.CloneResult) {
	for _, att := range item.Attachments {
		content, err := s.source.GetAttachmentContent(ctx, att.ID)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("attachment %q on work item #%d: download: %v", att.Name, item.ID, err))
			continue
		}
		newURL, err := target.CreateAttachment(ctx, targetProjectID, att.Name, content)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("attachment %q on work item #%d: upload: %v", att.Name, item.ID, err))
			continue
		}
		rel := domain.Relation{Rel: "AttachedFile", URL: newURL, Comment: att.Comment}
		if err := target.AddWorkItemRelation(ctx, targetProjectID, targetItemID, rel); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("attachment %q on work item #%d: link: %v", att.Name, item.ID, err))
		}
	}
}

func (s Service) cloneClassification(ctx context.Context, target remote.API, req domain.CloneRequest, kind domain.ClassificationKind) (string, error) {
	sourceRoot, err := s.source.ListClassificationNodes(ctx, req.SourceProjectID, kind)
	if err != nil {
		return "", fmt.Errorf("list source %s: %w", kind, err)
	}
	targetRoot, err := target.ListClassificationNodes(ctx, req.TargetProjectID, kind)
	if err != nil {
		return "", fmt.Errorf("list target %s: %w", kind, err)
	}

	existing := make(map[string]struct{})
	for _, path := range targetRoot.Flatten() {
		existing[domain.RelativeClassificationPath(path)] = struct{}{}
	}

	// Flatten yields parents before children, so creation order is safe.
	var created, failed int
	for _, path := range sourceRoot.Flatten() {
		rel := domain.RelativeClassificationPath(path)
		if rel == "" {
			continue
		}
		if _, ok := existing[rel]; ok {
			continue
		}
		if _, err := target.CreateClassificationNode(ctx, req.TargetProjectID, kind, rel); err != nil {
			failed++
			continue
		}
		created++
	}
	if failed > 0 {
		return "", fmt.Errorf("created %d %s paths, %d failed", created, kind, failed)
	}
	return fmt.Sprintf("created %d %s paths", created, kind), nil
}

// targetRootName resolves the target container's name, the root segment of
// every classification path inside it. An empty result leaves work item paths
// verbatim.
func (s Service) targetRootName(ctx context.Context, api remote.API, projectID string) string {
	project, err := api.GetProject(ctx, projectID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to resolve target container name", "project_id", projectID, "error", err)
		}
		return ""
	}
	return project.Name
}

func (s Service) cloneQueries(ctx context.Context, target remote.API, req domain.CloneRequest, result *domain.CloneResult) (string, error) {
	queries, err := s.source.ListQueries(ctx, req.SourceProjectID)
	if err != nil {
		return "", fmt.Errorf("list source queries: %w", err)
	}
	var created, failed int
	for _, root := range queries {
		s.cloneQueryNode(ctx, target, req.TargetProjectID, "", root, result, &created, &failed)
	}
	if failed > 0 {
		return "", fmt.Errorf("cloned %d queries, %d failed", created, failed)
	}
	return fmt.Sprintf("cloned %d queries", created), nil
}

// cloneQueryNode walks a source query tree. Reserved system folders are never
// created; their children attach under the pre-provisioned target folder of
// the same name. Non-reserved folder conflicts are success-with-warning.
func (s Service) cloneQueryNode(ctx context.Context, target remote.API, targetProjectID, parentPath string, node domain.Query, result *domain.CloneResult, created, failed *int) {
	if node.IsFolder {
		childParent := joinQueryPath(parentPath, node.Name)
		if !domain.IsSystemQueryFolder(node.Name) {
			if _, err := target.CreateQueryFolder(ctx, targetProjectID, parentPath, node.Name); err != nil {
				// Conflicts are expected when re-running a clone. Warn and keep
				// descending so child queries still land under the path.
				result.Warnings = append(result.Warnings, fmt.Sprintf("query folder %q: %v", childParent, err))
			}
		}
		for _, child := range node.Children {
			s.cloneQueryNode(ctx, target, targetProjectID, childParent, child, result, created, failed)
		}
		return
	}

	if _, err := target.CreateQuery(ctx, targetProjectID, parentPath, node); err != nil {
		*failed++
		result.Warnings = append(result.Warnings, fmt.Sprintf("query %q: %v", joinQueryPath(parentPath, node.Name), err))
		return
	}
	*created++
}

func joinQueryPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func (s Service) cloneTeams(ctx context.Context, target remote.API, req domain.CloneRequest) (string, error) {
	sourceTeams, err := s.source.ListTeams(ctx, req.SourceProjectID)
	if err != nil {
		return "", fmt.Errorf("list source teams: %w", err)
	}
	targetTeams, err := target.ListTeams(ctx, req.TargetProjectID)
	if err != nil {
		return "", fmt.Errorf("list target teams: %w", err)
	}
	existing := make(map[string]struct{}, len(targetTeams))
	for _, team := range targetTeams {
		existing[team.Name] = struct{}{}
	}

	var created, failed int
	for _, team := range sourceTeams {
		if _, ok := existing[team.Name]; ok {
			continue
		}
		if _, err := target.CreateTeam(ctx, req.TargetProjectID, team); err != nil {
			failed++
			continue
		}
		created++
	}
	if failed > 0 {
		return "", fmt.Errorf("created %d teams, %d failed", created, failed)
	}
	return fmt.Sprintf("created %d teams", created), nil
}

func (s Service) clonePipelineDefinitions(ctx context.Context, target remote.API, req domain.CloneRequest, kind string) (string, error) {
	defs, err := s.source.ListPipelineDefinitions(ctx, req.SourceProjectID, kind)
	if err != nil {
		return "", fmt.Errorf("list source %s pipelines: %w", kind, err)
	}
	var created, failed int
	for _, def := range defs {
		if err := target.CreatePipelineDefinition(ctx, req.TargetProjectID, kind, def); err != nil {
			failed++
			continue
		}
		created++
	}
	if failed > 0 {
		return "", fmt.Errorf("created %d %s pipelines, %d failed", created, kind, failed)
	}
	return fmt.Sprintf("created %d %s pipelines", created, kind), nil
}

func (s Service) cloneDashboards(ctx context.Context, target remote.API, req domain.CloneRequest) (string, error) {
	dashboards, err := s.source.ListDashboards(ctx, req.SourceProjectID)
	if err != nil {
		return "", fmt.Errorf("list source dashboards: %w", err)
	}
	var created, failed int
	for _, dash := range dashboards {
		if err := target.CreateDashboard(ctx, req.TargetProjectID, dash.Name); err != nil {
			failed++
			continue
		}
		created++
	}
	if failed > 0 {
		return "", fmt.Errorf("created %d dashboards, %d failed", created, failed)
	}
	return fmt.Sprintf("created %d dashboards", created), nil
}

// cloneServiceVisibility copies each service's enabled state best-effort and
// waits out the settle delay so the remote service can propagate the toggles.
func (s Service) cloneServiceVisibility(ctx context.Context, target remote.API, req domain.CloneRequest, result *domain.CloneResult) (string, error) {
	var applied int
	for _, feature := range serviceFeatures {
		enabled, err := s.source.GetFeatureState(ctx, req.SourceProjectID, feature.FeatureID)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("feature %s: read state: %v", feature.Name, err))
			continue
		}
		if err := target.SetFeatureState(ctx, req.TargetProjectID, feature.FeatureID, enabled); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("feature %s: set state: %v", feature.Name, err))
			continue
		}
		applied++
	}
	if s.settleDelay > 0 {
		select {
		case <-time.After(s.settleDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return fmt.Sprintf("applied %d of %d feature states", applied, len(serviceFeatures)), nil
}

func (s Service) cloneProjectSettings(ctx context.Context, target remote.API, req domain.CloneRequest) (string, error) {
	props, err := s.source.GetProjectProperties(ctx, req.SourceProjectID)
	if err != nil {
		return "", fmt.Errorf("read source properties: %w", err)
	}
	if len(props) == 0 {
		return "no properties to copy", nil
	}
	if err := target.SetProjectProperties(ctx, req.TargetProjectID, props); err != nil {
		return "", fmt.Errorf("write target properties: %w", err)
	}
	return fmt.Sprintf("copied %d properties", len(props)), nil
}

func (s Service) recordMapping(ctx context.Context, req domain.CloneRequest, sourceID, targetID int) {
	if s.mappings == nil {
		return
	}
	mapping := &domain.WorkItemMapping{
		SourceProjectID: req.SourceProjectID,
		SourceID:        sourceID,
		TargetProjectID: req.TargetProjectID,
		TargetID:        targetID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.mappings.UpsertMapping(ctx, mapping); err != nil && s.logger != nil {
		s.logger.Warn("failed to record work item mapping", "source_id", sourceID, "target_id", targetID, "error", err)
	}
}

// orderByParent sorts work items so parents precede their children. A stable
// sort on hierarchy depth keeps siblings in listing order.
func orderByParent(items []domain.WorkItem) []domain.WorkItem {
	byID := make(map[int]domain.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	depth := func(item domain.WorkItem) int {
		d := 0
		for item.ParentID != 0 && d <= len(items) {
			parent, ok := byID[item.ParentID]
			if !ok {
				break
			}
			item = parent
			d++
		}
		return d
	}
	ordered := make([]domain.WorkItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depth(ordered[i]) < depth(ordered[j])
	})
	return ordered
}
