package apply

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
	errMissingSource = errors.New("source project id required")
	errMissingTarget = errors.New("target project id required")
	errSameProject   = errors.New("target project must differ from source")
)

// Service applies caller-approved diff entries to the target container. Item
// failures never abort the operation; they are collected into the operation
// log and processing continues.
type Service struct {
	api      remote.API
	mappings repository.MappingRepository
	progress progress.Service
	logger   *slog.Logger
}

// New constructs an applier.
func New(api remote.API, mappings repository.MappingRepository, prog progress.Service, logger *slog.Logger) Service {
	return Service{api: api, mappings: mappings, progress: prog, logger: logger}
}

// accumulator collects item-level outcomes for one apply run. The collect-
// and-continue shape keeps item failures from escaping their loop while still
// surfacing every one of them in the result.
type accumulator struct {
	runID  string
	result *domain.SelectiveUpdateResult
	failed bool
}

func (a *accumulator) warn(message string) {
	a.result.Warnings = append(a.result.Warnings, message)
}

func (s Service) record(ctx context.Context, acc *accumulator, entry domain.OperationLog) {
	entry.Timestamp = time.Now().UTC()
	if !entry.Success {
		acc.failed = true
	}
	acc.result.OperationLogs = append(acc.result.OperationLogs, entry)
	s.progress.Log(ctx, acc.runID, entry)
}

// ApplySelectiveUpdates processes the selected entries in dependency order:
// classification nodes first, then work items (parents before children), then
// group memberships, then wiki actions.
func (s Service) ApplySelectiveUpdates(ctx context.Context, userID string, req domain.SelectiveUpdateRequest) (*domain.SelectiveUpdateResult, error) {
	if strings.TrimSpace(req.SourceProjectID) == "" {
		return nil, errMissingSource
	}
	if strings.TrimSpace(req.TargetProjectID) == "" {
		return nil, errMissingTarget
	}
	if req.SourceProjectID == req.TargetProjectID {
		return nil, errSameProject
	}

	runID := uuid.NewString()
	startedAt := time.Now().UTC()
	s.progress.Begin(ctx, &domain.SyncRun{
		ID:              runID,
		UserID:          userID,
		Kind:            domain.RunApply,
		SourceProjectID: req.SourceProjectID,
		TargetProjectID: req.TargetProjectID,
		StartedAt:       startedAt,
	})

	result := &domain.SelectiveUpdateResult{RunID: runID}
	acc := &accumulator{runID: runID, result: result}

	blockedPaths := s.applyClassifications(ctx, acc, req)
	s.applyWorkItems(ctx, acc, req, blockedPaths)
	s.applyGroupMemberships(ctx, acc, req)
	s.applyWikiActions(ctx, acc, req)

	result.Success = !acc.failed
	s.progress.Finish(ctx, runID, result.Success, result)
	if s.logger != nil {
		s.logger.Info("selective update finished",
			"run_id", runID,
			"source", req.SourceProjectID, "target", req.TargetProjectID,
			"success", result.Success,
			"work_items_cloned", result.WorkItemsCloned,
			"work_items_updated", result.WorkItemsUpdated)
	}
	return result, nil
}

// applyClassifications creates selected missing paths and returns the set of
// paths whose creation failed, so dependent work items can be flagged.
func (s Service) applyClassifications(ctx context.Context, acc *accumulator, req domain.SelectiveUpdateRequest) map[string]struct{} {
	blocked := make(map[string]struct{})
	for _, entry := range req.Classifications {
		if !entry.Selected || entry.State == domain.DiffSynchronized {
			continue
		}
		// A case-variant of the path already exists in the target; creating the
		// source casing would collide on case-insensitive remotes. Renames stay
		// a manual step.
		if entry.State == domain.DiffNameDifferent {
			acc.warn(fmt.Sprintf("%s path %q exists in target as %q; rename it manually to match", kindLabel(entry.Kind), entry.Path, entry.TargetName))
			continue
		}
		_, err := s.api.CreateClassificationNode(ctx, req.TargetProjectID, entry.Kind, entry.Path)
		if err != nil {
			blocked[entry.Path] = struct{}{}
			s.record(ctx, acc, domain.OperationLog{
				Operation: domain.OpCreatePath,
				Message:   fmt.Sprintf("failed to create %s path %q", kindLabel(entry.Kind), entry.Path),
				Detail:    err.Error(),
				ItemID:    entry.Path,
			})
			continue
		}
		acc.result.PathsCreated++
		s.record(ctx, acc, domain.OperationLog{
			Success:   true,
			Operation: domain.OpCreatePath,
			Message:   fmt.Sprintf("created %s path %q", kindLabel(entry.Kind), entry.Path),
			ItemID:    entry.Path,
		})
	}
	return blocked
}

func kindLabel(kind domain.ClassificationKind) string {
	if kind == domain.ClassificationArea {
		return "area"
	}
	return "iteration"
}

func (s Service) applyWorkItems(ctx context.Context, acc *accumulator, req domain.SelectiveUpdateRequest, blockedPaths map[string]struct{}) {
	var selectedNew, selectedUpdated []domain.WorkItemDiff
	for _, entry := range req.WorkItems {
		if !entry.Selected {
			continue
		}
		switch entry.State {
		case domain.DiffNew:
			selectedNew = append(selectedNew, entry)
		case domain.DiffUpdated:
			selectedUpdated = append(selectedUpdated, entry)
		}
	}

	if len(selectedNew) == 0 && len(selectedUpdated) == 0 {
		return
	}
	targetRoot := s.targetRootName(ctx, req.TargetProjectID)

	// created maps source IDs to new target IDs within this batch so child
	// items can re-point their parent links.
	created := make(map[int]int, len(selectedNew))
	for _, entry := range sortByParentDependency(selectedNew) {
		s.createWorkItem(ctx, acc, req, entry, created, blockedPaths, targetRoot)
	}
	for _, entry := range selectedUpdated {
		s.updateWorkItem(ctx, acc, req, entry, targetRoot)
	}
}

// targetRootName resolves the target container's name, the root segment of
// every classification path inside it. An empty result leaves paths verbatim.
func (s Service) targetRootName(ctx context.Context, projectID string) string {
	project, err := s.api.GetProject(ctx, projectID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to resolve target container name", "project_id", projectID, "error", err)
		}
		return ""
	}
	return project.Name
}

func (s Service) createWorkItem(ctx context.Context, acc *accumulator, req domain.SelectiveUpdateRequest, entry domain.WorkItemDiff, created map[int]int, blockedPaths map[string]struct{}, targetRoot string) {
	item := entry.Source
	if blockedByPath(item, blockedPaths) {
		acc.warn(fmt.Sprintf("work item %q references a path whose creation failed; its target path may not exist", item.Title))
	}

	targetItem, err := s.api.CreateWorkItem(ctx, req.TargetProjectID, domain.RerootWorkItemPaths(item, targetRoot))
	if err != nil {
		s.record(ctx, acc, domain.OperationLog{
			Operation: domain.OpCreateWorkItem,
			Message:   fmt.Sprintf("failed to create work item %q", item.Title),
			Detail:    err.Error(),
			ItemID:    fmt.Sprintf("%d", entry.SourceID),
		})
		return
	}
	created[entry.SourceID] = targetItem.ID
	acc.result.WorkItemsCloned++
	s.record(ctx, acc, domain.OperationLog{
		Success:   true,
		Operation: domain.OpCreateWorkItem,
		Message:   fmt.Sprintf("created work item %q as #%d", item.Title, targetItem.ID),
		ItemID:    fmt.Sprintf("%d", targetItem.ID),
	})
	s.recordMapping(ctx, req, entry.SourceID, targetItem.ID)

	if item.ParentID != 0 {
		if parentTargetID, ok := created[item.ParentID]; ok {
			s.linkParent(ctx, acc, req.TargetProjectID, targetItem.ID, parentTargetID)
		}
	}
}

func (s Service) linkParent(ctx context.Context, acc *accumulator, targetProjectID string, childID, parentID int) {
	rel := domain.Relation{
		Rel: "System.LinkTypes.Hierarchy-Reverse",
		URL: fmt.Sprintf("workitems/%d", parentID),
	}
	if err := s.api.AddWorkItemRelation(ctx, targetProjectID, childID, rel); err != nil {
		acc.warn(fmt.Sprintf("created work item #%d but failed to link parent #%d: %v", childID, parentID, err))
	}
}

func (s Service) updateWorkItem(ctx context.Context, acc *accumulator, req domain.SelectiveUpdateRequest, entry domain.WorkItemDiff, targetRoot string) {
	if entry.Target == nil {
		s.record(ctx, acc, domain.OperationLog{
			Operation: domain.OpUpdateWorkItem,
			Message:   fmt.Sprintf("update entry for work item %q carries no target snapshot", entry.Source.Title),
			ItemID:    fmt.Sprintf("%d", entry.SourceID),
		})
		return
	}
	patch := buildPatch(entry.Source, *entry.Target, targetRoot)
	_, err := s.api.UpdateWorkItem(ctx, req.TargetProjectID, entry.Target.ID, patch)
	if err != nil {
		s.record(ctx, acc, domain.OperationLog{
			Operation: domain.OpUpdateWorkItem,
			Message:   fmt.Sprintf("failed to update work item #%d", entry.Target.ID),
			Detail:    err.Error(),
			ItemID:    fmt.Sprintf("%d", entry.Target.ID),
		})
		return
	}
	acc.result.WorkItemsUpdated++
	s.record(ctx, acc, domain.OperationLog{
		Success:   true,
		Operation: domain.OpUpdateWorkItem,
		Message:   fmt.Sprintf("updated work item #%d from source #%d", entry.Target.ID, entry.SourceID),
		ItemID:    fmt.Sprintf("%d", entry.Target.ID),
	})
}

// buildPatch carries only the tracked fields that actually differ.
// Classification paths compare root-segment-stripped, the same way the diff
// classifies them, and patch to target-rooted values.
func buildPatch(src, tgt domain.WorkItem, targetRoot string) domain.WorkItemPatch {
	var patch domain.WorkItemPatch
	if src.Title != tgt.Title {
		patch.Title = &src.Title
	}
	if src.State != tgt.State {
		patch.State = &src.State
	}
	if src.Tags != tgt.Tags {
		patch.Tags = &src.Tags
	}
	if src.AssignedTo != tgt.AssignedTo {
		patch.AssignedTo = &src.AssignedTo
	}
	if domain.RelativeClassificationPath(src.AreaPath) != domain.RelativeClassificationPath(tgt.AreaPath) {
		area := domain.RerootPath(src.AreaPath, targetRoot)
		patch.AreaPath = &area
	}
	if domain.RelativeClassificationPath(src.IterationPath) != domain.RelativeClassificationPath(tgt.IterationPath) {
		iteration := domain.RerootPath(src.IterationPath, targetRoot)
		patch.IterationPath = &iteration
	}
	return patch
}

func (s Service) recordMapping(ctx context.Context, req domain.SelectiveUpdateRequest, sourceID, targetID int) {
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

func (s Service) applyGroupMemberships(ctx context.Context, acc *accumulator, req domain.SelectiveUpdateRequest) {
	if len(selectedGroups(req.Groups)) == 0 {
		return
	}
	targetGroups, err := s.api.ListSecurityGroups(ctx, req.TargetProjectID)
	if err != nil {
		s.record(ctx, acc, domain.OperationLog{
			Operation: domain.OpAddMember,
			Message:   "failed to resolve target security groups",
			Detail:    err.Error(),
		})
		return
	}
	byName := make(map[string]domain.SecurityGroup, len(targetGroups))
	for _, group := range targetGroups {
		byName[group.Name] = group
	}

	for _, entry := range selectedGroups(req.Groups) {
		group, ok := byName[entry.GroupName]
		if !ok {
			s.record(ctx, acc, domain.OperationLog{
				Operation: domain.OpAddMember,
				Message:   fmt.Sprintf("group %q does not exist in target", entry.GroupName),
				ItemID:    entry.GroupName,
			})
			continue
		}
		for _, principal := range entry.MembersToAdd {
			if err := s.api.AddGroupMember(ctx, group.ID, principal); err != nil {
				s.record(ctx, acc, domain.OperationLog{
					Operation: domain.OpAddMember,
					Message:   fmt.Sprintf("failed to add %q to group %q", principal, entry.GroupName),
					Detail:    err.Error(),
					ItemID:    principal,
				})
				continue
			}
			acc.result.MembersAdded++
			s.record(ctx, acc, domain.OperationLog{
				Success:   true,
				Operation: domain.OpAddMember,
				Message:   fmt.Sprintf("added %q to group %q", principal, entry.GroupName),
				ItemID:    principal,
			})
		}
		for _, principal := range entry.MembersToRemove {
			if err := s.api.RemoveGroupMember(ctx, group.ID, principal); err != nil {
				s.record(ctx, acc, domain.OperationLog{
					Operation: domain.OpRemoveMember,
					Message:   fmt.Sprintf("failed to remove %q from group %q", principal, entry.GroupName),
					Detail:    err.Error(),
					ItemID:    principal,
				})
				continue
			}
			acc.result.MembersRemoved++
			s.record(ctx, acc, domain.OperationLog{
				Success:   true,
				Operation: domain.OpRemoveMember,
				Message:   fmt.Sprintf("removed %q from group %q", principal, entry.GroupName),
				ItemID:    principal,
			})
		}
	}
}

func selectedGroups(groups []domain.GroupMembershipDiff) []domain.GroupMembershipDiff {
	var selected []domain.GroupMembershipDiff
	for _, entry := range groups {
		if entry.Selected && entry.HasChanges() {
			selected = append(selected, entry)
		}
	}
	return selected
}

// applyWikiActions records the advisory for each selected page. No remote
// write happens; wiki replication is a manual step by design.
func (s Service) applyWikiActions(ctx context.Context, acc *accumulator, req domain.SelectiveUpdateRequest) {
	for _, entry := range req.WikiPages {
		if !entry.Selected {
			continue
		}
		acc.result.WikiAdvisories++
		s.record(ctx, acc, domain.OperationLog{
			Success:   true,
			Operation: domain.OpWikiAdvisory,
			Message:   fmt.Sprintf("wiki page %q requires manual replication", entry.Path),
			Detail:    entry.Description,
			ItemID:    entry.Path,
		})
	}
}

func blockedByPath(item domain.WorkItem, blockedPaths map[string]struct{}) bool {
	if len(blockedPaths) == 0 {
		return false
	}
	for path := range blockedPaths {
		if strings.HasSuffix(item.AreaPath, path) || strings.HasSuffix(item.IterationPath, path) {
			return true
		}
	}
	return false
}

// sortByParentDependency orders selected New entries so that any item whose
// parent is also being created in this batch comes after that parent. Cycles
// cannot occur in a parent hierarchy but a defensive bound keeps the walk
// finite on malformed input.
func sortByParentDependency(entries []domain.WorkItemDiff) []domain.WorkItemDiff {
	if len(entries) < 2 {
		return entries
	}
	bySource := make(map[int]int, len(entries))
	for i, entry := range entries {
		bySource[entry.SourceID] = i
	}

	ordered := make([]domain.WorkItemDiff, 0, len(entries))
	emitted := make([]bool, len(entries))
	var emit func(i, depth int)
	emit = func(i, depth int) {
		if emitted[i] || depth > len(entries) {
			return
		}
		if parentIdx, ok := bySource[entries[i].Source.ParentID]; ok && parentIdx != i {
			emit(parentIdx, depth+1)
		}
		if !emitted[i] {
			emitted[i] = true
			ordered = append(ordered, entries[i])
		}
	}
	for i := range entries {
		emit(i, 0)
	}
	return ordered
}
