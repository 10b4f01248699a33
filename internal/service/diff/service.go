package diff

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
)

// Service compares a source and a target container entity by entity and
// produces a structured differences analysis.
type Service struct {
	api      remote.API
	mappings repository.MappingRepository
	logger   *slog.Logger
}

// New constructs a differencing service. The mapping repository is optional;
// without it correlation falls back to the title+type heuristic alone.
func New(api remote.API, mappings repository.MappingRepository, logger *slog.Logger) Service {
	return Service{api: api, mappings: mappings, logger: logger}
}

// Analyze resolves both containers and diffs work items, classification
// nodes, security groups, wiki pages and queries. Items present only in the
// target are not reported; the source is authoritative.
func (s Service) Analyze(ctx context.Context, sourceID, targetID string) (*domain.DifferencesAnalysis, error) {
	source, err := s.api.GetProject(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	target, err := s.api.GetProject(ctx, targetID)
	if err != nil {
		return nil, err
	}

	analysis := &domain.DifferencesAnalysis{
		SourceProjectID: source.ID,
		TargetProjectID: target.ID,
		AnalyzedAt:      time.Now().UTC(),
	}

	if analysis.WorkItems, err = s.diffWorkItems(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}
	if analysis.Classifications, err = s.diffClassifications(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}
	if analysis.Groups, err = s.diffGroups(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}
	if analysis.WikiPages, err = s.diffWikiPages(ctx, source.ID); err != nil {
		return nil, err
	}
	if analysis.Queries, err = s.diffQueries(ctx, source.ID, target.ID); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("analysis complete",
			"source", source.ID, "target", target.ID,
			"work_items", len(analysis.WorkItems),
			"has_differences", analysis.HasAnyDifferences())
	}
	return analysis, nil
}

func (s Service) diffWorkItems(ctx context.Context, sourceID, targetID string) ([]domain.WorkItemDiff, error) {
	sourceItems, err := s.api.ListWorkItems(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	targetItems, err := s.api.ListWorkItems(ctx, targetID)
	if err != nil {
		return nil, err
	}

	mapped := s.loadMappings(ctx, sourceID, targetID)
	byID := make(map[int]domain.WorkItem, len(targetItems))
	byKey := make(map[string]domain.WorkItem, len(targetItems))
	for _, item := range targetItems {
		byID[item.ID] = item
		byKey[itemKey(item)] = item
	}

	diffs := make([]domain.WorkItemDiff, 0, len(sourceItems))
	for _, src := range sourceItems {
		match, ok := s.matchTarget(src, mapped, byID, byKey)
		if !ok {
			diffs = append(diffs, domain.WorkItemDiff{
				State:       domain.DiffNew,
				SourceID:    src.ID,
				Source:      src,
				Description: fmt.Sprintf("work item %q does not exist in target", src.Title),
			})
			continue
		}
		changed := workItemFieldChanges(src, match)
		if len(changed) == 0 {
			diffs = append(diffs, domain.WorkItemDiff{
				State:       domain.DiffSynchronized,
				SourceID:    src.ID,
				TargetID:    match.ID,
				Source:      src,
				Target:      &match,
				Description: "work item is synchronized",
			})
			continue
		}
		diffs = append(diffs, domain.WorkItemDiff{
			State:       domain.DiffUpdated,
			SourceID:    src.ID,
			TargetID:    match.ID,
			Source:      src,
			Target:      &match,
			Description: "differs in " + strings.Join(changed, "; "),
		})
	}
	return diffs, nil
}

// matchTarget prefers a recorded mapping over the title+type heuristic. Two
// distinct source items sharing title and type collide under the heuristic,
// which is exactly why mappings are persisted on every clone.
func (s Service) matchTarget(src domain.WorkItem, mapped map[int]int, byID map[int]domain.WorkItem, byKey map[string]domain.WorkItem) (domain.WorkItem, bool) {
	if targetItemID, ok := mapped[src.ID]; ok {
		if item, ok := byID[targetItemID]; ok {
			return item, true
		}
	}
	item, ok := byKey[itemKey(src)]
	return item, ok
}

func (s Service) loadMappings(ctx context.Context, sourceID, targetID string) map[int]int {
	if s.mappings == nil {
		return nil
	}
	records, err := s.mappings.ListMappings(ctx, sourceID, targetID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to load work item mappings", "source", sourceID, "target", targetID, "error", err)
		}
		return nil
	}
	mapped := make(map[int]int, len(records))
	for _, record := range records {
		mapped[record.SourceID] = record.TargetID
	}
	return mapped
}

func itemKey(item domain.WorkItem) string {
	return item.Type + "\x00" + item.Title
}

// workItemFieldChanges returns a human-readable fragment per tracked field
// that differs between source and target.
func workItemFieldChanges(src, tgt domain.WorkItem) []string {
	var changed []string
	// rendered as target value -> source value, since applying the diff moves
	// the target toward the source
	describe := func(field, srcValue, tgtValue string) {
		changed = append(changed, fmt.Sprintf("%s: %q -> %q", field, tgtValue, srcValue))
	}
	if src.Title != tgt.Title {
		describe("title", src.Title, tgt.Title)
	}
	if src.State != tgt.State {
		describe("state", src.State, tgt.State)
	}
	if domain.RelativeClassificationPath(src.AreaPath) != domain.RelativeClassificationPath(tgt.AreaPath) {
		describe("area path", src.AreaPath, tgt.AreaPath)
	}
	if domain.RelativeClassificationPath(src.IterationPath) != domain.RelativeClassificationPath(tgt.IterationPath) {
		describe("iteration path", src.IterationPath, tgt.IterationPath)
	}
	if src.Tags != tgt.Tags {
		describe("tags", src.Tags, tgt.Tags)
	}
	if src.AssignedTo != tgt.AssignedTo {
		describe("assignee", src.AssignedTo, tgt.AssignedTo)
	}
	return changed
}

func (s Service) diffClassifications(ctx context.Context, sourceID, targetID string) ([]domain.ClassificationDiff, error) {
	var diffs []domain.ClassificationDiff
	for _, kind := range []domain.ClassificationKind{domain.ClassificationArea, domain.ClassificationIteration} {
		kindDiffs, err := s.diffClassificationKind(ctx, sourceID, targetID, kind)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, kindDiffs...)
	}
	return diffs, nil
}

// diffClassificationKind compares the two path trees as full-path string
// sets, root segment excluded so differing container names do not flag every
// path. The existence check is case-sensitive; a case-insensitive match at
// the same position reports a display-name difference instead.
func (s Service) diffClassificationKind(ctx context.Context, sourceID, targetID string, kind domain.ClassificationKind) ([]domain.ClassificationDiff, error) {
	sourceRoot, err := s.api.ListClassificationNodes(ctx, sourceID, kind)
	if err != nil {
		return nil, err
	}
	targetRoot, err := s.api.ListClassificationNodes(ctx, targetID, kind)
	if err != nil {
		return nil, err
	}

	targetPaths := make(map[string]struct{})
	targetFolded := make(map[string]string)
	for _, path := range targetRoot.Flatten() {
		rel := domain.RelativeClassificationPath(path)
		targetPaths[rel] = struct{}{}
		targetFolded[strings.ToLower(rel)] = rel
	}

	var diffs []domain.ClassificationDiff
	sourcePaths := sourceRoot.Flatten()
	sort.Strings(sourcePaths)
	for _, path := range sourcePaths {
		rel := domain.RelativeClassificationPath(path)
		if rel == "" {
			continue
		}
		if _, ok := targetPaths[rel]; ok {
			continue
		}
		if existing, ok := targetFolded[strings.ToLower(rel)]; ok {
			diffs = append(diffs, domain.ClassificationDiff{
				State:       domain.DiffNameDifferent,
				Kind:        kind,
				Path:        rel,
				TargetName:  existing,
				Description: fmt.Sprintf("path exists in target as %q", existing),
			})
			continue
		}
		diffs = append(diffs, domain.ClassificationDiff{
			State:       domain.DiffMissing,
			Kind:        kind,
			Path:        rel,
			Description: fmt.Sprintf("%s path %q does not exist in target", kindLabel(kind), rel),
		})
	}
	return diffs, nil
}

func kindLabel(kind domain.ClassificationKind) string {
	if kind == domain.ClassificationArea {
		return "area"
	}
	return "iteration"
}

func (s Service) diffGroups(ctx context.Context, sourceID, targetID string) ([]domain.GroupMembershipDiff, error) {
	sourceGroups, err := s.api.ListSecurityGroups(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	targetGroups, err := s.api.ListSecurityGroups(ctx, targetID)
	if err != nil {
		return nil, err
	}
	targetByName := make(map[string][]string, len(targetGroups))
	for _, group := range targetGroups {
		targetByName[group.Name] = group.Members
	}

	diffs := make([]domain.GroupMembershipDiff, 0, len(sourceGroups))
	for _, group := range sourceGroups {
		targetMembers := targetByName[group.Name]
		toAdd := subtract(group.Members, targetMembers)
		toRemove := subtract(targetMembers, group.Members)
		entry := domain.GroupMembershipDiff{
			GroupName:       group.Name,
			MembersToAdd:    toAdd,
			MembersToRemove: toRemove,
		}
		switch {
		case len(toAdd) == 0 && len(toRemove) == 0:
			entry.Description = "group membership is synchronized"
		default:
			entry.Description = fmt.Sprintf("%d member(s) to add, %d to remove", len(toAdd), len(toRemove))
		}
		diffs = append(diffs, entry)
	}
	return diffs, nil
}

// subtract returns elements of a absent from b, input order preserved.
func subtract(a, b []string) []string {
	present := make(map[string]struct{}, len(b))
	for _, item := range b {
		present[item] = struct{}{}
	}
	var out []string
	for _, item := range a {
		if _, ok := present[item]; !ok {
			out = append(out, item)
		}
	}
	return out
}

// diffWikiPages emits one advisory per source page. Wiki content comparison
// is out of algorithmic scope; the entries guide the user to review pages
// manually.
func (s Service) diffWikiPages(ctx context.Context, sourceID string) ([]domain.WikiPageDiff, error) {
	pages, err := s.api.ListWikiPages(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	diffs := make([]domain.WikiPageDiff, 0, len(pages))
	for _, page := range pages {
		diffs = append(diffs, domain.WikiPageDiff{
			State:       domain.DiffAdvisory,
			Path:        page.Path,
			Description: fmt.Sprintf("wiki page %q is not compared automatically; review it in the target manually", page.Path),
		})
	}
	return diffs, nil
}

func (s Service) diffQueries(ctx context.Context, sourceID, targetID string) ([]domain.QueryDiff, error) {
	sourceRoots, err := s.api.ListQueries(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	targetRoots, err := s.api.ListQueries(ctx, targetID)
	if err != nil {
		return nil, err
	}

	targetByPath := make(map[string]domain.Query)
	for _, root := range targetRoots {
		indexQueries(root, targetByPath)
	}

	var diffs []domain.QueryDiff
	for _, root := range sourceRoots {
		diffs = append(diffs, s.diffQueryNode(root, targetByPath)...)
	}
	return diffs, nil
}

// diffQueryNode walks one source query subtree. System folders are never
// reported as creatable: only their contents are diffed.
func (s Service) diffQueryNode(node domain.Query, targetByPath map[string]domain.Query) []domain.QueryDiff {
	var diffs []domain.QueryDiff

	if node.IsFolder {
		if !domain.IsSystemQueryFolder(node.Name) {
			if _, ok := targetByPath[node.Path]; !ok {
				diffs = append(diffs, domain.QueryDiff{
					State:       domain.DiffNew,
					SourceID:    node.ID,
					Path:        node.Path,
					IsFolder:    true,
					Source:      node,
					Description: fmt.Sprintf("query folder %q does not exist in target", node.Path),
				})
			}
		}
		for _, child := range node.Children {
			diffs = append(diffs, s.diffQueryNode(child, targetByPath)...)
		}
		return diffs
	}

	match, ok := targetByPath[node.Path]
	if !ok {
		diffs = append(diffs, domain.QueryDiff{
			State:       domain.DiffNew,
			SourceID:    node.ID,
			Path:        node.Path,
			Source:      node,
			Description: fmt.Sprintf("query %q does not exist in target", node.Path),
		})
		return diffs
	}
	changed := queryFieldChanges(node, match)
	if len(changed) == 0 {
		diffs = append(diffs, domain.QueryDiff{
			State:       domain.DiffSynchronized,
			SourceID:    node.ID,
			Path:        node.Path,
			Source:      node,
			Target:      &match,
			Description: "query is synchronized",
		})
		return diffs
	}
	diffs = append(diffs, domain.QueryDiff{
		State:       domain.DiffUpdated,
		SourceID:    node.ID,
		Path:        node.Path,
		Source:      node,
		Target:      &match,
		Description: "differs in " + strings.Join(changed, "; "),
	})
	return diffs
}

func queryFieldChanges(src, tgt domain.Query) []string {
	var changed []string
	if src.WIQL != tgt.WIQL {
		changed = append(changed, "wiql")
	}
	if src.QueryType != tgt.QueryType {
		changed = append(changed, "query type")
	}
	if src.IsPublic != tgt.IsPublic {
		changed = append(changed, "visibility")
	}
	return changed
}

func indexQueries(node domain.Query, byPath map[string]domain.Query) {
	byPath[node.Path] = node
	for _, child := range node.Children {
		indexQueries(child, byPath)
	}
}
