package domain

import "time"

// DiffState classifies a single difference entry.
type DiffState string

const (
	DiffNew           DiffState = "new"
	DiffUpdated       DiffState = "updated"
	DiffSynchronized  DiffState = "synchronized"
	DiffMissing       DiffState = "missing"
	DiffNameDifferent DiffState = "name_different"
	DiffAdvisory      DiffState = "advisory"
)

// WorkItemDiff compares one source work item against its target counterpart.
// Target is nil for new items. Selected is set by the caller before the entry
// is handed to the applier; Synchronized entries are never applied regardless
// of the flag.
type WorkItemDiff struct {
	State       DiffState `json:"state"`
	SourceID    int       `json:"source_id"`
	TargetID    int       `json:"target_id,omitempty"`
	Source      WorkItem  `json:"source"`
	Target      *WorkItem `json:"target,omitempty"`
	Description string    `json:"description"`
	Selected    bool      `json:"selected"`
}

// ClassificationDiff reports a source path missing from the target, or present
// under a different display name at the same structural position.
type ClassificationDiff struct {
	State       DiffState          `json:"state"`
	Kind        ClassificationKind `json:"kind"`
	Path        string             `json:"path"`
	TargetName  string             `json:"target_name,omitempty"`
	Description string             `json:"description"`
	Selected    bool               `json:"selected"`
}

// GroupMembershipDiff carries the member set differences for one group name
// present in the source container.
type GroupMembershipDiff struct {
	GroupName       string   `json:"group_name"`
	MembersToAdd    []string `json:"members_to_add"`
	MembersToRemove []string `json:"members_to_remove"`
	Description     string   `json:"description"`
	Selected        bool     `json:"selected"`
}

// HasChanges reports whether the group has any membership delta.
func (d GroupMembershipDiff) HasChanges() bool {
	return len(d.MembersToAdd) > 0 || len(d.MembersToRemove) > 0
}

// WikiPageDiff is an advisory record. Wiki content comparison is not
// attempted; the entry guides the user instead of describing a computed diff.
type WikiPageDiff struct {
	State       DiffState `json:"state"`
	Path        string    `json:"path"`
	Description string    `json:"description"`
	Selected    bool      `json:"selected"`
}

// QueryDiff mirrors WorkItemDiff for saved queries and query folders.
type QueryDiff struct {
	State       DiffState `json:"state"`
	SourceID    string    `json:"source_id"`
	Path        string    `json:"path"`
	IsFolder    bool      `json:"is_folder"`
	Source      Query     `json:"source"`
	Target      *Query    `json:"target,omitempty"`
	Description string    `json:"description"`
	Selected    bool      `json:"selected"`
}

// DifferencesAnalysis aggregates the diff categories for one source/target
// container pair.
type DifferencesAnalysis struct {
	SourceProjectID string                `json:"source_project_id"`
	TargetProjectID string                `json:"target_project_id"`
	WorkItems       []WorkItemDiff        `json:"work_items"`
	Classifications []ClassificationDiff  `json:"classifications"`
	Groups          []GroupMembershipDiff `json:"groups"`
	WikiPages       []WikiPageDiff        `json:"wiki_pages"`
	Queries         []QueryDiff           `json:"queries"`
	AnalyzedAt      time.Time             `json:"analyzed_at"`
}

// HasWorkItemChanges reports whether any work item entry requires a write.
func (a DifferencesAnalysis) HasWorkItemChanges() bool {
	for _, d := range a.WorkItems {
		if d.State == DiffNew || d.State == DiffUpdated {
			return true
		}
	}
	return false
}

// HasClassificationChanges reports whether any path entry requires a write.
func (a DifferencesAnalysis) HasClassificationChanges() bool {
	for _, d := range a.Classifications {
		if d.State == DiffMissing || d.State == DiffNameDifferent {
			return true
		}
	}
	return false
}

// HasGroupChanges reports whether any group carries a membership delta.
func (a DifferencesAnalysis) HasGroupChanges() bool {
	for _, d := range a.Groups {
		if d.HasChanges() {
			return true
		}
	}
	return false
}

// HasQueryChanges reports whether any query entry requires a write.
func (a DifferencesAnalysis) HasQueryChanges() bool {
	for _, d := range a.Queries {
		if d.State == DiffNew || d.State == DiffUpdated || d.State == DiffMissing {
			return true
		}
	}
	return false
}

// HasAnyDifferences is the OR over the per-category predicates. Synchronized
// and advisory entries never count.
func (a DifferencesAnalysis) HasAnyDifferences() bool {
	return a.HasWorkItemChanges() || a.HasClassificationChanges() || a.HasGroupChanges() || a.HasQueryChanges()
}
