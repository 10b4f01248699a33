package domain

import "time"

// OperationType tags an operation log entry.
type OperationType string

const (
	OpCreateWorkItem OperationType = "create_work_item"
	OpUpdateWorkItem OperationType = "update_work_item"
	OpCreatePath     OperationType = "create_path"
	OpAddMember      OperationType = "add_member"
	OpRemoveMember   OperationType = "remove_member"
	OpWikiAdvisory   OperationType = "wiki_advisory"
	OpAttachment     OperationType = "attachment"
	OpCreateQuery    OperationType = "create_query"
	OpFeatureState   OperationType = "feature_state"
)

// OperationLog records the outcome of one item-level operation. Entries are
// immutable once appended.
type OperationLog struct {
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Operation OperationType `json:"operation"`
	Message   string        `json:"message"`
	Detail    string        `json:"detail,omitempty"`
	ItemID    string        `json:"item_id,omitempty"`
}

// SelectiveUpdateRequest names the container pair and the diff entries the
// caller approved. Only entries with Selected set are processed.
type SelectiveUpdateRequest struct {
	SourceProjectID string                `json:"source_project_id"`
	TargetProjectID string                `json:"target_project_id"`
	WorkItems       []WorkItemDiff        `json:"work_items"`
	Classifications []ClassificationDiff  `json:"classifications"`
	Groups          []GroupMembershipDiff `json:"groups"`
	WikiPages       []WikiPageDiff        `json:"wiki_pages"`
}

// SelectiveUpdateResult aggregates per-category counts and the ordered
// operation log. Success is true only when no log entry failed and no
// container-level error occurred.
type SelectiveUpdateResult struct {
	RunID            string         `json:"run_id"`
	Success          bool           `json:"success"`
	WorkItemsCloned  int            `json:"work_items_cloned"`
	WorkItemsUpdated int            `json:"work_items_updated"`
	PathsCreated     int            `json:"paths_created"`
	MembersAdded     int            `json:"members_added"`
	MembersRemoved   int            `json:"members_removed"`
	WikiAdvisories   int            `json:"wiki_advisories"`
	Warnings         []string       `json:"warnings,omitempty"`
	OperationLogs    []OperationLog `json:"operation_logs"`
}

// StepResult captures a single clone pipeline step. Immutable once recorded.
type StepResult struct {
	Name       string        `json:"name"`
	Success    bool          `json:"success"`
	Message    string        `json:"message"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// CloneOptions gates each pipeline step.
type CloneOptions struct {
	Repositories       bool `json:"repositories"`
	WorkItems          bool `json:"work_items"`
	IncludeAttachments bool `json:"include_attachments"`
	AreaPaths          bool `json:"area_paths"`
	IterationPaths     bool `json:"iteration_paths"`
	Queries            bool `json:"queries"`
	Teams              bool `json:"teams"`
	BuildPipelines     bool `json:"build_pipelines"`
	ReleasePipelines   bool `json:"release_pipelines"`
	Dashboards         bool `json:"dashboards"`
	ServiceVisibility  bool `json:"service_visibility"`
	ProjectSettings    bool `json:"project_settings"`
}

// CloneRequest asks for a full-project clone. TargetOrgURL and TargetToken
// are set only when the target lives in a different organization.
type CloneRequest struct {
	SourceProjectID string       `json:"source_project_id"`
	TargetProjectID string       `json:"target_project_id"`
	TargetOrgURL    string       `json:"target_org_url,omitempty"`
	TargetToken     string       `json:"target_token,omitempty"`
	Options         CloneOptions `json:"options"`
}

// CloneResult is the step-level execution report of one clone run. Appended to
// as each step finishes, never mutated after the pipeline returns.
type CloneResult struct {
	RunID           string       `json:"run_id"`
	SourceProjectID string       `json:"source_project_id"`
	TargetProjectID string       `json:"target_project_id"`
	Success         bool         `json:"success"`
	TotalSteps      int          `json:"total_steps"`
	CompletedSteps  int          `json:"completed_steps"`
	Steps           []StepResult `json:"steps"`
	Warnings        []string     `json:"warnings,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
	FinishedAt      time.Time    `json:"finished_at"`
}

// DeploymentOptions tune templated work item fan-out.
type DeploymentOptions struct {
	UpdateExisting     bool `json:"update_existing"`
	CreateMissingPaths bool `json:"create_missing_paths"`
	IncludeAttachments bool `json:"include_attachments"`
	IncludeLinks       bool `json:"include_links"`
}

// DeploymentRequest pushes a curated set of template work items from one
// source container into N target containers.
type DeploymentRequest struct {
	SourceProjectID  string            `json:"source_project_id"`
	TargetProjectIDs []string          `json:"target_project_ids"`
	WorkItemIDs      []int             `json:"work_item_ids"`
	Options          DeploymentOptions `json:"options"`
}

// DeploymentAction labels the outcome for one item on one target.
type DeploymentAction string

const (
	ActionCreated DeploymentAction = "created"
	ActionUpdated DeploymentAction = "updated"
	ActionSkipped DeploymentAction = "skipped"
	ActionFailed  DeploymentAction = "failed"
)

// DeploymentDetail records one work item's fate on one target container.
type DeploymentDetail struct {
	SourceID int              `json:"source_id"`
	TargetID int              `json:"target_id,omitempty"`
	Title    string           `json:"title"`
	Action   DeploymentAction `json:"action"`
	Message  string           `json:"message,omitempty"`
}

// ProjectDeploymentResult accumulates one target container's outcome in
// isolation from every other target.
type ProjectDeploymentResult struct {
	ProjectID string             `json:"project_id"`
	Success   bool               `json:"success"`
	Error     string             `json:"error,omitempty"`
	Created   int                `json:"created"`
	Updated   int                `json:"updated"`
	Skipped   int                `json:"skipped"`
	Details   []DeploymentDetail `json:"details"`
	Warnings  []string           `json:"warnings,omitempty"`
}

// DeploymentResult aggregates per-target results. Success means at least one
// target was processed without a project-level failure.
type DeploymentResult struct {
	RunID              string                    `json:"run_id"`
	Success            bool                      `json:"success"`
	TotalDeployed      int                       `json:"total_deployed"`
	SuccessfulProjects int                       `json:"successful_projects"`
	FailedProjects     int                       `json:"failed_projects"`
	Projects           []ProjectDeploymentResult `json:"projects"`
	Warnings           []string                  `json:"warnings,omitempty"`
}
