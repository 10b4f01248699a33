package domain

import (
	"encoding/json"
	"time"
)

// User is a service account able to configure connections and launch runs.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Connection stores a user's remote organization endpoint. Token holds the
// personal access token encrypted with AES-GCM; it is never persisted in the
// clear.
type Connection struct {
	UserID    string
	OrgURL    string
	Token     []byte
	UpdatedAt time.Time
}

// WorkItemMapping correlates a source work item with its clone in a target
// container. Recorded on every successful create so later runs can match by
// identity instead of the title+type heuristic.
type WorkItemMapping struct {
	SourceProjectID string
	SourceID        int
	TargetProjectID string
	TargetID        int
	CreatedAt       time.Time
}

// RunKind labels a sync run.
type RunKind string

const (
	RunAnalyze RunKind = "analyze"
	RunApply   RunKind = "apply"
	RunClone   RunKind = "clone"
	RunDeploy  RunKind = "deploy"
)

// SyncRun is the persisted record of one top-level operation. Result holds the
// operation's JSON-encoded result object once finished.
type SyncRun struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Kind            RunKind         `json:"kind"`
	SourceProjectID string          `json:"source_project_id"`
	TargetProjectID string          `json:"target_project_id"`
	Success         bool            `json:"success"`
	Result          json.RawMessage `json:"result,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// ProgressEvent streams step and item progress to subscribed clients.
type ProgressEvent struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}
