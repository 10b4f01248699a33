package repository

import (
	"context"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
)

// UserRepository persists service users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// ConnectionRepository persists per-user remote organization connections.
type ConnectionRepository interface {
	UpsertConnection(ctx context.Context, conn *domain.Connection) error
	GetConnectionByUser(ctx context.Context, userID string) (*domain.Connection, error)
}

// MappingRepository persists source-to-target work item correlations.
type MappingRepository interface {
	UpsertMapping(ctx context.Context, mapping *domain.WorkItemMapping) error
	GetMapping(ctx context.Context, sourceProjectID string, sourceID int, targetProjectID string) (*domain.WorkItemMapping, error)
	ListMappings(ctx context.Context, sourceProjectID, targetProjectID string) ([]domain.WorkItemMapping, error)
}

// RunRepository stores sync run lifecycle and results.
type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.SyncRun) error
	FinishRun(ctx context.Context, runID string, success bool, result []byte) error
	GetRunByID(ctx context.Context, runID string) (*domain.SyncRun, error)
	ListRunsByUser(ctx context.Context, userID string, limit int) ([]domain.SyncRun, error)
}

// OperationLogRepository persists per-run operation logs.
type OperationLogRepository interface {
	AppendOperationLog(ctx context.Context, runID string, entry domain.OperationLog) error
	ListOperationLogs(ctx context.Context, runID string, limit, offset int) ([]domain.OperationLog, error)
}
