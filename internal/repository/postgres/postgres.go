package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository         = (*Repository)(nil)
	_ repository.ConnectionRepository   = (*Repository)(nil)
	_ repository.MappingRepository      = (*Repository)(nil)
	_ repository.RunRepository          = (*Repository)(nil)
	_ repository.OperationLogRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	return err
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE email = $1`
	row := r.pool.QueryRow(ctx, query, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, email, password_hash, created_at FROM users WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UpsertConnection stores a user's organization connection.
func (r *Repository) UpsertConnection(ctx context.Context, conn *domain.Connection) error {
	const query = `INSERT INTO connections (user_id, org_url, token, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET org_url = EXCLUDED.org_url, token = EXCLUDED.token, updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, conn.UserID, conn.OrgURL, conn.Token, conn.UpdatedAt)
	return err
}

// GetConnectionByUser fetches a stored connection.
func (r *Repository) GetConnectionByUser(ctx context.Context, userID string) (*domain.Connection, error) {
	const query = `SELECT user_id, org_url, token, updated_at FROM connections WHERE user_id = $1`
	row := r.pool.QueryRow(ctx, query, userID)
	var c domain.Connection
	if err := row.Scan(&c.UserID, &c.OrgURL, &c.Token, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpsertMapping records a source-to-target work item correlation.
func (r *Repository) UpsertMapping(ctx context.Context, mapping *domain.WorkItemMapping) error {
	const query = `INSERT INTO work_item_mappings (source_project_id, source_id, target_project_id, target_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_project_id, source_id, target_project_id) DO UPDATE SET target_id = EXCLUDED.target_id`
	_, err := r.pool.Exec(ctx, query, mapping.SourceProjectID, mapping.SourceID, mapping.TargetProjectID, mapping.TargetID, mapping.CreatedAt)
	return err
}

// GetMapping looks up the target counterpart of one source work item.
func (r *Repository) GetMapping(ctx context.Context, sourceProjectID string, sourceID int, targetProjectID string) (*domain.WorkItemMapping, error) {
	const query = `SELECT source_project_id, source_id, target_project_id, target_id, created_at
		FROM work_item_mappings
		WHERE source_project_id = $1 AND source_id = $2 AND target_project_id = $3`
	row := r.pool.QueryRow(ctx, query, sourceProjectID, sourceID, targetProjectID)
	var m domain.WorkItemMapping
	if err := row.Scan(&m.SourceProjectID, &m.SourceID, &m.TargetProjectID, &m.TargetID, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// ListMappings returns every recorded correlation for a container pair.
func (r *Repository) ListMappings(ctx context.Context, sourceProjectID, targetProjectID string) ([]domain.WorkItemMapping, error) {
	const query = `SELECT source_project_id, source_id, target_project_id, target_id, created_at
		FROM work_item_mappings
		WHERE source_project_id = $1 AND target_project_id = $2
		ORDER BY source_id`
	rows, err := r.pool.Query(ctx, query, sourceProjectID, targetProjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var mappings []domain.WorkItemMapping
	for rows.Next() {
		var m domain.WorkItemMapping
		if err := rows.Scan(&m.SourceProjectID, &m.SourceID, &m.TargetProjectID, &m.TargetID, &m.CreatedAt); err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// CreateRun inserts a sync run record.
func (r *Repository) CreateRun(ctx context.Context, run *domain.SyncRun) error {
	const query = `INSERT INTO sync_runs (id, user_id, kind, source_project_id, target_project_id, success, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, run.ID, run.UserID, run.Kind, run.SourceProjectID, run.TargetProjectID, run.Success, run.StartedAt)
	return err
}

// FinishRun records a run's outcome and result payload.
func (r *Repository) FinishRun(ctx context.Context, runID string, success bool, result []byte) error {
	const query = `UPDATE sync_runs SET success = $2, result = $3, finished_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, runID, success, result)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetRunByID fetches one sync run.
func (r *Repository) GetRunByID(ctx context.Context, runID string) (*domain.SyncRun, error) {
	const query = `SELECT id, user_id, kind, source_project_id, target_project_id, success, result, started_at, finished_at
		FROM sync_runs WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, runID)
	var run domain.SyncRun
	if err := row.Scan(&run.ID, &run.UserID, &run.Kind, &run.SourceProjectID, &run.TargetProjectID, &run.Success, &run.Result, &run.StartedAt, &run.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &run, nil
}

// ListRunsByUser returns a user's recent runs, newest first.
func (r *Repository) ListRunsByUser(ctx context.Context, userID string, limit int) ([]domain.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, user_id, kind, source_project_id, target_project_id, success, result, started_at, finished_at
		FROM sync_runs WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []domain.SyncRun
	for rows.Next() {
		var run domain.SyncRun
		if err := rows.Scan(&run.ID, &run.UserID, &run.Kind, &run.SourceProjectID, &run.TargetProjectID, &run.Success, &run.Result, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// AppendOperationLog stores an operation log entry for a run.
func (r *Repository) AppendOperationLog(ctx context.Context, runID string, entry domain.OperationLog) error {
	const query = `INSERT INTO operation_logs (run_id, ts, success, operation, message, detail, item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, runID, entry.Timestamp, entry.Success, entry.Operation, entry.Message, entry.Detail, entry.ItemID)
	return err
}

// ListOperationLogs returns a run's operation logs in append order.
func (r *Repository) ListOperationLogs(ctx context.Context, runID string, limit, offset int) ([]domain.OperationLog, error) {
	if limit <= 0 {
		limit = 200
	}
	const query = `SELECT ts, success, operation, message, detail, item_id
		FROM operation_logs WHERE run_id = $1 ORDER BY id LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []domain.OperationLog
	for rows.Next() {
		var entry domain.OperationLog
		if err := rows.Scan(&entry.Timestamp, &entry.Success, &entry.Operation, &entry.Message, &entry.Detail, &entry.ItemID); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
