package progress

import (
	"context"
	"encoding/json"
	"time"

	"log/slog"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/ws"
)

// Service persists run lifecycle and operation logs, and streams progress to
// subscribed clients. A zero Service is usable: every method becomes a no-op,
// which keeps the sync engines runnable without persistence in tests.
type Service struct {
	runs   repository.RunRepository
	oplogs repository.OperationLogRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs a progress service.
func New(runs repository.RunRepository, oplogs repository.OperationLogRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{runs: runs, oplogs: oplogs, hub: hub, logger: logger}
}

// Begin records the start of a sync run.
func (s Service) Begin(ctx context.Context, run *domain.SyncRun) {
	if s.runs == nil {
		return
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		s.warn("failed to record run start", run.ID, err)
	}
}

// Finish records a run's outcome and JSON result.
func (s Service) Finish(ctx context.Context, runID string, success bool, result any) {
	if s.runs == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.warn("failed to encode run result", runID, err)
		payload = nil
	}
	if err := s.runs.FinishRun(ctx, runID, success, payload); err != nil {
		s.warn("failed to record run result", runID, err)
	}
}

// Log persists one operation log entry and streams it to followers. Storage
// failures are logged and swallowed so a reporting hiccup never fails the
// sync operation itself.
func (s Service) Log(ctx context.Context, runID string, entry domain.OperationLog) {
	if s.oplogs != nil {
		if err := s.oplogs.AppendOperationLog(ctx, runID, entry); err != nil {
			s.warn("failed to append operation log", runID, err)
		}
	}
	s.Event(runID, string(entry.Operation), entry.Message, entry.Success)
}

// Event streams a progress event without persisting it.
func (s Service) Event(runID, stage, message string, success bool) {
	if s.hub == nil {
		return
	}
	event := domain.ProgressEvent{
		RunID:     runID,
		Stage:     stage,
		Message:   message,
		Success:   success,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.warn("failed to marshal progress event", runID, err)
		return
	}
	s.hub.Broadcast(runID, payload)
}

// Hub exposes the underlying hub for HTTP subscription handlers.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) warn(msg, runID string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, "run_id", runID, "error", err)
	}
}
