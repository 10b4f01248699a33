package settings

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/mike11stevens/AdoProjectManager-sub002/internal/domain"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/remote"
	"github.com/mike11stevens/AdoProjectManager-sub002/internal/repository"
	"github.com/mike11stevens/AdoProjectManager-sub002/pkg/config"
	"github.com/mike11stevens/AdoProjectManager-sub002/pkg/crypto"
)

var (
	// ErrNoConnection means the user has no stored organization connection
	// and no default is configured.
	ErrNoConnection = errors.New("no organization connection configured")

	errMissingOrgURL = errors.New("organization url required")
	errMissingToken  = errors.New("access token required")
	errBadCredential = errors.New("credential rejected by the organization")
)

// Service stores per-user remote organization connections. Tokens are
// encrypted at rest; a connection is validated against the organization
// before it is saved.
type Service struct {
	connections repository.ConnectionRepository
	factory     remote.Factory
	logger      *slog.Logger
	cfg         config.APIConfig
}

// New constructs a Service.
func New(connections repository.ConnectionRepository, factory remote.Factory, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{connections: connections, factory: factory, logger: logger, cfg: cfg}
}

// SaveConnection validates the credential against the organization and stores
// it encrypted for the user.
func (s Service) SaveConnection(ctx context.Context, userID, orgURL, token string) (*domain.Connection, error) {
	orgURL = strings.TrimRight(strings.TrimSpace(orgURL), "/")
	if orgURL == "" {
		return nil, errMissingOrgURL
	}
	if strings.TrimSpace(token) == "" {
		return nil, errMissingToken
	}

	api := s.factory(orgURL, token)
	ok, err := api.ValidateCredential(ctx, orgURL, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errBadCredential
	}

	encrypted, err := crypto.EncryptString(s.cfg.TokenEncryptionKey, token)
	if err != nil {
		return nil, err
	}
	conn := &domain.Connection{
		UserID:    userID,
		OrgURL:    orgURL,
		Token:     encrypted,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.connections.UpsertConnection(ctx, conn); err != nil {
		return nil, err
	}
	s.logger.Info("organization connection saved", "user_id", userID, "org_url", orgURL)
	return conn, nil
}

// GetConnection returns the user's stored connection without the token.
func (s Service) GetConnection(ctx context.Context, userID string) (*domain.Connection, error) {
	conn, err := s.connections.GetConnectionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	conn.Token = nil
	return conn, nil
}

// Client resolves a configured remote API for the user: their stored
// connection when present, the environment default otherwise.
func (s Service) Client(ctx context.Context, userID string) (remote.API, error) {
	conn, err := s.connections.GetConnectionByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if s.cfg.DefaultOrgURL != "" && s.cfg.DefaultOrgToken != "" {
				return s.factory(s.cfg.DefaultOrgURL, s.cfg.DefaultOrgToken), nil
			}
			return nil, ErrNoConnection
		}
		return nil, err
	}
	token, err := crypto.DecryptToString(s.cfg.TokenEncryptionKey, conn.Token)
	if err != nil {
		return nil, err
	}
	return s.factory(conn.OrgURL, token), nil
}
