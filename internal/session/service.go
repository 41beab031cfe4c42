package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

// ErrNotFound is returned when a session has no stored exchanges.
var ErrNotFound = errors.New("session not found")

// Service exposes history operations over the exchange log.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a Service backed by store.
func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, logger: logger}
}

// History returns up to limit exchanges of a session in chronological order.
func (s *Service) History(ctx context.Context, userID, sessionID string, limit int) ([]models.Exchange, error) {
	exchanges, err := s.store.ListExchanges(ctx, userID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading session history: %w", err)
	}
	if len(exchanges) == 0 {
		return nil, ErrNotFound
	}
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
	return exchanges, nil
}

// List returns the user's sessions, most recently updated first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error) {
	sessions, err := s.store.ListSessions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	return sessions, nil
}

// Delete removes a session and every exchange in it.
func (s *Service) Delete(ctx context.Context, userID, sessionID string) error {
	n, err := s.store.DeleteSession(ctx, userID, sessionID)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Info("session deleted",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Int64("exchanges", n))
	return nil
}

// PurgeExpired drops exchanges whose retention has lapsed.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("purging expired exchanges: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired exchanges", zap.Int64("count", n))
	}
	return n, nil
}
