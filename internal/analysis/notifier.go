package analysis

import (
	"context"

	"go.uber.org/zap"
)

// Failure describes a failed analysis for operator notification.
type Failure struct {
	UserID     string
	SessionID  string
	AnalysisID string
	Method     string
	Model      string
	Err        error
}

// Notifier is told about failed analyses. Delivery is best effort.
type Notifier interface {
	NotifyFailure(ctx context.Context, f Failure) error
}

// LogNotifier reports failures as structured log lines.
type LogNotifier struct {
	Logger *zap.Logger
}

// NotifyFailure implements Notifier.
func (n LogNotifier) NotifyFailure(_ context.Context, f Failure) error {
	logger := n.Logger
	if logger == nil {
		return nil
	}
	logger.Error("analysis failed",
		zap.String("user_id", f.UserID),
		zap.String("session_id", f.SessionID),
		zap.String("analysis_id", f.AnalysisID),
		zap.String("method", f.Method),
		zap.String("model", f.Model),
		zap.Error(f.Err))
	return nil
}
