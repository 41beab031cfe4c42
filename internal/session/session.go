// Package session owns conversation history: loading a bounded context
// window for the next analysis and the per-session history operations.
package session

import (
	"context"
	"encoding/json"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

// DefaultMaxExchanges is how many prior exchanges are sent to the model.
const DefaultMaxExchanges = 10

// Store is the exchange log. ListExchanges returns the most recent exchange
// first; a limit <= 0 means no limit.
type Store interface {
	AppendExchange(ctx context.Context, ex *models.Exchange) error
	ListExchanges(ctx context.Context, userID, sessionID string, limit int) ([]models.Exchange, error)
	DeleteSession(ctx context.Context, userID, sessionID string) (int64, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Context is the conversation history handed to the model.
type Context struct {
	Turns []models.Turn `json:"turns"`
	// MessageCount is len(Turns) after truncation.
	MessageCount int `json:"message_count"`
	// TotalMessageCount counts every turn stored for the session.
	TotalMessageCount int `json:"total_message_count"`
	// ExchangeCount counts every exchange stored for the session.
	ExchangeCount int `json:"exchange_count"`
	// SerializedLength is the character length of the role and content of
	// Turns as JSON, used for cost estimation. Zero when there are no turns.
	SerializedLength int `json:"serialized_length"`
}

// Truncated reports whether older turns were dropped.
func (c Context) Truncated() bool {
	return c.MessageCount < c.TotalMessageCount
}

// EstimatedTokens approximates the token count of the serialized turns.
func (c Context) EstimatedTokens() int64 {
	return budget.EstimateTokens(c.SerializedLength)
}

// Window loads bounded session context.
type Window struct {
	store  Store
	logger *zap.Logger
}

// NewWindow creates a Window over store. A nil store yields empty contexts.
func NewWindow(store Store, logger *zap.Logger) *Window {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Window{store: store, logger: logger}
}

// Load returns the last maxExchanges exchanges of a session as chronological
// turns. It never fails: if the store is unavailable the context is empty.
func (w *Window) Load(ctx context.Context, userID, sessionID string, maxExchanges int) Context {
	if w.store == nil || sessionID == "" {
		return Context{}
	}
	exchanges, err := w.store.ListExchanges(ctx, userID, sessionID, 0)
	if err != nil {
		metrics.StoreSoftFailures.WithLabelValues("context_load").Inc()
		w.logger.Warn("failed to load session context, continuing without history",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID),
			zap.Error(err))
		return Context{}
	}
	return BuildContext(exchanges, maxExchanges)
}

// BuildContext flattens exchanges given most-recent-first into chronological
// turns and keeps the turns of the last maxExchanges exchanges. A
// maxExchanges <= 0 keeps everything.
func BuildContext(exchanges []models.Exchange, maxExchanges int) Context {
	// groups[i] holds the turns of one exchange, oldest exchange first.
	groups := make([][]models.Turn, 0, len(exchanges))
	total := 0
	for i := len(exchanges) - 1; i >= 0; i-- {
		ex := exchanges[i]
		var turns []models.Turn
		if ex.UserQuery != "" {
			turns = append(turns, models.Turn{Role: models.RoleUser, Content: ex.UserQuery, Timestamp: ex.CreatedAt})
		}
		if ex.Response != "" {
			turns = append(turns, models.Turn{Role: models.RoleAssistant, Content: ex.Response, Timestamp: ex.CreatedAt})
		}
		if len(turns) == 0 {
			continue
		}
		total += len(turns)
		groups = append(groups, turns)
	}

	kept := groups
	if maxExchanges > 0 && len(groups) > maxExchanges {
		kept = groups[len(groups)-maxExchanges:]
	}

	var turns []models.Turn
	for _, g := range kept {
		turns = append(turns, g...)
	}

	c := Context{
		Turns:             turns,
		MessageCount:      len(turns),
		TotalMessageCount: total,
		ExchangeCount:     len(groups),
	}
	c.SerializedLength = serializedLength(turns)
	return c
}

// wireTurn is the part of a turn sent to the model.
type wireTurn struct {
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
}

func serializedLength(turns []models.Turn) int {
	if len(turns) == 0 {
		return 0
	}
	wire := make([]wireTurn, len(turns))
	for i, t := range turns {
		wire[i] = wireTurn{Role: t.Role, Content: t.Content}
	}
	b, err := json.Marshal(wire)
	if err != nil {
		return 0
	}
	return utf8.RuneCount(b)
}
