// Package analysis runs one analysis request end to end: classification,
// context loading, cost governance, the model call, cost recording and
// persistence of the resulting exchange.
package analysis

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/classify"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/llm"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/metrics"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/session"
	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

const (
	previewLength   = 120
	notifyTimeout   = 10 * time.Second
	DefaultUserID   = "user-1"
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeInvalid  = "invalid"
	outcomeCanceled = "canceled"
)

// Query is one analysis request.
type Query struct {
	Text        string
	Method      string // optional explicit override
	OutputStyle string // optional explicit override
	RoleContext string // optional explicit override
	SessionID   string // empty starts a new session
	UserID      string
	UserEmail   string
}

// Usage is the token usage reported by the model.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// ContextInfo describes the history sent with the request. It carries counts
// only, never cost figures.
type ContextInfo struct {
	MessageCount      int   `json:"messageCount"`
	TotalMessageCount int   `json:"totalMessageCount"`
	EstimatedTokens   int64 `json:"estimatedTokens"`
	Truncated         bool  `json:"truncated"`
}

// Result is a completed analysis.
type Result struct {
	Response    string               `json:"response"`
	Method      classify.Method      `json:"method"`
	OutputStyle classify.OutputStyle `json:"outputStyle"`
	RoleContext classify.RoleContext `json:"roleContext"`
	Bandwidth   classify.Bandwidth   `json:"bandwidth"`
	SessionID   string               `json:"sessionId"`
	AnalysisID  string               `json:"analysisId"`
	ModelUsed   string               `json:"modelUsed"`
	Usage       Usage                `json:"usage"`
	ContextInfo ContextInfo          `json:"contextInfo"`
}

// ExchangeWriter persists completed exchanges.
type ExchangeWriter interface {
	AppendExchange(ctx context.Context, ex *models.Exchange) error
}

// Config holds the orchestrator's tunables.
type Config struct {
	CostLimitsEnabled   bool
	Pricing             budget.Pricing
	OutputTokenBudget   int64
	MaxContextExchanges int
	Synthesis           classify.SynthesisPolicy
}

// Orchestrator composes the analysis pipeline.
type Orchestrator struct {
	cfg      Config
	ledger   *budget.Ledger
	window   *session.Window
	store    ExchangeWriter
	model    llm.Model
	router   *router.Router
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier sets the failure notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithClock replaces the wall clock used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator replaces the session and analysis id generator.
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// New creates an Orchestrator.
func New(cfg Config, ledger *budget.Ledger, window *session.Window, store ExchangeWriter,
	model llm.Model, rt *router.Router, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OutputTokenBudget <= 0 {
		cfg.OutputTokenBudget = llm.DefaultOutputTokenBudget
	}
	if cfg.MaxContextExchanges <= 0 {
		cfg.MaxContextExchanges = session.DefaultMaxExchanges
	}
	o := &Orchestrator{
		cfg:      cfg,
		ledger:   ledger,
		window:   window,
		store:    store,
		model:    model,
		router:   rt,
		notifier: LogNotifier{Logger: logger},
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Analyze runs q through the pipeline. It returns ErrEmptyQuery,
// *CostLimitError or *ModelError on the corresponding terminal states, and
// the context error when ctx ends while history is loading.
func (o *Orchestrator) Analyze(ctx context.Context, q Query) (*Result, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		metrics.AnalysesTotal.WithLabelValues("", outcomeInvalid).Inc()
		return nil, ErrEmptyQuery
	}
	userID := q.UserID
	if userID == "" {
		userID = DefaultUserID
	}
	sessionID := q.SessionID
	newSession := sessionID == ""
	if newSession {
		sessionID = o.newID()
	}
	analysisID := o.newID()

	log := o.logger.With(
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("analysis_id", analysisID))

	cls := classify.Classify(text)
	method, explicit := o.resolveMethod(q.Method, cls.Method, log)
	style := cls.OutputStyle
	if q.OutputStyle != "" {
		if s, ok := classify.ParseOutputStyle(q.OutputStyle); ok {
			style = s
		} else {
			log.Warn("ignoring unknown output style override", zap.String("output_style", q.OutputStyle))
		}
	}
	role := cls.RoleContext
	if q.RoleContext != "" {
		if r, ok := classify.ParseRoleContext(q.RoleContext); ok {
			role = r
		} else {
			log.Warn("ignoring unknown role context override", zap.String("role_context", q.RoleContext))
		}
	}

	// History and the monthly spend are independent reads. Store failures
	// degrade inside each read; only cancellation stops the request.
	var (
		history session.Context
		monthly budget.MonthlyStatus
	)
	g, gctx := errgroup.WithContext(ctx)
	if !newSession {
		g.Go(func() error {
			history = o.window.Load(gctx, userID, sessionID, o.cfg.MaxContextExchanges)
			return ctx.Err()
		})
	}
	if o.cfg.CostLimitsEnabled {
		g.Go(func() error {
			monthly = o.ledger.Prefetch(gctx, userID)
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		metrics.AnalysesTotal.WithLabelValues(string(method), outcomeCanceled).Inc()
		log.Info("analysis canceled while loading context", zap.Error(err))
		return nil, err
	}

	if !explicit {
		method = o.cfg.Synthesis.Apply(method, history.ExchangeCount)
	}
	style = classify.EffectiveStyle(method, style)
	if history.Truncated() {
		metrics.ContextTruncations.Inc()
	}

	estimate := o.estimate(text, history)
	if o.cfg.CostLimitsEnabled {
		check := o.ledger.Evaluate(userID, estimate, monthly)
		if !check.Allowed {
			for _, v := range check.Violations {
				metrics.CostLimitRejections.WithLabelValues(string(v.Tier)).Inc()
			}
			metrics.AnalysesTotal.WithLabelValues(string(method), outcomeRejected).Inc()
			log.Info("analysis rejected by cost limits",
				zap.String("method", string(method)),
				zap.Float64("estimated_cost_usd", estimate.TotalCostUSD),
				zap.Strings("violations", check.Messages()))
			return nil, &CostLimitError{Check: check}
		}
	}

	route := o.router.Route(method, cls.Bandwidth)
	resp, err := o.model.Complete(ctx, &llm.Request{
		Model:     route.Model,
		System:    llm.SystemPrompt(method, style, role, cls.Bandwidth),
		History:   history.Turns,
		Query:     text,
		MaxTokens: llm.MaxTokensFor(cls.Bandwidth, o.cfg.OutputTokenBudget),
	})
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(string(method), outcomeFailed).Inc()
		modelErr := &ModelError{Err: err, TooLong: errors.Is(err, llm.ErrConversationTooLong)}
		o.notifyFailure(Failure{
			UserID:     userID,
			SessionID:  sessionID,
			AnalysisID: analysisID,
			Method:     string(method),
			Model:      route.Model,
			Err:        err,
		})
		return nil, modelErr
	}

	actual := o.cfg.Pricing.Price(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	metrics.LLMCostUSD.WithLabelValues(resp.Model).Add(actual.TotalCostUSD)
	rec := o.ledger.RecordCost(ctx, userID, actual.TotalCostUSD)
	if rec.SoftFailure {
		log.Warn("monthly cost was not recorded durably", zap.Error(rec.Err))
	}

	now := o.now().UTC()
	ex := &models.Exchange{
		UserID:       userID,
		SessionID:    sessionID,
		AnalysisID:   analysisID,
		UserQuery:    text,
		Response:     resp.Text,
		Method:       string(method),
		OutputStyle:  string(style),
		RoleContext:  string(role),
		Bandwidth:    string(cls.Bandwidth),
		Preview:      preview(resp.Text, previewLength),
		Perspectives: llm.Perspectives(cls.Bandwidth),
		CostUSD:      actual.TotalCostUSD,
		InputTokens:  actual.InputTokens,
		OutputTokens: actual.OutputTokens,
		UserEmail:    q.UserEmail,
		CreatedAt:    now,
		ExpiresAt:    now.Add(models.ExchangeTTL).Unix(),
	}
	if o.store == nil {
		metrics.StoreSoftFailures.WithLabelValues("exchange_append").Inc()
		log.Error("no exchange store configured, exchange not persisted")
	} else if err := o.store.AppendExchange(ctx, ex); err != nil {
		metrics.StoreSoftFailures.WithLabelValues("exchange_append").Inc()
		log.Error("failed to persist exchange", zap.Error(err))
	}

	metrics.AnalysesTotal.WithLabelValues(string(method), outcomeSuccess).Inc()
	log.Info("analysis completed",
		zap.String("method", string(method)),
		zap.String("model", resp.Model),
		zap.Int64("input_tokens", actual.InputTokens),
		zap.Int64("output_tokens", actual.OutputTokens),
		zap.Float64("cost_usd", actual.TotalCostUSD))

	return &Result{
		Response:    resp.Text,
		Method:      method,
		OutputStyle: style,
		RoleContext: role,
		Bandwidth:   cls.Bandwidth,
		SessionID:   sessionID,
		AnalysisID:  analysisID,
		ModelUsed:   resp.Model,
		Usage:       Usage{InputTokens: actual.InputTokens, OutputTokens: actual.OutputTokens},
		ContextInfo: ContextInfo{
			MessageCount:      history.MessageCount,
			TotalMessageCount: history.TotalMessageCount,
			EstimatedTokens:   history.EstimatedTokens(),
			Truncated:         history.Truncated(),
		},
	}, nil
}

// estimate prices a request for text sent with history before the model is
// called. Lengths are counted in characters.
func (o *Orchestrator) estimate(text string, history session.Context) budget.Cost {
	return o.cfg.Pricing.EstimateCost(utf8.RuneCountInString(text), history.SerializedLength, o.cfg.OutputTokenBudget)
}

// resolveMethod applies an explicit method override. Unknown overrides are
// ignored. explicit reports whether the override was used.
func (o *Orchestrator) resolveMethod(override string, detected classify.Method, log *zap.Logger) (classify.Method, bool) {
	if override == "" {
		return detected, false
	}
	m, ok := classify.ParseMethod(override)
	if !ok {
		log.Warn("ignoring unknown method override",
			zap.String("method", override),
			zap.String("detected", string(detected)))
		return detected, false
	}
	return m, true
}

func (o *Orchestrator) notifyFailure(f Failure) {
	if o.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := o.notifier.NotifyFailure(ctx, f); err != nil {
			o.logger.Warn("failure notification not delivered",
				zap.String("analysis_id", f.AnalysisID),
				zap.Error(err))
		}
	}()
}

// preview returns the first n runes of s, marking truncation.
func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
