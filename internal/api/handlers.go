// Package api implements the REST endpoints for Sage.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/analysis"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/session"
	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

const (
	defaultHistoryLimit = 100
	defaultSessionLimit = 50
	maxListLimit        = 500
	defaultReportWindow = 30 * 24 * time.Hour
)

// Analyzer runs analyses.
type Analyzer interface {
	Analyze(ctx context.Context, q analysis.Query) (*analysis.Result, error)
}

// Sessions exposes a user's conversation history.
type Sessions interface {
	History(ctx context.Context, userID, sessionID string, limit int) ([]models.Exchange, error)
	List(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error)
	Delete(ctx context.Context, userID, sessionID string) error
}

// UsageReader reports a user's spend.
type UsageReader interface {
	Usage(ctx context.Context, userID string) budget.Usage
}

// LimitWriter stores per-user monthly limit overrides.
type LimitWriter interface {
	UpsertUserLimit(ctx context.Context, l *models.UserLimit) error
}

// ReportGenerator builds usage reports.
type ReportGenerator interface {
	Report(ctx context.Context, from, to time.Time) (*analytics.Report, error)
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the handlers to the rest of the service. Nil admin
// dependencies make their endpoints answer 503.
type Deps struct {
	Analyzer Analyzer
	Sessions Sessions
	Usage    UsageReader
	Limits   LimitWriter
	Reports  ReportGenerator
	Checks   map[string]Pinger
	Logger   *zap.Logger
}

// Handlers provides REST API endpoint handlers.
type Handlers struct {
	analyzer Analyzer
	sessions Sessions
	usage    UsageReader
	limits   LimitWriter
	reports  ReportGenerator
	checks   map[string]Pinger
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		analyzer: d.Analyzer,
		sessions: d.Sessions,
		usage:    d.Usage,
		limits:   d.Limits,
		reports:  d.Reports,
		checks:   d.Checks,
		logger:   logger,
		now:      time.Now,
	}
}

// HealthCheck returns the service health status.
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	components := make(map[string]string, len(h.checks))
	for name, p := range h.checks {
		if p == nil {
			components[name] = "disabled"
			continue
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("component", name), zap.Error(err))
			components[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		components[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "sage",
		"components": components,
	})
}

type analyzeRequest struct {
	UserQuery   string `json:"userQuery"`
	Method      string `json:"method"`
	OutputStyle string `json:"outputStyle"`
	RoleContext string `json:"roleContext"`
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
}

type analyzeResponse struct {
	Success bool `json:"success"`
	*analysis.Result
}

// Analyze handles POST /api/analyze.
func (h *Handlers) Analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	result, err := h.analyzer.Analyze(c.Request.Context(), analysis.Query{
		Text:        req.UserQuery,
		Method:      req.Method,
		OutputStyle: req.OutputStyle,
		RoleContext: req.RoleContext,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		UserEmail:   emailFromBearer(c.GetHeader("Authorization")),
	})
	if err != nil {
		h.writeAnalyzeError(c, err)
		return
	}
	c.JSON(http.StatusOK, analyzeResponse{Success: true, Result: result})
}

func (h *Handlers) writeAnalyzeError(c *gin.Context, err error) {
	var costErr *analysis.CostLimitError
	var modelErr *analysis.ModelError

	switch {
	case errors.Is(err, analysis.ErrEmptyQuery):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})

	case errors.As(err, &costErr):
		body := gin.H{
			"success":           false,
			"error":             costErr.UserMessage(),
			"costLimitExceeded": true,
			"violations":        costErr.Check.Messages(),
		}
		if costErr.MonthlyExceeded() {
			body["monthlyLimitExceeded"] = true
			body["monthlyCost"] = costErr.Check.MonthlyCost
			body["monthlyLimit"] = costErr.Check.MonthlyLimit
			body["monthlyRemaining"] = costErr.Check.MonthlyRemaining
		}
		c.JSON(http.StatusTooManyRequests, body)

	case errors.As(err, &modelErr):
		_ = c.Error(err)
		body := gin.H{"success": false, "error": modelErr.UserMessage()}
		if modelErr.TooLong {
			body["conversationTooLong"] = true
		}
		c.JSON(http.StatusInternalServerError, body)

	default:
		_ = c.Error(err)
		h.logger.Error("analysis failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "An unexpected error occurred."})
	}
}

// emailFromBearer reads the email claim of a bearer JWT without verifying
// its signature. Any failure yields an empty string.
func emailFromBearer(header string) string {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	email, _ := claims["email"].(string)
	return email
}

func userIDParam(c *gin.Context) string {
	if u := strings.TrimSpace(c.Query("userId")); u != "" {
		return u
	}
	return analysis.DefaultUserID
}

func limitParam(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "limit must be a positive integer"})
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}

// ListSessions handles GET /api/sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	limit, ok := limitParam(c, defaultSessionLimit)
	if !ok {
		return
	}
	userID := userIDParam(c)
	sessions, err := h.sessions.List(c.Request.Context(), userID, limit)
	if err != nil {
		h.internalError(c, "listing sessions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "userId": userID, "count": len(sessions), "sessions": sessions})
}

// GetSession handles GET /api/sessions/:sessionId.
func (h *Handlers) GetSession(c *gin.Context) {
	limit, ok := limitParam(c, defaultHistoryLimit)
	if !ok {
		return
	}
	sessionID := c.Param("sessionId")
	exchanges, err := h.sessions.History(c.Request.Context(), userIDParam(c), sessionID, limit)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
		return
	}
	if err != nil {
		h.internalError(c, "loading session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": sessionID, "exchanges": exchanges})
}

// DeleteSession handles DELETE /api/sessions/:sessionId.
func (h *Handlers) DeleteSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	err := h.sessions.Delete(c.Request.Context(), userIDParam(c), sessionID)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "session not found"})
		return
	}
	if err != nil {
		h.internalError(c, "deleting session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessionId": sessionID})
}

// GetUsage handles GET /api/v1/usage/:userId.
func (h *Handlers) GetUsage(c *gin.Context) {
	if h.usage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "usage unavailable"})
		return
	}
	c.JSON(http.StatusOK, h.usage.Usage(c.Request.Context(), c.Param("userId")))
}

type setLimitRequest struct {
	MonthlyLimitUSD *float64 `json:"monthlyLimitUsd"`
}

// SetLimit handles PUT /api/v1/limits/:userId.
func (h *Handlers) SetLimit(c *gin.Context) {
	if h.limits == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "limits unavailable"})
		return
	}
	var req setLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MonthlyLimitUSD == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "monthlyLimitUsd is required"})
		return
	}
	if *req.MonthlyLimitUSD < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "monthlyLimitUsd must not be negative"})
		return
	}

	limit := &models.UserLimit{
		UserID:          c.Param("userId"),
		MonthlyLimitUSD: *req.MonthlyLimitUSD,
		UpdatedAt:       h.now().UTC(),
	}
	if err := h.limits.UpsertUserLimit(c.Request.Context(), limit); err != nil {
		h.internalError(c, "saving user limit", err)
		return
	}
	c.JSON(http.StatusOK, limit)
}

// GetReport handles GET /api/v1/report. Query params: from, to (RFC3339).
func (h *Handlers) GetReport(c *gin.Context) {
	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "analytics unavailable"})
		return
	}

	now := h.now()
	from, err := timeParam(c, "from", now.Add(-defaultReportWindow))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid 'from' date format, use RFC3339"})
		return
	}
	to, err := timeParam(c, "to", now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid 'to' date format, use RFC3339"})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "'to' must not be before 'from'"})
		return
	}

	report, err := h.reports.Report(c.Request.Context(), from, to)
	if err != nil {
		h.internalError(c, "generating report", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func timeParam(c *gin.Context, key string, fallback time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (h *Handlers) internalError(c *gin.Context, op string, err error) {
	_ = c.Error(err)
	h.logger.Error(op+" failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "An unexpected error occurred."})
}
