// Package models defines the core data structures used across Sage.
package models

import "time"

// ExchangeTTL is how long a persisted exchange is retained.
const ExchangeTTL = 30 * 24 * time.Hour

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message in a session's conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Exchange is one persisted (user query, assistant response) pair.
// The composite key is (UserID, SessionID, AnalysisID).
type Exchange struct {
	UserID       string    `json:"user_id" db:"user_id"`
	SessionID    string    `json:"session_id" db:"session_id"`
	AnalysisID   string    `json:"analysis_id" db:"analysis_id"`
	UserQuery    string    `json:"user_query" db:"user_query"`
	Response     string    `json:"response" db:"response"`
	Method       string    `json:"method" db:"method"`
	OutputStyle  string    `json:"output_style" db:"output_style"`
	RoleContext  string    `json:"role_context" db:"role_context"`
	Bandwidth    string    `json:"bandwidth" db:"bandwidth"`
	Preview      string    `json:"preview" db:"preview"`
	Perspectives string    `json:"perspectives" db:"perspectives"`
	CostUSD      float64   `json:"cost_usd" db:"cost_usd"`
	InputTokens  int64     `json:"input_tokens" db:"input_tokens"`
	OutputTokens int64     `json:"output_tokens" db:"output_tokens"`
	UserEmail    string    `json:"user_email,omitempty" db:"user_email"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ExpiresAt    int64     `json:"expires_at" db:"expires_at"` // Unix seconds
}

// SessionSummary describes one session in a user's history listing.
type SessionSummary struct {
	SessionID     string    `json:"session_id"`
	ExchangeCount int64     `json:"exchange_count"`
	LastPreview   string    `json:"last_preview"`
	LastMethod    string    `json:"last_method"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserLimit is a per-user override of the default monthly spend limit.
type UserLimit struct {
	UserID          string    `json:"user_id" db:"user_id"`
	MonthlyLimitUSD float64   `json:"monthly_limit_usd" db:"monthly_limit_usd"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// MethodUsage aggregates exchange volume and spend for one analysis method.
type MethodUsage struct {
	Method        string  `json:"method"`
	TotalRequests int64   `json:"total_requests"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	TotalTokens   int64   `json:"total_tokens"`
}

// DailyCost is the total spend recorded on one calendar day.
type DailyCost struct {
	Day     time.Time `json:"day"`
	CostUSD float64   `json:"cost_usd"`
}
