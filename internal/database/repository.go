package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

// AppendExchange stores one exchange. Exchanges are append-only; a second
// write with the same composite key is an error.
func (db *DB) AppendExchange(ctx context.Context, ex *models.Exchange) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO exchanges (
			user_id, session_id, analysis_id, user_query, response,
			method, output_style, role_context, bandwidth, preview,
			perspectives, cost_usd, input_tokens, output_tokens,
			user_email, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NULLIF($15, ''),$16,$17)
	`, ex.UserID, ex.SessionID, ex.AnalysisID, ex.UserQuery, ex.Response,
		ex.Method, ex.OutputStyle, ex.RoleContext, ex.Bandwidth, ex.Preview,
		ex.Perspectives, ex.CostUSD, ex.InputTokens, ex.OutputTokens,
		ex.UserEmail, ex.CreatedAt, ex.ExpiresAt)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}
	return nil
}

// ListExchanges returns a session's exchanges, most recent first. A limit
// <= 0 returns all of them.
func (db *DB) ListExchanges(ctx context.Context, userID, sessionID string, limit int) ([]models.Exchange, error) {
	query := `
		SELECT user_id, session_id, analysis_id, user_query, response,
		       method, output_style, role_context, bandwidth, preview,
		       perspectives, cost_usd, input_tokens, output_tokens,
		       COALESCE(user_email, ''), created_at, expires_at
		FROM exchanges
		WHERE user_id = $1 AND session_id = $2
		ORDER BY created_at DESC, analysis_id DESC`
	args := []interface{}{userID, sessionID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying exchanges: %w", err)
	}
	defer rows.Close()

	var results []models.Exchange
	for rows.Next() {
		var ex models.Exchange
		if err := rows.Scan(
			&ex.UserID, &ex.SessionID, &ex.AnalysisID, &ex.UserQuery, &ex.Response,
			&ex.Method, &ex.OutputStyle, &ex.RoleContext, &ex.Bandwidth, &ex.Preview,
			&ex.Perspectives, &ex.CostUSD, &ex.InputTokens, &ex.OutputTokens,
			&ex.UserEmail, &ex.CreatedAt, &ex.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scanning exchange: %w", err)
		}
		results = append(results, ex)
	}
	return results, rows.Err()
}

// DeleteSession removes every exchange in a session and returns how many
// were deleted.
func (db *DB) DeleteSession(ctx context.Context, userID, sessionID string) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM exchanges WHERE user_id = $1 AND session_id = $2`, userID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("deleting session: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSessions returns a summary per session for userID, most recently
// updated first.
func (db *DB) ListSessions(ctx context.Context, userID string, limit int) ([]models.SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT session_id, preview, method, created_at, exchange_count
		FROM (
			SELECT DISTINCT ON (session_id)
			       session_id, preview, method, created_at,
			       COUNT(*) OVER (PARTITION BY session_id) AS exchange_count
			FROM exchanges
			WHERE user_id = $1
			ORDER BY session_id, created_at DESC
		) latest
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var results []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		if err := rows.Scan(&s.SessionID, &s.LastPreview, &s.LastMethod, &s.UpdatedAt, &s.ExchangeCount); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// PurgeExpired deletes exchanges whose expiry is at or before now.
func (db *DB) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM exchanges WHERE expires_at <= $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("purging expired exchanges: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MonthlyLimit returns the user's monthly limit override. ok is false when
// the user has none.
func (db *DB) MonthlyLimit(ctx context.Context, userID string) (float64, bool, error) {
	var limit float64
	err := db.Pool.QueryRow(ctx, `SELECT monthly_limit_usd FROM user_limits WHERE user_id = $1`, userID).Scan(&limit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying user limit: %w", err)
	}
	return limit, true, nil
}

// UpsertUserLimit creates or replaces a user's monthly limit override.
func (db *DB) UpsertUserLimit(ctx context.Context, l *models.UserLimit) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO user_limits (user_id, monthly_limit_usd)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET monthly_limit_usd = EXCLUDED.monthly_limit_usd,
		    updated_at = NOW()
	`, l.UserID, l.MonthlyLimitUSD)
	if err != nil {
		return fmt.Errorf("upserting user limit: %w", err)
	}
	return nil
}

// AddMonthlyCost atomically increments the user's spend for monthKey in a
// single statement and returns the new total.
func (db *DB) AddMonthlyCost(ctx context.Context, userID, monthKey string, amount float64) (float64, error) {
	var total float64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO monthly_costs (user_id, month_key, cost_usd)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, month_key) DO UPDATE
		SET cost_usd = monthly_costs.cost_usd + EXCLUDED.cost_usd,
		    updated_at = NOW()
		RETURNING cost_usd
	`, userID, monthKey, amount).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("incrementing monthly cost: %w", err)
	}
	return total, nil
}

// MonthlyCost returns the recorded spend for userID in monthKey, or 0.
func (db *DB) MonthlyCost(ctx context.Context, userID, monthKey string) (float64, error) {
	var total float64
	err := db.Pool.QueryRow(ctx, `
		SELECT cost_usd FROM monthly_costs WHERE user_id = $1 AND month_key = $2
	`, userID, monthKey).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying monthly cost: %w", err)
	}
	return total, nil
}

// UsageByMethod aggregates exchanges in [from, to] by analysis method.
func (db *DB) UsageByMethod(ctx context.Context, from, to time.Time) ([]models.MethodUsage, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT method,
		       COUNT(*) AS total_requests,
		       COALESCE(SUM(cost_usd), 0) AS total_cost_usd,
		       COALESCE(SUM(input_tokens + output_tokens), 0) AS total_tokens
		FROM exchanges
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY method
		ORDER BY total_cost_usd DESC
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying usage by method: %w", err)
	}
	defer rows.Close()

	var results []models.MethodUsage
	for rows.Next() {
		var mu models.MethodUsage
		if err := rows.Scan(&mu.Method, &mu.TotalRequests, &mu.TotalCostUSD, &mu.TotalTokens); err != nil {
			return nil, fmt.Errorf("scanning usage by method: %w", err)
		}
		results = append(results, mu)
	}
	return results, rows.Err()
}

// DailyCosts returns total spend per UTC day in [from, to], oldest first.
func (db *DB) DailyCosts(ctx context.Context, from, to time.Time) ([]models.DailyCost, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT DATE_TRUNC('day', created_at AT TIME ZONE 'UTC') AS day,
		       COALESCE(SUM(cost_usd), 0)
		FROM exchanges
		WHERE created_at >= $1 AND created_at <= $2
		GROUP BY day
		ORDER BY day
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying daily costs: %w", err)
	}
	defer rows.Close()

	var results []models.DailyCost
	for rows.Next() {
		var dc models.DailyCost
		if err := rows.Scan(&dc.Day, &dc.CostUSD); err != nil {
			return nil, fmt.Errorf("scanning daily cost: %w", err)
		}
		results = append(results, dc)
	}
	return results, rows.Err()
}
