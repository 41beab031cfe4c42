// Package budget implements spend controls for analysis requests.
//
// The Ledger tracks spend on two horizons. Daily totals, per user and
// global, live in process memory and reset when the UTC date changes.
// Monthly totals per user live in a durable store and are only ever grown
// through the store's atomic add. Limits are evaluated in four independent
// tiers and every violated tier is reported.
package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/metrics"
)

// Tier names one of the four limit checks.
type Tier string

const (
	TierPerRequest  Tier = "per_request"
	TierUserDaily   Tier = "user_daily"
	TierTotalDaily  Tier = "total_daily"
	TierUserMonthly Tier = "user_monthly"
)

// MonthlyStore persists per-user monthly spend. AddMonthlyCost must be an
// atomic increment on the store side and return the new total.
type MonthlyStore interface {
	AddMonthlyCost(ctx context.Context, userID, monthKey string, amountUSD float64) (float64, error)
	MonthlyCost(ctx context.Context, userID, monthKey string) (float64, error)
}

// LimitStore resolves per-user monthly limit overrides. ok is false when the
// user has no override.
type LimitStore interface {
	MonthlyLimit(ctx context.Context, userID string) (limitUSD float64, ok bool, err error)
}

// Limits configures the four tiers. A limit <= 0 disables its tier.
type Limits struct {
	PerRequestMax       float64
	PerUserDailyMax     float64
	TotalDailyMax       float64
	DefaultMonthlyLimit float64
}

// Violation is one breached tier with a human-readable reason.
type Violation struct {
	Tier    Tier   `json:"tier"`
	Message string `json:"message"`
}

// LimitCheck is the outcome of evaluating an estimate against all tiers.
type LimitCheck struct {
	Allowed          bool        `json:"allowed"`
	Violations       []Violation `json:"violations"`
	MonthlyCost      float64     `json:"monthly_cost"`
	MonthlyLimit     float64     `json:"monthly_limit"`
	MonthlyRemaining float64     `json:"monthly_remaining"`
}

// MonthlyExceeded reports whether the monthly tier is among the violations.
func (c LimitCheck) MonthlyExceeded() bool {
	for _, v := range c.Violations {
		if v.Tier == TierUserMonthly {
			return true
		}
	}
	return false
}

// Messages returns the violation reasons in evaluation order.
func (c LimitCheck) Messages() []string {
	out := make([]string, 0, len(c.Violations))
	for _, v := range c.Violations {
		out = append(out, v.Message)
	}
	return out
}

// MonthlyStatus is a snapshot of a user's monthly spend and limit.
type MonthlyStatus struct {
	MonthKey string
	Cost     float64
	Limit    float64
	// Err is set when the monthly spend could not be read. Limit lookup
	// failures never set it; they fall back to the default limit.
	Err error
}

// RecordResult reports what RecordCost did. A failed durable increment is a
// soft failure: daily accounting still happened and the caller carries on.
type RecordResult struct {
	UserDailyCost  float64
	TotalDailyCost float64
	MonthlyCost    float64
	SoftFailure    bool
	Err            error
}

// Usage summarises spend for one user.
type Usage struct {
	UserID         string  `json:"user_id"`
	Day            string  `json:"day"`
	MonthKey       string  `json:"month"`
	UserDailyCost  float64 `json:"user_daily_cost_usd"`
	TotalDailyCost float64 `json:"total_daily_cost_usd"`
	MonthlyCost    float64 `json:"monthly_cost_usd"`
	MonthlyLimit   float64 `json:"monthly_limit_usd"`
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock replaces the wall clock, for date-boundary tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger owns all daily and monthly spend aggregates.
type Ledger struct {
	limits    Limits
	failOpen  bool
	monthly   MonthlyStore
	overrides LimitStore
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	lastReset  string // UTC day of the current daily aggregates
	userDaily  map[string]float64
	totalDaily float64
}

// NewLedger creates a Ledger. monthly and overrides may be nil: a nil
// monthly store behaves like an unreachable one, a nil override store means
// every user gets the default monthly limit. failOpen decides whether an
// unreadable monthly total lets requests through.
func NewLedger(limits Limits, monthly MonthlyStore, overrides LimitStore, failOpen bool, logger *zap.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Ledger{
		limits:    limits,
		failOpen:  failOpen,
		monthly:   monthly,
		overrides: overrides,
		logger:    logger,
		now:       time.Now,
		userDaily: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DayKey returns the UTC calendar day used for daily aggregates.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey returns the UTC calendar month used for monthly aggregates.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// rolloverLocked clears the daily aggregates if the day changed.
// l.mu must be held.
func (l *Ledger) rolloverLocked(today string) {
	if l.lastReset == today {
		return
	}
	if l.lastReset != "" {
		l.logger.Info("resetting daily cost aggregates",
			zap.String("previous_day", l.lastReset),
			zap.String("day", today),
			zap.Float64("previous_total_usd", l.totalDaily))
	}
	l.userDaily = make(map[string]float64)
	l.totalDaily = 0
	l.lastReset = today
}

func (l *Ledger) dailySnapshot(userID string) (user, total float64) {
	today := DayKey(l.now())
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked(today)
	return l.userDaily[userID], l.totalDaily
}

// Prefetch reads the user's monthly spend and resolves their monthly limit.
// It performs I/O only and can run alongside other reads.
func (l *Ledger) Prefetch(ctx context.Context, userID string) MonthlyStatus {
	status := MonthlyStatus{
		MonthKey: MonthKey(l.now()),
		Limit:    l.resolveMonthlyLimit(ctx, userID),
	}
	if l.monthly == nil {
		status.Err = fmt.Errorf("monthly store not configured")
		return status
	}
	cost, err := l.monthly.MonthlyCost(ctx, userID, status.MonthKey)
	if err != nil {
		status.Err = err
		l.logger.Warn("failed to read monthly cost",
			zap.String("user_id", userID),
			zap.String("month", status.MonthKey),
			zap.Error(err))
		return status
	}
	status.Cost = cost
	return status
}

// resolveMonthlyLimit returns the user's override, or the default when there
// is none or the lookup fails.
func (l *Ledger) resolveMonthlyLimit(ctx context.Context, userID string) float64 {
	if l.overrides == nil {
		return l.limits.DefaultMonthlyLimit
	}
	limit, ok, err := l.overrides.MonthlyLimit(ctx, userID)
	if err != nil || !ok {
		return l.limits.DefaultMonthlyLimit
	}
	return limit
}

// Evaluate checks estimate against all four tiers using a prefetched monthly
// status. Every tier is evaluated; the result lists all violations.
func (l *Ledger) Evaluate(userID string, estimate Cost, status MonthlyStatus) LimitCheck {
	userDaily, totalDaily := l.dailySnapshot(userID)
	total := estimate.TotalCostUSD

	var violations []Violation
	if limit := l.limits.PerRequestMax; limit > 0 && total > limit {
		violations = append(violations, Violation{
			Tier:    TierPerRequest,
			Message: fmt.Sprintf("Request exceeds the per-request limit of $%.2f", limit),
		})
	}
	if limit := l.limits.PerUserDailyMax; limit > 0 && userDaily+total > limit {
		violations = append(violations, Violation{
			Tier:    TierUserDaily,
			Message: fmt.Sprintf("Daily limit of $%.2f would be exceeded", limit),
		})
	}
	if limit := l.limits.TotalDailyMax; limit > 0 && totalDaily+total > limit {
		violations = append(violations, Violation{
			Tier:    TierTotalDaily,
			Message: fmt.Sprintf("Service-wide daily limit of $%.2f would be exceeded", limit),
		})
	}

	switch {
	case status.Err != nil && !l.failOpen:
		violations = append(violations, Violation{
			Tier:    TierUserMonthly,
			Message: "Monthly usage could not be verified",
		})
	case status.Limit > 0 && status.Cost+total > status.Limit:
		violations = append(violations, Violation{
			Tier:    TierUserMonthly,
			Message: fmt.Sprintf("Monthly limit of $%.2f would be exceeded", status.Limit),
		})
	}

	if len(violations) > 0 {
		// Spend figures stay in logs; violation messages reach the caller.
		l.logger.Debug("cost limits exceeded",
			zap.String("user_id", userID),
			zap.Float64("estimated_cost_usd", total),
			zap.Float64("user_daily_cost_usd", userDaily),
			zap.Float64("total_daily_cost_usd", totalDaily),
			zap.Float64("monthly_cost_usd", status.Cost),
			zap.Float64("monthly_limit_usd", status.Limit))
	}

	remaining := status.Limit - status.Cost
	if remaining < 0 {
		remaining = 0
	}
	return LimitCheck{
		Allowed:          len(violations) == 0,
		Violations:       violations,
		MonthlyCost:      status.Cost,
		MonthlyLimit:     status.Limit,
		MonthlyRemaining: remaining,
	}
}

// CheckLimits prefetches the monthly status and evaluates estimate against
// all four tiers.
func (l *Ledger) CheckLimits(ctx context.Context, userID string, estimate Cost) LimitCheck {
	return l.Evaluate(userID, estimate, l.Prefetch(ctx, userID))
}

// RecordCost commits an actual cost. Daily aggregates are always updated;
// the durable monthly increment is best effort. Negative costs are ignored so
// monthly totals never decrease.
func (l *Ledger) RecordCost(ctx context.Context, userID string, costUSD float64) RecordResult {
	if costUSD < 0 {
		costUSD = 0
	}
	now := l.now()

	l.mu.Lock()
	l.rolloverLocked(DayKey(now))
	l.userDaily[userID] += costUSD
	l.totalDaily += costUSD
	res := RecordResult{
		UserDailyCost:  l.userDaily[userID],
		TotalDailyCost: l.totalDaily,
	}
	l.mu.Unlock()
	metrics.DailySpendUSD.Set(res.TotalDailyCost)

	if costUSD == 0 {
		return res
	}
	if l.monthly == nil {
		res.SoftFailure = true
		res.Err = fmt.Errorf("monthly store not configured")
		return res
	}

	month := MonthKey(now)
	newTotal, err := l.monthly.AddMonthlyCost(ctx, userID, month, costUSD)
	if err != nil {
		metrics.StoreSoftFailures.WithLabelValues("monthly_increment").Inc()
		l.logger.Error("failed to record monthly cost",
			zap.String("user_id", userID),
			zap.String("month", month),
			zap.Float64("cost_usd", costUSD),
			zap.Error(err))
		res.SoftFailure = true
		res.Err = err
		return res
	}
	res.MonthlyCost = newTotal
	return res
}

// Usage reports the current daily and monthly spend for userID.
func (l *Ledger) Usage(ctx context.Context, userID string) Usage {
	now := l.now()
	userDaily, totalDaily := l.dailySnapshot(userID)
	status := l.Prefetch(ctx, userID)
	return Usage{
		UserID:         userID,
		Day:            DayKey(now),
		MonthKey:       status.MonthKey,
		UserDailyCost:  userDaily,
		TotalDailyCost: totalDaily,
		MonthlyCost:    status.Cost,
		MonthlyLimit:   status.Limit,
	}
}
