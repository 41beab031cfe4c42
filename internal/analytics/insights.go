// Package analytics summarises analysis usage for operators.
//
// Reports aggregate persisted exchanges by method and by day, and flag days
// whose spend spikes well above the trailing average.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

const (
	// SpikeThreshold is the multiple of the trailing average that marks a spike.
	SpikeThreshold = 2.0
	// SpikeWindowDays is how many preceding days form the trailing average.
	SpikeWindowDays = 7
)

// InsightType categorizes the kind of insight generated.
type InsightType string

const (
	InsightCostSpike           InsightType = "cost_spike"
	InsightMethodConcentration InsightType = "method_concentration"
)

// Severity indicates the urgency of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Insight is an operator-facing observation about usage.
type Insight struct {
	ID             string      `json:"id"`
	Type           InsightType `json:"type"`
	Severity       Severity    `json:"severity"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	AffectedEntity string      `json:"affected_entity"`
	CreatedAt      time.Time   `json:"created_at"`
}

// UsageSource provides the aggregates a report is built from.
type UsageSource interface {
	UsageByMethod(ctx context.Context, from, to time.Time) ([]models.MethodUsage, error)
	DailyCosts(ctx context.Context, from, to time.Time) ([]models.DailyCost, error)
}

// Report is a summary of usage and costs over a time period.
type Report struct {
	From          time.Time            `json:"from"`
	To            time.Time            `json:"to"`
	TotalCostUSD  float64              `json:"total_cost_usd"`
	TotalRequests int64                `json:"total_requests"`
	TotalTokens   int64                `json:"total_tokens"`
	ByMethod      []models.MethodUsage `json:"by_method"`
	Daily         []models.DailyCost   `json:"daily"`
	Insights      []Insight            `json:"insights"`
}

// Reporter builds usage reports.
type Reporter struct {
	source UsageSource
	now    func() time.Time
}

// NewReporter creates a Reporter over source.
func NewReporter(source UsageSource) *Reporter {
	return &Reporter{source: source, now: time.Now}
}

// Report summarises usage in [from, to].
func (r *Reporter) Report(ctx context.Context, from, to time.Time) (*Report, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid report range: %s is before %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	byMethod, err := r.source.UsageByMethod(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}
	daily, err := r.source.DailyCosts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("generating report: %w", err)
	}

	report := &Report{
		From:     from,
		To:       to,
		ByMethod: byMethod,
		Daily:    daily,
	}
	for _, mu := range byMethod {
		report.TotalCostUSD += mu.TotalCostUSD
		report.TotalRequests += mu.TotalRequests
		report.TotalTokens += mu.TotalTokens
	}
	report.TotalCostUSD = math.Round(report.TotalCostUSD*1e6) / 1e6

	now := r.now()
	report.Insights = append(DetectSpikes(daily, now), detectConcentration(byMethod, report.TotalCostUSD, now)...)
	if report.Insights == nil {
		report.Insights = []Insight{}
	}
	return report, nil
}

// DetectSpikes flags days whose cost exceeds SpikeThreshold times the average
// of up to SpikeWindowDays preceding days. daily must be ordered oldest first.
// Days without a positive trailing average are never flagged.
func DetectSpikes(daily []models.DailyCost, now time.Time) []Insight {
	var insights []Insight
	for i := 1; i < len(daily); i++ {
		start := i - SpikeWindowDays
		if start < 0 {
			start = 0
		}
		var sum float64
		for _, d := range daily[start:i] {
			sum += d.CostUSD
		}
		avg := sum / float64(i-start)
		if avg <= 0 || daily[i].CostUSD <= avg*SpikeThreshold {
			continue
		}

		day := daily[i].Day
		multiple := daily[i].CostUSD / avg
		severity := SeverityWarning
		if multiple > 5 {
			severity = SeverityCritical
		}
		insights = append(insights, Insight{
			ID:       fmt.Sprintf("spike-%s", day.Format("2006-01-02")),
			Type:     InsightCostSpike,
			Severity: severity,
			Title:    fmt.Sprintf("Cost spike on %s", day.Format("Jan 2")),
			Description: fmt.Sprintf(
				"On %s, analyses cost $%.4f, which is %.1fx the trailing average of $%.4f.",
				day.Format("Jan 2"), daily[i].CostUSD, multiple, avg,
			),
			AffectedEntity: day.Format("2006-01-02"),
			CreatedAt:      now,
		})
	}
	return insights
}

// concentrationShare is the share of spend above which one method is flagged.
const concentrationShare = 0.5

// detectConcentration flags a method that accounts for most of the spend.
func detectConcentration(byMethod []models.MethodUsage, total float64, now time.Time) []Insight {
	if total <= 0 || len(byMethod) < 2 {
		return nil
	}
	var insights []Insight
	for _, mu := range byMethod {
		share := mu.TotalCostUSD / total
		if share <= concentrationShare {
			continue
		}
		insights = append(insights, Insight{
			ID:       "concentration-" + mu.Method,
			Type:     InsightMethodConcentration,
			Severity: SeverityInfo,
			Title:    fmt.Sprintf("%s dominates spend", mu.Method),
			Description: fmt.Sprintf(
				"%s accounts for %.0f%% of spend ($%.2f over %d analyses).",
				mu.Method, share*100, mu.TotalCostUSD, mu.TotalRequests,
			),
			AffectedEntity: mu.Method,
			CreatedAt:      now,
		})
	}
	return insights
}
