package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/models"
)

func TestSeverityConstants(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityCritical, "critical"},
	}

	for _, tt := range tests {
		if string(tt.severity) != tt.expected {
			t.Errorf("expected severity %q, got %q", tt.expected, tt.severity)
		}
	}
}

func TestSpikeThreshold(t *testing.T) {
	if SpikeThreshold != 2.0 {
		t.Errorf("expected spike threshold 2.0, got %f", SpikeThreshold)
	}
}

func days(costs ...float64) []models.DailyCost {
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.DailyCost, len(costs))
	for i, c := range costs {
		out[i] = models.DailyCost{Day: base.AddDate(0, 0, i), CostUSD: c}
	}
	return out
}

func TestDetectSpikes(t *testing.T) {
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		daily    []models.DailyCost
		wantIDs  []string
		severity Severity
	}{
		{"flat", days(1, 1, 1, 1), nil, ""},
		{"exactly double is not a spike", days(1, 1, 2), nil, ""},
		{"warning spike", days(1, 1, 1, 3), []string{"spike-2026-10-04"}, SeverityWarning},
		{"critical spike", days(1, 1, 6), []string{"spike-2026-10-03"}, SeverityCritical},
		{"zero average ignored", days(0, 0, 5), nil, ""},
		{"single day", days(10), nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectSpikes(tt.daily, now)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d insights, want %d: %+v", len(got), len(tt.wantIDs), got)
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("insight %d id = %s, want %s", i, got[i].ID, id)
				}
				if got[i].Severity != tt.severity {
					t.Errorf("severity = %s, want %s", got[i].Severity, tt.severity)
				}
				if got[i].Type != InsightCostSpike {
					t.Errorf("type = %s", got[i].Type)
				}
			}
		})
	}
}

func TestDetectSpikes_TrailingWindow(t *testing.T) {
	// An expensive day eight days back falls outside the window.
	daily := days(100, 1, 1, 1, 1, 1, 1, 1, 3)
	got := DetectSpikes(daily, time.Now())
	if len(got) != 1 || got[0].ID != "spike-2026-10-09" {
		t.Errorf("unexpected insights: %+v", got)
	}
}

type stubSource struct {
	byMethod []models.MethodUsage
	daily    []models.DailyCost
	err      error
}

func (s stubSource) UsageByMethod(context.Context, time.Time, time.Time) ([]models.MethodUsage, error) {
	return s.byMethod, s.err
}

func (s stubSource) DailyCosts(context.Context, time.Time, time.Time) ([]models.DailyCost, error) {
	return s.daily, s.err
}

func TestReport(t *testing.T) {
	src := stubSource{
		byMethod: []models.MethodUsage{
			{Method: "SYNTHESIS_ALL", TotalRequests: 4, TotalCostUSD: 3.0, TotalTokens: 9000},
			{Method: "QUICK", TotalRequests: 10, TotalCostUSD: 1.0, TotalTokens: 4000},
		},
		daily: days(1, 1, 2),
	}
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 3)

	report, err := NewReporter(src).Report(context.Background(), from, to)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if report.TotalRequests != 14 || report.TotalTokens != 13000 || report.TotalCostUSD != 4.0 {
		t.Errorf("unexpected totals: %+v", report)
	}
	if len(report.Insights) != 1 || report.Insights[0].Type != InsightMethodConcentration {
		t.Errorf("expected one concentration insight, got %+v", report.Insights)
	}
}

func TestReport_Errors(t *testing.T) {
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	r := NewReporter(stubSource{err: errors.New("db down")})
	if _, err := r.Report(context.Background(), from, from.Add(time.Hour)); err == nil {
		t.Error("expected source error")
	}
	if _, err := r.Report(context.Background(), from, from.Add(-time.Hour)); err == nil {
		t.Error("expected range error")
	}
}

func TestReport_EmptyInsightsNotNil(t *testing.T) {
	from := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	report, err := NewReporter(stubSource{}).Report(context.Background(), from, from.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if report.Insights == nil {
		t.Error("expected empty, non-nil insights")
	}
}
