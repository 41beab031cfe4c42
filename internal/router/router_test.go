package router

import (
	"testing"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/classify"
)

const (
	analysisModel  = "claude-sonnet"
	synthesisModel = "claude-opus"
)

func TestRoute_SynthesisMethods(t *testing.T) {
	r := NewRouter(analysisModel, synthesisModel)
	for _, m := range []classify.Method{
		classify.MethodSimpleSynthesis,
		classify.MethodSynthesisAll,
		classify.MethodInnerPeaceSynthesis,
		classify.MethodFull,
	} {
		got := r.Route(m, classify.BandwidthLow)
		if got.Model != synthesisModel || got.Tier != TierSynthesis {
			t.Errorf("Route(%s, LOW) = %+v, want synthesis model", m, got)
		}
	}
}

func TestRoute_HighBandwidth(t *testing.T) {
	r := NewRouter(analysisModel, synthesisModel)
	got := r.Route(classify.MethodQuick, classify.BandwidthHigh)
	if got.Model != synthesisModel {
		t.Errorf("expected synthesis model for HIGH bandwidth, got %s", got.Model)
	}
	if got.Reason == "" {
		t.Error("expected a routing reason")
	}
}

func TestRoute_AnalysisModel(t *testing.T) {
	r := NewRouter(analysisModel, synthesisModel)
	tests := []struct {
		method    classify.Method
		bandwidth classify.Bandwidth
	}{
		{classify.MethodQuick, classify.BandwidthLow},
		{classify.MethodConflictResolution, classify.BandwidthMedium},
		{classify.MethodCoachingPlan, classify.BandwidthLow},
		{classify.MethodHumanHarmCheck, classify.BandwidthMedium},
	}
	for _, tt := range tests {
		got := r.Route(tt.method, tt.bandwidth)
		if got.Model != analysisModel || got.Tier != TierAnalysis {
			t.Errorf("Route(%s, %s) = %+v, want analysis model", tt.method, tt.bandwidth, got)
		}
	}
}

func TestNewRouter_SynthesisFallback(t *testing.T) {
	r := NewRouter(analysisModel, "")
	if got := r.Route(classify.MethodSynthesisAll, classify.BandwidthMedium); got.Model != analysisModel {
		t.Errorf("expected fallback to analysis model, got %s", got.Model)
	}
	if r.Models()[TierSynthesis] != analysisModel {
		t.Error("expected Models() to report the fallback")
	}
}

func TestAnalyzeComplexity(t *testing.T) {
	tests := []struct {
		method    classify.Method
		bandwidth classify.Bandwidth
		want      ComplexityLevel
	}{
		{classify.MethodQuick, classify.BandwidthMedium, ComplexityLow},
		{classify.MethodStakeholderAnalysis, classify.BandwidthLow, ComplexityLow},
		{classify.MethodStakeholderAnalysis, classify.BandwidthMedium, ComplexityMedium},
		{classify.MethodPatternRecognition, classify.BandwidthHigh, ComplexityHigh},
		{classify.MethodFull, classify.BandwidthLow, ComplexityHigh},
	}
	for _, tt := range tests {
		if got := analyzeComplexity(tt.method, tt.bandwidth); got != tt.want {
			t.Errorf("analyzeComplexity(%s, %s) = %d, want %d", tt.method, tt.bandwidth, got, tt.want)
		}
	}
}
