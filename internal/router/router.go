// Package router picks the downstream model for an analysis.
//
// Routing is driven by the classification rather than by raw text: synthesis
// work and high-bandwidth queries need the stronger synthesis model, every
// other analysis runs on the cheaper analysis model.
package router

import (
	"fmt"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/classify"
)

// ModelTier is the capability tier of a configured model.
type ModelTier string

const (
	TierAnalysis  ModelTier = "analysis"
	TierSynthesis ModelTier = "synthesis"
)

// ComplexityLevel is the assessed difficulty of an analysis.
type ComplexityLevel int

const (
	ComplexityLow    ComplexityLevel = 1
	ComplexityMedium ComplexityLevel = 2
	ComplexityHigh   ComplexityLevel = 3
)

// Route is a routing decision.
type Route struct {
	Model  string    `json:"model"`
	Tier   ModelTier `json:"tier"`
	Reason string    `json:"reason"`
}

// Router maps classifications onto configured models.
type Router struct {
	models map[ModelTier]string
}

// NewRouter creates a Router. An empty synthesisModel falls back to the
// analysis model.
func NewRouter(analysisModel, synthesisModel string) *Router {
	if synthesisModel == "" {
		synthesisModel = analysisModel
	}
	return &Router{models: map[ModelTier]string{
		TierAnalysis:  analysisModel,
		TierSynthesis: synthesisModel,
	}}
}

// Route chooses the model for method at bandwidth.
func (r *Router) Route(method classify.Method, bandwidth classify.Bandwidth) Route {
	complexity := analyzeComplexity(method, bandwidth)
	tier := complexityToTier(complexity)

	var reason string
	switch {
	case needsSynthesis(method):
		reason = fmt.Sprintf("%s requires the synthesis model", method)
	case bandwidth == classify.BandwidthHigh:
		reason = "high bandwidth requires the synthesis model"
	default:
		reason = fmt.Sprintf("%s at %s bandwidth runs on the analysis model", method, bandwidth)
	}

	return Route{Model: r.models[tier], Tier: tier, Reason: reason}
}

// Models returns the configured model per tier.
func (r *Router) Models() map[ModelTier]string {
	out := make(map[ModelTier]string, len(r.models))
	for k, v := range r.models {
		out[k] = v
	}
	return out
}

func needsSynthesis(m classify.Method) bool {
	return classify.IsSynthesis(m) || m == classify.MethodFull
}

// analyzeComplexity scores an analysis from its method and bandwidth.
func analyzeComplexity(m classify.Method, b classify.Bandwidth) ComplexityLevel {
	if needsSynthesis(m) || b == classify.BandwidthHigh {
		return ComplexityHigh
	}
	if b == classify.BandwidthLow || m == classify.MethodQuick {
		return ComplexityLow
	}
	return ComplexityMedium
}

// complexityToTier maps complexity to the tier that serves it.
func complexityToTier(c ComplexityLevel) ModelTier {
	if c == ComplexityHigh {
		return TierSynthesis
	}
	return TierAnalysis
}
