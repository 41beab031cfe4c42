package budget

// charsPerToken approximates English text at roughly four characters per token.
const charsPerToken = 4

// Pricing holds the per-million-token rates applied to both estimates and
// actual usage.
type Pricing struct {
	InputPerMToken  float64 // USD per 1M input tokens
	OutputPerMToken float64 // USD per 1M output tokens
}

// Cost is the token usage and USD cost of one analysis, either estimated
// before the model call or computed from the tokens the model reported.
type Cost struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	InputCostUSD  float64 `json:"input_cost_usd"`
	OutputCostUSD float64 `json:"output_cost_usd"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
}

// EstimateTokens converts a character count into an approximate token count,
// rounding up so any non-empty text costs at least one token.
func EstimateTokens(chars int) int64 {
	if chars <= 0 {
		return 0
	}
	return int64((chars + charsPerToken - 1) / charsPerToken)
}

// Price converts token counts into a Cost.
func (p Pricing) Price(inputTokens, outputTokens int64) Cost {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	in := float64(inputTokens) * p.InputPerMToken / 1_000_000
	out := float64(outputTokens) * p.OutputPerMToken / 1_000_000
	return Cost{
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		InputCostUSD:  in,
		OutputCostUSD: out,
		TotalCostUSD:  in + out,
	}
}

// EstimateCost prices a request before it is sent: the query and the
// serialized prior context are converted to input tokens, and the output is
// assumed to use the full output budget.
func (p Pricing) EstimateCost(inputChars, priorContextChars int, outputTokenBudget int64) Cost {
	return p.Price(EstimateTokens(inputChars+priorContextChars), outputTokenBudget)
}
