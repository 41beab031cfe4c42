package llm

import (
	"fmt"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/classify"
)

// methodInstructions describes what each analysis method asks of the model.
var methodInstructions = map[classify.Method]string{
	classify.MethodQuick:               "Give a short, direct answer that addresses the core of the question.",
	classify.MethodStandard:            "Analyze the situation, name the key considerations and recommend a course of action.",
	classify.MethodFull:                "Perform a comprehensive analysis: context, underlying causes, options, risks and a recommendation.",
	classify.MethodConflictResolution:  "Map the positions and interests of each party in the conflict and propose concrete steps toward resolution.",
	classify.MethodStakeholderAnalysis: "Identify the stakeholders, what each one needs and fears, and how to engage them.",
	classify.MethodPatternRecognition:  "Look for recurring patterns in what the user describes and explain what keeps them in place.",
	classify.MethodScenarioTest:        "Lay out the options, play each one forward as a scenario and compare the likely outcomes.",
	classify.MethodTimeHorizon:         "Contrast the short-term and long-term consequences of each path.",
	classify.MethodNotesSummary:        "Summarize the material into key points, decisions and open items.",
	classify.MethodHumanHarmCheck:      "Assess who could be harmed by the proposed action, how seriously, and what would mitigate it.",
	classify.MethodSimpleSynthesis:     "Synthesize the user's reflections into a clear conclusion.",
	classify.MethodSynthesisAll:        "Synthesize the whole conversation so far into themes, insights and a recommended direction.",
	classify.MethodInnerPeaceSynthesis: "Help the user reconcile the competing parts of themselves and arrive at a settled position.",
	classify.MethodCoachingPlan:        "Produce an actionable plan with concrete steps, owners and timing.",
	classify.MethodSkills:              "Identify the skills involved, the gaps, and specific practice to close them.",
}

// perspectiveCounts maps bandwidth onto how many perspectives the answer covers.
var perspectiveCounts = map[classify.Bandwidth]int{
	classify.BandwidthLow:    1,
	classify.BandwidthMedium: 3,
	classify.BandwidthHigh:   5,
}

// Perspectives returns the perspective descriptor stored with an exchange.
func Perspectives(b classify.Bandwidth) string {
	n, ok := perspectiveCounts[b]
	if !ok {
		n = perspectiveCounts[classify.BandwidthMedium]
	}
	if n == 1 {
		return "1 perspective"
	}
	return fmt.Sprintf("%d perspectives", n)
}

// MaxTokensFor sizes the completion for a bandwidth. HIGH uses the whole
// output budget, MEDIUM half and LOW a quarter.
func MaxTokensFor(b classify.Bandwidth, budget int64) int64 {
	if budget <= 0 {
		budget = DefaultOutputTokenBudget
	}
	var n int64
	switch b {
	case classify.BandwidthLow:
		n = budget / 4
	case classify.BandwidthHigh:
		n = budget
	default:
		n = budget / 2
	}
	if n < 1 {
		n = 1
	}
	return n
}

// SystemPrompt assembles the instructions for one analysis.
func SystemPrompt(m classify.Method, style classify.OutputStyle, role classify.RoleContext, b classify.Bandwidth) string {
	var sb strings.Builder
	sb.WriteString("You are Sage, a thoughtful analysis assistant.\n\n")

	instr, ok := methodInstructions[m]
	if !ok {
		instr = methodInstructions[classify.MethodQuick]
	}
	fmt.Fprintf(&sb, "Method: %s. %s\n", m, instr)

	switch role {
	case classify.RoleProfessional:
		sb.WriteString("Frame the answer for a workplace context: colleagues, organizations and careers.\n")
	default:
		sb.WriteString("Frame the answer for the user's personal life: relationships, wellbeing and values.\n")
	}

	switch b {
	case classify.BandwidthLow:
		sb.WriteString("The user has little time or is under pressure. Be brief and calm, cover a single perspective, lead with the next step.\n")
	case classify.BandwidthHigh:
		fmt.Fprintf(&sb, "The user wants depth. Cover %s and explore trade-offs.\n", Perspectives(b))
	default:
		fmt.Fprintf(&sb, "Cover %s at moderate depth.\n", Perspectives(b))
	}

	switch style {
	case classify.StyleStructured:
		sb.WriteString("Format the response with headings and bullet points.\n")
	case classify.StyleAbbreviated:
		sb.WriteString("Keep the response to a few short sentences.\n")
	default:
		sb.WriteString("Write in natural, conversational prose.\n")
	}
	return sb.String()
}
