// Package classify maps raw query text to an analysis method, a bandwidth,
// an output style and a role context.
//
// Classification is pure and total: every string, including the empty one,
// resolves to exactly one value per dimension. Method selection walks an
// ordered rule table and stops at the first match, so precedence is defined
// by the position of a rule in methodRules and nowhere else.
package classify

import (
	"strings"
	"unicode/utf8"
)

// Method is the named analysis strategy chosen for a query.
type Method string

const (
	MethodQuick               Method = "QUICK"
	MethodStandard            Method = "STANDARD"
	MethodFull                Method = "FULL"
	MethodConflictResolution  Method = "CONFLICT_RESOLUTION"
	MethodStakeholderAnalysis Method = "STAKEHOLDER_ANALYSIS"
	MethodPatternRecognition  Method = "PATTERN_RECOGNITION"
	MethodScenarioTest        Method = "SCENARIO_TEST"
	MethodTimeHorizon         Method = "TIME_HORIZON"
	MethodNotesSummary        Method = "NOTES_SUMMARY"
	MethodHumanHarmCheck      Method = "HUMAN_HARM_CHECK"
	MethodSimpleSynthesis     Method = "SIMPLE_SYNTHESIS"
	MethodSynthesisAll        Method = "SYNTHESIS_ALL"
	MethodInnerPeaceSynthesis Method = "INNER_PEACE_SYNTHESIS"
	MethodCoachingPlan        Method = "COACHING_PLAN"
	MethodSkills              Method = "SKILLS"
)

// Methods lists every method in the closed enumeration.
var Methods = []Method{
	MethodQuick, MethodStandard, MethodFull, MethodConflictResolution,
	MethodStakeholderAnalysis, MethodPatternRecognition, MethodScenarioTest,
	MethodTimeHorizon, MethodNotesSummary, MethodHumanHarmCheck,
	MethodSimpleSynthesis, MethodSynthesisAll, MethodInnerPeaceSynthesis,
	MethodCoachingPlan, MethodSkills,
}

// methodAliases maps accepted short names onto canonical methods.
var methodAliases = map[string]Method{
	"SYNTHESIS":    MethodSynthesisAll,
	"ACTION_PLAN":  MethodCoachingPlan,
	"CONFLICT":     MethodConflictResolution,
	"STAKEHOLDER":  MethodStakeholderAnalysis,
	"PATTERN":      MethodPatternRecognition,
	"INNER_PEACE":  MethodInnerPeaceSynthesis,
	"HARM_CHECK":   MethodHumanHarmCheck,
	"SCENARIO":     MethodScenarioTest,
	"NOTES":        MethodNotesSummary,
	"COACHING":     MethodCoachingPlan,
	"TIME_HORIZON": MethodTimeHorizon,
}

// forcedStructured holds the methods whose output is always structured.
var forcedStructured = map[Method]bool{
	MethodCoachingPlan:        true,
	MethodSkills:              true,
	MethodSimpleSynthesis:     true,
	MethodSynthesisAll:        true,
	MethodInnerPeaceSynthesis: true,
	MethodHumanHarmCheck:      true,
}

// ForcesStructured reports whether m always produces structured output.
func ForcesStructured(m Method) bool {
	return forcedStructured[m]
}

// IsSynthesis reports whether m belongs to the synthesis family.
func IsSynthesis(m Method) bool {
	switch m {
	case MethodSimpleSynthesis, MethodSynthesisAll, MethodInnerPeaceSynthesis:
		return true
	}
	return false
}

// ParseMethod normalizes an explicit method name. It accepts canonical names
// and aliases in any case, with dashes or spaces in place of underscores.
func ParseMethod(s string) (Method, bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "" {
		return "", false
	}
	for _, m := range Methods {
		if string(m) == key {
			return m, true
		}
	}
	if m, ok := methodAliases[key]; ok {
		return m, true
	}
	return "", false
}

// Bandwidth sizes the response to the user's urgency and capacity for detail.
type Bandwidth string

const (
	BandwidthLow    Bandwidth = "LOW"
	BandwidthMedium Bandwidth = "MEDIUM"
	BandwidthHigh   Bandwidth = "HIGH"
)

// OutputStyle is the requested shape of the response.
type OutputStyle string

const (
	StyleNatural     OutputStyle = "natural"
	StyleStructured  OutputStyle = "structured"
	StyleAbbreviated OutputStyle = "abbreviated"
)

// ParseOutputStyle normalizes an explicit output style.
func ParseOutputStyle(s string) (OutputStyle, bool) {
	switch OutputStyle(strings.ToLower(strings.TrimSpace(s))) {
	case StyleNatural:
		return StyleNatural, true
	case StyleStructured:
		return StyleStructured, true
	case StyleAbbreviated:
		return StyleAbbreviated, true
	}
	return "", false
}

// RoleContext indicates whether the query is about work or private life.
type RoleContext string

const (
	RoleProfessional RoleContext = "professional"
	RolePersonal     RoleContext = "personal"
)

// ParseRoleContext normalizes an explicit role context.
func ParseRoleContext(s string) (RoleContext, bool) {
	switch RoleContext(strings.ToLower(strings.TrimSpace(s))) {
	case RoleProfessional:
		return RoleProfessional, true
	case RolePersonal:
		return RolePersonal, true
	}
	return "", false
}

// Signals records which inert keyword groups fired.
type Signals struct {
	Exploratory bool `json:"exploratory"`
}

// Result is the complete classification of one query.
type Result struct {
	Method      Method      `json:"method"`
	Bandwidth   Bandwidth   `json:"bandwidth"`
	OutputStyle OutputStyle `json:"output_style"`
	RoleContext RoleContext `json:"role_context"`
	Signals     Signals     `json:"signals"`
}

// Classify runs every classification pass over text. The returned output
// style already honors the forced-structured methods.
func Classify(text string) Result {
	q := strings.ToLower(text)
	method := DetectMethod(q)
	return Result{
		Method:      method,
		Bandwidth:   DetectBandwidth(q),
		OutputStyle: EffectiveStyle(method, DetectOutputStyle(q)),
		RoleContext: DetectRoleContext(q),
		Signals:     Signals{Exploratory: containsAny(q, exploratoryKeywords)},
	}
}

// EffectiveStyle applies the forced-structured override for m.
func EffectiveStyle(m Method, detected OutputStyle) OutputStyle {
	if ForcesStructured(m) {
		return StyleStructured
	}
	return detected
}

// rule pairs a predicate over the lowercased query with the method it selects.
type rule struct {
	name   string
	match  func(q string) bool
	method Method
}

var methodRules = []rule{
	{"inner_peace", func(q string) bool {
		return containsAny(q, internalConflictKeywords) && !isExternalConflict(q)
	}, MethodInnerPeaceSynthesis},
	{"conflict", func(q string) bool {
		return containsAny(q, conflictKeywords) ||
			(containsAny(q, internalConflictKeywords) && isExternalConflict(q))
	}, MethodConflictResolution},
	{"plan", matchAny(planKeywords), MethodCoachingPlan},
	{"skills", matchAny(skillsKeywords), MethodSkills},
	{"notes", matchAny(notesKeywords), MethodNotesSummary},
	{"decision", matchAny(decisionKeywords), MethodScenarioTest},
	{"stakeholder", matchAny(stakeholderKeywords), MethodStakeholderAnalysis},
	{"pattern", matchAny(patternKeywords), MethodPatternRecognition},
	{"time_horizon", func(q string) bool {
		return containsAny(q, timeHorizonKeywords) ||
			(containsAny(q, immediateMarkers) && containsAny(q, futureMarkers))
	}, MethodTimeHorizon},
	{"harm", matchAny(harmKeywords), MethodHumanHarmCheck},
	{"synthesis", matchAny(synthesisKeywords), MethodSimpleSynthesis},
	{"full", matchAny(fullKeywords), MethodFull},
}

// DetectMethod returns the method of the first matching rule, or QUICK.
func DetectMethod(text string) Method {
	q := strings.ToLower(text)
	for _, r := range methodRules {
		if r.match(q) {
			return r.method
		}
	}
	return MethodQuick
}

func isExternalConflict(q string) bool {
	if containsAny(q, externalConflictKeywords) {
		return true
	}
	return strings.Contains(q, "stakeholder") && strings.Contains(q, "disagree")
}

// DetectBandwidth classifies urgency. Length is measured in characters of
// the original text.
func DetectBandwidth(text string) Bandwidth {
	q := strings.ToLower(text)
	n := utf8.RuneCountInString(text)
	if n < 20 || containsAny(q, crisisKeywords) || containsAny(q, timePressureKeywords) {
		return BandwidthLow
	}
	if n > 100 || containsAny(q, highBandwidthKeywords) {
		return BandwidthHigh
	}
	return BandwidthMedium
}

// DetectOutputStyle returns the style the query asks for, before method
// overrides are applied.
func DetectOutputStyle(text string) OutputStyle {
	q := strings.ToLower(text)
	switch {
	case containsAny(q, structuredKeywords):
		return StyleStructured
	case containsAny(q, abbreviatedKeywords):
		return StyleAbbreviated
	default:
		return StyleNatural
	}
}

// DetectRoleContext decides between professional and personal framing.
func DetectRoleContext(text string) RoleContext {
	q := strings.ToLower(text)
	professional := containsAny(q, professionalKeywords)
	personal := containsAny(q, personalKeywords)
	switch {
	case professional && !personal:
		return RoleProfessional
	case personal && !professional:
		return RolePersonal
	}
	// Ambiguous: long, question-heavy queries read as professional.
	if utf8.RuneCountInString(text) > 200 && strings.Count(q, "?") > 3 {
		return RoleProfessional
	}
	return RolePersonal
}

func matchAny(keywords []string) func(string) bool {
	return func(q string) bool { return containsAny(q, keywords) }
}

func containsAny(q string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}

// SynthesisPolicy decides when a simple synthesis is upgraded to a synthesis
// across the whole session.
type SynthesisPolicy struct {
	MinPriorExchanges int
}

// DefaultSynthesisPolicy upgrades once a session holds two exchanges.
func DefaultSynthesisPolicy() SynthesisPolicy {
	return SynthesisPolicy{MinPriorExchanges: 2}
}

// Apply returns the method to use given the number of prior exchanges in the
// session.
func (p SynthesisPolicy) Apply(m Method, priorExchanges int) Method {
	if m == MethodSimpleSynthesis && p.MinPriorExchanges > 0 && priorExchanges >= p.MinPriorExchanges {
		return MethodSynthesisAll
	}
	return m
}
