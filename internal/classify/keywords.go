package classify

// Keyword groups are matched as case-insensitive substrings. Entries must be
// lowercase. Changing a list changes which queries match; the order in which
// groups are consulted lives in the rule table in classify.go.
var (
	internalConflictKeywords = []string{
		"torn between", "part of me", "head says", "heart says",
		"conflicted about", "mixed feelings", "inner conflict",
		"internal struggle", "ambivalent", "at war with myself",
		"one side of me", "i want to but",
	}

	// externalConflictKeywords mark internal-conflict language that is
	// really about other people. "stakeholder" only counts together with
	// "disagree", see isExternalConflict.
	externalConflictKeywords = []string{
		"between people", "team conflict",
	}

	conflictKeywords = []string{
		"conflict", "gridlock", "deadlock", "impasse", "stalemate",
		"at odds", "dispute", "disagreement", "clash", "standoff",
	}

	planKeywords = []string{
		"coaching plan", "growth plan", "action plan", "develop me",
		"development plan",
	}

	skillsKeywords = []string{
		"perspective", "skill", "get better at", "improve my",
		"learn to", "become a better", "practice",
	}

	notesKeywords = []string{
		"summarize", "summarise", "summary", "notes", "transcript",
		"meeting", "recap", "minutes",
	}

	decisionKeywords = []string{
		"decide", "decision", "option", "choose", "choice", " vs ",
		"versus", "compare", "trade-off", "tradeoff", "pros and cons",
		"should i",
	}

	stakeholderKeywords = []string{
		"stakeholder", "team", "colleague", "coworker", "co-worker",
		"everyone", "multiple people", "my boss", "my manager",
		"the board", "department",
	}

	patternKeywords = []string{
		"pattern", "keeps happening", "again and again", "recurring",
		"every time", "cycle", "repeatedly", "over and over",
	}

	timeHorizonKeywords = []string{
		"long-term", "long term", "short-term", "short term",
		"years from now", "in five years", "in 5 years",
	}

	// A TIME_HORIZON match through markers needs one of each.
	immediateMarkers = []string{"immediate", "right now", "this week", "today"}
	futureMarkers    = []string{"future", "long run", "down the road", "years"}

	harmKeywords = []string{
		"risk", "harm", "safety", "unsafe", "ethic", "danger", "hurt",
		"abuse", "liability", "legal",
	}

	synthesisKeywords = []string{"synthesis", "integrate"}

	fullKeywords = []string{"deep dive", "comprehensive", "thorough", "detailed"}
)

// Bandwidth signals.
var (
	crisisKeywords = []string{
		"crisis", "emergency", "panic", "overwhelmed", "can't cope",
		"cannot cope", "breaking down", "desperate", "falling apart",
		"suicidal", "help me",
	}

	timePressureKeywords = []string{
		"urgent", "asap", "right now", "immediately", "deadline",
		"hurry", "no time", "quickly", "need answer now", "in a rush",
	}

	// Detected and reported, not used in the bandwidth decision.
	exploratoryKeywords = []string{
		"explore", "curious", "wondering", "brainstorm", "what if",
		"think through", "reflect", "open-ended",
	}

	highBandwidthKeywords = []string{"synthesis", "comprehensive", "deep dive"}
)

// Output style signals.
var (
	structuredKeywords = []string{
		"structured", "bullet", "step by step", "step-by-step",
		"framework", "table", "outline", "numbered", "break it down",
	}

	abbreviatedKeywords = []string{
		"brief", "short answer", "tl;dr", "tldr", "quick answer",
		"in a sentence", "keep it short", "concise", "one line",
	}
)

// Role context signals.
var (
	professionalKeywords = []string{
		"work", "job", "career", "boss", "manager", "colleague",
		"client", "company", "team", "project", "business", "office",
		"promotion", "salary", "meeting", "stakeholder",
	}

	personalKeywords = []string{
		"family", "partner", "wife", "husband", "girlfriend",
		"boyfriend", "friend", "relationship", "parent", "mother",
		"father", "kids", "child", "home", "health", "dating",
	}
)
