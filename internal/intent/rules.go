package intent

// PatternGroup maps a set of regular expressions to one intent. Patterns run
// against the normalized query (lowercased, whitespace collapsed). A named
// group "subject" marks the part of the query to search for.
type PatternGroup struct {
	Intent     Intent   `yaml:"intent" validate:"required,oneof=memory_list memory_search knowledge_search"`
	Confidence float64  `yaml:"confidence" validate:"gt=0,lte=1"`
	Patterns   []string `yaml:"patterns" validate:"min=1,dive,required"`
}

// Rules configures the classifier. Groups are tested in order, so the most
// specific group goes first.
type Rules struct {
	Groups []PatternGroup `yaml:"groups" validate:"min=1,dive"`

	// Conjunctions are whole-word or phrase indicators; Separators are
	// literal substrings such as "," or ";".
	Conjunctions []string `yaml:"conjunctions"`
	Separators   []string `yaml:"separators"`
	// ActionVerbs beyond the first occurrence count as compound indicators.
	ActionVerbs []string `yaml:"action_verbs"`

	CompoundThreshold  int     `yaml:"compound_threshold" validate:"gte=1"`
	CompoundConfidence float64 `yaml:"compound_confidence" validate:"gte=0.9,lte=1"`
	// SearchFastPathMinConfidence gates memory_search results onto the fast path.
	SearchFastPathMinConfidence float64 `yaml:"search_fast_path_min_confidence" validate:"gte=0,lte=1"`
}

func DefaultRules() Rules {
	return Rules{
		Groups: []PatternGroup{
			{
				Intent:     MemoryList,
				Confidence: 0.95,
				Patterns: []string{
					`^(?:please\s+|can\s+you\s+|could\s+you\s+)?(?:list|show|display|give|tell)(?:\s+me)?\s+(?:all\s+)?(?:of\s+)?(?:my\s+|the\s+|your\s+)?(?:stored\s+|saved\s+)?memories(?:\s+please)?[.?!]*$`,
					`^what\s+(?:memories\s+do\s+you\s+have|do\s+you\s+(?:know|remember)\s+about\s+me)(?:\s+so\s+far)?[.?!]*$`,
					`^(?:all\s+)?(?:my\s+)?memories[.?!]*$`,
				},
			},
			{
				Intent:     MemorySearch,
				Confidence: 0.85,
				Patterns: []string{
					`\bdo\s+you\s+remember\s+(?:anything\s+about\s+|about\s+|that\s+|when\s+|what\s+)?(?P<subject>.+?)[.?!]*$`,
					`\bwhat\s+do\s+you\s+(?:know|remember)\s+about\s+(?P<subject>.+?)[.?!]*$`,
					`\b(?:search|find|look\s+up|check)\s+(?:in\s+)?(?:my\s+|your\s+)?memor(?:y|ies)\s+(?:for|about)\s+(?P<subject>.+?)[.?!]*$`,
					`\b(?:list|show|give|tell)(?:\s+me)?\s+(?:my\s+|your\s+)?memories\s+(?:about|of|on|regarding)\s+(?P<subject>.+?)[.?!]*$`,
				},
			},
			{
				Intent:     KnowledgeSearch,
				Confidence: 0.75,
				Patterns: []string{
					`\b(?:search|find|look\s+up)\s+(?:in\s+|through\s+)?(?:my\s+)?(?:documents|docs|notes|files|knowledge\s*base)(?:\s+(?:for|about)\s+(?P<subject>.+?))?[.?!]*$`,
					`\bwhat\s+do\s+my\s+(?:documents|docs|notes|files)\s+say\s+about\s+(?P<subject>.+?)[.?!]*$`,
				},
			},
		},
		Conjunctions: []string{"and", "then", "also", "plus", "as well as"},
		Separators:   []string{",", ";"},
		ActionVerbs: []string{
			"list", "show", "tell", "search", "find", "give", "remind", "check",
			"play", "send", "set", "create", "add", "delete", "remove", "open",
			"book", "schedule", "call", "what's",
		},
		CompoundThreshold:           2,
		CompoundConfidence:          0.92,
		SearchFastPathMinConfidence: 0.85,
	}
}
