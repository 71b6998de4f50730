package intent

import (
	"fmt"
	"regexp"
	"strings"
)

type Intent string

const (
	MemoryList      Intent = "memory_list"
	MemorySearch    Intent = "memory_search"
	KnowledgeSearch Intent = "knowledge_search"
	General         Intent = "general"
)

const (
	generalConfidence = 0.5

	ReasonNoMatch  = "no pattern matched"
	ReasonCompound = "compound query"
	ReasonEmpty    = "empty query"
)

// Result is the outcome of classifying one query. Subject is set when the
// matching pattern captured one.
type Result struct {
	Intent           Intent  `json:"intent"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason"`
	FastPathEligible bool    `json:"fast_path_eligible"`
	Compound         bool    `json:"compound"`
	Subject          string  `json:"subject,omitempty"`
}

// Classifier is safe for concurrent use; it holds only compiled patterns.
type Classifier struct {
	groups             []compiledGroup
	conjunctions       *regexp.Regexp
	verbs              *regexp.Regexp
	separators         []string
	compoundThreshold  int
	compoundConfidence float64
	searchMinConf      float64
}

type compiledGroup struct {
	intent     Intent
	confidence float64
	patterns   []*regexp.Regexp
}

func New(rules Rules) (*Classifier, error) {
	c := &Classifier{
		separators:         append([]string(nil), rules.Separators...),
		compoundThreshold:  rules.CompoundThreshold,
		compoundConfidence: rules.CompoundConfidence,
		searchMinConf:      rules.SearchFastPathMinConfidence,
	}
	if c.compoundThreshold <= 0 {
		c.compoundThreshold = 2
	}
	if c.compoundConfidence <= 0 {
		c.compoundConfidence = 0.92
	}

	for _, g := range rules.Groups {
		switch g.Intent {
		case MemoryList, MemorySearch, KnowledgeSearch:
		default:
			return nil, fmt.Errorf("unknown intent %q in pattern group", g.Intent)
		}
		cg := compiledGroup{intent: g.Intent, confidence: g.Confidence}
		for _, p := range g.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", g.Intent, p, err)
			}
			cg.patterns = append(cg.patterns, re)
		}
		c.groups = append(c.groups, cg)
	}

	var err error
	if c.conjunctions, err = wordAlternation(rules.Conjunctions); err != nil {
		return nil, fmt.Errorf("compile conjunctions: %w", err)
	}
	if c.verbs, err = wordAlternation(rules.ActionVerbs); err != nil {
		return nil, fmt.Errorf("compile action verbs: %w", err)
	}
	return c, nil
}

// wordAlternation builds a whole-word regexp matching any of words. Returns
// nil for an empty list.
func wordAlternation(words []string) (*regexp.Regexp, error) {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`))
	}
	if len(quoted) == 0 {
		return nil, nil
	}
	return regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Classify is pure: the same query always yields the same Result.
func (c *Classifier) Classify(query string) Result {
	q := Normalize(query)
	if q == "" {
		return Result{Intent: General, Confidence: generalConfidence, Reason: ReasonEmpty}
	}

	if c.CompoundIndicators(q) >= c.compoundThreshold {
		return Result{
			Intent:     General,
			Confidence: c.compoundConfidence,
			Reason:     ReasonCompound,
			Compound:   true,
		}
	}

	for _, g := range c.groups {
		for i, re := range g.patterns {
			m := re.FindStringSubmatch(q)
			if m == nil {
				continue
			}
			res := Result{
				Intent:     g.intent,
				Confidence: g.confidence,
				Reason:     fmt.Sprintf("matched %s pattern %d", g.intent, i+1),
				Subject:    subject(re, m),
			}
			res.FastPathEligible = c.fastPathEligible(res)
			return res
		}
	}

	return Result{Intent: General, Confidence: generalConfidence, Reason: ReasonNoMatch}
}

// CompoundIndicators counts conjunctions, separators and every action verb
// after the first in an already normalized query.
func (c *Classifier) CompoundIndicators(normalized string) int {
	count := 0
	if c.conjunctions != nil {
		count += len(c.conjunctions.FindAllStringIndex(normalized, -1))
	}
	for _, sep := range c.separators {
		if sep != "" {
			count += strings.Count(normalized, sep)
		}
	}
	if c.verbs != nil {
		if n := len(c.verbs.FindAllStringIndex(normalized, -1)); n > 1 {
			count += n - 1
		}
	}
	return count
}

func (c *Classifier) fastPathEligible(r Result) bool {
	if r.Compound {
		return false
	}
	switch r.Intent {
	case MemoryList:
		return true
	case MemorySearch:
		return r.Subject != "" && r.Confidence >= c.searchMinConf
	default:
		return false
	}
}

func subject(re *regexp.Regexp, m []string) string {
	idx := re.SubexpIndex("subject")
	if idx < 0 || idx >= len(m) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(m[idx]), ".?!")
}

// Normalize lowercases, trims and collapses whitespace.
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
