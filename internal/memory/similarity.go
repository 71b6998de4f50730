package memory

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Scorer is the text similarity primitive the engine depends on. Similarity
// is symmetric and drives duplicate detection; Relevance measures how well
// content answers a search query.
type Scorer interface {
	Similarity(a, b string) float64
	Relevance(query, content string) float64
}

// ScorerConfig tunes the lexical scorer.
type ScorerConfig struct {
	Stopwords []string `yaml:"stopwords"`
	// CanonicalTerms maps a canonical term to the variants folded into it,
	// e.g. "like": ["enjoys", "loves"].
	CanonicalTerms map[string][]string `yaml:"canonical_terms"`
}

// typoRatio is the edit-distance ratio above which two texts are treated as
// the same statement with spelling noise.
const typoRatio = 0.9

// negationTerm is the canonical form of every negation variant.
const negationTerm = "not"

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Stopwords: []string{
			"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
			"am", "do", "does", "did", "has", "have", "had", "of", "to", "in",
			"on", "at", "for", "with", "by", "from", "as", "and", "or", "but",
			"that", "this", "these", "those", "it", "its", "very", "really",
			"so", "too", "also", "just", "quite", "much", "lot", "lots", "some",
			"any", "all", "about", "into", "than", "then", "there", "their",
			"he", "she", "they", "them", "his", "her", "i", "me", "my", "mine",
			"we", "our", "you", "your", "who", "which", "what",
		},
		CanonicalTerms: map[string][]string{
			"like":    {"likes", "liked", "liking", "love", "loves", "loved", "loving", "enjoy", "enjoys", "enjoyed", "enjoying", "adore", "adores", "fond", "prefer", "prefers", "preferred"},
			"dislike": {"dislikes", "disliked", "hate", "hates", "hated", "detest", "detests"},
			"live":    {"lives", "lived", "living", "reside", "resides", "resided", "based"},
			"work":    {"works", "worked", "working", "employed", "job"},
			"study":   {"studies", "studied", "studying"},
			"mother":  {"mom", "mum", "mommy"},
			"father":  {"dad", "daddy"},
			"child":   {"children", "kid", "kids"},
			"want":    {"wants", "wanted", "wish", "wishes", "hope", "hopes"},
			negationTerm: {"no", "never", "dont", "doesnt", "didnt", "isnt", "wasnt", "arent", "cant", "cannot", "wont", "nor"},
		},
	}
}

// LexicalScorer combines a canonical-term Dice coefficient with an
// edit-distance ratio that only counts in the typo band.
type LexicalScorer struct {
	stopwords map[string]struct{}
	canonical map[string]string
}

func NewLexicalScorer(cfg ScorerConfig) *LexicalScorer {
	s := &LexicalScorer{
		stopwords: make(map[string]struct{}, len(cfg.Stopwords)),
		canonical: make(map[string]string),
	}
	for _, w := range cfg.Stopwords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && w != negationTerm {
			s.stopwords[w] = struct{}{}
		}
	}
	for canon, variants := range cfg.CanonicalTerms {
		canon = strings.ToLower(strings.TrimSpace(canon))
		if canon == "" {
			continue
		}
		s.canonical[canon] = canon
		for _, v := range variants {
			v = strings.ToLower(strings.TrimSpace(v))
			if v != "" {
				s.canonical[v] = canon
			}
		}
	}
	return s
}

func (s *LexicalScorer) Similarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	ta, tb := s.terms(na), s.terms(nb)
	score := 0.0
	if len(ta) > 0 && len(tb) > 0 {
		score = dice(ta, tb)
	}
	if !sameNumbers(na, nb) {
		return score * 0.5
	}
	if ratio := editRatio(na, nb); ratio >= typoRatio && ratio > score {
		score = ratio
	}
	_, negA := ta[negationTerm]
	_, negB := tb[negationTerm]
	if negA != negB {
		score *= 0.5
	}
	return score
}

func (s *LexicalScorer) Relevance(query, content string) float64 {
	nq, nc := normalizeText(query), normalizeText(content)
	if nq == "" || nc == "" {
		return 0
	}
	if strings.Contains(nc, nq) {
		return 1
	}
	tq := s.terms(nq)
	if len(tq) == 0 {
		return 0
	}
	tc := s.terms(nc)
	hits := 0
	for t := range tq {
		if _, ok := tc[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(tq))
}

func (s *LexicalScorer) terms(normalized string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(normalized) {
		if canon, ok := s.canonical[tok]; ok {
			out[canon] = struct{}{}
			continue
		}
		if _, ok := s.stopwords[tok]; ok {
			continue
		}
		stem := stemToken(tok)
		if canon, ok := s.canonical[stem]; ok {
			stem = canon
		}
		out[stem] = struct{}{}
	}
	return out
}

// normalizeText lowercases, drops apostrophes, turns every other
// non-alphanumeric rune into a space and collapses whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func stemToken(tok string) string {
	n := len(tok)
	switch {
	case n > 4 && strings.HasSuffix(tok, "ies"):
		return tok[:n-3] + "y"
	case n > 5 && strings.HasSuffix(tok, "ing"):
		return tok[:n-3]
	case n > 4 && strings.HasSuffix(tok, "ed"):
		return tok[:n-2]
	case n > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss"):
		return tok[:n-1]
	default:
		return tok
	}
}

func dice(a, b map[string]struct{}) float64 {
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return 2 * float64(inter) / float64(len(a)+len(b))
}

func editRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// sameNumbers reports whether both texts carry the same digit runs in order.
// A changed date or phone number makes a different statement.
func sameNumbers(a, b string) bool {
	na, nb := digitRuns(a), digitRuns(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func digitRuns(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
