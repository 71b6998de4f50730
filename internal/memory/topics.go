package memory

import (
	"fmt"
	"regexp"
	"strings"
)

// TopicRule assigns Topic when any keyword appears as a whole word or any
// pattern matches the lowercased content.
type TopicRule struct {
	Topic    string   `yaml:"topic" validate:"required"`
	Keywords []string `yaml:"keywords"`
	Patterns []string `yaml:"patterns"`
}

func DefaultTopicRules() []TopicRule {
	return []TopicRule{
		{Topic: "personal_info", Keywords: []string{"name", "called", "birthday", "born", "age", "years old", "email", "phone", "pronouns"}},
		{Topic: "work", Keywords: []string{"work", "works", "job", "office", "boss", "colleague", "coworker", "employer", "company", "career", "meeting", "engineer", "manager"}},
		{Topic: "education", Keywords: []string{"school", "university", "college", "degree", "course", "class", "student", "studies", "studying", "graduated", "exam"}},
		{Topic: "family", Keywords: []string{"mother", "mom", "father", "dad", "sister", "brother", "wife", "husband", "partner", "son", "daughter", "kids", "children", "family", "grandma", "grandpa"}},
		{Topic: "hobbies", Keywords: []string{"hobby", "hobbies", "plays", "playing", "guitar", "piano", "painting", "hiking", "reading", "gaming", "cooking", "running", "climbing", "photography"}},
		{Topic: "preferences", Keywords: []string{"likes", "like", "loves", "enjoys", "prefers", "favorite", "favourite", "hates", "dislikes"}},
		{Topic: "health", Keywords: []string{"allergic", "allergy", "doctor", "medication", "diet", "vegetarian", "vegan", "sleep", "exercise", "health", "sick", "injury"}},
		{Topic: "location", Keywords: []string{"lives", "live", "moved", "city", "country", "address", "hometown", "apartment"}, Patterns: []string{`\bfrom\s+[a-z]+`}},
		{Topic: "goals", Keywords: []string{"goal", "goals", "plan", "plans", "wants to", "hopes to", "dream", "aims", "learning"}},
	}
}

// TopicClassifier applies an ordered rule table. Every matching rule
// contributes its topic, in table order.
type TopicClassifier struct {
	rules []compiledTopicRule
}

type compiledTopicRule struct {
	topic    string
	patterns []*regexp.Regexp
}

func NewTopicClassifier(rules []TopicRule) (*TopicClassifier, error) {
	tc := &TopicClassifier{}
	for _, rule := range rules {
		topic := strings.ToLower(strings.TrimSpace(rule.Topic))
		if topic == "" {
			return nil, fmt.Errorf("topic rule with empty topic")
		}
		compiled := compiledTopicRule{topic: topic}
		if len(rule.Keywords) > 0 {
			quoted := make([]string, 0, len(rule.Keywords))
			for _, kw := range rule.Keywords {
				kw = strings.ToLower(strings.TrimSpace(kw))
				if kw == "" {
					continue
				}
				quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`))
			}
			if len(quoted) > 0 {
				compiled.patterns = append(compiled.patterns, regexp.MustCompile(`\b(?:`+strings.Join(quoted, "|")+`)\b`))
			}
		}
		for _, p := range rule.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("topic %q pattern %q: %w", topic, p, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		tc.rules = append(tc.rules, compiled)
	}
	return tc, nil
}

// Classify returns the matching topics, or {"general"} when none match.
func (tc *TopicClassifier) Classify(content string) []string {
	text := strings.ToLower(content)
	var topics []string
	for _, rule := range tc.rules {
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				topics = appendTopic(topics, rule.topic)
				break
			}
		}
	}
	if len(topics) == 0 {
		return []string{GeneralTopic}
	}
	return topics
}

// normalizeTopics lowercases, trims and dedups caller-supplied topics.
func normalizeTopics(in []string) []string {
	var out []string
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = appendTopic(out, t)
		}
	}
	return out
}

func appendTopic(topics []string, topic string) []string {
	for _, t := range topics {
		if t == topic {
			return topics
		}
	}
	return append(topics, topic)
}
