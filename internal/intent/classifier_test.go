package intent

import (
	"fmt"
	"testing"
	"time"
)

func newDefaultClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(DefaultRules())
	if err != nil {
		t.Fatalf("New(DefaultRules()) error = %v", err)
	}
	return c
}

func TestClassifyIntents(t *testing.T) {
	c := newDefaultClassifier(t)

	tests := []struct {
		query    string
		intent   Intent
		fastPath bool
		subject  string
	}{
		{query: "list all memories", intent: MemoryList, fastPath: true},
		{query: "Show me my memories please", intent: MemoryList, fastPath: true},
		{query: "  what do you   know about me? ", intent: MemoryList, fastPath: true},
		{query: "do you remember my sister's birthday?", intent: MemorySearch, fastPath: true, subject: "my sister's birthday"},
		{query: "What do you know about pizza", intent: MemorySearch, fastPath: true, subject: "pizza"},
		{query: "search my memories for hiking", intent: MemorySearch, fastPath: true, subject: "hiking"},
		{query: "show my memories about work", intent: MemorySearch, fastPath: true, subject: "work"},
		{query: "what do you know about tom and jerry", intent: MemorySearch, fastPath: true, subject: "tom and jerry"},
		{query: "search my notes for the quarterly plan", intent: KnowledgeSearch, subject: "the quarterly plan"},
		{query: "what's the weather like today", intent: General},
		{query: "", intent: General},
	}
	for _, tc := range tests {
		got := c.Classify(tc.query)
		if got.Intent != tc.intent {
			t.Fatalf("Classify(%q).Intent = %q, want %q (reason %q)", tc.query, got.Intent, tc.intent, got.Reason)
		}
		if got.FastPathEligible != tc.fastPath {
			t.Fatalf("Classify(%q).FastPathEligible = %v, want %v", tc.query, got.FastPathEligible, tc.fastPath)
		}
		if got.Subject != tc.subject {
			t.Fatalf("Classify(%q).Subject = %q, want %q", tc.query, got.Subject, tc.subject)
		}
	}
}

func TestClassifyConfidenceLevels(t *testing.T) {
	c := newDefaultClassifier(t)

	if got := c.Classify("list all memories").Confidence; got != 0.95 {
		t.Fatalf("list confidence = %v, want 0.95", got)
	}
	if got := c.Classify("do you remember my dog").Confidence; got != 0.85 {
		t.Fatalf("search confidence = %v, want 0.85", got)
	}
	got := c.Classify("tell me a joke")
	if got.Confidence != 0.5 || got.Reason != ReasonNoMatch {
		t.Fatalf("general result = %+v, want confidence 0.5 reason %q", got, ReasonNoMatch)
	}
}

func TestClassifyCompoundQueryIsGeneral(t *testing.T) {
	c := newDefaultClassifier(t)

	for _, q := range []string{
		"list my memories and show me the weather",
		"show all my memories, then remind me to call mom",
		"do you remember my dog; also what's on my calendar",
	} {
		got := c.Classify(q)
		if got.Intent != General {
			t.Fatalf("Classify(%q).Intent = %q, want general", q, got.Intent)
		}
		if !got.Compound || got.FastPathEligible {
			t.Fatalf("Classify(%q) = %+v, want compound and not fast-path eligible", q, got)
		}
		if got.Confidence < 0.9 {
			t.Fatalf("Classify(%q).Confidence = %v, want >= 0.9", q, got.Confidence)
		}
		if got.Reason != ReasonCompound {
			t.Fatalf("Classify(%q).Reason = %q, want %q", q, got.Reason, ReasonCompound)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := newDefaultClassifier(t)

	for _, q := range []string{"list all memories", "do you remember my dog", "book a flight and a hotel, then email me", "hello"} {
		first := c.Classify(q)
		second := c.Classify(q)
		if first != second {
			t.Fatalf("Classify(%q) not deterministic: %+v vs %+v", q, first, second)
		}
	}
}

func TestSearchBelowMinConfidenceIsNotFastPath(t *testing.T) {
	rules := DefaultRules()
	rules.SearchFastPathMinConfidence = 0.9
	c, err := New(rules)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got := c.Classify("do you remember my dog")
	if got.Intent != MemorySearch || got.FastPathEligible {
		t.Fatalf("Classify() = %+v, want memory_search without fast path", got)
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	rules := DefaultRules()
	rules.Groups = append(rules.Groups, PatternGroup{Intent: MemoryList, Confidence: 0.9, Patterns: []string{"("}})
	if _, err := New(rules); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}

	rules = DefaultRules()
	rules.Groups = []PatternGroup{{Intent: "weather", Confidence: 0.9, Patterns: []string{"x"}}}
	if _, err := New(rules); err == nil {
		t.Fatalf("expected error for unknown intent")
	}
}

func TestClassifyThousandQueriesQuickly(t *testing.T) {
	c := newDefaultClassifier(t)

	queries := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		switch i % 4 {
		case 0:
			queries = append(queries, fmt.Sprintf("list all memories %d", i))
		case 1:
			queries = append(queries, fmt.Sprintf("do you remember item %d", i))
		case 2:
			queries = append(queries, fmt.Sprintf("show memories and check the forecast for day %d", i))
		default:
			queries = append(queries, fmt.Sprintf("how tall is mountain number %d", i))
		}
	}

	start := time.Now()
	for _, q := range queries {
		_ = c.Classify(q)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("classifying 1000 queries took %s", elapsed)
	}
}
