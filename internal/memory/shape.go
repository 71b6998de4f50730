package memory

import (
	"regexp"
	"strings"
)

// Shape buckets content so duplicate thresholds can differ between
// structured entries and free text.
type Shape string

const (
	ShapeFreeText   Shape = "free_text"
	ShapeStructured Shape = "structured"
)

// ShapeFunc decides the shape of candidate content.
type ShapeFunc func(content string) Shape

var keyValueLine = regexp.MustCompile(`^\s*[\p{L}\p{N}_ .\-/]{1,40}?\s*[:=]\s*\S`)

// DetectShape treats content as structured when most non-empty lines look
// like "key: value" or "key=value".
func DetectShape(content string) Shape {
	lines := 0
	kv := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines++
		if keyValueLine.MatchString(line) && !strings.Contains(line, "://") {
			kv++
		}
	}
	if lines == 0 {
		return ShapeFreeText
	}
	if kv*2 > lines {
		return ShapeStructured
	}
	return ShapeFreeText
}

// DedupConfig holds the semantic duplicate thresholds per shape.
type DedupConfig struct {
	FreeTextThreshold   float64 `yaml:"free_text_threshold" validate:"gt=0,lte=1"`
	StructuredThreshold float64 `yaml:"structured_threshold" validate:"gt=0,lte=1"`
}

func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		FreeTextThreshold:   0.8,
		StructuredThreshold: 0.95,
	}
}

func (c DedupConfig) threshold(shape Shape) float64 {
	if shape == ShapeStructured {
		return c.StructuredThreshold
	}
	return c.FreeTextThreshold
}
