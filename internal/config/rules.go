package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/mnemo/internal/intent"
	"github.com/ent0n29/mnemo/internal/memory"
)

// Rules holds the tunable classification and dedup tables. A rules file only
// needs the sections it changes; everything else keeps the built-in default.
type Rules struct {
	Intent intent.Rules        `yaml:"intent"`
	Dedup  memory.DedupConfig  `yaml:"dedup"`
	Topics []memory.TopicRule  `yaml:"topics" validate:"dive"`
	Scorer memory.ScorerConfig `yaml:"scorer"`
}

func DefaultRules() Rules {
	return Rules{
		Intent: intent.DefaultRules(),
		Dedup:  memory.DefaultDedupConfig(),
		Topics: memory.DefaultTopicRules(),
		Scorer: memory.DefaultScorerConfig(),
	}
}

// LoadRules layers the YAML file at path over DefaultRules. An empty path
// returns the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	path = strings.TrimSpace(path)
	if path == "" {
		return rules, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return rules, nil
}

// Validate checks field constraints and that every pattern compiles.
func (r Rules) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.TrimPrefix(fe.Namespace(), "Rules."), fe.Tag()))
			}
			return fmt.Errorf("invalid rules: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if r.Dedup.StructuredThreshold < r.Dedup.FreeTextThreshold {
		return errors.New("invalid rules: dedup.structured_threshold must be >= dedup.free_text_threshold")
	}
	if _, err := intent.New(r.Intent); err != nil {
		return fmt.Errorf("intent rules: %w", err)
	}
	if _, err := memory.NewTopicClassifier(r.Topics); err != nil {
		return fmt.Errorf("topic rules: %w", err)
	}
	return nil
}

// EngineConfig builds the memory engine configuration these rules describe.
func (r Rules) EngineConfig() memory.Config {
	return memory.Config{
		Dedup:  r.Dedup,
		Topics: r.Topics,
		Scorer: memory.NewLexicalScorer(r.Scorer),
	}
}
