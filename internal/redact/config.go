package redact

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config holds operator-defined redaction customizations layered on top
// of the built-in rules.
type Config struct {
	ExtraKeys     []string          `yaml:"extra_keys"`
	ExtraPatterns []ExtraPatternDef `yaml:"extra_patterns"`
}

// ExtraPatternDef defines a custom value pattern from config.
type ExtraPatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// LoadConfig loads a redaction config from the given path. An empty
// path returns a nil config (defaults only).
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("redact: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("redact: parse config: %w", err)
	}
	return &cfg, nil
}

func compileConfig(cfg *Config) (*ruleSet, error) {
	if cfg == nil {
		return compile(nil, nil), nil
	}

	var extra []*regexp.Regexp
	for i, def := range cfg.ExtraPatterns {
		if def.Regex == "" {
			return nil, fmt.Errorf("redact: extra_patterns[%d]: regex is required", i)
		}
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("redact: extra_patterns[%d] %q: invalid regex: %w", i, def.Name, err)
		}
		extra = append(extra, re)
	}
	return compile(cfg.ExtraKeys, extra), nil
}
