// Package redact strips secret-shaped strings from JSON values before
// they reach the audit log or the dashboard. Redaction runs only on the
// observation branch; forwarded bytes are never touched.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// Redactor applies a rule set to JSON values. The rule set is swapped
// atomically so a config reload never races an in-flight Apply.
type Redactor struct {
	rules atomic.Pointer[ruleSet]
}

type ruleSet struct {
	keys     map[string]bool
	patterns []*regexp.Regexp
}

// defaultKeys are map keys whose values are always masked,
// compared case-insensitively.
var defaultKeys = []string{
	"api_key", "apikey", "access_token", "secret_key",
	"password", "token", "authorization",
}

// Default value patterns: emails, OpenAI-style secret keys, bearer tokens.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`Bearer [A-Za-z0-9._\-]+`),
}

// New creates a Redactor with the default rule set.
func New() *Redactor {
	r := &Redactor{}
	r.rules.Store(compile(nil, nil))
	return r
}

// SetConfig replaces the active rule set with the defaults plus the
// extras from cfg. A nil cfg restores the defaults.
func (r *Redactor) SetConfig(cfg *Config) error {
	rs, err := compileConfig(cfg)
	if err != nil {
		return err
	}
	r.rules.Store(rs)
	return nil
}

// Apply returns a sanitized deep copy of v. The input is never mutated.
// Apply is idempotent: the placeholder matches no rule.
func (r *Redactor) Apply(v any) any {
	return r.rules.Load().walk(v)
}

func (rs *ruleSet) walk(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if rs.keys[strings.ToLower(k)] {
				out[k] = Placeholder
				continue
			}
			out[k] = rs.walk(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = rs.walk(inner)
		}
		return out
	case string:
		for _, re := range rs.patterns {
			if re.MatchString(val) {
				return Placeholder
			}
		}
		return val
	default:
		// Numbers, bools, nil pass through unchanged.
		return v
	}
}

func compile(extraKeys []string, extra []*regexp.Regexp) *ruleSet {
	keys := make(map[string]bool, len(defaultKeys)+len(extraKeys))
	for _, k := range defaultKeys {
		keys[strings.ToLower(k)] = true
	}
	for _, k := range extraKeys {
		keys[strings.ToLower(k)] = true
	}
	patterns := append([]*regexp.Regexp{}, defaultPatterns...)
	patterns = append(patterns, extra...)
	return &ruleSet{keys: keys, patterns: patterns}
}
