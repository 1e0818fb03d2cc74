// Package rules loads automation rules from a TOML file at startup. Rules
// are validated, priority-sorted and immutable afterwards; there is no
// runtime mutation path.
package rules

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/handoff-hub/handoff-hub/internal/domain/rule"
)

type ruleFile struct {
	Rules []ruleEntry `toml:"rules"`
}

type ruleEntry struct {
	rule.AutomationRule
	// Delay is parsed separately so the file can say "5m".
	Delay string `toml:"delay,omitempty"`
}

// Load reads, validates and priority-sorts the rule set. A missing path
// yields an empty rule set rather than an error, so deployments without
// automation need no file.
func Load(path string) ([]rule.AutomationRule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a TOML rule document.
func Parse(data []byte) ([]rule.AutomationRule, error) {
	var file ruleFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	out := make([]rule.AutomationRule, 0, len(file.Rules))
	for i := range file.Rules {
		r := file.Rules[i].AutomationRule
		if file.Rules[i].Delay != "" {
			d, err := time.ParseDuration(file.Rules[i].Delay)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid delay: %w", r.ID, err)
			}
			r.Delay = d
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	rule.SortByPriority(out)
	return out, nil
}
