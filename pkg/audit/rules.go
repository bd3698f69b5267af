package audit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Rules is the declarative form of builder rules, keyed by entity short name
type Rules struct {
	DefaultStrategy string                `yaml:"default_strategy"`
	DropEmpty       *bool                 `yaml:"drop_empty"`
	Entities        map[string]EntityRule `yaml:"entities"`
}

// EntityRule configures one entity in a rules file
type EntityRule struct {
	Ignore       *bool                   `yaml:"ignore"`
	Strategy     string                  `yaml:"strategy"`
	FriendlyName string                  `yaml:"friendly_name"`
	Properties   map[string]PropertyRule `yaml:"properties"`
}

// PropertyRule configures one property in a rules file
type PropertyRule struct {
	Ignore       *bool  `yaml:"ignore"`
	FriendlyName string `yaml:"friendly_name"`
}

// LoadRules parses a YAML rules document. Unknown keys and invalid strategy
// names are rejected.
func LoadRules(r io.Reader) (*Rules, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rules Rules
	if err := dec.Decode(&rules); err != nil {
		if errors.Is(err, io.EOF) {
			return &rules, nil
		}
		return nil, fmt.Errorf("failed to parse audit rules: %w", err)
	}

	if rules.DefaultStrategy != "" {
		if _, err := ParseStrategy(rules.DefaultStrategy); err != nil {
			return nil, &ConfigurationError{Entity: "*", Reason: err.Error()}
		}
	}
	for name, e := range rules.Entities {
		if e.Strategy != "" {
			if _, err := ParseStrategy(e.Strategy); err != nil {
				return nil, &ConfigurationError{Entity: name, Reason: err.Error()}
			}
		}
	}
	return &rules, nil
}

// LoadRulesFile reads a YAML rules file
func LoadRulesFile(path string) (*Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit rules: %w", err)
	}
	defer f.Close()
	return LoadRules(f)
}

// Apply adds the rules to b. Entity rules are applied in name order, so the
// result does not depend on map iteration.
func (r *Rules) Apply(b *Builder) {
	if r.DefaultStrategy != "" {
		if s, err := ParseStrategy(r.DefaultStrategy); err == nil {
			b.defaultStrategy = s
		}
	}
	if r.DropEmpty != nil {
		b.dropEmpty = *r.DropEmpty
	}

	names := make([]string, 0, len(r.Entities))
	for name := range r.Entities {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := r.Entities[name]
		eb := b.EntityNamed(name)
		if rule.Ignore != nil {
			eb.SetIgnore(*rule.Ignore)
		}
		if rule.Strategy != "" {
			if s, err := ParseStrategy(rule.Strategy); err == nil {
				eb.Strategy(s)
			}
		}
		if rule.FriendlyName != "" {
			eb.FriendlyName(rule.FriendlyName)
		}

		props := make([]string, 0, len(rule.Properties))
		for prop := range rule.Properties {
			props = append(props, prop)
		}
		sort.Strings(props)
		for _, prop := range props {
			pr := rule.Properties[prop]
			pb := eb.Property(prop)
			if pr.Ignore != nil {
				pb.SetIgnore(*pr.Ignore)
			}
			if pr.FriendlyName != "" {
				pb.FriendlyName(pr.FriendlyName)
			}
		}
	}
}
