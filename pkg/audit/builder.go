package audit

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// Builder accumulates audit rules per type, interface or entity name. It
// needs no schema; Build resolves the rules against one.
type Builder struct {
	defaultStrategy Strategy
	dropEmpty       bool
	entries         []*EntityBuilder
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithDefaultStrategy sets the strategy used when no rule overrides it
func WithDefaultStrategy(s Strategy) BuilderOption {
	return func(b *Builder) {
		b.defaultStrategy = s
	}
}

// WithDropEmpty drops entries that recorded no properties before delivery
func WithDropEmpty(drop bool) BuilderOption {
	return func(b *Builder) {
		b.dropEmpty = drop
	}
}

// NewBuilder creates a builder with the Partial strategy as default
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{defaultStrategy: Partial}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Entity returns the rules for subject, which may be a struct type (matching
// itself and every type embedding it) or an interface type (matching every
// implementation). Repeated calls for one subject return the same rules.
func (b *Builder) Entity(subject reflect.Type) *EntityBuilder {
	if subject != nil && subject.Kind() == reflect.Pointer {
		subject = schema.Indirect(subject)
	}
	for _, e := range b.entries {
		if e.name == "" && e.subject == subject {
			return e
		}
	}
	e := newEntityBuilder(subject, "")
	b.entries = append(b.entries, e)
	return e
}

// EntityNamed returns the rules for the schema entity whose short name is
// name. They match at the same rank as an exact type.
func (b *Builder) EntityNamed(name string) *EntityBuilder {
	for _, e := range b.entries {
		if e.name == name {
			return e
		}
	}
	e := newEntityBuilder(nil, name)
	b.entries = append(b.entries, e)
	return e
}

// Configure returns the rules for T, which may be a struct or interface type
func Configure[T any](b *Builder) *EntityBuilder {
	return b.Entity(reflect.TypeOf((*T)(nil)).Elem())
}

// EntityBuilder holds entity-level audit overrides. Unset settings fall
// through to less specific rules and then to the defaults.
type EntityBuilder struct {
	subject reflect.Type
	name    string

	ignore       *bool
	strategy     Strategy
	friendlyName *string
	description  func(any) string

	properties map[string]*PropertyBuilder
	propOrder  []string
}

func newEntityBuilder(subject reflect.Type, name string) *EntityBuilder {
	return &EntityBuilder{
		subject:    subject,
		name:       name,
		properties: make(map[string]*PropertyBuilder),
	}
}

func (e *EntityBuilder) label() string {
	if e.name != "" {
		return e.name
	}
	if e.subject == nil {
		return "<nil>"
	}
	return e.subject.String()
}

// Ignore excludes matching entities from auditing
func (e *EntityBuilder) Ignore() *EntityBuilder {
	return e.SetIgnore(true)
}

// SetIgnore sets the ignore flag explicitly, so a specific rule can re-enable
// auditing that a broader rule switched off
func (e *EntityBuilder) SetIgnore(ignore bool) *EntityBuilder {
	e.ignore = &ignore
	return e
}

// Strategy overrides the capture strategy
func (e *EntityBuilder) Strategy(s Strategy) *EntityBuilder {
	e.strategy = s
	return e
}

// FriendlyName overrides the entity's display name
func (e *EntityBuilder) FriendlyName(name string) *EntityBuilder {
	e.friendlyName = &name
	return e
}

// Description sets the function producing the entry description after commit
func (e *EntityBuilder) Description(fn func(entity any) string) *EntityBuilder {
	e.description = fn
	return e
}

// Property returns the rules for the named property
func (e *EntityBuilder) Property(name string) *PropertyBuilder {
	if p, ok := e.properties[name]; ok {
		return p
	}
	p := &PropertyBuilder{name: name}
	e.properties[name] = p
	e.propOrder = append(e.propOrder, name)
	return p
}

// PropertyBuilder holds property-level audit overrides
type PropertyBuilder struct {
	name string

	ignore        *bool
	friendlyName  *string
	friendlyValue func(any) string
	lookupType    reflect.Type
}

// Ignore excludes the property from auditing
func (p *PropertyBuilder) Ignore() *PropertyBuilder {
	return p.SetIgnore(true)
}

// SetIgnore sets the ignore flag explicitly
func (p *PropertyBuilder) SetIgnore(ignore bool) *PropertyBuilder {
	p.ignore = &ignore
	return p
}

// FriendlyName overrides the property's display name
func (p *PropertyBuilder) FriendlyName(name string) *PropertyBuilder {
	p.friendlyName = &name
	return p
}

// FriendlyValue renders the property from the owning entity. It replaces
// any Lookup set on the same rule.
func (p *PropertyBuilder) FriendlyValue(fn func(entity any) string) *PropertyBuilder {
	p.friendlyValue = fn
	p.lookupType = nil
	return p
}

// Lookup resolves the raw value as a primary key of entity type t and renders
// the fetched object with fn. A nil fn uses the object's default rendering.
func (p *PropertyBuilder) Lookup(t reflect.Type, fn func(target any) string) *PropertyBuilder {
	p.lookupType = schema.Indirect(t)
	p.friendlyValue = fn
	return p
}

type match struct {
	rank  schema.Rank
	index int
	entry *EntityBuilder
}

// Build resolves the accumulated rules against s. Every schema entity type
// gets a configuration; more specific rules win setting by setting.
func (b *Builder) Build(s *schema.Schema) (*Configuration, error) {
	if s == nil {
		return nil, fmt.Errorf("schema is required")
	}
	if !b.defaultStrategy.Valid() {
		return nil, &ConfigurationError{Entity: "*", Reason: fmt.Sprintf("invalid default strategy %q", b.defaultStrategy)}
	}

	for _, e := range b.entries {
		if e.strategy != "" && !e.strategy.Valid() {
			return nil, &ConfigurationError{Entity: e.label(), Reason: fmt.Sprintf("invalid strategy %q", e.strategy)}
		}
		if e.name != "" {
			if _, ok := s.Named(e.name); !ok {
				return nil, &ConfigurationError{Entity: e.name, Reason: "no entity type with this name in the schema"}
			}
		}
		for _, name := range e.propOrder {
			if lt := e.properties[name].lookupType; lt != nil {
				if _, ok := s.Lookup(lt); !ok {
					return nil, &ConfigurationError{Entity: e.label(), Property: name,
						Reason: fmt.Sprintf("lookup type %s is not part of the schema", lt)}
				}
			}
		}
	}

	cfg := &Configuration{
		schema:          s,
		entities:        make(map[reflect.Type]*EntityConfig),
		defaultStrategy: b.defaultStrategy,
		dropEmpty:       b.dropEmpty,
	}

	for _, et := range s.Types() {
		matches := b.matches(et)
		for _, m := range matches {
			if m.rank != schema.RankExact {
				continue
			}
			for _, name := range m.entry.propOrder {
				p, ok := et.Property(name)
				if !ok {
					return nil, &ConfigurationError{Entity: et.Name, Property: name, Reason: "no such property"}
				}
				if p.PrimaryKey {
					return nil, &ConfigurationError{Entity: et.Name, Property: name, Reason: "primary keys are never audited"}
				}
			}
		}
		cfg.entities[et.Type] = b.fold(et, matches, cfg.defaultStrategy)
	}

	return cfg, nil
}

func (b *Builder) matches(et *schema.EntityType) []match {
	var out []match
	for i, e := range b.entries {
		if e.name != "" {
			if e.name == et.Name {
				out = append(out, match{rank: schema.RankExact, index: i, entry: e})
			}
			continue
		}
		if rank, ok := schema.Specificity(et.Type, e.subject); ok {
			out = append(out, match{rank: rank, index: i, entry: e})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].rank != out[j].rank {
			return out[i].rank < out[j].rank
		}
		return out[i].index < out[j].index
	})
	return out
}

func (b *Builder) fold(et *schema.EntityType, matches []match, def Strategy) *EntityConfig {
	ec := &EntityConfig{
		Type:         et,
		Strategy:     def,
		FriendlyName: schema.Humanize(et.Name),
		Properties:   make(map[string]*PropertyConfig),
	}

	var ignoreSet, strategySet, nameSet bool
	for _, m := range matches {
		e := m.entry
		if !ignoreSet && e.ignore != nil {
			ec.Ignore, ignoreSet = *e.ignore, true
		}
		if !strategySet && e.strategy != "" {
			ec.Strategy, strategySet = e.strategy, true
		}
		if !nameSet && e.friendlyName != nil {
			ec.FriendlyName, nameSet = *e.friendlyName, true
		}
		if ec.Description == nil && e.description != nil {
			ec.Description = e.description
		}
	}

	for _, p := range et.Fields() {
		pc := &PropertyConfig{
			Property:     p,
			FriendlyName: schema.Humanize(p.Name),
		}
		var pIgnoreSet, pNameSet, renderSet bool
		for _, m := range matches {
			pb, ok := m.entry.properties[p.Name]
			if !ok {
				continue
			}
			if !pIgnoreSet && pb.ignore != nil {
				pc.Ignore, pIgnoreSet = *pb.ignore, true
			}
			if !pNameSet && pb.friendlyName != nil {
				pc.FriendlyName, pNameSet = *pb.friendlyName, true
			}
			// the lookup type decides what the factory receives, so both
			// come from the same rule
			if !renderSet && (pb.lookupType != nil || pb.friendlyValue != nil) {
				pc.LookupType, pc.FriendlyValue, renderSet = pb.lookupType, pb.friendlyValue, true
			}
		}
		ec.Properties[p.Name] = pc
		ec.order = append(ec.order, pc)
	}

	return ec
}
