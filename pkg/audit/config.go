package audit

import (
	"reflect"

	"github.com/platinummonkey/chronicle/pkg/schema"
)

// PropertyConfig is the resolved audit configuration of one property
type PropertyConfig struct {
	Property     *schema.Property
	Ignore       bool
	FriendlyName string

	// LookupType, when set, resolves the raw value as a primary key of this
	// entity type before FriendlyValue is applied to the fetched object
	LookupType reflect.Type

	// FriendlyValue renders the lookup result, or the owning entity when no
	// lookup type is configured
	FriendlyValue func(v any) string
}

// EntityConfig is the resolved audit configuration of one entity type
type EntityConfig struct {
	Type         *schema.EntityType
	Ignore       bool
	Strategy     Strategy
	FriendlyName string
	Description  func(entity any) string

	// Properties holds one entry per non-key property, keyed by property name
	Properties map[string]*PropertyConfig

	order []*PropertyConfig
}

// Ordered returns the property configurations in schema declaration order
func (c *EntityConfig) Ordered() []*PropertyConfig {
	return c.order
}

// Configuration is the immutable audit configuration resolved against a
// schema. It is safe for concurrent use.
type Configuration struct {
	schema          *schema.Schema
	entities        map[reflect.Type]*EntityConfig
	defaultStrategy Strategy
	dropEmpty       bool
}

// Entity returns the configuration of entity type t
func (c *Configuration) Entity(t reflect.Type) (*EntityConfig, bool) {
	ec, ok := c.entities[schema.Indirect(t)]
	return ec, ok
}

// Schema returns the schema the configuration was resolved against
func (c *Configuration) Schema() *schema.Schema {
	return c.schema
}

// DefaultStrategy returns the strategy used by entities without an override
func (c *Configuration) DefaultStrategy() Strategy {
	return c.defaultStrategy
}

// DropEmpty reports whether entries without recorded properties are dropped before delivery
func (c *Configuration) DropEmpty() bool {
	return c.dropEmpty
}
