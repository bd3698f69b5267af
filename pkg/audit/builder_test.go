package audit

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderEntity(t *testing.T, cfg *Configuration) *EntityConfig {
	t.Helper()
	ec, ok := cfg.Entity(reflect.TypeOf(&Order{}))
	require.True(t, ok)
	return ec
}

func TestBuilder_Defaults(t *testing.T) {
	cfg, err := NewBuilder().Build(testSchema())
	require.NoError(t, err)

	assert.Equal(t, Partial, cfg.DefaultStrategy())
	assert.False(t, cfg.DropEmpty())

	ec := orderEntity(t, cfg)
	assert.False(t, ec.Ignore)
	assert.Equal(t, Partial, ec.Strategy)
	assert.Equal(t, "Order", ec.FriendlyName)
	assert.Equal(t, "Customer ID", ec.Properties["CustomerID"].FriendlyName)
	assert.NotContains(t, ec.Properties, "ID")

	var names []string
	for _, pc := range ec.Ordered() {
		names = append(names, pc.Property.Name)
	}
	assert.Equal(t, []string{"CreatedBy", "CustomerID", "Status", "Total", "Note", "Secret"}, names)
}

func TestBuilder_Precedence(t *testing.T) {
	b := NewBuilder()
	Configure[Tagged](b).FriendlyName("Tagged thing").Strategy(Full)
	Configure[Stamp](b).Property("CreatedBy").FriendlyName("Author").Ignore()
	Configure[Order](b).FriendlyName("Purchase order")
	// same rank as the exact type, declared later: loses
	b.EntityNamed("Order").FriendlyName("Named order").Property("Total").FriendlyName("Amount")
	// exact rank beats the base rule for the property setting it sets
	Configure[Order](b).Property("CreatedBy").SetIgnore(false)

	cfg, err := b.Build(testSchema())
	require.NoError(t, err)
	ec := orderEntity(t, cfg)

	assert.Equal(t, "Purchase order", ec.FriendlyName)
	assert.Equal(t, Full, ec.Strategy, "unset at exact rank, inherited from the interface rule")
	assert.Equal(t, "Amount", ec.Properties["Total"].FriendlyName)
	assert.Equal(t, "Author", ec.Properties["CreatedBy"].FriendlyName)
	assert.False(t, ec.Properties["CreatedBy"].Ignore)

	// Customer neither embeds Stamp nor implements Tagged
	cust, ok := cfg.Entity(reflect.TypeOf(Customer{}))
	require.True(t, ok)
	assert.Equal(t, Partial, cust.Strategy)
	assert.Equal(t, "Customer", cust.FriendlyName)
}

func TestBuilder_RenderingComesFromOneRule(t *testing.T) {
	byName := func(c any) string { return c.(*Customer).Name }
	byOrder := func(o any) string { return "order of " + o.(*Order).CreatedBy }

	t.Run("exact factory hides interface lookup", func(t *testing.T) {
		b := NewBuilder()
		Configure[Tagged](b).Property("CustomerID").Lookup(reflect.TypeOf(Customer{}), byName)
		Configure[Order](b).Property("CustomerID").FriendlyValue(byOrder)

		cfg, err := b.Build(testSchema())
		require.NoError(t, err)
		pc := orderEntity(t, cfg).Properties["CustomerID"]
		assert.Nil(t, pc.LookupType)
		require.NotNil(t, pc.FriendlyValue)
		assert.Equal(t, "order of ada", pc.FriendlyValue(&Order{Stamp: Stamp{CreatedBy: "ada"}}))
	})

	t.Run("exact lookup without factory hides interface factory", func(t *testing.T) {
		b := NewBuilder()
		Configure[Tagged](b).Property("CustomerID").FriendlyValue(byOrder)
		Configure[Order](b).Property("CustomerID").Lookup(reflect.TypeOf(Customer{}), nil)

		cfg, err := b.Build(testSchema())
		require.NoError(t, err)
		pc := orderEntity(t, cfg).Properties["CustomerID"]
		assert.Equal(t, reflect.TypeOf(Customer{}), pc.LookupType)
		assert.Nil(t, pc.FriendlyValue)
	})

	t.Run("less specific rule applies when exact sets neither", func(t *testing.T) {
		b := NewBuilder()
		Configure[Tagged](b).Property("CustomerID").Lookup(reflect.TypeOf(Customer{}), byName)
		Configure[Order](b).Property("CustomerID").FriendlyName("Buyer")

		cfg, err := b.Build(testSchema())
		require.NoError(t, err)
		pc := orderEntity(t, cfg).Properties["CustomerID"]
		assert.Equal(t, "Buyer", pc.FriendlyName)
		assert.Equal(t, reflect.TypeOf(Customer{}), pc.LookupType)
		require.NotNil(t, pc.FriendlyValue)
		assert.Equal(t, "Ada", pc.FriendlyValue(&Customer{Name: "Ada"}))
	})

	t.Run("later factory replaces lookup on the same rule", func(t *testing.T) {
		b := NewBuilder()
		Configure[Order](b).Property("CustomerID").
			Lookup(reflect.TypeOf(Customer{}), byName).
			FriendlyValue(byOrder)

		cfg, err := b.Build(testSchema())
		require.NoError(t, err)
		assert.Nil(t, orderEntity(t, cfg).Properties["CustomerID"].LookupType)
	})
}

func TestBuilder_SameSubjectSharesRules(t *testing.T) {
	b := NewBuilder()
	assert.Same(t, Configure[Order](b), b.Entity(reflect.TypeOf(&Order{})))
	assert.Same(t, b.EntityNamed("Order"), b.EntityNamed("Order"))
	assert.Same(t, Configure[Order](b).Property("Total"), Configure[Order](b).Property("Total"))
}

func TestBuilder_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name      string
		configure func(b *Builder)
		opts      []BuilderOption
		want      string
	}{
		{
			name:      "unknown property",
			configure: func(b *Builder) { Configure[Order](b).Property("Nope") },
			want:      "no such property",
		},
		{
			name:      "primary key",
			configure: func(b *Builder) { Configure[Order](b).Property("ID").FriendlyName("Key") },
			want:      "primary keys are never audited",
		},
		{
			name:      "unknown entity name",
			configure: func(b *Builder) { b.EntityNamed("Ghost").Ignore() },
			want:      "no entity type with this name",
		},
		{
			name: "lookup type outside the schema",
			configure: func(b *Builder) {
				Configure[Order](b).Property("CustomerID").Lookup(reflect.TypeOf(struct{ X int }{}), nil)
			},
			want: "not part of the schema",
		},
		{
			name:      "invalid strategy",
			configure: func(b *Builder) { Configure[Order](b).Strategy("everything") },
			want:      "invalid strategy",
		},
		{
			name:      "invalid default strategy",
			configure: func(b *Builder) {},
			opts:      []BuilderOption{WithDefaultStrategy("some")},
			want:      "invalid default strategy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.opts...)
			tt.configure(b)
			_, err := b.Build(testSchema())

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Contains(t, cfgErr.Error(), tt.want)
		})
	}
}

func TestBuilder_BaseRulesMayNameMissingProperties(t *testing.T) {
	b := NewBuilder()
	// Stamp itself is not an entity; its rules only apply where they fit
	Configure[Stamp](b).Property("UpdatedBy").Ignore()
	_, err := b.Build(testSchema())
	assert.NoError(t, err)
}

func TestRules(t *testing.T) {
	doc := `
default_strategy: full
drop_empty: true
entities:
  Order:
    friendly_name: Purchase order
    properties:
      Secret:
        ignore: true
      Total:
        friendly_name: Amount
  Line:
    ignore: true
`
	rules, err := LoadRules(strings.NewReader(doc))
	require.NoError(t, err)

	b := NewBuilder()
	rules.Apply(b)
	Configure[Order](b).FriendlyName("Declared later")

	cfg, err := b.Build(testSchema())
	require.NoError(t, err)
	assert.Equal(t, Full, cfg.DefaultStrategy())
	assert.True(t, cfg.DropEmpty())

	ec := orderEntity(t, cfg)
	assert.Equal(t, "Purchase order", ec.FriendlyName)
	assert.True(t, ec.Properties["Secret"].Ignore)
	assert.Equal(t, "Amount", ec.Properties["Total"].FriendlyName)

	line, ok := cfg.Entity(reflect.TypeOf(Line{}))
	require.True(t, ok)
	assert.True(t, line.Ignore)
}

func TestLoadRules_Errors(t *testing.T) {
	_, err := LoadRules(strings.NewReader("default_strategy: most\n"))
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = LoadRules(strings.NewReader("entities:\n  Order:\n    strategy: some\n"))
	assert.ErrorAs(t, err, &cfgErr)

	_, err = LoadRules(strings.NewReader("entites: {}\n"))
	assert.ErrorContains(t, err, "failed to parse audit rules")

	rules, err := LoadRules(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rules.Entities)

	_, err = LoadRulesFile("/nonexistent/rules.yaml")
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" FULL ")
	require.NoError(t, err)
	assert.Equal(t, Full, s)

	_, err = ParseStrategy("most")
	assert.Error(t, err)
}
