package schema

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"

	"github.com/jinzhu/inflection"
)

// TableNamer lets a model override its default table name
type TableNamer interface {
	TableName() string
}

var tableNamerType = reflect.TypeOf((*TableNamer)(nil)).Elem()

// Property describes one persisted field of an entity type
type Property struct {
	Name       string
	Column     string
	Type       reflect.Type
	PrimaryKey bool
	Generated  bool

	index      []int
	viaPointer bool
}

// Shared reports whether the field lives behind an embedded pointer, so a
// shallow copy of the entity still shares it
func (p *Property) Shared() bool {
	return p.viaPointer
}

// Value reads the property from an entity and returns its normalized value.
// Nil pointers, nil interfaces and invalid database/sql null types read as nil.
func (p *Property) Value(entity any) any {
	v := structValue(entity)
	if !v.IsValid() {
		return nil
	}
	f, err := v.FieldByIndexErr(p.index)
	if err != nil {
		// nil embedded pointer along the path
		return nil
	}
	return Normalize(f.Interface())
}

// Set assigns v to the property on entity, converting between compatible kinds
func (p *Property) Set(entity any, v any) error {
	sv := structValue(entity)
	if !sv.IsValid() || !sv.CanAddr() {
		return fmt.Errorf("cannot set %s on non-pointer entity %T", p.Name, entity)
	}
	f, err := sv.FieldByIndexErr(p.index)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", p.Name, err)
	}

	if v == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}

	rv := reflect.ValueOf(v)
	target := f.Type()
	if target.Kind() == reflect.Pointer {
		elem := reflect.New(target.Elem())
		if err := assign(elem.Elem(), rv); err != nil {
			return fmt.Errorf("cannot set %s: %w", p.Name, err)
		}
		f.Set(elem)
		return nil
	}
	if err := assign(f, rv); err != nil {
		return fmt.Errorf("cannot set %s: %w", p.Name, err)
	}
	return nil
}

// Addr returns a pointer to the property's field, suitable as a sql.Rows.Scan
// destination. Nil embedded struct pointers on the path are allocated.
func (p *Property) Addr(entity any) (any, error) {
	v := structValue(entity)
	if !v.IsValid() || !v.CanAddr() {
		return nil, fmt.Errorf("cannot address %s on %T", p.Name, entity)
	}
	for i, x := range p.index {
		if i > 0 {
			if v.Kind() == reflect.Pointer {
				if v.IsNil() {
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v.Addr().Interface(), nil
}

func assign(dst, src reflect.Value) error {
	switch {
	case src.Type().AssignableTo(dst.Type()):
		dst.Set(src)
	case src.Type().ConvertibleTo(dst.Type()):
		dst.Set(src.Convert(dst.Type()))
	default:
		return fmt.Errorf("%s is not convertible to %s", src.Type(), dst.Type())
	}
	return nil
}

// EntityType is the precomputed field-descriptor list for one persisted struct type
type EntityType struct {
	Type       reflect.Type
	Name       string
	FullName   string
	Table      string
	Properties []*Property
	Keys       []*Property

	byName map[string]*Property
}

// Property returns the named property
func (t *EntityType) Property(name string) (*Property, bool) {
	p, ok := t.byName[name]
	return p, ok
}

// Fields returns the non-key properties in declaration order
func (t *EntityType) Fields() []*Property {
	out := make([]*Property, 0, len(t.Properties)-len(t.Keys))
	for _, p := range t.Properties {
		if !p.PrimaryKey {
			out = append(out, p)
		}
	}
	return out
}

// KeyValues returns the primary key parts of entity in key order
func (t *EntityType) KeyValues(entity any) []any {
	out := make([]any, len(t.Keys))
	for i, k := range t.Keys {
		out[i] = k.Value(entity)
	}
	return out
}

// New allocates a zero entity and returns a pointer to it
func (t *EntityType) New() any {
	return reflect.New(t.Type).Interface()
}

// Schema holds the entity types known to a unit of work
type Schema struct {
	types   map[reflect.Type]*EntityType
	ordered []*EntityType
}

// New resolves the given models into a schema. Models may be struct values,
// pointers to structs or reflect.Type values.
func New(models ...any) (*Schema, error) {
	s := &Schema{types: make(map[reflect.Type]*EntityType, len(models))}
	for _, m := range models {
		var t reflect.Type
		switch v := m.(type) {
		case nil:
			return nil, fmt.Errorf("schema: nil model")
		case reflect.Type:
			t = v
		default:
			t = reflect.TypeOf(m)
		}
		t = Indirect(t)

		if _, dup := s.types[t]; dup {
			return nil, fmt.Errorf("schema: %s registered twice", t)
		}
		et, err := describe(t)
		if err != nil {
			return nil, err
		}
		s.types[t] = et
		s.ordered = append(s.ordered, et)
	}
	return s, nil
}

// MustNew is New that panics on error, for package-level schemas
func MustNew(models ...any) *Schema {
	s, err := New(models...)
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the entity type for t, dereferencing pointer types
func (s *Schema) Lookup(t reflect.Type) (*EntityType, bool) {
	if t == nil {
		return nil, false
	}
	et, ok := s.types[Indirect(t)]
	return et, ok
}

// Of returns the entity type of a model instance
func (s *Schema) Of(entity any) (*EntityType, bool) {
	if entity == nil {
		return nil, false
	}
	return s.Lookup(reflect.TypeOf(entity))
}

// Named returns the entity type whose short name is name
func (s *Schema) Named(name string) (*EntityType, bool) {
	for _, et := range s.ordered {
		if et.Name == name {
			return et, true
		}
	}
	return nil, false
}

// Types returns every entity type in registration order
func (s *Schema) Types() []*EntityType {
	out := make([]*EntityType, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func describe(t reflect.Type) (*EntityType, error) {
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: %s is not a struct", t)
	}
	if t.Name() == "" {
		return nil, fmt.Errorf("schema: anonymous struct %s cannot be an entity", t)
	}

	et := &EntityType{
		Type:     t,
		Name:     t.Name(),
		FullName: t.PkgPath() + "." + t.Name(),
		Table:    tableName(t),
		byName:   make(map[string]*Property),
	}
	if t.PkgPath() == "" {
		et.FullName = t.Name()
	}

	if err := collect(et, t, nil, false); err != nil {
		return nil, err
	}
	if len(et.Properties) == 0 {
		return nil, fmt.Errorf("schema: %s has no persisted fields", t)
	}

	for _, p := range et.Properties {
		if p.PrimaryKey {
			et.Keys = append(et.Keys, p)
		}
	}
	if len(et.Keys) == 0 {
		// conventional ID field
		for _, name := range []string{"ID", "Id"} {
			if p, ok := et.byName[name]; ok {
				p.PrimaryKey = true
				p.Generated = isInteger(p.Type)
				et.Keys = append(et.Keys, p)
				break
			}
		}
	}
	if len(et.Keys) == 0 {
		return nil, fmt.Errorf("schema: %s has no primary key (tag a field with db:\",pk\")", t)
	}

	return et, nil
}

func collect(et *EntityType, t reflect.Type, prefix []int, viaPointer bool) error {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("db")
		if tag == "-" {
			continue
		}
		index := append(append([]int{}, prefix...), i)

		if f.Anonymous {
			ft := Indirect(f.Type)
			if ft.Kind() == reflect.Struct && tag == "" {
				if err := collect(et, ft, index, viaPointer || f.Type.Kind() == reflect.Pointer); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		p := &Property{
			Name:       f.Name,
			Column:     name,
			Type:       f.Type,
			index:      index,
			viaPointer: viaPointer,
		}
		if p.Column == "" {
			p.Column = ToSnakeCase(f.Name)
		}
		for _, opt := range strings.Split(opts, ",") {
			switch strings.TrimSpace(opt) {
			case "pk":
				p.PrimaryKey = true
			case "auto":
				p.Generated = true
			}
		}

		if _, dup := et.byName[p.Name]; dup {
			return fmt.Errorf("schema: %s declares %s more than once", et.Type, p.Name)
		}
		et.byName[p.Name] = p
		et.Properties = append(et.Properties, p)
	}
	return nil
}

func tableName(t reflect.Type) string {
	if reflect.PointerTo(t).Implements(tableNamerType) {
		if namer, ok := reflect.New(t).Interface().(TableNamer); ok {
			if name := strings.TrimSpace(namer.TableName()); name != "" {
				return name
			}
		}
	}
	return inflection.Plural(ToSnakeCase(t.Name()))
}

func structValue(entity any) reflect.Value {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	return v
}

// Indirect strips pointer indirections from t
func Indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// Normalize turns a raw field value into the value recorded in change sets.
// Pointers are dereferenced, nil becomes untyped nil, and database/sql null
// wrappers are unwrapped through driver.Valuer.
func Normalize(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil
		}
	}

	out := rv.Interface()
	if valuer, ok := out.(driver.Valuer); ok && rv.Type().PkgPath() == "database/sql" {
		dv, err := valuer.Value()
		if err != nil {
			return out
		}
		return dv
	}
	return out
}

// Clone copies the slices, maps and arrays reachable from v, including
// through exported struct fields, so the copy does not change when the
// original is edited in place. Pointers are shared.
func Clone(v any) any {
	if v == nil {
		return nil
	}
	return clone(reflect.ValueOf(v)).Interface()
}

func clone(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if !deep(v.Type().Elem()) {
			reflect.Copy(out, v)
			return out
		}
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(clone(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), clone(iter.Value()))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(clone(v.Index(i)))
		}
		return out
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(clone(v.Elem()))
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(clone(v.Field(i)))
			}
		}
		return out
	}
	return v
}

// deep reports whether values of t may hold storage that clone copies
func deep(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Interface, reflect.Struct:
		return true
	}
	return false
}

func isInteger(t reflect.Type) bool {
	switch Indirect(t).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
