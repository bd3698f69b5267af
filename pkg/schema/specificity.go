package schema

import "reflect"

// Rank orders how closely a registration subject matches a concrete type.
// Lower ranks are more specific.
type Rank int

const (
	// RankExact means the subject is the concrete type itself
	RankExact Rank = iota
	// RankBase means the subject is a struct embedded in the concrete type
	RankBase
	// RankInterface means the subject is an interface the concrete type implements
	RankInterface
)

func (r Rank) String() string {
	switch r {
	case RankExact:
		return "exact"
	case RankBase:
		return "base"
	case RankInterface:
		return "interface"
	default:
		return "unknown"
	}
}

// Specificity reports whether subject applies to concrete and at which rank.
// Pointer types on either side are dereferenced first. Interface subjects match
// when either T or *T implements them.
func Specificity(concrete, subject reflect.Type) (Rank, bool) {
	if concrete == nil || subject == nil {
		return 0, false
	}
	concrete = Indirect(concrete)

	if subject.Kind() == reflect.Interface {
		if concrete.Implements(subject) || reflect.PointerTo(concrete).Implements(subject) {
			return RankInterface, true
		}
		return 0, false
	}

	subject = Indirect(subject)
	if subject == concrete {
		return RankExact, true
	}
	if concrete.Kind() == reflect.Struct && subject.Kind() == reflect.Struct &&
		embeds(concrete, subject, map[reflect.Type]bool{}) {
		return RankBase, true
	}
	return 0, false
}

func embeds(t, base reflect.Type, seen map[reflect.Type]bool) bool {
	if seen[t] {
		return false
	}
	seen[t] = true

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := Indirect(f.Type)
		if ft == base {
			return true
		}
		if ft.Kind() == reflect.Struct && embeds(ft, base, seen) {
			return true
		}
	}
	return false
}
