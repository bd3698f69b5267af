package trigger

import (
	"context"
	"reflect"

	"github.com/platinummonkey/chronicle/pkg/audit"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// RegisterAuditor registers the audit capture routine on every entity type
// for all six phases. It runs after every other handler of the phase,
// including handlers registered later, so before phases record the entity
// as the other handlers left it and after phases complete that draft.
// Revoke the returned handles to stop auditing.
func RegisterAuditor(r *Registry, a *audit.Auditor) []Registration {
	before := func(ctx context.Context, inv *Invocation) error {
		if inv.Session == nil {
			return nil
		}
		return a.Before(ctx, inv.Session, inv.Entry)
	}
	after := func(ctx context.Context, inv *Invocation) error {
		if inv.Session == nil {
			return nil
		}
		return a.After(ctx, inv.Session, inv.UnitOfWork, inv.Entry)
	}

	regs := make([]Registration, 0, len(Phases))
	for _, phase := range Phases {
		h := after
		if phase.IsBefore() {
			h = before
		}
		regs = append(regs, r.registerFinal(anyType, phase, h))
	}
	return regs
}
