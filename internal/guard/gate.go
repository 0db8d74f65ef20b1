package guard

import (
	"html/template"

	"github.com/odyssey-erp/odyssey-access/internal/access"
)

// Gate decides whether fragments of a page are rendered for one snapshot.
// A pending decision renders nothing; a denial renders the fallback.
type Gate struct {
	snap     access.Snapshot
	recorder Recorder
}

// NewGate binds a gate to snap. rec may be nil.
func NewGate(snap access.Snapshot, rec Recorder) Gate {
	return Gate{snap: snap, recorder: rec}
}

// Snapshot returns the snapshot the gate evaluates against.
func (g Gate) Snapshot() access.Snapshot { return g.snap }

// Decide evaluates req and records the decision.
func (g Gate) Decide(req access.Requirement) access.Decision {
	d := access.Evaluate(g.snap, req)
	if g.recorder != nil {
		g.recorder.ObserveDecision(SurfaceComponent, d)
	}
	return d
}

// Allowed reports whether req is satisfied.
func (g Gate) Allowed(req access.Requirement) bool {
	return g.Decide(req).Allowed()
}

// Show returns content when allowed, fallback when denied and nothing while
// the snapshot is loading.
func (g Gate) Show(req access.Requirement, content, fallback template.HTML) template.HTML {
	d := g.Decide(req)
	switch {
	case d.Allowed():
		return content
	case d.Denied():
		return fallback
	default:
		return ""
	}
}

// Can reports whether module is enabled and every perm is held. An empty
// module skips the module check; an unknown one denies.
func (g Gate) Can(module string, perms ...string) bool {
	req, ok := moduleRequirement(module)
	if !ok {
		return false
	}
	req.AllPermissions = perms
	return g.Allowed(req)
}

// CanAny reports whether module is enabled and at least one perm is held.
func (g Gate) CanAny(module string, perms ...string) bool {
	req, ok := moduleRequirement(module)
	if !ok {
		return false
	}
	req.AnyPermission = perms
	return g.Allowed(req)
}

// HasModule reports whether module is enabled for the company.
func (g Gate) HasModule(module string) bool {
	m, ok := access.ParseModule(module)
	if !ok {
		return false
	}
	return g.Allowed(access.RequireModule(m))
}

// HasRole reports whether the actor holds role.
func (g Gate) HasRole(role string) bool {
	return g.Allowed(access.Requirement{Role: role})
}

// Loading reports whether the snapshot is still resolving.
func (g Gate) Loading() bool { return g.snap.Loading() }

// FuncMap exposes the gate to html/template.
func (g Gate) FuncMap() template.FuncMap {
	return template.FuncMap{
		"can":           g.Can,
		"canAny":        g.CanAny,
		"hasModule":     g.HasModule,
		"hasRole":       g.HasRole,
		"accessLoading": g.Loading,
		"isCompanyAdmin": func() bool {
			return !g.snap.Loading() && g.snap.IsCompanyAdmin()
		},
	}
}

func moduleRequirement(module string) (access.Requirement, bool) {
	if module == "" {
		return access.Requirement{}, true
	}
	m, ok := access.ParseModule(module)
	if !ok {
		return access.Requirement{}, false
	}
	return access.RequireModule(m), true
}
