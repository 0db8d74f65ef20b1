package navigation

import (
	"github.com/odyssey-erp/odyssey-access/internal/access"
)

// Filter prunes a menu tree for one snapshot.
type Filter struct {
	// OperationalRoles see every item of an enabled module without the
	// permission check. Strict items are not bypassed.
	OperationalRoles []string
}

// Apply returns the items snap may see, preserving order. Sections whose
// children are all hidden are dropped. A loading snapshot yields no items.
func (f Filter) Apply(items []Item, snap access.Snapshot) []Item {
	if snap.Loading() {
		return []Item{}
	}
	operational := len(f.OperationalRoles) > 0 && snap.HasAnyRole(f.OperationalRoles...)
	return f.prune(items, snap, operational)
}

func (f Filter) prune(items []Item, snap access.Snapshot, operational bool) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if !visible(it, snap, operational) {
			continue
		}
		if !it.Leaf() {
			children := f.prune(it.Children, snap, operational)
			if len(children) == 0 {
				continue
			}
			it.Children = children
		}
		out = append(out, it)
	}
	return out
}

func visible(it Item, snap access.Snapshot, operational bool) bool {
	req := it.Requirement()
	if operational && req.Module != "" && !req.Strict {
		req = access.RequireModule(req.Module)
	}
	return access.Evaluate(snap, req).Allowed()
}
