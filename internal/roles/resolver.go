// Package roles validates role selections against the fixed installation
// order and the indexer/manager coupling, and produces the deterministic
// execution sequence for a deployment.
package roles

import "sort"

// Default role identifiers. The order is the installation order: cleanup
// and shared groundwork first, then the data plane, control plane, and
// UI, hardening last.
const (
	Cleanup   = "cleanup"
	Common    = "common"
	Indexer   = "indexer"
	Manager   = "manager"
	Dashboard = "dashboard"
	Firewall  = "firewall"
	IPS       = "ips"
)

// DefaultOrder is the fixed total installation order.
var DefaultOrder = []string{Cleanup, Common, Indexer, Manager, Dashboard, Firewall, IPS}

// Resolver normalizes role sets and orders them for execution.
type Resolver struct {
	order   []string
	index   map[string]int
	coupleA string
	coupleB string
}

// New creates a resolver over the given total order. The indexer and
// manager roles form a mutually dependent pair: neither runs without
// the other.
func New(order []string) *Resolver {
	if len(order) == 0 {
		order = DefaultOrder
	}
	index := make(map[string]int, len(order))
	for i, r := range order {
		index[r] = i
	}
	return &Resolver{
		order:   order,
		index:   index,
		coupleA: Indexer,
		coupleB: Manager,
	}
}

// SetCoupling overrides the mutually dependent pair.
func (r *Resolver) SetCoupling(a, b string) {
	r.coupleA, r.coupleB = a, b
}

// Known reports whether the role appears in the installation order.
func (r *Resolver) Known(role string) bool {
	_, ok := r.index[role]
	return ok
}

// Order returns the fixed total order.
func (r *Resolver) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Normalize applies the coupling rule to a selection after one role was
// toggled. It reacts only to the toggled role — the coupling propagates
// exactly one hop, so toggling an uncoupled role never cascades.
func (r *Resolver) Normalize(selected map[string]bool, toggled string, turningOn bool) map[string]bool {
	out := make(map[string]bool, len(selected))
	for role, on := range selected {
		if on {
			out[role] = true
		}
	}

	if turningOn {
		out[toggled] = true
	} else {
		delete(out, toggled)
	}

	partner := ""
	switch toggled {
	case r.coupleA:
		partner = r.coupleB
	case r.coupleB:
		partner = r.coupleA
	}
	if partner != "" {
		if turningOn {
			out[partner] = true
		} else {
			delete(out, partner)
		}
	}

	return out
}

// ExecutionOrder filters the enabled set down the fixed total order.
// Selection order is irrelevant: positions in the result are strictly
// increasing indices into the total order. Enabled roles that are not in
// the order are appended last, sorted by name, so a config typo surfaces
// at the end of the run rather than silently vanishing.
func (r *Resolver) ExecutionOrder(enabled map[string]bool) []string {
	var out []string
	for _, role := range r.order {
		if enabled[role] {
			out = append(out, role)
		}
	}

	var unknown []string
	for role, on := range enabled {
		if on && !r.Known(role) {
			unknown = append(unknown, role)
		}
	}
	sort.Strings(unknown)
	return append(out, unknown...)
}
