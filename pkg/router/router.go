// Package router maps logical task types to a preferred provider and an
// ordered fallback chain. Resolution is a pure lookup against an immutable
// snapshot: it performs no I/O and cannot fail transiently. The table can be
// swapped out-of-band on config reload, but a route already resolved for a
// request never changes under it.
package router

import (
	"sync/atomic"
	"time"

	"github.com/treadworks/tiregen/pkg/errors"
)

// DefaultTimeout applies to routes without an explicit per-attempt timeout.
const DefaultTimeout = 60 * time.Second

// Candidate is one provider/model pair in a fallback chain.
type Candidate struct {
	Provider string
	Model    string
}

// Route is the immutable routing decision for one task type. The preferred
// candidate is always tried first, then fallbacks strictly in order: no
// load balancing, no cost-based reordering, so behavior stays auditable.
type Route struct {
	Task       string
	Preferred  Candidate
	Fallbacks  []Candidate
	Timeout    time.Duration // per-attempt deadline
	CeilingUSD float64       // per-route daily ceiling override, 0 = none
}

// Candidates returns the full attempt order: preferred, then fallbacks.
func (r Route) Candidates() []Candidate {
	out := make([]Candidate, 0, 1+len(r.Fallbacks))
	out = append(out, r.Preferred)
	out = append(out, r.Fallbacks...)
	return out
}

// Table holds the routing configuration. Reads and swaps are lock-free.
type Table struct {
	routes atomic.Pointer[map[string]Route]
}

// NewTable creates a table from the given routes.
func NewTable(routes []Route) *Table {
	t := &Table{}
	t.Replace(routes)
	return t
}

// Replace atomically swaps in a new route set. In-flight requests keep the
// snapshot they already resolved.
func (t *Table) Replace(routes []Route) {
	m := make(map[string]Route, len(routes))
	for _, r := range routes {
		if r.Timeout <= 0 {
			r.Timeout = DefaultTimeout
		}
		m[r.Task] = r
	}
	t.routes.Store(&m)
}

// Resolve returns the route for a task type. A missing task type is a
// configuration bug and fails fatally before any network activity.
func (t *Table) Resolve(task string) (Route, error) {
	m := t.routes.Load()
	if m != nil {
		if r, ok := (*m)[task]; ok {
			// Copy the fallback slice so callers cannot mutate the table.
			fallbacks := make([]Candidate, len(r.Fallbacks))
			copy(fallbacks, r.Fallbacks)
			r.Fallbacks = fallbacks
			return r, nil
		}
	}
	return Route{}, &errors.UnknownTaskError{Task: task}
}

// Tasks returns every configured task type.
func (t *Table) Tasks() []string {
	m := t.routes.Load()
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(*m))
	for task := range *m {
		out = append(out, task)
	}
	return out
}
