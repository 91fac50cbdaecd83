// Package tracking holds the run-scoped set of apps and depots touched
// during a single orchestrator invocation. It is deliberately not
// persisted: spec.md's Open Question on where "touched" state lives is
// resolved (DESIGN.md decision 1) in favor of a set that starts empty
// every run rather than a field carried on the account record, so the
// record never grows unboundedly across runs.
//
// Generalized from the teacher's internal/repo.CIDSet, which is the same
// mutex-guarded map[string]struct{} shape specialized to CIDs.
package tracking

import (
	"iter"
	"sync"
)

// Set is a concurrency-safe set of comparable values.
type Set[T comparable] struct {
	mu   sync.Mutex
	vals map[T]struct{}
}

// NewSet returns an empty set, optionally seeded with initial values.
func NewSet[T comparable](initial ...T) *Set[T] {
	vals := make(map[T]struct{}, len(initial))
	for _, v := range initial {
		vals[v] = struct{}{}
	}
	return &Set[T]{vals: vals}
}

// Add inserts v into the set.
func (s *Set[T]) Add(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[v] = struct{}{}
}

// Has reports whether v is in the set.
func (s *Set[T]) Has(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.vals[v]
	return ok
}

// Size returns the number of elements in the set.
func (s *Set[T]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vals)
}

// ToSlice returns the set's elements in unspecified order.
func (s *Set[T]) ToSlice() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.vals))
	for v := range s.vals {
		out = append(out, v)
	}
	return out
}

// Iter yields the set's elements in unspecified order.
func (s *Set[T]) Iter() iter.Seq[T] {
	return func(yield func(T) bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		for v := range s.vals {
			if !yield(v) {
				return
			}
		}
	}
}

// AppDepot identifies a single depot within an app, the granularity the
// archive's tracking report (spec.md §4.3, report_tracking_status) is
// keyed on.
type AppDepot struct {
	AppID   uint32
	DepotID uint32
}

// Report is the run-scoped record of what was touched, consulted by the
// orchestrator at the end of a run to render the tracking summary.
type Report struct {
	apps   *Set[uint32]
	depots *Set[AppDepot]
}

// NewReport returns an empty Report.
func NewReport() *Report {
	return &Report{apps: NewSet[uint32](), depots: NewSet[AppDepot]()}
}

// TouchApp records that appID was enumerated this run.
func (r *Report) TouchApp(appID uint32) { r.apps.Add(appID) }

// TouchDepot records that depotID under appID had a manifest written (or
// confirmed present) this run.
func (r *Report) TouchDepot(appID, depotID uint32) {
	r.apps.Add(appID)
	r.depots.Add(AppDepot{AppID: appID, DepotID: depotID})
}

// TouchedApp reports whether appID was touched this run.
func (r *Report) TouchedApp(appID uint32) bool { return r.apps.Has(appID) }

// TouchedDepot reports whether depotID under appID was touched this run.
func (r *Report) TouchedDepot(appID, depotID uint32) bool {
	return r.depots.Has(AppDepot{AppID: appID, DepotID: depotID})
}

// Apps returns every touched app id, unspecified order.
func (r *Report) Apps() []uint32 { return r.apps.ToSlice() }

// Depots returns every touched (app, depot) pair, unspecified order.
func (r *Report) Depots() []AppDepot { return r.depots.ToSlice() }
