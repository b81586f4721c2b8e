/*
Package memory provides an in-memory Store implementation.

PURPOSE:
  Backs tests and local development without a database file. Behaviour
  mirrors store/sqlite: same uniqueness failures, same version guard,
  same ordering guarantees.

TRANSACTIONS:
  WithTx clones the whole state, runs the closure against the clone, and
  swaps the clone in only on success. Ledgers are small; copying them
  wholesale is cheaper than being clever.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/saleemdev/toil-engine/toil"
)

// Store is an in-memory implementation of toil.TxStore.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	timesheets     map[toil.TimesheetID]toil.Timesheet
	entries        map[toil.EntryID]toil.AccrualEntry
	entryBySheet   map[toil.TimesheetID]toil.EntryID
	allocations    []toil.ConsumptionAllocation
	decisions      []toil.ApprovalDecision
	employees      map[toil.EmployeeID]toil.Employee
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		timesheets:   make(map[toil.TimesheetID]toil.Timesheet),
		entries:      make(map[toil.EntryID]toil.AccrualEntry),
		entryBySheet: make(map[toil.TimesheetID]toil.EntryID),
		employees:    make(map[toil.EmployeeID]toil.Employee),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.timesheets {
		c.timesheets[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.entryBySheet {
		c.entryBySheet[k] = v
	}
	for k, v := range s.employees {
		c.employees[k] = v
	}
	c.allocations = append(c.allocations, s.allocations...)
	c.decisions = append(c.decisions, s.decisions...)
	return c
}

// =============================================================================
// TIMESHEETS
// =============================================================================

func (s *Store) SaveTimesheet(_ context.Context, ts toil.Timesheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Re-registration keeps the workflow status: the external system only
	// owns the snapshot fields, never toil_status.
	if existing, ok := s.state.timesheets[ts.ID]; ok {
		ts.TOILStatus = existing.TOILStatus
	}
	s.state.timesheets[ts.ID] = ts
	return nil
}

func (s *Store) GetTimesheet(_ context.Context, id toil.TimesheetID) (*toil.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.state.timesheets[id]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (s *Store) SetTOILStatus(_ context.Context, id toil.TimesheetID, status toil.TOILStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.state.timesheets[id]
	if !ok {
		return &toil.NotFoundError{Kind: "timesheet", ID: string(id)}
	}
	ts.TOILStatus = status
	s.state.timesheets[id] = ts
	return nil
}

// =============================================================================
// ACCRUAL ENTRIES
// =============================================================================

func (s *Store) InsertEntry(_ context.Context, e toil.AccrualEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.entryBySheet[e.TimesheetID]; exists {
		return toil.ErrDuplicateAccrual
	}
	s.state.entries[e.ID] = e
	s.state.entryBySheet[e.TimesheetID] = e.ID
	return nil
}

func (s *Store) GetEntry(_ context.Context, id toil.EntryID) (*toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) GetEntryByTimesheet(_ context.Context, id toil.TimesheetID) (*toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entryID, ok := s.state.entryBySheet[id]
	if !ok {
		return nil, nil
	}
	e := s.state.entries[entryID]
	return &e, nil
}

func (s *Store) ListEntriesByEmployee(_ context.Context, id toil.EmployeeID) ([]toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.AccrualEntry
	for _, e := range s.state.entries {
		if e.EmployeeID == id {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) ListExpirableEntries(_ context.Context, asOf time.Time) ([]toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.AccrualEntry
	for _, e := range s.state.entries {
		if e.ExpiredAsOf(asOf) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) UpdateEntry(_ context.Context, e toil.AccrualEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.entries[e.ID]
	if !ok {
		return &toil.NotFoundError{Kind: "entry", ID: string(e.ID)}
	}
	if current.Version != e.Version {
		return toil.ErrConcurrencyConflict
	}
	e.Version++
	s.state.entries[e.ID] = e
	return nil
}

func sortEntries(entries []toil.AccrualEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AccrualDate.Equal(entries[j].AccrualDate) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].AccrualDate.Before(entries[j].AccrualDate)
	})
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (s *Store) InsertAllocation(_ context.Context, a toil.ConsumptionAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.allocations = append(s.state.allocations, a)
	return nil
}

func (s *Store) ListAllocationsByEmployee(_ context.Context, id toil.EmployeeID) ([]toil.ConsumptionAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []toil.ConsumptionAllocation
	for _, a := range s.state.allocations {
		if a.EmployeeID == id {
			out = append(out, a)
		}
	}
	return out, nil
}

// =============================================================================
// DECISIONS
// =============================================================================

func (s *Store) InsertDecision(_ context.Context, d toil.ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.state.decisions {
		if existing.TimesheetID == d.TimesheetID && existing.Active {
			return toil.ErrAlreadyDecided
		}
	}
	s.state.decisions = append(s.state.decisions, d)
	return nil
}

func (s *Store) GetActiveDecision(_ context.Context, id toil.TimesheetID) (*toil.ApprovalDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.state.decisions {
		if d.TimesheetID == id && d.Active {
			out := d
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) DeactivateDecisions(_ context.Context, id toil.TimesheetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.decisions {
		if s.state.decisions[i].TimesheetID == id {
			s.state.decisions[i].Active = false
		}
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(_ context.Context, e toil.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.employees[e.ID] = e
	return nil
}

func (s *Store) GetEmployee(_ context.Context, id toil.EmployeeID) (*toil.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.employees[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// =============================================================================
// TRANSACTIONS - clone, run, swap
// =============================================================================

// WithTx runs fn against a cloned state and swaps the clone in on
// success. Failure leaves the original state untouched.
func (s *Store) WithTx(ctx context.Context, fn func(toil.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scratch := &Store{state: s.state.clone()}
	if err := fn(scratch); err != nil {
		return err
	}
	s.state = scratch.state
	return nil
}

var _ toil.TxStore = (*Store)(nil)
