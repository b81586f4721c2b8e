/*
engine.go - Composition root and concurrency discipline

PURPOSE:
  Engine wires the store, the accrual policy and the concurrency rules
  into one front door. Request handlers and the sweep scheduler only ever
  talk to Engine; they never reach into the store directly for writes.

CONCURRENCY MODEL:
  Two layers, deliberately redundant:
  1. A per-employee mutex serializes mutating operations that touch one
     employee's lots. Different employees never contend.
  2. Version-guarded entry updates in the store catch anything the mutex
     cannot see (a second process on the same database). A failed guard
     surfaces as ErrConcurrencyConflict, which Engine retries a bounded
     number of times before giving up.

  Sweep crosses employees, so it relies on the version guard alone plus
  per-entry retries; a day can be consumed or forfeited, never both,
  because both paths write through the same guarded update.

SEE ALSO:
  - approval.go, allocator.go, sweeper.go, balance.go: the operations
*/
package toil

import (
	"sync"
	"time"
)

// DefaultMaxRetries bounds internal retries on version conflicts.
const DefaultMaxRetries = 3

// Engine is the front door to the ledger.
type Engine struct {
	store      TxStore
	policy     AccrualPolicy
	maxRetries int

	// now is swappable for tests.
	now func() time.Time

	locks employeeLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxRetries bounds internal conflict retries.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// NewEngine creates an engine over the given store and policy.
func NewEngine(store TxStore, policy AccrualPolicy, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		policy:     policy,
		maxRetries: DefaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes read access for the HTTP layer's audit listings.
func (e *Engine) Store() TxStore { return e.store }

// =============================================================================
// PER-EMPLOYEE LOCKS
// =============================================================================

// employeeLocks hands out one mutex per employee id. Locks are never
// reclaimed; the universe of employees is small and bounded.
type employeeLocks struct {
	mu    sync.Mutex
	locks map[EmployeeID]*sync.Mutex
}

func (l *employeeLocks) forEmployee(id EmployeeID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks == nil {
		l.locks = make(map[EmployeeID]*sync.Mutex)
	}
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}
