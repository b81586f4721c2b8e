/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines the contract between the engine and storage. Two implementations
  exist: store/sqlite (production) and store/memory (tests/dev).

APPEND-MOSTLY CONTRACT:
  - accrual_entries: inserted once per approved timesheet, never deleted.
    Only remaining_days, forfeited_days, status and version may change,
    and only through UpdateEntry's version-guarded write.
  - consumption_allocations: insert-only, immutable after creation.
  - approval_decisions: insert-only; a decision is deactivated (not
    deleted) when a rejected timesheet re-enters the workflow.

OPTIMISTIC CONCURRENCY:
  UpdateEntry must compare the stored version against entry.Version and
  fail with ErrConcurrencyConflict when another writer got there first.
  The winning write bumps the version by one.

ATOMICITY:
  WithTx runs a function against a transactional view of the store.
  Approve (decision + entry + status) and Consume (N entry updates + one
  allocation) depend on it: either everything in the closure commits or
  nothing does.

SEE ALSO:
  - store/sqlite/sqlite.go: production implementation
  - store/memory/memory.go: in-memory implementation
*/
package toil

import (
	"context"
	"time"
)

// Store is the persistence contract for the ledger and workflow records.
type Store interface {
	// --- Timesheets ---

	// SaveTimesheet registers a submitted timesheet snapshot. Upserts so
	// the external system can re-push unchanged snapshots harmlessly.
	SaveTimesheet(ctx context.Context, ts Timesheet) error

	// GetTimesheet returns nil (no error) when the id is unknown.
	GetTimesheet(ctx context.Context, id TimesheetID) (*Timesheet, error)

	// SetTOILStatus moves a timesheet through the workflow. The only
	// timesheet field the engine ever writes.
	SetTOILStatus(ctx context.Context, id TimesheetID, status TOILStatus) error

	// --- Accrual entries ---

	// InsertEntry mints a lot. Fails with ErrDuplicateAccrual when the
	// timesheet already has one (unique constraint).
	InsertEntry(ctx context.Context, e AccrualEntry) error

	GetEntry(ctx context.Context, id EntryID) (*AccrualEntry, error)

	// GetEntryByTimesheet returns nil (no error) when no lot exists.
	GetEntryByTimesheet(ctx context.Context, id TimesheetID) (*AccrualEntry, error)

	// ListEntriesByEmployee returns all lots for an employee ordered by
	// accrual_date ascending, entry id ascending. The allocator depends
	// on this ordering being deterministic.
	ListEntriesByEmployee(ctx context.Context, id EmployeeID) ([]AccrualEntry, error)

	// ListExpirableEntries returns lots with expiry_date before asOf and
	// remaining_days > 0, across all employees.
	ListExpirableEntries(ctx context.Context, asOf time.Time) ([]AccrualEntry, error)

	// UpdateEntry writes remaining_days, forfeited_days and status,
	// guarded by e.Version. On success the stored version is e.Version+1.
	// Fails with ErrConcurrencyConflict on a version mismatch.
	UpdateEntry(ctx context.Context, e AccrualEntry) error

	// --- Consumption allocations ---

	InsertAllocation(ctx context.Context, a ConsumptionAllocation) error

	ListAllocationsByEmployee(ctx context.Context, id EmployeeID) ([]ConsumptionAllocation, error)

	// --- Approval decisions ---

	// InsertDecision records a verdict. Fails with ErrAlreadyDecided when
	// an active decision already exists for the timesheet.
	InsertDecision(ctx context.Context, d ApprovalDecision) error

	// GetActiveDecision returns nil (no error) when the current cycle has
	// no verdict yet.
	GetActiveDecision(ctx context.Context, id TimesheetID) (*ApprovalDecision, error)

	// DeactivateDecisions closes out prior verdicts when a rejected
	// timesheet is resubmitted. Rows are kept for audit.
	DeactivateDecisions(ctx context.Context, id TimesheetID) error

	// --- Employees ---

	SaveEmployee(ctx context.Context, e Employee) error

	// GetEmployee returns nil (no error) when the id is unknown.
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
}

// TxStore adds transactional execution on top of Store.
type TxStore interface {
	Store

	// WithTx executes fn against a transactional store view. fn returning
	// an error rolls everything back; nil commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}
