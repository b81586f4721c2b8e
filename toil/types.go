/*
Package toil implements a compensatory-time (time off in lieu) ledger
and approval engine.

PURPOSE:
  Turns approved non-billable timesheet hours into spendable leave credit,
  tracked as individual accrual lots with their own remaining balance and
  optional expiry. The engine owns four cooperating pieces:
  - Approval state machine: who may turn a submitted timesheet into credit
  - Accrual service: hours -> days conversion and lot minting
  - Consumption allocator: FIFO debit of lots when leave is taken
  - Expiry sweeper: forfeiture of remaining balance on stale lots

KEY CONCEPTS IN THIS FILE (types.go):
  - Timesheet: the submitted, immutable input record (owned externally;
    the engine only mutates its toil_status)
  - AccrualEntry: one lot of granted credit tied to one approved timesheet
  - ConsumptionAllocation: the audit record of one leave debit
  - ApprovalDecision: one approve/reject verdict per submission cycle

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every day quantity - no float drift
  2. Append-mostly: entries are never deleted; only remaining_days,
     status, forfeited_days and version ever change after creation
  3. Derived balance: no stored "current balance" field anywhere;
     balance is always recomputed from entry rows
  4. One invariant above all: for every entry,
     accrued_days = remaining_days + consumed + forfeited_days

SEE ALSO:
  - accrual.go:   lot minting and expiry policy
  - approval.go:  Submit/Approve/Reject state machine
  - allocator.go: FIFO consumption
  - sweeper.go:   expiry forfeiture
  - balance.go:   read-side aggregation
*/
package toil

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type TimesheetID string
type EntryID string
type AllocationID string
type DecisionID string

// =============================================================================
// TIMESHEET - Submitted input record (owned by the external system)
// =============================================================================

// DocStatus mirrors the external document lifecycle.
type DocStatus int

const (
	DocStatusDraft     DocStatus = 0
	DocStatusSubmitted DocStatus = 1
	DocStatusCancelled DocStatus = 2
)

// TOILStatus is the timesheet's position in the compensatory-time workflow.
type TOILStatus string

const (
	StatusDraft          TOILStatus = "draft"
	StatusPendingAccrual TOILStatus = "pending_accrual"
	StatusAccrued        TOILStatus = "accrued"
	StatusPartiallyUsed  TOILStatus = "partially_used"
	StatusFullyUsed      TOILStatus = "fully_used"
	StatusRejected       TOILStatus = "rejected"
)

// Timesheet is the snapshot the engine receives once the external system
// submits it. The engine never edits period or hour fields; it only moves
// TOILStatus through the workflow.
type Timesheet struct {
	ID          TimesheetID
	EmployeeID  EmployeeID
	PeriodStart time.Time
	PeriodEnd   time.Time
	TotalHours  decimal.Decimal
	TOILHours   decimal.Decimal
	DocStatus   DocStatus
	TOILStatus  TOILStatus
	CreatedAt   time.Time
}

// Submittable reports whether the record qualifies for the workflow at all:
// it must be a submitted document carrying positive compensatory hours.
func (t *Timesheet) Submittable() bool {
	return t.DocStatus == DocStatusSubmitted && t.TOILHours.IsPositive()
}

// =============================================================================
// ACCRUAL ENTRY - One lot of granted credit
// =============================================================================

// EntryStatus tracks a lot's consumption lifecycle.
type EntryStatus string

const (
	EntryActive            EntryStatus = "active"
	EntryPartiallyConsumed EntryStatus = "partially_consumed"
	EntryConsumed          EntryStatus = "consumed"
	EntryExpired           EntryStatus = "expired"
)

// AccrualEntry is one unit of granted credit. AccruedDays is immutable
// once minted; RemainingDays only ever decreases; ForfeitedDays only ever
// increases (set by the sweeper). Version guards concurrent updates.
type AccrualEntry struct {
	ID            EntryID
	EmployeeID    EmployeeID
	TimesheetID   TimesheetID
	AccruedDays   decimal.Decimal
	RemainingDays decimal.Decimal
	ForfeitedDays decimal.Decimal
	AccrualDate   time.Time
	ExpiryDate    *time.Time // nil = never forfeits
	Status        EntryStatus
	Version       int64
	CreatedAt     time.Time
}

// ConsumedDays is derived, never stored: whatever left the lot that was
// not forfeited.
func (e *AccrualEntry) ConsumedDays() decimal.Decimal {
	return e.AccruedDays.Sub(e.RemainingDays).Sub(e.ForfeitedDays)
}

// Eligible reports whether the lot can be debited as of the given time.
func (e *AccrualEntry) Eligible(asOf time.Time) bool {
	if e.Status != EntryActive && e.Status != EntryPartiallyConsumed {
		return false
	}
	if e.ExpiryDate != nil && !e.ExpiryDate.After(asOf) {
		return false
	}
	return e.RemainingDays.IsPositive()
}

// ExpiredAsOf reports whether the sweeper should forfeit this lot.
func (e *AccrualEntry) ExpiredAsOf(asOf time.Time) bool {
	return e.ExpiryDate != nil && e.ExpiryDate.Before(asOf) && e.RemainingDays.IsPositive()
}

// UsageStatus maps the lot's consumption state onto the workflow status a
// reader expects to see on the originating timesheet. Approval history is
// never rewritten in storage; this derivation happens at the read edge.
func (e *AccrualEntry) UsageStatus() TOILStatus {
	switch e.Status {
	case EntryConsumed:
		return StatusFullyUsed
	case EntryPartiallyConsumed:
		return StatusPartiallyUsed
	default:
		return StatusAccrued
	}
}

// =============================================================================
// CONSUMPTION ALLOCATION - Audit record of one leave debit
// =============================================================================

// AllocationLine records how much of one debit landed on one lot.
type AllocationLine struct {
	EntryID   EntryID
	DaysTaken decimal.Decimal
}

// ConsumptionAllocation is written atomically with the entry decrements it
// describes, and is immutable thereafter.
type ConsumptionAllocation struct {
	ID            AllocationID
	EmployeeID    EmployeeID
	RequestedDays decimal.Decimal
	Lines         []AllocationLine
	Reason        string
	CreatedAt     time.Time
}

// =============================================================================
// APPROVAL DECISION - One verdict per submission cycle
// =============================================================================

type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalDecision records who decided a submitted timesheet, and how.
// At most one ACTIVE decision exists per timesheet; resubmitting a
// rejected timesheet deactivates the old verdict and opens a new cycle.
type ApprovalDecision struct {
	ID          DecisionID
	TimesheetID TimesheetID
	ApproverID  EmployeeID
	Decision    Decision
	Comment     string
	DecidedAt   time.Time
	Active      bool
}

// =============================================================================
// EMPLOYEE - Minimal identity record for the authorization edge
// =============================================================================

// Employee exists so the HTTP layer can answer "is this caller the
// employee's supervisor?". The engine itself only needs EmployeeID.
type Employee struct {
	ID           EmployeeID
	Name         string
	Email        string
	SupervisorID EmployeeID // empty = no supervisor on record
	CreatedAt    time.Time
}

// =============================================================================
// BALANCE - Computed read model (never stored)
// =============================================================================

// Balance is the aggregation over an employee's entries. Every field is
// recomputed on read; nothing here is persisted.
type Balance struct {
	EmployeeID     EmployeeID
	CurrentBalance decimal.Decimal
	TotalAccrued   decimal.Decimal
	TotalConsumed  decimal.Decimal
	TotalForfeited decimal.Decimal
	ExpiringSoon   decimal.Decimal // remaining days on lots expiring within the display horizon
	ExpiryDays     int             // days until the soonest upcoming expiry; 0 when none
	AsOf           time.Time
}

// SweepResult summarizes one forfeiture pass.
type SweepResult struct {
	AsOf           time.Time
	EntriesExpired int
	DaysForfeited  decimal.Decimal
}

// HoursPerDay is the fixed conversion base: eight compensatory hours earn
// one day of leave credit.
var HoursPerDay = decimal.NewFromInt(8)
