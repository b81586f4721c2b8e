/*
errors.go - Centralized error types for the ledger/approval engine

PURPOSE:
  All engine errors in one place. Handlers map these onto HTTP status
  codes; callers branch with errors.Is/errors.As.

ERROR CATEGORIES:
  1. Input errors       - malformed or missing request data
  2. Workflow errors    - operation illegal from the current status
  3. Ledger errors      - duplicate lots, insufficient balance
  4. Concurrency errors - version conflicts (retryable)

USAGE:
  if errors.Is(err, toil.ErrInsufficientBalance) { ... }

  var conflict *toil.InsufficientBalanceError
  if errors.As(err, &conflict) {
      log.Printf("short by %s days", conflict.Shortfall)
  }

SEE ALSO:
  - approval.go, allocator.go, sweeper.go: producers
  - api/handlers.go: HTTP status mapping
*/
package toil

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input, such as an
	// empty rejection reason or a non-positive consumption request.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidStateTransition is returned when an operation is not legal
	// from the timesheet's current workflow status.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrSelfApproval is returned when an employee tries to decide their
	// own timesheet. Enforced inside the engine regardless of what the
	// authorization edge allows.
	ErrSelfApproval = errors.New("self approval not permitted")

	// ErrNotAuthorized is returned when an approver is not entitled to
	// decide a timesheet, such as a non-supervisor at the HTTP edge.
	ErrNotAuthorized = errors.New("approver not authorized")

	// ErrAlreadyDecided is returned when a timesheet's current submission
	// cycle already carries an active decision.
	ErrAlreadyDecided = errors.New("timesheet already decided")

	// ErrDuplicateAccrual is returned when a second accrual entry would be
	// minted for the same timesheet. Guards double-approval races.
	ErrDuplicateAccrual = errors.New("accrual entry already exists for timesheet")

	// ErrInsufficientBalance is returned when eligible remaining days do
	// not cover a consumption request. Nothing is mutated in that case.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrConcurrencyConflict is returned when a version-guarded update
	// lost a race. The engine retries internally a bounded number of
	// times before surfacing it; callers may retry after that.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrNotFound is returned when a referenced timesheet, entry or
	// employee does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateTransitionError reports the status an operation found versus what
// it required.
type StateTransitionError struct {
	TimesheetID TimesheetID
	From        TOILStatus
	Operation   string
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s timesheet %s from status %q", e.Operation, e.TimesheetID, e.From)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

// SelfApprovalError identifies the employee who tried to decide their own
// submission.
type SelfApprovalError struct {
	TimesheetID TimesheetID
	EmployeeID  EmployeeID
}

func (e *SelfApprovalError) Error() string {
	return fmt.Sprintf("employee %s cannot decide own timesheet %s", e.EmployeeID, e.TimesheetID)
}

func (e *SelfApprovalError) Unwrap() error { return ErrSelfApproval }

// NotAuthorizedError identifies an approver who is not entitled to decide
// the timesheet.
type NotAuthorizedError struct {
	TimesheetID TimesheetID
	ApproverID  EmployeeID
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("employee %s is not authorized to decide timesheet %s", e.ApproverID, e.TimesheetID)
}

func (e *NotAuthorizedError) Unwrap() error { return ErrNotAuthorized }

// AlreadyDecidedError carries the decision that blocked a second verdict.
type AlreadyDecidedError struct {
	TimesheetID TimesheetID
	DecidedBy   EmployeeID
	Decision    Decision
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("timesheet %s already %s by %s", e.TimesheetID, e.Decision, e.DecidedBy)
}

func (e *AlreadyDecidedError) Unwrap() error { return ErrAlreadyDecided }

// DuplicateAccrualError names the entry that already covers the timesheet.
type DuplicateAccrualError struct {
	TimesheetID     TimesheetID
	ExistingEntryID EntryID
}

func (e *DuplicateAccrualError) Error() string {
	return fmt.Sprintf("timesheet %s already accrued as entry %s", e.TimesheetID, e.ExistingEntryID)
}

func (e *DuplicateAccrualError) Unwrap() error { return ErrDuplicateAccrual }

// InsufficientBalanceError reports the shortage in detail.
type InsufficientBalanceError struct {
	EmployeeID EmployeeID
	Available  string
	Requested  string
	Shortfall  string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s, short %s",
		e.EmployeeID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "timesheet", "entry", "employee"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether the operation might succeed if repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError reports whether the error is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrSelfApproval) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrDuplicateAccrual) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
