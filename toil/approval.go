/*
approval.go - Timesheet workflow state machine

PURPOSE:
  Governs how a submitted timesheet becomes (or fails to become) leave
  credit. The transitions:

    draft ──Submit──> pending_accrual ──Approve──> accrued
                             │
                             └──Reject──> rejected ──Submit──> pending_accrual

  accrued -> partially_used -> fully_used is driven by consumption, not
  by external calls, and is derived on read (see types.UsageStatus).

RULES:
  - Submit requires docstatus=1 and toil_hours > 0. Resubmitting an
    already-pending timesheet is a no-op, not an error.
  - A rejected timesheet may re-enter the workflow: its old decision is
    deactivated (kept for audit) and a fresh cycle begins.
  - One active decision per cycle. Two racing approvers: exactly one
    verdict lands, the other gets AlreadyDecidedError.
  - Nobody decides their own timesheet, whatever the authorization edge
    above the engine says.
  - Approve commits the decision, the minted lot and the status change as
    one unit. A decision without a lot (or the reverse) cannot exist.

SEE ALSO:
  - accrual.go: lot minting invoked on approval
  - store.go:   WithTx, InsertDecision, InsertEntry contracts
*/
package toil

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// REGISTRATION - External system pushes a submitted snapshot
// =============================================================================

// RegisterTimesheet stores the snapshot the external timesheet system
// hands over. New records enter the workflow in draft.
func (e *Engine) RegisterTimesheet(ctx context.Context, ts Timesheet) error {
	if ts.ID == "" {
		return &ValidationError{Field: "timesheet_id", Reason: "is required"}
	}
	if ts.EmployeeID == "" {
		return &ValidationError{Field: "employee_id", Reason: "is required"}
	}
	if ts.TOILHours.IsNegative() {
		return &ValidationError{Field: "toil_hours", Reason: "must not be negative"}
	}
	if ts.TOILStatus == "" {
		ts.TOILStatus = StatusDraft
	}
	if ts.CreatedAt.IsZero() {
		ts.CreatedAt = e.now()
	}
	return e.store.SaveTimesheet(ctx, ts)
}

// =============================================================================
// SUBMIT
// =============================================================================

// Submit moves a timesheet into pending_accrual so a decision can be
// made on it. Idempotent for already-pending timesheets; legal again
// after a rejection (new cycle).
func (e *Engine) Submit(ctx context.Context, id TimesheetID) (*Timesheet, error) {
	var result *Timesheet

	err := e.store.WithTx(ctx, func(s Store) error {
		ts, err := s.GetTimesheet(ctx, id)
		if err != nil {
			return err
		}
		if ts == nil {
			return &NotFoundError{Kind: "timesheet", ID: string(id)}
		}

		if ts.DocStatus != DocStatusSubmitted {
			return &ValidationError{Field: "docstatus", Reason: "must be submitted (1)"}
		}
		if !ts.TOILHours.IsPositive() {
			return &ValidationError{Field: "toil_hours", Reason: "must be positive"}
		}

		switch ts.TOILStatus {
		case StatusPendingAccrual:
			// Resubmission of a pending timesheet is a no-op.
			result = ts
			return nil
		case StatusDraft:
			// fall through
		case StatusRejected:
			// New cycle: the old verdict stays on record but no longer
			// blocks a fresh decision.
			if err := s.DeactivateDecisions(ctx, id); err != nil {
				return err
			}
		default:
			return &StateTransitionError{TimesheetID: id, From: ts.TOILStatus, Operation: "submit"}
		}

		if err := s.SetTOILStatus(ctx, id, StatusPendingAccrual); err != nil {
			return err
		}
		ts.TOILStatus = StatusPendingAccrual
		result = ts
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// =============================================================================
// APPROVE
// =============================================================================

// Approve records the verdict and mints the lot atomically.
func (e *Engine) Approve(ctx context.Context, id TimesheetID, approver EmployeeID, comment string) (*AccrualEntry, error) {
	if approver == "" {
		return nil, &ValidationError{Field: "approver_id", Reason: "is required"}
	}

	var minted *AccrualEntry

	err := e.withEmployeeLockForTimesheet(ctx, id, func(_ *Timesheet) error {
		return e.store.WithTx(ctx, func(s Store) error {
			// Re-read inside the transaction; the pre-lock read only
			// located the employee to lock on.
			ts, err := s.GetTimesheet(ctx, id)
			if err != nil {
				return err
			}
			if ts == nil {
				return &NotFoundError{Kind: "timesheet", ID: string(id)}
			}
			if err := gateDecision(ts, approver, "approve"); err != nil {
				return err
			}
			if err := checkUndecided(ctx, s, ts); err != nil {
				return err
			}

			now := e.now()
			decision := ApprovalDecision{
				ID:          DecisionID(uuid.NewString()),
				TimesheetID: id,
				ApproverID:  approver,
				Decision:    DecisionApproved,
				Comment:     comment,
				DecidedAt:   now,
				Active:      true,
			}
			if err := s.InsertDecision(ctx, decision); err != nil {
				return wrapDecisionConflict(err, ts)
			}

			entry := Accrue(ts, e.policy, now)
			if err := s.InsertEntry(ctx, entry); err != nil {
				if errors.Is(err, ErrDuplicateAccrual) {
					existing, _ := s.GetEntryByTimesheet(ctx, id)
					dup := &DuplicateAccrualError{TimesheetID: id}
					if existing != nil {
						dup.ExistingEntryID = existing.ID
					}
					return dup
				}
				return err
			}

			if err := s.SetTOILStatus(ctx, id, StatusAccrued); err != nil {
				return err
			}
			minted = &entry
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// =============================================================================
// REJECT
// =============================================================================

// Reject records a rejection. A reason is mandatory; "no" without "why"
// is not a usable audit trail.
func (e *Engine) Reject(ctx context.Context, id TimesheetID, approver EmployeeID, reason string) error {
	if approver == "" {
		return &ValidationError{Field: "approver_id", Reason: "is required"}
	}
	if strings.TrimSpace(reason) == "" {
		return &ValidationError{Field: "reason", Reason: "is required"}
	}

	return e.withEmployeeLockForTimesheet(ctx, id, func(_ *Timesheet) error {
		return e.store.WithTx(ctx, func(s Store) error {
			ts, err := s.GetTimesheet(ctx, id)
			if err != nil {
				return err
			}
			if ts == nil {
				return &NotFoundError{Kind: "timesheet", ID: string(id)}
			}
			if err := gateDecision(ts, approver, "reject"); err != nil {
				return err
			}
			if err := checkUndecided(ctx, s, ts); err != nil {
				return err
			}

			decision := ApprovalDecision{
				ID:          DecisionID(uuid.NewString()),
				TimesheetID: id,
				ApproverID:  approver,
				Decision:    DecisionRejected,
				Comment:     reason,
				DecidedAt:   e.now(),
				Active:      true,
			}
			if err := s.InsertDecision(ctx, decision); err != nil {
				return wrapDecisionConflict(err, ts)
			}

			return s.SetTOILStatus(ctx, id, StatusRejected)
		})
	})
}

// =============================================================================
// SHARED GATES
// =============================================================================

// gateDecision enforces the preconditions common to approve and reject.
func gateDecision(ts *Timesheet, approver EmployeeID, op string) error {
	if ts.TOILStatus != StatusPendingAccrual {
		return &StateTransitionError{TimesheetID: ts.ID, From: ts.TOILStatus, Operation: op}
	}
	if approver == ts.EmployeeID {
		return &SelfApprovalError{TimesheetID: ts.ID, EmployeeID: approver}
	}
	return nil
}

// checkUndecided fails fast when the current cycle already has a verdict.
// The InsertDecision unique constraint is the authoritative guard; this
// read just produces the richer error in the common case.
func checkUndecided(ctx context.Context, s Store, ts *Timesheet) error {
	existing, err := s.GetActiveDecision(ctx, ts.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return &AlreadyDecidedError{
			TimesheetID: ts.ID,
			DecidedBy:   existing.ApproverID,
			Decision:    existing.Decision,
		}
	}
	return nil
}

// wrapDecisionConflict turns the store's constraint error into the
// detailed form when two deciders race past checkUndecided together.
func wrapDecisionConflict(err error, ts *Timesheet) error {
	if errors.Is(err, ErrAlreadyDecided) {
		return &AlreadyDecidedError{TimesheetID: ts.ID}
	}
	return err
}

// withEmployeeLockForTimesheet resolves the timesheet's employee, takes
// that employee's lock, and runs fn while holding it.
func (e *Engine) withEmployeeLockForTimesheet(ctx context.Context, id TimesheetID, fn func(*Timesheet) error) error {
	ts, err := e.store.GetTimesheet(ctx, id)
	if err != nil {
		return err
	}
	if ts == nil {
		return &NotFoundError{Kind: "timesheet", ID: string(id)}
	}

	mu := e.locks.forEmployee(ts.EmployeeID)
	mu.Lock()
	defer mu.Unlock()
	return fn(ts)
}
