/*
allocator.go - FIFO consumption of leave credit

PURPOSE:
  Debits a requested number of days against an employee's eligible lots,
  oldest first. Either the whole request lands or nothing does.

ORDERING:
  FIFO by accrual_date ascending, tie-broken by entry id, so soon-to-
  expire credit is spent before fresh credit and the same ledger state
  always produces the same split. The store returns entries in exactly
  this order; the allocator re-sorts anyway so correctness never depends
  on a storage detail.

ALL-OR-NOTHING:
  The plan is computed first against a snapshot of the eligible lots.
  Only a fully-covered plan is applied, and the application (N entry
  decrements + one allocation record) runs inside a single store
  transaction. An insufficient balance mutates nothing.

CONFLICTS:
  Every decrement is version-guarded. When a sweep or a second consumer
  races in between snapshot and write, the guarded update fails and the
  whole transaction is retried from a fresh snapshot, up to the engine's
  retry bound.
*/
package toil

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Consume debits requestedDays from the employee's eligible lots and
// records the allocation. Returns the immutable allocation record.
func (e *Engine) Consume(ctx context.Context, employee EmployeeID, requestedDays decimal.Decimal, reason string) (*ConsumptionAllocation, error) {
	if employee == "" {
		return nil, &ValidationError{Field: "employee_id", Reason: "is required"}
	}
	if !requestedDays.IsPositive() {
		return nil, &ValidationError{Field: "days", Reason: "must be positive"}
	}

	mu := e.locks.forEmployee(employee)
	mu.Lock()
	defer mu.Unlock()

	var result *ConsumptionAllocation
	var err error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		result, err = e.consumeOnce(ctx, employee, requestedDays, reason)
		if err == nil || !errors.Is(err, ErrConcurrencyConflict) {
			return result, err
		}
	}
	return nil, err
}

func (e *Engine) consumeOnce(ctx context.Context, employee EmployeeID, requestedDays decimal.Decimal, reason string) (*ConsumptionAllocation, error) {
	now := e.now()
	var allocation *ConsumptionAllocation

	err := e.store.WithTx(ctx, func(s Store) error {
		entries, err := s.ListEntriesByEmployee(ctx, employee)
		if err != nil {
			return err
		}

		eligible := filterEligible(entries, now)
		lines, err := planFIFO(eligible, employee, requestedDays)
		if err != nil {
			return err
		}

		// Apply the plan: decrement each touched lot under its version
		// guard, then record the allocation.
		byID := entriesByID(eligible)
		for _, line := range lines {
			entry := byID[line.EntryID]
			entry.RemainingDays = entry.RemainingDays.Sub(line.DaysTaken)
			if entry.RemainingDays.IsZero() {
				entry.Status = EntryConsumed
			} else {
				entry.Status = EntryPartiallyConsumed
			}
			if err := s.UpdateEntry(ctx, entry); err != nil {
				return err
			}
		}

		record := ConsumptionAllocation{
			ID:            AllocationID(uuid.NewString()),
			EmployeeID:    employee,
			RequestedDays: requestedDays,
			Lines:         lines,
			Reason:        reason,
			CreatedAt:     now,
		}
		if err := s.InsertAllocation(ctx, record); err != nil {
			return err
		}
		allocation = &record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

// =============================================================================
// PLANNING
// =============================================================================

// filterEligible keeps lots that can legally be debited as of asOf.
func filterEligible(entries []AccrualEntry, asOf time.Time) []AccrualEntry {
	var out []AccrualEntry
	for _, entry := range entries {
		if entry.Eligible(asOf) {
			out = append(out, entry)
		}
	}
	return out
}

// planFIFO computes the split without touching anything. Oldest lot
// first, ties broken by entry id.
func planFIFO(eligible []AccrualEntry, employee EmployeeID, requestedDays decimal.Decimal) ([]AllocationLine, error) {
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].AccrualDate.Equal(eligible[j].AccrualDate) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].AccrualDate.Before(eligible[j].AccrualDate)
	})

	available := decimal.Zero
	for _, entry := range eligible {
		available = available.Add(entry.RemainingDays)
	}
	if available.LessThan(requestedDays) {
		return nil, &InsufficientBalanceError{
			EmployeeID: employee,
			Available:  available.String(),
			Requested:  requestedDays.String(),
			Shortfall:  requestedDays.Sub(available).String(),
		}
	}

	var lines []AllocationLine
	outstanding := requestedDays
	for _, entry := range eligible {
		if outstanding.IsZero() {
			break
		}
		take := decimal.Min(entry.RemainingDays, outstanding)
		lines = append(lines, AllocationLine{EntryID: entry.ID, DaysTaken: take})
		outstanding = outstanding.Sub(take)
	}
	return lines, nil
}

func entriesByID(entries []AccrualEntry) map[EntryID]AccrualEntry {
	m := make(map[EntryID]AccrualEntry, len(entries))
	for _, entry := range entries {
		m[entry.ID] = entry
	}
	return m
}
