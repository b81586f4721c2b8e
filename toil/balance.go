/*
balance.go - Read-side aggregation over the ledger

PURPOSE:
  Computes an employee's balance by folding over their entry rows at
  query time. There is deliberately no stored balance anywhere: a cached
  total was exactly the thing that drifted from the ledger's truth in the
  system this engine replaces.

TWO HORIZONS, TWO NUMBERS:
  - ExpiringSoon: remaining days on eligible lots whose expiry falls
    within the DISPLAY horizon (default 30 days). A warning, nothing
    more.
  - The accrual policy's expiry WINDOW (e.g. 365 days) decides when
    credit actually forfeits. Balance queries never read it.
*/
package toil

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultExpiringSoonDays is the display horizon for the expiring-soon
// warning when the caller does not override it.
const DefaultExpiringSoonDays = 30

// GetBalance aggregates the employee's ledger as of asOf. withinDays is
// the expiring-soon display horizon; pass 0 for the default.
func (e *Engine) GetBalance(ctx context.Context, employee EmployeeID, asOf time.Time, withinDays int) (*Balance, error) {
	if employee == "" {
		return nil, &ValidationError{Field: "employee_id", Reason: "is required"}
	}
	if withinDays <= 0 {
		withinDays = DefaultExpiringSoonDays
	}

	entries, err := e.store.ListEntriesByEmployee(ctx, employee)
	if err != nil {
		return nil, err
	}

	b := &Balance{
		EmployeeID:     employee,
		CurrentBalance: decimal.Zero,
		TotalAccrued:   decimal.Zero,
		TotalConsumed:  decimal.Zero,
		TotalForfeited: decimal.Zero,
		ExpiringSoon:   decimal.Zero,
		AsOf:           asOf,
	}

	horizon := asOf.AddDate(0, 0, withinDays)
	var nearest *time.Time

	for _, entry := range entries {
		b.TotalAccrued = b.TotalAccrued.Add(entry.AccruedDays)
		b.TotalConsumed = b.TotalConsumed.Add(entry.ConsumedDays())
		b.TotalForfeited = b.TotalForfeited.Add(entry.ForfeitedDays)

		if !entry.Eligible(asOf) {
			continue
		}
		b.CurrentBalance = b.CurrentBalance.Add(entry.RemainingDays)

		if entry.ExpiryDate == nil {
			continue
		}
		if entry.ExpiryDate.Before(horizon) {
			b.ExpiringSoon = b.ExpiringSoon.Add(entry.RemainingDays)
		}
		if nearest == nil || entry.ExpiryDate.Before(*nearest) {
			nearest = entry.ExpiryDate
		}
	}

	if nearest != nil {
		days := int(nearest.Sub(asOf).Hours() / 24)
		if days < 0 {
			days = 0
		}
		b.ExpiryDays = days
	}

	return b, nil
}

// TimesheetView resolves a timesheet together with its externally
// visible workflow status. For accrued timesheets the consumption state
// of the minted lot decides between accrued, partially_used and
// fully_used; stored approval history is never rewritten.
func (e *Engine) TimesheetView(ctx context.Context, id TimesheetID) (*Timesheet, error) {
	ts, err := e.store.GetTimesheet(ctx, id)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, &NotFoundError{Kind: "timesheet", ID: string(id)}
	}

	if ts.TOILStatus == StatusAccrued {
		entry, err := e.store.GetEntryByTimesheet(ctx, id)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			ts.TOILStatus = entry.UsageStatus()
		}
	}
	return ts, nil
}
