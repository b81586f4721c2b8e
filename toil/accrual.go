/*
accrual.go - Lot minting: approved hours become leave credit

PURPOSE:
  Converts a timesheet's compensatory hours into one AccrualEntry.
  Eight hours earn one day; the result is rounded to three decimal
  places and never changes afterwards.

EXPIRY POLICY:
  Whether a lot forfeits at all is a policy decision, not a property of
  the conversion. ExpiryWindowDays = 0 means lots never expire (aging is
  informational only). A positive window stamps expiry_date at minting
  time: accrual_date + window.

  Note the window is distinct from the "expiring soon" display horizon
  used by balance queries. A 365-day expiry window with a 30-day warning
  horizon is the expected production shape; conflating the two numbers
  was a defect in the system this engine replaces.

SEE ALSO:
  - approval.go: calls Accrue inside the approval transaction
  - balance.go:  uses the display horizon, never the window
*/
package toil

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ACCRUAL POLICY
// =============================================================================

// AccrualPolicy controls how minted lots behave over time.
type AccrualPolicy struct {
	// ExpiryWindowDays is the number of days after accrual at which a
	// lot's remaining balance forfeits. 0 disables expiry.
	ExpiryWindowDays int
}

// ExpiryFor stamps a lot's expiry date, or nil when the policy has no
// window.
func (p AccrualPolicy) ExpiryFor(accrualDate time.Time) *time.Time {
	if p.ExpiryWindowDays <= 0 {
		return nil
	}
	exp := accrualDate.AddDate(0, 0, p.ExpiryWindowDays)
	return &exp
}

// =============================================================================
// ACCRUAL SERVICE
// =============================================================================

// daysPrecision is the scale every day quantity is carried at.
const daysPrecision = 3

// Accrue builds the lot for an approved timesheet. Pure: no storage
// access, no clock access beyond the supplied now. Persisting it (and
// detecting duplicates) is the approval transaction's job.
func Accrue(ts *Timesheet, policy AccrualPolicy, now time.Time) AccrualEntry {
	days := ts.TOILHours.Div(HoursPerDay).Round(daysPrecision)

	return AccrualEntry{
		ID:            EntryID(uuid.NewString()),
		EmployeeID:    ts.EmployeeID,
		TimesheetID:   ts.ID,
		AccruedDays:   days,
		RemainingDays: days,
		AccrualDate:   now,
		ExpiryDate:    policy.ExpiryFor(now),
		Status:        EntryActive,
		Version:       1,
		CreatedAt:     now,
	}
}
