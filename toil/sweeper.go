/*
sweeper.go - Forfeiture of expired credit

PURPOSE:
  Zeroes the remaining balance of every lot whose expiry date has passed,
  regardless of consumption activity. The forfeited amount is kept on the
  lot itself so the accounting identity survives:

      accrued_days = remaining_days + consumed + forfeited_days

IDEMPOTENCE:
  A swept lot has remaining_days = 0 and no longer matches the
  expirable-entry query, so a second sweep over the same ledger is a
  no-op by construction.

CONCURRENCY:
  The sweep runs against all employees at once, so it cannot use the
  per-employee mutex; it relies on the version guard. A lot that a
  consumer debits between the sweep's read and its write fails the guard
  and is retried from a fresh read - a day is consumed or forfeited,
  never both. Lots that keep losing the race past the retry bound are
  skipped; the next scheduled pass picks them up.
*/
package toil

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Sweep forfeits remaining balance on every lot expired as of asOf.
// Safe to call repeatedly and concurrently with consumption.
func (e *Engine) Sweep(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	result := &SweepResult{AsOf: asOf, DaysForfeited: decimal.Zero}

	entries, err := e.store.ListExpirableEntries(ctx, asOf)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		forfeited, err := e.expireEntry(ctx, entry.ID, asOf)
		if err != nil {
			if errors.Is(err, ErrConcurrencyConflict) {
				// Lost every retry to a concurrent consumer; the next
				// pass will see whatever balance is left.
				continue
			}
			return nil, err
		}
		if forfeited.IsPositive() {
			result.EntriesExpired++
			result.DaysForfeited = result.DaysForfeited.Add(forfeited)
		}
	}

	return result, nil
}

// expireEntry forfeits a single lot under its version guard, retrying
// from a fresh read on conflict.
func (e *Engine) expireEntry(ctx context.Context, id EntryID, asOf time.Time) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		entry, err := e.store.GetEntry(ctx, id)
		if err != nil {
			return decimal.Zero, err
		}
		if entry == nil {
			return decimal.Zero, &NotFoundError{Kind: "entry", ID: string(id)}
		}
		if !entry.ExpiredAsOf(asOf) {
			// Consumed (or already swept) since the listing.
			return decimal.Zero, nil
		}

		forfeited := entry.RemainingDays
		entry.ForfeitedDays = entry.ForfeitedDays.Add(forfeited)
		entry.RemainingDays = decimal.Zero
		entry.Status = EntryExpired

		err = e.store.UpdateEntry(ctx, *entry)
		if err == nil {
			return forfeited, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return decimal.Zero, err
		}
		lastErr = err
	}
	return decimal.Zero, lastErr
}
