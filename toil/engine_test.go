package toil_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saleemdev/toil-engine/store/memory"
	"github.com/saleemdev/toil-engine/toil"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, policy toil.AccrualPolicy) (*toil.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	engine := toil.NewEngine(store, policy, toil.WithClock(func() time.Time { return testNow }))
	return engine, store
}

func sheet(id, employee string, toilHours float64) toil.Timesheet {
	return toil.Timesheet{
		ID:          toil.TimesheetID(id),
		EmployeeID:  toil.EmployeeID(employee),
		PeriodStart: time.Date(2025, time.May, 26, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		TotalHours:  decimal.NewFromInt(40).Add(decimal.NewFromFloat(toilHours)),
		TOILHours:   decimal.NewFromFloat(toilHours),
		DocStatus:   toil.DocStatusSubmitted,
	}
}

// registerAndSubmit drives a timesheet to pending_accrual.
func registerAndSubmit(t *testing.T, e *toil.Engine, ts toil.Timesheet) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.RegisterTimesheet(ctx, ts))
	_, err := e.Submit(ctx, ts.ID)
	require.NoError(t, err)
}

// approve drives a registered-and-submitted timesheet to accrued.
func approve(t *testing.T, e *toil.Engine, ts toil.Timesheet, approver string) *toil.AccrualEntry {
	t.Helper()
	registerAndSubmit(t, e, ts)
	entry, err := e.Approve(context.Background(), ts.ID, toil.EmployeeID(approver), "ok")
	require.NoError(t, err)
	return entry
}

func days(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// =============================================================================
// ACCRUAL CONVERSION TESTS
// =============================================================================

func TestApprove_SixteenHoursEarnTwoDays(t *testing.T) {
	// GIVEN: A submitted timesheet with 16 compensatory hours
	// WHEN: The supervisor approves it
	// THEN: A lot of exactly 2.000 days is created, all still remaining

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	entry := approve(t, engine, sheet("ts-1", "emp-1", 16), "mgr-1")

	assert.True(t, entry.AccruedDays.Equal(days(2)), "16h / 8h per day = 2 days, got %s", entry.AccruedDays)
	assert.True(t, entry.RemainingDays.Equal(days(2)))
	assert.True(t, entry.ForfeitedDays.IsZero())
	assert.Equal(t, toil.EntryActive, entry.Status)
}

func TestApprove_FractionalHoursRoundToThreeDecimals(t *testing.T) {
	// GIVEN: 5 compensatory hours (5/8 = 0.625 exactly) and 1 hour (0.125)
	// WHEN: Approved
	// THEN: Credited days carry three-decimal precision

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})

	entry := approve(t, engine, sheet("ts-1", "emp-1", 5), "mgr-1")
	assert.True(t, entry.AccruedDays.Equal(decimal.RequireFromString("0.625")))

	// 10/8 = 1.25
	entry = approve(t, engine, sheet("ts-2", "emp-1", 10), "mgr-1")
	assert.True(t, entry.AccruedDays.Equal(decimal.RequireFromString("1.25")))
}

func TestApprove_ExpiryWindowStampsExpiryDate(t *testing.T) {
	// GIVEN: A policy with a 90-day carry-over window
	// WHEN: A timesheet is approved
	// THEN: The lot expires 90 days after its accrual date

	engine, _ := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 90})
	entry := approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")

	require.NotNil(t, entry.ExpiryDate)
	assert.Equal(t, entry.AccrualDate.AddDate(0, 0, 90), *entry.ExpiryDate)
}

func TestApprove_ZeroWindowMeansNoExpiry(t *testing.T) {
	// GIVEN: No expiry window configured
	// WHEN: A timesheet is approved
	// THEN: The lot never expires

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	entry := approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")
	assert.Nil(t, entry.ExpiryDate)
}

// =============================================================================
// WORKFLOW STATE MACHINE TESTS
// =============================================================================

func TestSubmit_DraftMovesToPendingAccrual(t *testing.T) {
	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()

	require.NoError(t, engine.RegisterTimesheet(ctx, sheet("ts-1", "emp-1", 8)))

	ts, err := engine.Submit(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusPendingAccrual, ts.TOILStatus)
}

func TestRegisterTimesheet_ReRegisterKeepsAccruedStatus(t *testing.T) {
	// GIVEN: An approved timesheet whose days have been credited
	// WHEN: The source system pushes the same document again
	// THEN: The workflow status stays accrued instead of rewinding to draft

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()

	ts := sheet("ts-1", "emp-1", 8)
	approve(t, engine, ts, "mgr-1")

	require.NoError(t, engine.RegisterTimesheet(ctx, ts))

	view, err := engine.TimesheetView(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusAccrued, view.TOILStatus)
}

func TestSubmit_ResubmitWhilePendingIsNoOp(t *testing.T) {
	// GIVEN: A timesheet already pending approval
	// WHEN: Submitted again
	// THEN: No error and no state change

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	registerAndSubmit(t, engine, sheet("ts-1", "emp-1", 8))

	ts, err := engine.Submit(context.Background(), "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusPendingAccrual, ts.TOILStatus)
}

func TestSubmit_DraftDocumentRejected(t *testing.T) {
	// GIVEN: A timesheet still in docstatus 0 (draft document)
	// WHEN: Submitted to the workflow
	// THEN: Validation error naming docstatus

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()

	ts := sheet("ts-1", "emp-1", 8)
	ts.DocStatus = toil.DocStatusDraft
	require.NoError(t, engine.RegisterTimesheet(ctx, ts))

	_, err := engine.Submit(ctx, "ts-1")
	assert.ErrorIs(t, err, toil.ErrValidation)
}

func TestSubmit_ZeroHoursRejected(t *testing.T) {
	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()

	require.NoError(t, engine.RegisterTimesheet(ctx, sheet("ts-1", "emp-1", 0)))

	_, err := engine.Submit(ctx, "ts-1")
	assert.ErrorIs(t, err, toil.ErrValidation)
}

func TestSubmit_UnknownTimesheet(t *testing.T) {
	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	_, err := engine.Submit(context.Background(), "nope")
	assert.ErrorIs(t, err, toil.ErrNotFound)
}

func TestApprove_WithoutSubmitIsInvalidTransition(t *testing.T) {
	// GIVEN: A registered but never-submitted timesheet
	// WHEN: Approved directly
	// THEN: Invalid state transition

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	require.NoError(t, engine.RegisterTimesheet(ctx, sheet("ts-1", "emp-1", 8)))

	_, err := engine.Approve(ctx, "ts-1", "mgr-1", "")
	assert.ErrorIs(t, err, toil.ErrInvalidStateTransition)
}

func TestApprove_SelfApprovalForbidden(t *testing.T) {
	// GIVEN: A pending timesheet owned by emp-1
	// WHEN: emp-1 tries to approve it
	// THEN: Self-approval error, timesheet stays pending

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	registerAndSubmit(t, engine, sheet("ts-1", "emp-1", 8))

	_, err := engine.Approve(ctx, "ts-1", "emp-1", "")
	assert.ErrorIs(t, err, toil.ErrSelfApproval)

	ts, err := store.GetTimesheet(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusPendingAccrual, ts.TOILStatus)
}

func TestApprove_SecondDecisionBlocked(t *testing.T) {
	// GIVEN: An approved timesheet
	// WHEN: A second approver decides it again
	// THEN: AlreadyDecidedError carrying the first verdict

	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")

	_, err := engine.Approve(ctx, "ts-1", "mgr-2", "")
	assert.ErrorIs(t, err, toil.ErrInvalidStateTransition, "accrued sheets are no longer pending")

	// Rejecting after approval is equally blocked.
	err = engine.Reject(ctx, "ts-1", "mgr-2", "changed my mind")
	assert.ErrorIs(t, err, toil.ErrInvalidStateTransition)
}

func TestReject_RequiresReason(t *testing.T) {
	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	registerAndSubmit(t, engine, sheet("ts-1", "emp-1", 8))

	err := engine.Reject(context.Background(), "ts-1", "mgr-1", "   ")
	assert.ErrorIs(t, err, toil.ErrValidation)
}

func TestReject_ThenResubmitStartsNewCycle(t *testing.T) {
	// GIVEN: A rejected timesheet
	// WHEN: Resubmitted and approved by a different verdict
	// THEN: The old decision is deactivated and the new approval accrues

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	registerAndSubmit(t, engine, sheet("ts-1", "emp-1", 8))

	require.NoError(t, engine.Reject(ctx, "ts-1", "mgr-1", "wrong period"))
	ts, err := store.GetTimesheet(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusRejected, ts.TOILStatus)

	// Resubmission reopens the workflow.
	ts, err = engine.Submit(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusPendingAccrual, ts.TOILStatus)

	entry, err := engine.Approve(ctx, "ts-1", "mgr-1", "fixed")
	require.NoError(t, err)
	assert.True(t, entry.AccruedDays.Equal(days(1)))

	decision, err := store.GetActiveDecision(ctx, "ts-1")
	require.NoError(t, err)
	require.NotNil(t, decision)
	assert.Equal(t, toil.DecisionApproved, decision.Decision)
}

func TestApprove_OnePerTimesheet(t *testing.T) {
	// GIVEN: An approved timesheet whose status was manually knocked back
	//        to pending (simulating a racing writer)
	// WHEN: Approved again
	// THEN: The unique lot constraint reports a duplicate accrual

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")

	require.NoError(t, store.SetTOILStatus(ctx, "ts-1", toil.StatusPendingAccrual))
	require.NoError(t, store.DeactivateDecisions(ctx, "ts-1"))

	_, err := engine.Approve(ctx, "ts-1", "mgr-1", "")
	assert.ErrorIs(t, err, toil.ErrDuplicateAccrual)
}

// =============================================================================
// FIFO CONSUMPTION TESTS
// =============================================================================

func TestConsume_SplitsAcrossOldestLotsFirst(t *testing.T) {
	// GIVEN: Lot A (1.0 day, older) and lot B (2.0 days, newer)
	// WHEN: Consuming 1.5 days
	// THEN: A is drained fully (1.0), B contributes 0.5

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()

	a := sheet("ts-a", "emp-1", 8)
	a.PeriodEnd = time.Date(2025, time.April, 6, 0, 0, 0, 0, time.UTC)
	entryA := approve(t, engine, a, "mgr-1")

	// Force lot A older than lot B: accrual dates come from the clock,
	// so rewrite A's ordering via the store.
	older := *entryA
	older.AccrualDate = testNow.AddDate(0, 0, -30)
	// memory store keys updates on version, not accrual date
	require.NoError(t, store.UpdateEntry(ctx, older))

	entryB := approve(t, engine, sheet("ts-b", "emp-1", 16), "mgr-1")

	alloc, err := engine.Consume(ctx, "emp-1", days(1.5), "long weekend")
	require.NoError(t, err)

	require.Len(t, alloc.Lines, 2)
	assert.Equal(t, entryA.ID, alloc.Lines[0].EntryID)
	assert.True(t, alloc.Lines[0].DaysTaken.Equal(days(1)))
	assert.Equal(t, entryB.ID, alloc.Lines[1].EntryID)
	assert.True(t, alloc.Lines[1].DaysTaken.Equal(days(0.5)))

	// Lot states reflect the split.
	gotA, err := store.GetEntry(ctx, entryA.ID)
	require.NoError(t, err)
	assert.True(t, gotA.RemainingDays.IsZero())
	assert.Equal(t, toil.EntryConsumed, gotA.Status)

	gotB, err := store.GetEntry(ctx, entryB.ID)
	require.NoError(t, err)
	assert.True(t, gotB.RemainingDays.Equal(days(1.5)))
	assert.Equal(t, toil.EntryPartiallyConsumed, gotB.Status)
}

func TestConsume_InsufficientBalanceLeavesLedgerUntouched(t *testing.T) {
	// GIVEN: 1 day of credit
	// WHEN: Requesting 2 days
	// THEN: Typed shortfall error; no lot changed, no allocation written

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	entry := approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")

	_, err := engine.Consume(ctx, "emp-1", days(2), "")
	require.ErrorIs(t, err, toil.ErrInsufficientBalance)

	var insufficientErr *toil.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, "1", insufficientErr.Available)
	assert.Equal(t, "2", insufficientErr.Requested)
	assert.Equal(t, "1", insufficientErr.Shortfall)

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingDays.Equal(days(1)), "failed consumption must not touch lots")

	allocations, err := store.ListAllocationsByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	assert.Empty(t, allocations)
}

func TestConsume_RejectsNonPositiveRequests(t *testing.T) {
	engine, _ := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()

	_, err := engine.Consume(ctx, "emp-1", decimal.Zero, "")
	assert.ErrorIs(t, err, toil.ErrValidation)

	_, err = engine.Consume(ctx, "emp-1", days(-1), "")
	assert.ErrorIs(t, err, toil.ErrValidation)
}

func TestConsume_SkipsExpiredLots(t *testing.T) {
	// GIVEN: One expired lot and one live lot
	// WHEN: Consuming
	// THEN: Only the live lot is debited

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()

	expired := approve(t, engine, sheet("ts-old", "emp-1", 8), "mgr-1")
	stale := *expired
	past := testNow.AddDate(0, 0, -1)
	stale.ExpiryDate = &past
	require.NoError(t, store.UpdateEntry(ctx, stale))

	live := approve(t, engine, sheet("ts-new", "emp-1", 8), "mgr-1")

	alloc, err := engine.Consume(ctx, "emp-1", days(1), "")
	require.NoError(t, err)
	require.Len(t, alloc.Lines, 1)
	assert.Equal(t, live.ID, alloc.Lines[0].EntryID)
}

// =============================================================================
// EXPIRY SWEEP TESTS
// =============================================================================

func TestSweep_ForfeitsExpiredRemainder(t *testing.T) {
	// GIVEN: A lot with 0.5 days left past its expiry date
	// WHEN: The sweep runs
	// THEN: The remainder is forfeited and the lot marked expired

	engine, store := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 30})
	ctx := context.Background()

	entry := approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")
	_, err := engine.Consume(ctx, "emp-1", days(0.5), "")
	require.NoError(t, err)

	result, err := engine.Sweep(ctx, testNow.AddDate(0, 0, 31))
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntriesExpired)
	assert.True(t, result.DaysForfeited.Equal(days(0.5)))

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingDays.IsZero())
	assert.True(t, got.ForfeitedDays.Equal(days(0.5)))
	assert.Equal(t, toil.EntryExpired, got.Status)
}

func TestSweep_IsIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 30})
	ctx := context.Background()
	approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")

	asOf := testNow.AddDate(0, 0, 31)

	first, err := engine.Sweep(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, first.EntriesExpired)

	second, err := engine.Sweep(ctx, asOf)
	require.NoError(t, err)
	assert.Equal(t, 0, second.EntriesExpired)
	assert.True(t, second.DaysForfeited.IsZero())
}

func TestSweep_LeavesUnexpiredLotsAlone(t *testing.T) {
	engine, store := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 90})
	ctx := context.Background()
	entry := approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")

	result, err := engine.Sweep(ctx, testNow.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, result.EntriesExpired)

	got, err := store.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, got.RemainingDays.Equal(days(1)))
}

// =============================================================================
// BALANCE QUERY TESTS
// =============================================================================

func TestGetBalance_ConservationAcrossLifecycle(t *testing.T) {
	// GIVEN: Accrue 3 days, consume 1, forfeit 1 past expiry
	// THEN:  accrued = remaining + consumed + forfeited at every step

	engine, _ := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 30})
	ctx := context.Background()

	approve(t, engine, sheet("ts-1", "emp-1", 16), "mgr-1") // 2 days, expire +30
	approve(t, engine, sheet("ts-2", "emp-1", 8), "mgr-1")  // 1 day

	_, err := engine.Consume(ctx, "emp-1", days(2), "")
	require.NoError(t, err)

	asOf := testNow.AddDate(0, 0, 31)
	_, err = engine.Sweep(ctx, asOf)
	require.NoError(t, err)

	balance, err := engine.GetBalance(ctx, "emp-1", asOf, toil.DefaultExpiringSoonDays)
	require.NoError(t, err)

	assert.True(t, balance.TotalAccrued.Equal(days(3)))
	assert.True(t, balance.TotalConsumed.Equal(days(2)))
	assert.True(t, balance.TotalForfeited.Equal(days(1)))
	assert.True(t, balance.CurrentBalance.IsZero())

	sum := balance.CurrentBalance.Add(balance.TotalConsumed).Add(balance.TotalForfeited)
	assert.True(t, balance.TotalAccrued.Equal(sum), "accrued must equal remaining+consumed+forfeited")
}

func TestGetBalance_ExcludesExpiredFromCurrent(t *testing.T) {
	// GIVEN: A lot past expiry that the sweep has not visited yet
	// WHEN: Balance is read
	// THEN: Current balance already excludes it

	engine, _ := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 30})
	ctx := context.Background()
	approve(t, engine, sheet("ts-1", "emp-1", 8), "mgr-1")

	balance, err := engine.GetBalance(ctx, "emp-1", testNow.AddDate(0, 0, 31), toil.DefaultExpiringSoonDays)
	require.NoError(t, err)
	assert.True(t, balance.CurrentBalance.IsZero(), "expired credit must not count even before the sweep")
}

func TestGetBalance_ExpiringSoonWindow(t *testing.T) {
	// GIVEN: A lot expiring in 20 days and one in 60
	// WHEN: Balance is read with a 30-day horizon
	// THEN: Only the near lot counts as expiring soon

	engine, store := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 60})
	ctx := context.Background()

	near := approve(t, engine, sheet("ts-near", "emp-1", 8), "mgr-1")
	tweaked := *near
	at := testNow.AddDate(0, 0, 20)
	tweaked.ExpiryDate = &at
	require.NoError(t, store.UpdateEntry(ctx, tweaked))

	approve(t, engine, sheet("ts-far", "emp-1", 8), "mgr-1") // expires +60

	balance, err := engine.GetBalance(ctx, "emp-1", testNow, 30)
	require.NoError(t, err)

	assert.True(t, balance.ExpiringSoon.Equal(days(1)), "only the 20-day lot is in the horizon")
	assert.Equal(t, 20, balance.ExpiryDays)
	assert.True(t, balance.CurrentBalance.Equal(days(2)))
}

func TestGetBalance_EmptyLedger(t *testing.T) {
	engine, _ := newTestEngine(t, toil.AccrualPolicy{})

	balance, err := engine.GetBalance(context.Background(), "ghost", testNow, toil.DefaultExpiringSoonDays)
	require.NoError(t, err)
	assert.True(t, balance.CurrentBalance.IsZero())
	assert.True(t, balance.TotalAccrued.IsZero())
	assert.Equal(t, 0, balance.ExpiryDays)
}

// =============================================================================
// DERIVED TIMESHEET STATUS TESTS
// =============================================================================

func TestTimesheetView_DerivesUsageStatus(t *testing.T) {
	// GIVEN: An accrued timesheet whose lot gets partially, then fully, consumed
	// WHEN: Viewed after each step
	// THEN: Status reads accrued -> partially_used -> fully_used without
	//       the stored record ever being rewritten

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	approve(t, engine, sheet("ts-1", "emp-1", 16), "mgr-1")

	view, err := engine.TimesheetView(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusAccrued, view.TOILStatus)

	_, err = engine.Consume(ctx, "emp-1", days(1), "")
	require.NoError(t, err)
	view, err = engine.TimesheetView(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusPartiallyUsed, view.TOILStatus)

	_, err = engine.Consume(ctx, "emp-1", days(1), "")
	require.NoError(t, err)
	view, err = engine.TimesheetView(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusFullyUsed, view.TOILStatus)

	// Storage still says accrued; usage states live at the read edge.
	stored, err := store.GetTimesheet(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, toil.StatusAccrued, stored.TOILStatus)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestApprove_ConcurrentDecisionsCreditExactlyOnce(t *testing.T) {
	// GIVEN: One pending timesheet and several supervisors racing to decide
	// WHEN: All approvals run concurrently
	// THEN: Exactly one succeeds and exactly one lot exists

	engine, store := newTestEngine(t, toil.AccrualPolicy{})
	ctx := context.Background()
	registerAndSubmit(t, engine, sheet("ts-1", "emp-1", 8))

	const racers = 8
	var wg sync.WaitGroup
	var successes atomic.Int32
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Approve(ctx, "ts-1", "mgr-1", "ok")
			if err == nil {
				successes.Add(1)
				return
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	assert.Equal(t, int32(1), successes.Load(), "exactly one approval may credit the ledger")
	for err := range errs {
		assert.True(t,
			errors.Is(err, toil.ErrInvalidStateTransition) ||
				errors.Is(err, toil.ErrAlreadyDecided) ||
				errors.Is(err, toil.ErrDuplicateAccrual),
			"losing approval surfaced %v", err)
	}

	entries, err := store.ListEntriesByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].AccruedDays.Equal(days(1)))
}

func TestConsume_RacingSweepConservesEveryLot(t *testing.T) {
	// GIVEN: Three one-day lots all expiring inside the sweep horizon
	// WHEN: A consumer drains the balance while the sweeper forfeits overdue
	//       credit, concurrently
	// THEN: Each lot still satisfies accrued = remaining + consumed + forfeited,
	//       so no fraction of a day is ever both taken and forfeited

	engine, store := newTestEngine(t, toil.AccrualPolicy{ExpiryWindowDays: 10})
	ctx := context.Background()
	for _, id := range []string{"ts-1", "ts-2", "ts-3"} {
		approve(t, engine, sheet(id, "emp-1", 8), "mgr-1")
	}
	sweepAsOf := testNow.AddDate(0, 0, 30)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 12; i++ {
			_, err := engine.Consume(ctx, "emp-1", days(0.25), "racing the sweeper")
			if err == nil {
				continue
			}
			if errors.Is(err, toil.ErrInsufficientBalance) {
				return
			}
			if errors.Is(err, toil.ErrConcurrencyConflict) {
				continue
			}
			t.Errorf("consume failed with %v", err)
			return
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 4; i++ {
			if _, err := engine.Sweep(ctx, sweepAsOf); err != nil {
				t.Errorf("sweep failed with %v", err)
				return
			}
		}
	}()

	wg.Wait()

	// Rebuild consumption per lot from the allocation records and check
	// the ledger equation on each entry.
	allocations, err := store.ListAllocationsByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	consumedByEntry := make(map[toil.EntryID]decimal.Decimal)
	for _, alloc := range allocations {
		for _, line := range alloc.Lines {
			consumedByEntry[line.EntryID] = consumedByEntry[line.EntryID].Add(line.DaysTaken)
		}
	}

	entries, err := store.ListEntriesByEmployee(ctx, "emp-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	total := decimal.Zero
	for _, entry := range entries {
		sum := entry.RemainingDays.Add(entry.ForfeitedDays).Add(consumedByEntry[entry.ID])
		assert.True(t, entry.AccruedDays.Equal(sum),
			"lot %s: accrued %s but remaining+forfeited+consumed = %s",
			entry.ID, entry.AccruedDays, sum)
		total = total.Add(sum)
	}
	assert.True(t, total.Equal(days(3)))
}
