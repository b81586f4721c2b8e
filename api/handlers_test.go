package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saleemdev/toil-engine/api"
	"github.com/saleemdev/toil-engine/store/memory"
	"github.com/saleemdev/toil-engine/toil"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T, policy toil.AccrualPolicy) *httptest.Server {
	t.Helper()
	engine := toil.NewEngine(memory.New(), policy)
	server := httptest.NewServer(api.NewRouter(api.NewHandler(engine)))
	t.Cleanup(server.Close)
	return server
}

func post(t *testing.T, server *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, server *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func timesheetBody(id, employee, toilHours string) api.RegisterTimesheetRequest {
	return api.RegisterTimesheetRequest{
		ID:          id,
		EmployeeID:  employee,
		PeriodStart: "2025-05-26",
		PeriodEnd:   "2025-06-01",
		TotalHours:  "48",
		TOILHours:   toilHours,
		DocStatus:   1,
	}
}

// registerSubmit pushes a timesheet to pending_accrual over HTTP.
func registerSubmit(t *testing.T, server *httptest.Server, id, employee, toilHours string) {
	t.Helper()
	resp := post(t, server, "/toil/timesheets", timesheetBody(id, employee, toilHours))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = post(t, server, "/toil/submit", api.SubmitRequest{TimesheetID: id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestLifecycle_SubmitApproveConsumeBalance(t *testing.T) {
	// GIVEN: A submitted timesheet with 16 compensation hours
	// WHEN: Approved, then 0.5 days consumed
	// THEN: Balance reads 1.5 with the full audit trail queryable

	server := newTestServer(t, toil.AccrualPolicy{})
	registerSubmit(t, server, "ts-1", "emp-1", "16")

	resp := post(t, server, "/toil/approve", api.DecisionRequest{
		TimesheetID: "ts-1", ApproverID: "mgr-1", Comment: "approved",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	entry := decode[api.EntryDTO](t, resp)
	assert.Equal(t, "2", entry.AccruedDays)
	assert.Equal(t, "active", entry.Status)

	resp = post(t, server, "/toil/consume", api.ConsumeRequest{
		EmployeeID: "emp-1", RequestedDays: "0.5", Reason: "dentist",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	alloc := decode[api.AllocationDTO](t, resp)
	require.Len(t, alloc.Lines, 1)
	assert.Equal(t, "0.5", alloc.Lines[0].DaysTaken)

	resp = get(t, server, "/toil/balance/emp-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[api.BalanceDTO](t, resp)
	assert.Equal(t, "1.5", balance.CurrentBalance)
	assert.Equal(t, "2", balance.TotalAccrued)
	assert.Equal(t, "0.5", balance.TotalConsumed)

	resp = get(t, server, "/toil/entries/emp-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]api.EntryDTO](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "partially_consumed", entries[0].Status)

	resp = get(t, server, "/toil/allocations/emp-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	allocations := decode[[]api.AllocationDTO](t, resp)
	require.Len(t, allocations, 1)
	assert.Equal(t, "dentist", allocations[0].Reason)

	// Derived status at the read edge.
	resp = get(t, server, "/toil/timesheets/ts-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decode[api.TimesheetDTO](t, resp)
	assert.Equal(t, "partially_used", view.TOILStatus)
}

func TestReject_ReturnsVerdict(t *testing.T) {
	server := newTestServer(t, toil.AccrualPolicy{})
	registerSubmit(t, server, "ts-1", "emp-1", "8")

	resp := post(t, server, "/toil/reject", api.DecisionRequest{
		TimesheetID: "ts-1", ApproverID: "mgr-1", Reason: "period mismatch",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	view := get(t, server, "/toil/timesheets/ts-1")
	ts := decode[api.TimesheetDTO](t, view)
	assert.Equal(t, "rejected", ts.TOILStatus)
}

// =============================================================================
// ERROR MAPPING TESTS
// =============================================================================

func TestErrorMapping(t *testing.T) {
	server := newTestServer(t, toil.AccrualPolicy{})
	registerSubmit(t, server, "ts-1", "emp-1", "8")

	// Self-approval -> 403
	resp := post(t, server, "/toil/approve", api.DecisionRequest{
		TimesheetID: "ts-1", ApproverID: "emp-1",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Unknown timesheet -> 404
	resp = post(t, server, "/toil/approve", api.DecisionRequest{
		TimesheetID: "ghost", ApproverID: "mgr-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Missing reject reason -> 400
	resp = post(t, server, "/toil/reject", api.DecisionRequest{
		TimesheetID: "ts-1", ApproverID: "mgr-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Insufficient balance -> 422
	resp = post(t, server, "/toil/consume", api.ConsumeRequest{
		EmployeeID: "emp-1", RequestedDays: "5",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Contains(t, body.Error, "insufficient balance")

	// Approving a non-pending sheet -> 400
	post(t, server, "/toil/approve", api.DecisionRequest{TimesheetID: "ts-1", ApproverID: "mgr-1"})
	resp = post(t, server, "/toil/approve", api.DecisionRequest{TimesheetID: "ts-1", ApproverID: "mgr-2"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApprove_SupervisorAuthorization(t *testing.T) {
	// GIVEN: emp-1 reports to mgr-1
	// WHEN: mgr-2 tries to approve, then mgr-1 does
	// THEN: 403 for the outsider, 201 for the supervisor

	server := newTestServer(t, toil.AccrualPolicy{})

	resp := post(t, server, "/toil/employees", api.CreateEmployeeRequest{
		ID: "emp-1", Name: "Asha", SupervisorID: "mgr-1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	registerSubmit(t, server, "ts-1", "emp-1", "8")

	resp = post(t, server, "/toil/approve", api.DecisionRequest{
		TimesheetID: "ts-1", ApproverID: "mgr-2",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Contains(t, body.Error, "not authorized", "an outsider is refused, not accused of self-approval")

	resp = post(t, server, "/toil/approve", api.DecisionRequest{
		TimesheetID: "ts-1", ApproverID: "mgr-1",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// SWEEP ENDPOINT TESTS
// =============================================================================

func TestSweep_ForfeitsOverdueCredit(t *testing.T) {
	// GIVEN: A 30-day expiry policy and an approved lot
	// WHEN: Sweeping 31 days in the future
	// THEN: The lot's day is forfeited and the balance drops to zero

	server := newTestServer(t, toil.AccrualPolicy{ExpiryWindowDays: 30})
	registerSubmit(t, server, "ts-1", "emp-1", "8")
	resp := post(t, server, "/toil/approve", api.DecisionRequest{TimesheetID: "ts-1", ApproverID: "mgr-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	asOf := time.Now().UTC().AddDate(0, 0, 31).Format(time.RFC3339)
	resp = post(t, server, "/toil/sweep", api.SweepRequest{AsOf: asOf})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[api.SweepResultDTO](t, resp)
	assert.Equal(t, 1, result.EntriesExpired)
	assert.Equal(t, "1", result.DaysForfeited)

	resp = get(t, server, "/toil/entries/emp-1")
	entries := decode[[]api.EntryDTO](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "expired", entries[0].Status)
	assert.Equal(t, "1", entries[0].ForfeitedDays)
}

func TestGetBalance_InvalidWithinDays(t *testing.T) {
	server := newTestServer(t, toil.AccrualPolicy{})
	resp := get(t, server, "/toil/balance/emp-1?within_days=soon")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetBalance_ConfiguredHorizonIsTheDefault(t *testing.T) {
	// GIVEN: A handler configured with a 5-day expiring-soon horizon and
	//        a credit that expires in roughly 10 days
	// WHEN: The balance is queried without within_days
	// THEN: The configured horizon applies, so nothing counts as expiring
	//       soon; an explicit wider within_days still finds the credit

	engine := toil.NewEngine(memory.New(), toil.AccrualPolicy{ExpiryWindowDays: 10})
	handler := api.NewHandler(engine)
	handler.ExpiringSoonDays = 5
	server := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(server.Close)

	registerSubmit(t, server, "ts-1", "emp-1", "8")
	resp := post(t, server, "/toil/approve", api.DecisionRequest{TimesheetID: "ts-1", ApproverID: "mgr-1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = get(t, server, "/toil/balance/emp-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance := decode[api.BalanceDTO](t, resp)
	assert.Equal(t, "0", balance.ExpiringSoon)

	resp = get(t, server, "/toil/balance/emp-1?within_days=15")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	balance = decode[api.BalanceDTO](t, resp)
	assert.Equal(t, "1", balance.ExpiringSoon)
}
