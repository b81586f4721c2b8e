/*
handlers.go - HTTP API handlers for the compensatory time service

PURPOSE:
  Exposes the TOIL engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Workflow:
    POST   /toil/timesheets            Register/update a timesheet
    GET    /toil/timesheets/{id}       Timesheet with derived usage status
    POST   /toil/submit                Route a timesheet to approval
    POST   /toil/approve               Approve and accrue
    POST   /toil/reject                Reject with mandatory reason

  Ledger:
    POST   /toil/consume               FIFO leave debit
    GET    /toil/balance/{id}          Balance summary
    GET    /toil/entries/{id}          Accrual lots for an employee
    GET    /toil/allocations/{id}      Consumption history

  Admin:
    POST   /toil/sweep                 Manual forfeiture pass
    POST   /toil/employees             Register an employee
    GET    /toil/employees/{id}        Get employee record

ERROR HANDLING:
  Domain errors map to HTTP status via httpStatusFor:
  - 400: validation, illegal state transitions
  - 403: self-approval, approver without authority over the employee
  - 404: unknown timesheet/employee/entry
  - 409: duplicate accrual, repeated decision, lost write race
  - 422: insufficient balance
  - 500: everything else

AUTHORIZATION:
  Approve/reject checks the approver against employees.supervisor_id
  when the employee record carries one. Identity itself is taken from
  the request body; put real authentication in front of this service
  before exposing it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - toil/engine.go: Domain logic this delegates to
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/saleemdev/toil-engine/toil"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *toil.Engine

	// ExpiringSoonDays is the horizon used for the balance summary's
	// expiring-soon bucket when the caller omits within_days.
	ExpiringSoonDays int
}

// NewHandler creates a new handler around the engine.
func NewHandler(engine *toil.Engine) *Handler {
	return &Handler{Engine: engine, ExpiringSoonDays: toil.DefaultExpiringSoonDays}
}

// =============================================================================
// TIMESHEET WORKFLOW HANDLERS
// =============================================================================

// RegisterTimesheet creates or updates a timesheet record.
func (h *Handler) RegisterTimesheet(w http.ResponseWriter, r *http.Request) {
	var req RegisterTimesheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	periodStart, err := time.Parse("2006-01-02", req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_start format (use YYYY-MM-DD)", err)
		return
	}
	periodEnd, err := time.Parse("2006-01-02", req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period_end format (use YYYY-MM-DD)", err)
		return
	}

	totalHours, err := decimal.NewFromString(req.TotalHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid total_hours", err)
		return
	}
	toilHours, err := decimal.NewFromString(req.TOILHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid toil_hours", err)
		return
	}

	ts := toil.Timesheet{
		ID:          toil.TimesheetID(req.ID),
		EmployeeID:  toil.EmployeeID(req.EmployeeID),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		TotalHours:  totalHours,
		TOILHours:   toilHours,
		DocStatus:   toil.DocStatus(req.DocStatus),
	}

	if err := h.Engine.RegisterTimesheet(r.Context(), ts); err != nil {
		writeDomainError(w, err)
		return
	}

	saved, err := h.Engine.TimesheetView(r.Context(), ts.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTimesheetDTO(saved))
}

// GetTimesheet returns a timesheet with its usage-derived status.
func (h *Handler) GetTimesheet(w http.ResponseWriter, r *http.Request) {
	id := toil.TimesheetID(chi.URLParam(r, "id"))

	ts, err := h.Engine.TimesheetView(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

// Submit routes a timesheet into the approval queue.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TimesheetID == "" {
		writeError(w, http.StatusBadRequest, "timesheet_id is required", nil)
		return
	}

	ts, err := h.Engine.Submit(r.Context(), toil.TimesheetID(req.TimesheetID))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

// Approve approves a pending timesheet and creates the accrual lot.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.authorizeApprover(r, req); err != nil {
		writeDomainError(w, err)
		return
	}

	entry, err := h.Engine.Approve(r.Context(),
		toil.TimesheetID(req.TimesheetID), toil.EmployeeID(req.ApproverID), req.Comment)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// Reject rejects a pending timesheet. A reason is mandatory.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.authorizeApprover(r, req); err != nil {
		writeDomainError(w, err)
		return
	}

	if err := h.Engine.Reject(r.Context(),
		toil.TimesheetID(req.TimesheetID), toil.EmployeeID(req.ApproverID), req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "rejected",
		"timesheet_id": req.TimesheetID,
		"rejected_by":  req.ApproverID,
		"reason":       req.Reason,
	})
}

// authorizeApprover enforces the supervisor relationship when the
// timesheet owner has one on record. The engine's own self-approval
// gate still applies either way.
func (h *Handler) authorizeApprover(r *http.Request, req DecisionRequest) error {
	if req.TimesheetID == "" {
		return &toil.ValidationError{Field: "timesheet_id", Reason: "required"}
	}
	if req.ApproverID == "" {
		return &toil.ValidationError{Field: "approver_id", Reason: "required"}
	}

	ctx := r.Context()
	store := h.Engine.Store()

	ts, err := store.GetTimesheet(ctx, toil.TimesheetID(req.TimesheetID))
	if err != nil {
		return err
	}
	if ts == nil {
		return &toil.NotFoundError{Kind: "timesheet", ID: req.TimesheetID}
	}

	owner, err := store.GetEmployee(ctx, ts.EmployeeID)
	if err != nil {
		return err
	}
	if owner == nil || owner.SupervisorID == "" {
		// No supervisor on record: any non-owner approver is acceptable.
		return nil
	}
	if owner.SupervisorID != toil.EmployeeID(req.ApproverID) {
		return &toil.NotAuthorizedError{TimesheetID: ts.ID, ApproverID: toil.EmployeeID(req.ApproverID)}
	}
	return nil
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// Consume debits leave days from an employee's balance, oldest lots first.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	days, err := decimal.NewFromString(req.RequestedDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid requested_days", err)
		return
	}

	alloc, err := h.Engine.Consume(r.Context(), toil.EmployeeID(req.EmployeeID), days, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationDTO(alloc))
}

// GetBalance returns the balance summary for an employee.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))

	withinDays := h.ExpiringSoonDays
	if v := r.URL.Query().Get("within_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid within_days", err)
			return
		}
		withinDays = n
	}

	balance, err := h.Engine.GetBalance(r.Context(), id, time.Now().UTC(), withinDays)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// ListEntries returns the accrual lots for an employee, FIFO order.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))

	entries, err := h.Engine.Store().ListEntriesByEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAllocations returns consumption history for an employee.
func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))

	allocations, err := h.Engine.Store().ListAllocationsByEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list allocations", err)
		return
	}

	dtos := make([]AllocationDTO, len(allocations))
	for i := range allocations {
		dtos[i] = toAllocationDTO(&allocations[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// TriggerSweep runs a forfeiture pass immediately.
func (h *Handler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	asOf := time.Now().UTC()
	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339, req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid as_of (use RFC3339)", err)
			return
		}
		asOf = t
	}

	result, err := h.Engine.Sweep(r.Context(), asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResultDTO{
		AsOf:           result.AsOf.Format(time.RFC3339),
		EntriesExpired: result.EntriesExpired,
		DaysForfeited:  result.DaysForfeited.String(),
	})
}

// CreateEmployee registers an employee record.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	emp := toil.Employee{
		ID:           toil.EmployeeID(req.ID),
		Name:         req.Name,
		Email:        req.Email,
		SupervisorID: toil.EmployeeID(req.SupervisorID),
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.Engine.Store().SaveEmployee(r.Context(), emp); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(&emp))
}

// GetEmployee returns a single employee record.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id := toil.EmployeeID(chi.URLParam(r, "id"))

	emp, err := h.Engine.Store().GetEmployee(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get employee", err)
		return
	}
	if emp == nil {
		writeError(w, http.StatusNotFound, "Employee not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(emp))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, httpStatusFor(err), err.Error(), nil)
}

func httpStatusFor(err error) int {
	switch {
	case errors.Is(err, toil.ErrValidation),
		errors.Is(err, toil.ErrInvalidStateTransition):
		return http.StatusBadRequest
	case errors.Is(err, toil.ErrSelfApproval),
		errors.Is(err, toil.ErrNotAuthorized):
		return http.StatusForbidden
	case toil.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, toil.ErrAlreadyDecided),
		errors.Is(err, toil.ErrDuplicateAccrual),
		errors.Is(err, toil.ErrConcurrencyConflict):
		return http.StatusConflict
	case errors.Is(err, toil.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
