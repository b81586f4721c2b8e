/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  Day amounts travel as JSON strings ("1.875", not 1.875). This ledger
  rounds to three decimals internally; float64 round-trips would reopen
  the precision hole the decimal type closes.

SEE ALSO:
  - handlers.go: Uses these types
  - toil/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/saleemdev/toil-engine/toil"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RegisterTimesheetRequest creates or updates a timesheet record.
type RegisterTimesheetRequest struct {
	ID          string  `json:"id"`
	EmployeeID  string  `json:"employee_id"`
	PeriodStart string  `json:"period_start"` // YYYY-MM-DD
	PeriodEnd   string  `json:"period_end"`   // YYYY-MM-DD
	TotalHours  string  `json:"total_hours"`
	TOILHours   string  `json:"toil_hours"`
	DocStatus   int     `json:"docstatus"`
}

// SubmitRequest routes a timesheet into the approval queue.
type SubmitRequest struct {
	TimesheetID string `json:"timesheet_id"`
}

// DecisionRequest approves or rejects a pending timesheet.
type DecisionRequest struct {
	TimesheetID string `json:"timesheet_id"`
	ApproverID  string `json:"approver_id"`
	Comment     string `json:"comment,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ConsumeRequest debits leave days from an employee's balance.
type ConsumeRequest struct {
	EmployeeID    string `json:"employee_id"`
	RequestedDays string `json:"requested_days"`
	Reason        string `json:"reason,omitempty"`
}

// SweepRequest triggers a forfeiture pass. AsOf defaults to now.
type SweepRequest struct {
	AsOf string `json:"as_of,omitempty"` // RFC3339
}

// CreateEmployeeRequest registers an employee record.
type CreateEmployeeRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	SupervisorID string `json:"supervisor_id,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TimesheetDTO represents a timesheet in API responses.
type TimesheetDTO struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	TotalHours  string `json:"total_hours"`
	TOILHours   string `json:"toil_hours"`
	DocStatus   int    `json:"docstatus"`
	TOILStatus  string `json:"toil_status"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// EntryDTO represents one accrual lot.
type EntryDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	TimesheetID   string  `json:"timesheet_id"`
	AccruedDays   string  `json:"accrued_days"`
	RemainingDays string  `json:"remaining_days"`
	ForfeitedDays string  `json:"forfeited_days"`
	AccrualDate   string  `json:"accrual_date"`
	ExpiryDate    *string `json:"expiry_date,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at,omitempty"`
}

// AllocationLineDTO shows how much one lot contributed to a debit.
type AllocationLineDTO struct {
	EntryID   string `json:"entry_id"`
	DaysTaken string `json:"days_taken"`
}

// AllocationDTO represents one consumption and its per-lot split.
type AllocationDTO struct {
	ID            string              `json:"id"`
	EmployeeID    string              `json:"employee_id"`
	RequestedDays string              `json:"requested_days"`
	Lines         []AllocationLineDTO `json:"lines"`
	Reason        string              `json:"reason,omitempty"`
	CreatedAt     string              `json:"created_at"`
}

// BalanceDTO represents an employee's balance summary.
type BalanceDTO struct {
	EmployeeID     string `json:"employee_id"`
	CurrentBalance string `json:"current_balance"`
	TotalAccrued   string `json:"total_accrued"`
	TotalConsumed  string `json:"total_consumed"`
	TotalForfeited string `json:"total_forfeited"`
	ExpiringSoon   string `json:"expiring_soon"`
	ExpiryDays     int    `json:"expiry_days"`
	AsOf           string `json:"as_of"`
}

// SweepResultDTO summarizes one forfeiture pass.
type SweepResultDTO struct {
	AsOf           string `json:"as_of"`
	EntriesExpired int    `json:"entries_expired"`
	DaysForfeited  string `json:"days_forfeited"`
}

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	SupervisorID string `json:"supervisor_id,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toTimesheetDTO(ts *toil.Timesheet) TimesheetDTO {
	return TimesheetDTO{
		ID:          string(ts.ID),
		EmployeeID:  string(ts.EmployeeID),
		PeriodStart: ts.PeriodStart.Format("2006-01-02"),
		PeriodEnd:   ts.PeriodEnd.Format("2006-01-02"),
		TotalHours:  ts.TotalHours.String(),
		TOILHours:   ts.TOILHours.String(),
		DocStatus:   int(ts.DocStatus),
		TOILStatus:  string(ts.TOILStatus),
		CreatedAt:   ts.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e *toil.AccrualEntry) EntryDTO {
	dto := EntryDTO{
		ID:            string(e.ID),
		EmployeeID:    string(e.EmployeeID),
		TimesheetID:   string(e.TimesheetID),
		AccruedDays:   e.AccruedDays.String(),
		RemainingDays: e.RemainingDays.String(),
		ForfeitedDays: e.ForfeitedDays.String(),
		AccrualDate:   e.AccrualDate.Format("2006-01-02"),
		Status:        string(e.Status),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExpiryDate != nil {
		s := e.ExpiryDate.Format("2006-01-02")
		dto.ExpiryDate = &s
	}
	return dto
}

func toAllocationDTO(a *toil.ConsumptionAllocation) AllocationDTO {
	lines := make([]AllocationLineDTO, len(a.Lines))
	for i, l := range a.Lines {
		lines[i] = AllocationLineDTO{
			EntryID:   string(l.EntryID),
			DaysTaken: l.DaysTaken.String(),
		}
	}
	return AllocationDTO{
		ID:            string(a.ID),
		EmployeeID:    string(a.EmployeeID),
		RequestedDays: a.RequestedDays.String(),
		Lines:         lines,
		Reason:        a.Reason,
		CreatedAt:     a.CreatedAt.Format(time.RFC3339),
	}
}

func toBalanceDTO(b *toil.Balance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:     string(b.EmployeeID),
		CurrentBalance: b.CurrentBalance.String(),
		TotalAccrued:   b.TotalAccrued.String(),
		TotalConsumed:  b.TotalConsumed.String(),
		TotalForfeited: b.TotalForfeited.String(),
		ExpiringSoon:   b.ExpiringSoon.String(),
		ExpiryDays:     b.ExpiryDays,
		AsOf:           b.AsOf.Format(time.RFC3339),
	}
}

func toEmployeeDTO(e *toil.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:           string(e.ID),
		Name:         e.Name,
		Email:        e.Email,
		SupervisorID: string(e.SupervisorID),
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	}
}
