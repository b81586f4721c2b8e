/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Production persistence for the compensatory-time ledger. The same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  timesheets:              workflow status per submitted timesheet
  accrual_entries:         the ledger lots (append-mostly)
  consumption_allocations: leave debits (immutable)
  allocation_lines:        per-lot split of each debit (immutable)
  approval_decisions:      verdicts, one ACTIVE per timesheet
  employees:               identity records for the authorization edge

APPEND-MOSTLY ENFORCEMENT:
  No DELETE statement exists anywhere in this package. The only UPDATE
  on accrual_entries is the version-guarded balance write; decisions are
  only ever flipped inactive, never removed.

CONSTRAINTS DOING REAL WORK:
  - accrual_entries.timesheet_id UNIQUE: one lot per approved timesheet,
    the backstop against double-approval races
  - idx_decisions_active (partial unique): one active verdict per
    submission cycle
  - UPDATE ... WHERE version = ?: optimistic concurrency on lots

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer, better crash recovery. A sync.RWMutex serializes writers
  in-process the way the engine expects.

USAGE:
  store, err := sqlite.New("./data/toil.db")   // ":memory:" for tests
  engine := toil.NewEngine(store, policy)

SEE ALSO:
  - toil/store.go: interface contracts
  - store/memory:  in-memory implementation with identical semantics
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/saleemdev/toil-engine/toil"
	"github.com/shopspring/decimal"
)

// Store implements toil.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) a database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Submitted timesheet snapshots; the engine only writes toil_status
	CREATE TABLE IF NOT EXISTS timesheets (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		total_hours TEXT NOT NULL,
		toil_hours TEXT NOT NULL,
		docstatus INTEGER NOT NULL DEFAULT 0,
		toil_status TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_timesheets_employee
		ON timesheets(employee_id);
	CREATE INDEX IF NOT EXISTS idx_timesheets_status
		ON timesheets(toil_status);

	-- The ledger lots. Never deleted; only remaining_days,
	-- forfeited_days, status and version change after insert.
	CREATE TABLE IF NOT EXISTS accrual_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		timesheet_id TEXT NOT NULL UNIQUE,
		accrued_days TEXT NOT NULL,
		remaining_days TEXT NOT NULL,
		forfeited_days TEXT NOT NULL DEFAULT '0',
		accrual_date TEXT NOT NULL,
		expiry_date TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- FIFO scan order (hot path for consumption and balance)
	CREATE INDEX IF NOT EXISTS idx_entries_employee_fifo
		ON accrual_entries(employee_id, accrual_date, id);

	-- Sweep scan
	CREATE INDEX IF NOT EXISTS idx_entries_expiry
		ON accrual_entries(expiry_date)
		WHERE expiry_date IS NOT NULL;

	-- Leave debits (immutable)
	CREATE TABLE IF NOT EXISTS consumption_allocations (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		requested_days TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_employee
		ON consumption_allocations(employee_id, created_at);

	CREATE TABLE IF NOT EXISTS allocation_lines (
		allocation_id TEXT NOT NULL,
		line_no INTEGER NOT NULL,
		entry_id TEXT NOT NULL,
		days_taken TEXT NOT NULL,
		PRIMARY KEY (allocation_id, line_no)
	);

	CREATE INDEX IF NOT EXISTS idx_lines_entry
		ON allocation_lines(entry_id);

	-- Verdicts; at most one ACTIVE per timesheet
	CREATE TABLE IF NOT EXISTS approval_decisions (
		id TEXT PRIMARY KEY,
		timesheet_id TEXT NOT NULL,
		approver_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		comment TEXT,
		decided_at TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_decisions_active
		ON approval_decisions(timesheet_id)
		WHERE active = 1;

	-- Identity records for the authorization edge
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		supervisor_id TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by both *sql.DB and *sql.Tx so every statement can
// run inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TIMESHEETS
// =============================================================================

func (s *Store) SaveTimesheet(ctx context.Context, ts toil.Timesheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTimesheet(ctx, s.db, ts)
}

func saveTimesheet(ctx context.Context, db execer, ts toil.Timesheet) error {
	query := `
		INSERT INTO timesheets
		(id, employee_id, period_start, period_end, total_hours, toil_hours, docstatus, toil_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			employee_id = excluded.employee_id,
			period_start = excluded.period_start,
			period_end = excluded.period_end,
			total_hours = excluded.total_hours,
			toil_hours = excluded.toil_hours,
			docstatus = excluded.docstatus
	`

	_, err := db.ExecContext(ctx, query,
		ts.ID,
		ts.EmployeeID,
		ts.PeriodStart.Format(time.RFC3339),
		ts.PeriodEnd.Format(time.RFC3339),
		ts.TotalHours.String(),
		ts.TOILHours.String(),
		int(ts.DocStatus),
		string(ts.TOILStatus),
		ts.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save timesheet: %w", err)
	}
	return nil
}

func (s *Store) GetTimesheet(ctx context.Context, id toil.TimesheetID) (*toil.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTimesheet(ctx, s.db, id)
}

func getTimesheet(ctx context.Context, db execer, id toil.TimesheetID) (*toil.Timesheet, error) {
	var (
		ts                     toil.Timesheet
		periodStart, periodEnd string
		totalHours, toilHours  string
		docstatus              int
		status, createdAt      string
	)

	err := db.QueryRowContext(ctx, `
		SELECT id, employee_id, period_start, period_end, total_hours, toil_hours, docstatus, toil_status, created_at
		FROM timesheets WHERE id = ?`, id,
	).Scan(&ts.ID, &ts.EmployeeID, &periodStart, &periodEnd, &totalHours, &toilHours, &docstatus, &status, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get timesheet: %w", err)
	}

	ts.PeriodStart, _ = time.Parse(time.RFC3339, periodStart)
	ts.PeriodEnd, _ = time.Parse(time.RFC3339, periodEnd)
	ts.TotalHours = parseDecimal(totalHours)
	ts.TOILHours = parseDecimal(toilHours)
	ts.DocStatus = toil.DocStatus(docstatus)
	ts.TOILStatus = toil.TOILStatus(status)
	ts.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &ts, nil
}

func (s *Store) SetTOILStatus(ctx context.Context, id toil.TimesheetID, status toil.TOILStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setTOILStatus(ctx, s.db, id, status)
}

func setTOILStatus(ctx context.Context, db execer, id toil.TimesheetID, status toil.TOILStatus) error {
	res, err := db.ExecContext(ctx,
		"UPDATE timesheets SET toil_status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update toil_status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &toil.NotFoundError{Kind: "timesheet", ID: string(id)}
	}
	return nil
}

// =============================================================================
// ACCRUAL ENTRIES
// =============================================================================

const entryColumns = `id, employee_id, timesheet_id, accrued_days, remaining_days, forfeited_days,
	accrual_date, expiry_date, status, version, created_at`

func (s *Store) InsertEntry(ctx context.Context, e toil.AccrualEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEntry(ctx, s.db, e)
}

func insertEntry(ctx context.Context, db execer, e toil.AccrualEntry) error {
	var expiry *string
	if e.ExpiryDate != nil {
		v := e.ExpiryDate.UTC().Format(time.RFC3339)
		expiry = &v
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO accrual_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.EmployeeID,
		e.TimesheetID,
		e.AccruedDays.String(),
		e.RemainingDays.String(),
		e.ForfeitedDays.String(),
		e.AccrualDate.UTC().Format(time.RFC3339),
		expiry,
		string(e.Status),
		e.Version,
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return toil.ErrDuplicateAccrual
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntry(ctx context.Context, id toil.EntryID) (*toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryOneEntry(ctx, s.db, "SELECT "+entryColumns+" FROM accrual_entries WHERE id = ?", id)
}

func (s *Store) GetEntryByTimesheet(ctx context.Context, id toil.TimesheetID) (*toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntryByTimesheet(ctx, s.db, id)
}

func getEntryByTimesheet(ctx context.Context, db execer, id toil.TimesheetID) (*toil.AccrualEntry, error) {
	return queryOneEntry(ctx, db, "SELECT "+entryColumns+" FROM accrual_entries WHERE timesheet_id = ?", id)
}

func (s *Store) ListEntriesByEmployee(ctx context.Context, id toil.EmployeeID) ([]toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntriesByEmployee(ctx, s.db, id)
}

func listEntriesByEmployee(ctx context.Context, db execer, id toil.EmployeeID) ([]toil.AccrualEntry, error) {
	return queryEntries(ctx, db, `
		SELECT `+entryColumns+`
		FROM accrual_entries
		WHERE employee_id = ?
		ORDER BY accrual_date ASC, id ASC`, id)
}

func (s *Store) ListExpirableEntries(ctx context.Context, asOf time.Time) ([]toil.AccrualEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExpirableEntries(ctx, s.db, asOf)
}

func listExpirableEntries(ctx context.Context, db execer, asOf time.Time) ([]toil.AccrualEntry, error) {
	return queryEntries(ctx, db, `
		SELECT `+entryColumns+`
		FROM accrual_entries
		WHERE expiry_date IS NOT NULL
		  AND expiry_date < ?
		  AND CAST(remaining_days AS REAL) > 0
		ORDER BY accrual_date ASC, id ASC`,
		asOf.UTC().Format(time.RFC3339))
}

func (s *Store) UpdateEntry(ctx context.Context, e toil.AccrualEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEntry(ctx, s.db, e)
}

func updateEntry(ctx context.Context, db execer, e toil.AccrualEntry) error {
	res, err := db.ExecContext(ctx, `
		UPDATE accrual_entries
		SET remaining_days = ?, forfeited_days = ?, status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		e.RemainingDays.String(),
		e.ForfeitedDays.String(),
		string(e.Status),
		e.ID,
		e.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		// Rows are never deleted, so zero rows means another writer
		// bumped the version first - unless the id itself is unknown.
		existing, qErr := queryOneEntry(ctx, db, "SELECT "+entryColumns+" FROM accrual_entries WHERE id = ?", e.ID)
		if qErr != nil {
			return qErr
		}
		if existing == nil {
			return &toil.NotFoundError{Kind: "entry", ID: string(e.ID)}
		}
		return toil.ErrConcurrencyConflict
	}
	return nil
}

func queryOneEntry(ctx context.Context, db execer, query string, args ...any) (*toil.AccrualEntry, error) {
	entries, err := queryEntries(ctx, db, query, args...)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func queryEntries(ctx context.Context, db execer, query string, args ...any) ([]toil.AccrualEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []toil.AccrualEntry
	for rows.Next() {
		var (
			e                      toil.AccrualEntry
			accrued, remaining     string
			forfeited, accrualDate string
			expiry                 sql.NullString
			status, createdAt      string
		)
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.TimesheetID, &accrued, &remaining,
			&forfeited, &accrualDate, &expiry, &status, &e.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}

		e.AccruedDays = parseDecimal(accrued)
		e.RemainingDays = parseDecimal(remaining)
		e.ForfeitedDays = parseDecimal(forfeited)
		e.AccrualDate, _ = time.Parse(time.RFC3339, accrualDate)
		if expiry.Valid {
			t, _ := time.Parse(time.RFC3339, expiry.String)
			e.ExpiryDate = &t
		}
		e.Status = toil.EntryStatus(status)
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (s *Store) InsertAllocation(ctx context.Context, a toil.ConsumptionAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAllocation(ctx, s.db, a)
}

func insertAllocation(ctx context.Context, db execer, a toil.ConsumptionAllocation) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO consumption_allocations (id, employee_id, requested_days, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.EmployeeID, a.RequestedDays.String(), a.Reason,
		a.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert allocation: %w", err)
	}

	for i, line := range a.Lines {
		_, err := db.ExecContext(ctx, `
			INSERT INTO allocation_lines (allocation_id, line_no, entry_id, days_taken)
			VALUES (?, ?, ?, ?)`,
			a.ID, i, line.EntryID, line.DaysTaken.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation line: %w", err)
		}
	}
	return nil
}

func (s *Store) ListAllocationsByEmployee(ctx context.Context, id toil.EmployeeID) ([]toil.ConsumptionAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAllocationsByEmployee(ctx, s.db, id)
}

func listAllocationsByEmployee(ctx context.Context, db execer, id toil.EmployeeID) ([]toil.ConsumptionAllocation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, employee_id, requested_days, reason, created_at
		FROM consumption_allocations
		WHERE employee_id = ?
		ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []toil.ConsumptionAllocation
	for rows.Next() {
		var (
			a         toil.ConsumptionAllocation
			requested string
			reason    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.EmployeeID, &requested, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.RequestedDays = parseDecimal(requested)
		a.Reason = reason.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		allocations = append(allocations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range allocations {
		lines, err := loadLines(ctx, db, allocations[i].ID)
		if err != nil {
			return nil, err
		}
		allocations[i].Lines = lines
	}
	return allocations, nil
}

func loadLines(ctx context.Context, db execer, id toil.AllocationID) ([]toil.AllocationLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT entry_id, days_taken
		FROM allocation_lines
		WHERE allocation_id = ?
		ORDER BY line_no ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation lines: %w", err)
	}
	defer rows.Close()

	var lines []toil.AllocationLine
	for rows.Next() {
		var line toil.AllocationLine
		var days string
		if err := rows.Scan(&line.EntryID, &days); err != nil {
			return nil, fmt.Errorf("failed to scan allocation line: %w", err)
		}
		line.DaysTaken = parseDecimal(days)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// =============================================================================
// DECISIONS
// =============================================================================

func (s *Store) InsertDecision(ctx context.Context, d toil.ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertDecision(ctx, s.db, d)
}

func insertDecision(ctx context.Context, db execer, d toil.ApprovalDecision) error {
	active := 0
	if d.Active {
		active = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO approval_decisions (id, timesheet_id, approver_id, decision, comment, decided_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TimesheetID, d.ApproverID, string(d.Decision), d.Comment,
		d.DecidedAt.UTC().Format(time.RFC3339), active,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return toil.ErrAlreadyDecided
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

func (s *Store) GetActiveDecision(ctx context.Context, id toil.TimesheetID) (*toil.ApprovalDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getActiveDecision(ctx, s.db, id)
}

func getActiveDecision(ctx context.Context, db execer, id toil.TimesheetID) (*toil.ApprovalDecision, error) {
	var (
		d         toil.ApprovalDecision
		decision  string
		comment   sql.NullString
		decidedAt string
	)

	err := db.QueryRowContext(ctx, `
		SELECT id, timesheet_id, approver_id, decision, comment, decided_at
		FROM approval_decisions
		WHERE timesheet_id = ? AND active = 1`, id,
	).Scan(&d.ID, &d.TimesheetID, &d.ApproverID, &decision, &comment, &decidedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}

	d.Decision = toil.Decision(decision)
	d.Comment = comment.String
	d.DecidedAt, _ = time.Parse(time.RFC3339, decidedAt)
	d.Active = true
	return &d, nil
}

func (s *Store) DeactivateDecisions(ctx context.Context, id toil.TimesheetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivateDecisions(ctx, s.db, id)
}

func deactivateDecisions(ctx context.Context, db execer, id toil.TimesheetID) error {
	_, err := db.ExecContext(ctx,
		"UPDATE approval_decisions SET active = 0 WHERE timesheet_id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to deactivate decisions: %w", err)
	}
	return nil
}

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, e toil.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEmployee(ctx, s.db, e)
}

func saveEmployee(ctx context.Context, db execer, e toil.Employee) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO employees (id, name, email, supervisor_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			supervisor_id = excluded.supervisor_id`,
		e.ID, e.Name, e.Email, string(e.SupervisorID),
		e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id toil.EmployeeID) (*toil.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, id)
}

func getEmployee(ctx context.Context, db execer, id toil.EmployeeID) (*toil.Employee, error) {
	var (
		e          toil.Employee
		email      sql.NullString
		supervisor sql.NullString
		createdAt  string
	)

	err := db.QueryRowContext(ctx,
		"SELECT id, name, email, supervisor_id, created_at FROM employees WHERE id = ?", id,
	).Scan(&e.ID, &e.Name, &email, &supervisor, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}

	e.Email = email.String
	e.SupervisorID = toil.EmployeeID(supervisor.String)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &e, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(toil.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveTimesheet(ctx context.Context, t toil.Timesheet) error {
	return saveTimesheet(ctx, ts.tx, t)
}

func (ts *txStore) GetTimesheet(ctx context.Context, id toil.TimesheetID) (*toil.Timesheet, error) {
	return getTimesheet(ctx, ts.tx, id)
}

func (ts *txStore) SetTOILStatus(ctx context.Context, id toil.TimesheetID, status toil.TOILStatus) error {
	return setTOILStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) InsertEntry(ctx context.Context, e toil.AccrualEntry) error {
	return insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) GetEntry(ctx context.Context, id toil.EntryID) (*toil.AccrualEntry, error) {
	return queryOneEntry(ctx, ts.tx, "SELECT "+entryColumns+" FROM accrual_entries WHERE id = ?", id)
}

func (ts *txStore) GetEntryByTimesheet(ctx context.Context, id toil.TimesheetID) (*toil.AccrualEntry, error) {
	return getEntryByTimesheet(ctx, ts.tx, id)
}

func (ts *txStore) ListEntriesByEmployee(ctx context.Context, id toil.EmployeeID) ([]toil.AccrualEntry, error) {
	return listEntriesByEmployee(ctx, ts.tx, id)
}

func (ts *txStore) ListExpirableEntries(ctx context.Context, asOf time.Time) ([]toil.AccrualEntry, error) {
	return listExpirableEntries(ctx, ts.tx, asOf)
}

func (ts *txStore) UpdateEntry(ctx context.Context, e toil.AccrualEntry) error {
	return updateEntry(ctx, ts.tx, e)
}

func (ts *txStore) InsertAllocation(ctx context.Context, a toil.ConsumptionAllocation) error {
	return insertAllocation(ctx, ts.tx, a)
}

func (ts *txStore) ListAllocationsByEmployee(ctx context.Context, id toil.EmployeeID) ([]toil.ConsumptionAllocation, error) {
	return listAllocationsByEmployee(ctx, ts.tx, id)
}

func (ts *txStore) InsertDecision(ctx context.Context, d toil.ApprovalDecision) error {
	return insertDecision(ctx, ts.tx, d)
}

func (ts *txStore) GetActiveDecision(ctx context.Context, id toil.TimesheetID) (*toil.ApprovalDecision, error) {
	return getActiveDecision(ctx, ts.tx, id)
}

func (ts *txStore) DeactivateDecisions(ctx context.Context, id toil.TimesheetID) error {
	return deactivateDecisions(ctx, ts.tx, id)
}

func (ts *txStore) SaveEmployee(ctx context.Context, e toil.Employee) error {
	return saveEmployee(ctx, ts.tx, e)
}

func (ts *txStore) GetEmployee(ctx context.Context, id toil.EmployeeID) (*toil.Employee, error) {
	return getEmployee(ctx, ts.tx, id)
}

var (
	_ toil.TxStore = (*Store)(nil)
	_ toil.Store   = (*txStore)(nil)
)

// =============================================================================
// HELPERS
// =============================================================================

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
