package loan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed loan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const loanColumns = `loan_id, owner_id, COALESCE(transaction_id, ''), amount, status,
	lender_name, bounce_charge, repayment_due_at, repaid_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, loan *Loan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO loans
			(loan_id, owner_id, transaction_id, amount, status, lender_name, bounce_charge, repayment_due_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4::NUMERIC(20,2), $5, $6, $7::NUMERIC(20,2), $8, $9, $10)
	`, loan.LoanID, loan.OwnerID, loan.TransactionID, loan.Amount, loan.Status,
		loan.LenderName, loan.BounceCharge, loan.RepaymentDueAt, loan.CreatedAt, loan.UpdatedAt)

	// The partial unique index on (owner_id) over outstanding statuses is
	// the real one-loan-per-owner guard; a racing second Apply loses here.
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return ErrActiveLoanExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, loanID string) (*Loan, error) {
	return p.scanLoan(p.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE loan_id = $1`, loanID))
}

func (p *PostgresStore) GetOutstandingByOwner(ctx context.Context, ownerID string) (*Loan, error) {
	return p.scanLoan(p.db.QueryRowContext(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE owner_id = $1 AND status IN ('ACTIVE', 'OVERDUE')
		 ORDER BY created_at DESC LIMIT 1`, ownerID))
}

func (p *PostgresStore) scanLoan(row *sql.Row) (*Loan, error) {
	loan := &Loan{}
	var repaidAt sql.NullTime
	err := row.Scan(&loan.LoanID, &loan.OwnerID, &loan.TransactionID, &loan.Amount, &loan.Status,
		&loan.LenderName, &loan.BounceCharge, &loan.RepaymentDueAt, &repaidAt,
		&loan.CreatedAt, &loan.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, err
	}
	if repaidAt.Valid {
		loan.RepaidAt = &repaidAt.Time
	}
	return loan, nil
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Loan, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	return p.collect(rows)
}

func (p *PostgresStore) MarkRepaid(ctx context.Context, loanID string, repaidAt time.Time) error {
	return p.transition(ctx, loanID, `
		UPDATE loans SET status = 'REPAID', repaid_at = $2, updated_at = NOW()
		WHERE loan_id = $1 AND status IN ('ACTIVE', 'OVERDUE')
	`, repaidAt)
}

func (p *PostgresStore) MarkOverdue(ctx context.Context, loanID string) error {
	return p.transition(ctx, loanID, `
		UPDATE loans SET status = 'OVERDUE', updated_at = NOW()
		WHERE loan_id = $1 AND status = 'ACTIVE'
	`)
}

func (p *PostgresStore) transition(ctx context.Context, loanID, query string, args ...any) error {
	result, err := p.db.ExecContext(ctx, query, append([]any{loanID}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrLoanNotFound
	}
	return nil
}

func (p *PostgresStore) ListActiveDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Loan, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+loanColumns+` FROM loans
		 WHERE status = 'ACTIVE' AND repayment_due_at < $1
		 ORDER BY repayment_due_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return p.collect(rows)
}

func (p *PostgresStore) collect(rows *sql.Rows) ([]*Loan, error) {
	defer rows.Close()

	var result []*Loan
	for rows.Next() {
		loan := &Loan{}
		var repaidAt sql.NullTime
		if err := rows.Scan(&loan.LoanID, &loan.OwnerID, &loan.TransactionID, &loan.Amount, &loan.Status,
			&loan.LenderName, &loan.BounceCharge, &loan.RepaymentDueAt, &repaidAt,
			&loan.CreatedAt, &loan.UpdatedAt); err != nil {
			return nil, err
		}
		if repaidAt.Valid {
			loan.RepaidAt = &repaidAt.Time
		}
		result = append(result, loan)
	}
	return result, rows.Err()
}
