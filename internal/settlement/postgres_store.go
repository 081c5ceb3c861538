package settlement

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

// NewPostgresStore creates a new PostgreSQL-backed settlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `transaction_id, owner_id, kind, amount, status,
	COALESCE(external_ref, ''), COALESCE(target, ''), COALESCE(failure_reason, ''),
	created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO settlement_transactions
			(transaction_id, owner_id, kind, amount, status, external_ref, target, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,2), $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10)
	`, tx.TransactionID, tx.OwnerID, tx.Kind, tx.Amount, tx.Status,
		tx.ExternalRef, tx.Target, tx.FailureReason, tx.CreatedAt, tx.UpdatedAt)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, transactionID string) (*Transaction, error) {
	return p.scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM settlement_transactions WHERE transaction_id = $1`,
		transactionID))
}

func (p *PostgresStore) GetByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	return p.scanTransaction(p.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM settlement_transactions WHERE external_ref = $1`,
		externalRef))
}

func (p *PostgresStore) scanTransaction(row *sql.Row) (*Transaction, error) {
	tx := &Transaction{}
	err := row.Scan(&tx.TransactionID, &tx.OwnerID, &tx.Kind, &tx.Amount, &tx.Status,
		&tx.ExternalRef, &tx.Target, &tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (p *PostgresStore) SetExternalRef(ctx context.Context, transactionID, externalRef string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE settlement_transactions
		SET external_ref = $2, updated_at = NOW()
		WHERE transaction_id = $1
	`, transactionID, externalRef)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation on external_ref
		return ErrExternalRefTaken
	}
	if err != nil {
		return fmt.Errorf("failed to set external ref: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, transactionID, status, failureReason string) error {
	// The status predicate makes the transition a compare-and-swap: two
	// instances resolving the same transaction cannot both win, and a
	// refund cannot land on a row still PENDING.
	result, err := p.db.ExecContext(ctx, `
		UPDATE settlement_transactions
		SET status = $2,
		    failure_reason = CASE WHEN $2 = 'FAILED' THEN NULLIF($3, '') ELSE failure_reason END,
		    updated_at = NOW()
		WHERE transaction_id = $1 AND status = ANY($4)
	`, transactionID, status, failureReason, pq.Array(allowedFrom(status)))
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM settlement_transactions WHERE transaction_id = $1)`,
			transactionID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransactionNotFound
		}
		return ErrStatusConflict
	}
	return nil
}

// allowedFrom lists the statuses a transition to status may start from.
func allowedFrom(status string) []string {
	if status == StatusRefunded {
		return []string{StatusSuccess, StatusFailed}
	}
	return []string{StatusPending}
}

func (p *PostgresStore) ListByOwner(ctx context.Context, ownerID, kind string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM settlement_transactions
		 WHERE owner_id = $1 AND ($2 = '' OR kind = $2)
		 ORDER BY created_at DESC LIMIT $3`,
		ownerID, kind, limit)
	if err != nil {
		return nil, err
	}
	return p.collect(rows)
}

func (p *PostgresStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+txColumns+` FROM settlement_transactions
		 WHERE status = 'PENDING' AND created_at < $1
		 ORDER BY created_at ASC LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, err
	}
	return p.collect(rows)
}

func (p *PostgresStore) collect(rows *sql.Rows) ([]*Transaction, error) {
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		tx := &Transaction{}
		if err := rows.Scan(&tx.TransactionID, &tx.OwnerID, &tx.Kind, &tx.Amount, &tx.Status,
			&tx.ExternalRef, &tx.Target, &tx.FailureReason, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}
