package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
//
// Balances live in the wallets table as NUMERIC(20,2) with non-negative
// CHECK constraints; ledger entries are append-only. ApplyMutation updates
// the wallet row guarded by a version predicate and inserts the entry in
// the same transaction, so a lost CAS never leaves a stray ledger record.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed wallet store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateWallet(ctx context.Context, acct *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_id, balance, locked_balance, version, created_at, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,2), $4::NUMERIC(20,2), $5, $6, $7)
	`, acct.ID, acct.OwnerID, acct.Balance, acct.LockedBalance, acct.Version, acct.CreatedAt, acct.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
		return ErrWalletExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, walletID string) (*Account, error) {
	return p.scanWallet(p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, balance, locked_balance, version, created_at, updated_at
		FROM wallets WHERE id = $1
	`, walletID))
}

func (p *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (*Account, error) {
	return p.scanWallet(p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, balance, locked_balance, version, created_at, updated_at
		FROM wallets WHERE owner_id = $1
	`, ownerID))
}

func (p *PostgresStore) scanWallet(row *sql.Row) (*Account, error) {
	acct := &Account{}
	err := row.Scan(&acct.ID, &acct.OwnerID, &acct.Balance, &acct.LockedBalance,
		&acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (p *PostgresStore) ApplyMutation(ctx context.Context, m Mutation) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The version predicate is the CAS. The CHECK constraints reject
	// negative balances even if a caller computed them wrong.
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			balance        = $3::NUMERIC(20,2),
			locked_balance = $4::NUMERIC(20,2),
			version        = version + 1,
			updated_at     = NOW()
		WHERE id = $1 AND version = $2
	`, m.WalletID, m.ExpectedVersion, m.NewBalance, m.NewLockedBalance)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Distinguish a stale version from a missing wallet
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, m.WalletID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrWalletNotFound
		}
		return ErrConcurrentModification
	}

	if m.Entry != nil {
		e := m.Entry
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, wallet_id, owner_id, transaction_id, kind, amount, balance_after, description, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6::NUMERIC(20,2), $7::NUMERIC(20,2), $8, $9)
		`, e.ID, e.WalletID, e.OwnerID, e.TransactionID, e.Kind, e.Amount, e.BalanceAfter, e.Description, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to record ledger entry: %w", err)
		}
	}

	if m.Audit != nil {
		if err := insertAudit(ctx, tx, m.Audit); err != nil {
			return fmt.Errorf("failed to record audit: %w", err)
		}
	}

	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, ex execer, audit *AuditRecord) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO admin_audits
			(id, actor_id, action, owner_id, transaction_id, amount, reason, previous_balance, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, '')::NUMERIC(20,2), $7, NULLIF($8, '')::NUMERIC(20,2), $9)
	`, audit.ID, audit.ActorID, audit.Action, audit.OwnerID, audit.TransactionID,
		audit.Amount, audit.Reason, audit.PreviousBalance, audit.CreatedAt)
	return err
}

func (p *PostgresStore) SaveAudit(ctx context.Context, audit *AuditRecord) error {
	return insertAudit(ctx, p.db, audit)
}

func (p *PostgresStore) ListAudits(ctx context.Context, ownerID string, limit int) ([]*AuditRecord, error) {
	query := `
		SELECT id, actor_id, action, owner_id, COALESCE(transaction_id, ''),
		       COALESCE(amount::TEXT, ''), reason, COALESCE(previous_balance::TEXT, ''), created_at
		FROM admin_audits`
	args := []any{limit}
	if ownerID != "" {
		query += ` WHERE owner_id = $2`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AuditRecord
	for rows.Next() {
		audit := &AuditRecord{}
		if err := rows.Scan(&audit.ID, &audit.ActorID, &audit.Action, &audit.OwnerID,
			&audit.TransactionID, &audit.Amount, &audit.Reason,
			&audit.PreviousBalance, &audit.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, audit)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ListEntries(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, wallet_id, owner_id, COALESCE(transaction_id, ''), kind, amount, balance_after, COALESCE(description, ''), created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.WalletID, &e.OwnerID, &e.TransactionID,
			&e.Kind, &e.Amount, &e.BalanceAfter, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *PostgresStore) HasEntry(ctx context.Context, transactionID, kind string) (bool, error) {
	if transactionID == "" {
		return false, nil
	}
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_entries WHERE transaction_id = $1 AND kind = $2
		)
	`, transactionID, kind).Scan(&exists)
	return exists, err
}
