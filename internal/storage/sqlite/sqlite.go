// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"splittab/internal/models"
	"splittab/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with pure Go driver
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Many handlers share this store concurrently; the driver serializes
	// writes, but a single connection avoids SQLITE_BUSY on overlapping
	// write transactions. This also serializes statements touching
	// unrelated rows; SQLite's single-writer lock makes that mostly true
	// anyway. The postgres store keeps unrelated updates fully
	// independent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTransaction persists a transaction and its debt rows in one
// database transaction. Either everything commits or nothing does.
func (s *SQLiteStore) CreateTransaction(ctx context.Context, txn *models.Transaction) (int64, error) {
	if len(txn.Debts) == 0 {
		return 0, fmt.Errorf("%w: no debtors", storage.ErrInvalidSplit)
	}
	for _, d := range txn.Debts {
		if d.DebtorID == txn.Spender {
			return 0, fmt.Errorf("%w: spender %d listed as debtor", storage.ErrInvalidSplit, txn.Spender)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO transactions (spender, amount, description, share) VALUES (?, ?, ?, ?)",
		txn.Spender, txn.Amount.String(), txn.Description, txn.Share.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	txID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transaction id: %w", err)
	}

	for i := range txn.Debts {
		d := &txn.Debts[i]
		d.TransactionID = txID
		if d.Status == "" {
			d.Status = models.DebtPending
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO debts (transaction_id, debtor_id, share, status) VALUES (?, ?, ?, ?)",
			txID, d.DebtorID, d.Share.String(), string(d.Status),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert debt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	txn.ID = txID
	return txID, nil
}

// GetTransaction retrieves a transaction by ID, including all its debts.
func (s *SQLiteStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var amount, share string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, spender, amount, description, share FROM transactions WHERE id = ?",
		id,
	).Scan(&txn.ID, &txn.Spender, &amount, &txn.Description, &share)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if txn.Share, err = decimal.NewFromString(share); err != nil {
		return nil, fmt.Errorf("failed to parse share: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT debtor_id, share, status FROM debts WHERE transaction_id = ? ORDER BY debtor_id",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get debts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d := models.Debt{TransactionID: id}
		var debtShare, status string
		if err := rows.Scan(&d.DebtorID, &debtShare, &status); err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		if d.Share, err = decimal.NewFromString(debtShare); err != nil {
			return nil, fmt.Errorf("failed to parse debt share: %w", err)
		}
		d.Status = models.DebtStatus(status)
		txn.Debts = append(txn.Debts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate debts: %w", err)
	}

	return txn, nil
}

// UpdateDebtStatus transitions a debt between statuses as a compare-and-swap:
// the UPDATE only matches when the row is still in the expected status, so of
// two racing callers exactly one sees a changed row and the other gets
// storage.ErrStatusConflict.
func (s *SQLiteStore) UpdateDebtStatus(ctx context.Context, txID, debtorID int64, from, to models.DebtStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", storage.ErrStatusConflict, from, to)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE debts SET status = ? WHERE transaction_id = ? AND debtor_id = ? AND status = ?",
		string(to), txID, debtorID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update debt status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("debt (%d, %d) not in status %s: %w", txID, debtorID, from, storage.ErrStatusConflict)
	}
	return nil
}

// MarkedDebtorsOf returns the debtor IDs with status marked on a transaction.
func (s *SQLiteStore) MarkedDebtorsOf(ctx context.Context, txID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT debtor_id FROM debts WHERE transaction_id = ? AND status = ? ORDER BY debtor_id",
		txID, string(models.DebtMarked),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get marked debtors: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan debtor id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate marked debtors: %w", err)
	}
	return ids, nil
}

// MarkedConfirmationsFor returns transactions spent by the user that have at
// least one marked debt awaiting confirmation.
func (s *SQLiteStore) MarkedConfirmationsFor(ctx context.Context, spenderID int64) ([]*models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id FROM transactions t
		WHERE t.spender = ? AND EXISTS (
			SELECT 1 FROM debts d WHERE d.transaction_id = t.id AND d.status = ?
		)
		ORDER BY t.id`,
		spenderID, string(models.DebtMarked),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get confirmations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate confirmations: %w", err)
	}

	txns := make([]*models.Transaction, 0, len(ids))
	for _, id := range ids {
		txn, err := s.GetTransaction(ctx, id)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}
