// Package postgres provides a PostgreSQL-backed implementation of the
// storage.Store interface using pgx connection pooling.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"splittab/internal/models"
	"splittab/internal/storage"
)

// Ensure PostgresStore implements storage.Store
var _ storage.Store = (*PostgresStore)(nil)

// schema mirrors the sqlite schema. BIGSERIAL keeps transaction IDs
// strictly increasing; sequences never hand out the same value twice.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    display_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    spender BIGINT NOT NULL,
    amount NUMERIC NOT NULL,
    description TEXT NOT NULL,
    share NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS debts (
    transaction_id BIGINT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
    debtor_id BIGINT NOT NULL,
    share NUMERIC NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('pending', 'marked', 'confirmed')),
    PRIMARY KEY (transaction_id, debtor_id)
);

CREATE INDEX IF NOT EXISTS idx_debts_debtor_status ON debts(debtor_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_spender ON transactions(spender);
`

// PostgresStore implements storage.Store using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New connects to the database at the given DSN and runs migrations.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertUser inserts the user or updates its display name.
func (s *PostgresStore) UpsertUser(ctx context.Context, user models.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		user.ID, user.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their ID.
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx,
		"SELECT id, display_name FROM users WHERE id = $1", id,
	).Scan(&user.ID, &user.DisplayName)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all registered users.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, display_name FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// CreateTransaction persists a transaction and its debt rows in one
// database transaction.
func (s *PostgresStore) CreateTransaction(ctx context.Context, txn *models.Transaction) (int64, error) {
	if len(txn.Debts) == 0 {
		return 0, fmt.Errorf("%w: no debtors", storage.ErrInvalidSplit)
	}
	for _, d := range txn.Debts {
		if d.DebtorID == txn.Spender {
			return 0, fmt.Errorf("%w: spender %d listed as debtor", storage.ErrInvalidSplit, txn.Spender)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var txID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO transactions (spender, amount, description, share)
		VALUES ($1, $2::numeric, $3, $4::numeric)
		RETURNING id`,
		txn.Spender, txn.Amount.String(), txn.Description, txn.Share.String(),
	).Scan(&txID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}

	for i := range txn.Debts {
		d := &txn.Debts[i]
		d.TransactionID = txID
		if d.Status == "" {
			d.Status = models.DebtPending
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO debts (transaction_id, debtor_id, share, status)
			VALUES ($1, $2, $3::numeric, $4)`,
			txID, d.DebtorID, d.Share.String(), string(d.Status),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert debt: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	txn.ID = txID
	return txID, nil
}

// GetTransaction retrieves a transaction by ID, including all its debts.
func (s *PostgresStore) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var amount, share string
	err := s.pool.QueryRow(ctx,
		"SELECT id, spender, amount::text, description, share::text FROM transactions WHERE id = $1",
		id,
	).Scan(&txn.ID, &txn.Spender, &amount, &txn.Description, &share)
	if errors.Is(err, pgx.ErrNoRows) {
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

	rows, err := s.pool.Query(ctx,
		"SELECT debtor_id, share::text, status FROM debts WHERE transaction_id = $1 ORDER BY debtor_id",
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

// UpdateDebtStatus transitions one debt between statuses as a
// compare-and-swap on the status column.
func (s *PostgresStore) UpdateDebtStatus(ctx context.Context, txID, debtorID int64, from, to models.DebtStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s is not a legal transition", storage.ErrStatusConflict, from, to)
	}

	tag, err := s.pool.Exec(ctx,
		"UPDATE debts SET status = $1 WHERE transaction_id = $2 AND debtor_id = $3 AND status = $4",
		string(to), txID, debtorID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update debt status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("debt (%d, %d) not in status %s: %w", txID, debtorID, from, storage.ErrStatusConflict)
	}
	return nil
}

// MarkedDebtorsOf returns the debtor IDs with status marked on a transaction.
func (s *PostgresStore) MarkedDebtorsOf(ctx context.Context, txID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT debtor_id FROM debts WHERE transaction_id = $1 AND status = $2 ORDER BY debtor_id",
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

// MarkedConfirmationsFor returns transactions spent by the user with at
// least one marked debt.
func (s *PostgresStore) MarkedConfirmationsFor(ctx context.Context, spenderID int64) ([]*models.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id FROM transactions t
		WHERE t.spender = $1 AND EXISTS (
			SELECT 1 FROM debts d WHERE d.transaction_id = t.id AND d.status = $2
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

// debtDetailQuery joins debts with their transaction and both display names.
const debtDetailQuery = `
	SELECT t.id, t.description, t.spender, COALESCE(su.display_name, ''),
	       d.debtor_id, COALESCE(du.display_name, ''), d.share::text, d.status
	FROM debts d
	JOIN transactions t ON t.id = d.transaction_id
	LEFT JOIN users su ON su.id = t.spender
	LEFT JOIN users du ON du.id = d.debtor_id
`

// PendingDebtsFor returns the debts where the user is the debtor and the
// status is still pending.
func (s *PostgresStore) PendingDebtsFor(ctx context.Context, userID int64) ([]models.DebtDetail, error) {
	rows, err := s.pool.Query(ctx,
		debtDetailQuery+"WHERE d.debtor_id = $1 AND d.status = $2 ORDER BY t.id",
		userID, string(models.DebtPending),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending debts: %w", err)
	}
	defer rows.Close()
	return scanDebtDetails(rows)
}

// SummaryFor returns every debt owed to and owed by the user, all statuses.
func (s *PostgresStore) SummaryFor(ctx context.Context, userID int64) (*models.Summary, error) {
	owedToUser, err := s.queryDebtDetails(ctx,
		debtDetailQuery+"WHERE t.spender = $1 ORDER BY t.id, d.debtor_id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get debts owed to user: %w", err)
	}

	owedByUser, err := s.queryDebtDetails(ctx,
		debtDetailQuery+"WHERE d.debtor_id = $1 ORDER BY t.id", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get debts owed by user: %w", err)
	}

	return &models.Summary{OwedToUser: owedToUser, OwedByUser: owedByUser}, nil
}

func (s *PostgresStore) queryDebtDetails(ctx context.Context, query string, args ...any) ([]models.DebtDetail, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDebtDetails(rows)
}

func scanDebtDetails(rows pgx.Rows) ([]models.DebtDetail, error) {
	var details []models.DebtDetail
	for rows.Next() {
		var d models.DebtDetail
		var share, status string
		if err := rows.Scan(&d.TransactionID, &d.Description, &d.Spender, &d.SpenderName,
			&d.Debtor, &d.DebtorName, &share, &status); err != nil {
			return nil, fmt.Errorf("failed to scan debt detail: %w", err)
		}
		parsed, err := decimal.NewFromString(share)
		if err != nil {
			return nil, fmt.Errorf("failed to parse share: %w", err)
		}
		d.Share = parsed
		d.Status = models.DebtStatus(status)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate debt details: %w", err)
	}
	return details, nil
}
