// Package storage provides abstractions for persistent ledger storage.
package storage

import (
	"context"
	"errors"

	"splittab/internal/models"
)

var (
	// ErrNotFound is returned when a requested user or transaction
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidSplit is returned by CreateTransaction when the debtor
	// set is empty or contains the spender.
	ErrInvalidSplit = errors.New("invalid split")

	// ErrStatusConflict is returned by UpdateDebtStatus when the debt is
	// not in the expected current status. Expected under concurrent use;
	// the service layer maps it to the user-facing conflict errors.
	ErrStatusConflict = errors.New("debt status conflict")
)

// Store defines the interface for ledger storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL)
// without changing the service layer.
//
// All reads are point-in-time consistent with the last committed write:
// an in-progress CreateTransaction is never partially visible.
type Store interface {
	// UpsertUser inserts the user or updates its display name.
	UpsertUser(ctx context.Context, user models.User) error

	// GetUser retrieves a user by ID. Returns ErrNotFound if missing.
	GetUser(ctx context.Context, id int64) (*models.User, error)

	// ListUsers returns all registered users.
	ListUsers(ctx context.Context) ([]models.User, error)

	// CreateTransaction persists the transaction and all its debt rows
	// atomically and returns the assigned transaction ID. IDs are
	// strictly increasing and never reused. Returns ErrInvalidSplit if
	// the transaction has no debts or lists the spender as a debtor.
	CreateTransaction(ctx context.Context, tx *models.Transaction) (int64, error)

	// GetTransaction retrieves a transaction with its debts.
	// Returns ErrNotFound if missing.
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)

	// PendingDebtsFor returns the debts where the user is the debtor and
	// the status is still pending, joined with transaction context.
	PendingDebtsFor(ctx context.Context, userID int64) ([]models.DebtDetail, error)

	// MarkedConfirmationsFor returns the transactions spent by the given
	// user that have at least one marked debt awaiting confirmation.
	MarkedConfirmationsFor(ctx context.Context, spenderID int64) ([]*models.Transaction, error)

	// MarkedDebtorsOf returns the debtor IDs with status marked on the
	// given transaction.
	MarkedDebtorsOf(ctx context.Context, txID int64) ([]int64, error)

	// SummaryFor returns all debts owed to and owed by the user.
	SummaryFor(ctx context.Context, userID int64) (*models.Summary, error)

	// UpdateDebtStatus transitions one debt from the expected current
	// status to the next, as a single compare-and-swap. If the debt is
	// not currently in the from status, no row changes and
	// ErrStatusConflict is returned; concurrent callers racing on the
	// same debt therefore get exactly one winner.
	UpdateDebtStatus(ctx context.Context, txID, debtorID int64, from, to models.DebtStatus) error

	// Close releases any resources held by the store.
	Close() error
}
