package models

import "github.com/shopspring/decimal"

// DebtStatus is the settlement state of a single debt.
type DebtStatus string

const (
	// DebtPending means the debtor has not yet reported paying their share.
	DebtPending DebtStatus = "pending"

	// DebtMarked means the debtor reported the share as paid and the
	// spender has not yet confirmed receipt.
	DebtMarked DebtStatus = "marked"

	// DebtConfirmed means the spender acknowledged the payment. Terminal.
	DebtConfirmed DebtStatus = "confirmed"
)

// Valid reports whether s is one of the known statuses.
func (s DebtStatus) Valid() bool {
	switch s {
	case DebtPending, DebtMarked, DebtConfirmed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// transition. The lifecycle is strictly pending -> marked -> confirmed;
// there is no reversal and no skipping.
func (s DebtStatus) CanTransitionTo(next DebtStatus) bool {
	switch s {
	case DebtPending:
		return next == DebtMarked
	case DebtMarked:
		return next == DebtConfirmed
	}
	return false
}

// Transaction represents one recorded expense.
// Immutable after creation except for the status of its debts.
type Transaction struct {
	// ID is assigned by the store, strictly increasing, never reused.
	ID int64

	// Spender is the user who paid and is owed the shares.
	Spender int64

	// Amount is the full expense amount.
	Amount decimal.Decimal

	// Description is the free-text label entered by the spender.
	Description string

	// Share is the base per-debtor share, frozen at creation.
	// Any rounding residual sits on a single debt's Share instead,
	// so per-debt shares always sum to Amount exactly.
	Share decimal.Decimal

	// Debts holds exactly one entry per debtor.
	Debts []Debt
}

// Debt is one debtor's slice of a transaction.
type Debt struct {
	TransactionID int64
	DebtorID      int64

	// Share is what this debtor owes. Equal to the transaction's base
	// share except for the debtor carrying the rounding residual.
	Share decimal.Decimal

	Status DebtStatus
}

// DebtorIDs returns the debtor IDs of the transaction's debts.
func (t *Transaction) DebtorIDs() []int64 {
	ids := make([]int64, len(t.Debts))
	for i, d := range t.Debts {
		ids[i] = d.DebtorID
	}
	return ids
}

// DebtOf returns the debt held by the given debtor, or nil if the user
// is not a debtor on this transaction.
func (t *Transaction) DebtOf(debtorID int64) *Debt {
	for i := range t.Debts {
		if t.Debts[i].DebtorID == debtorID {
			return &t.Debts[i]
		}
	}
	return nil
}

// DebtDetail is a debt joined with its transaction context,
// as returned by listing queries.
type DebtDetail struct {
	TransactionID int64
	Description   string

	// Spender is the user owed the share.
	Spender     int64
	SpenderName string

	// Debtor is the user owing the share.
	Debtor     int64
	DebtorName string

	Share  decimal.Decimal
	Status DebtStatus
}

// Summary is a user's full position: what others owe them and what they
// owe others, one row per debt, all statuses included.
type Summary struct {
	// OwedToUser are debts on transactions the user spent on.
	OwedToUser []DebtDetail

	// OwedByUser are debts where the user is the debtor.
	OwedByUser []DebtDetail
}
