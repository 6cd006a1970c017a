// Package calculator computes per-debtor shares for an expense.
package calculator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned when the amount is not positive, or is
	// too small to give every debtor a positive share.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientParticipants is returned when no debtors remain to
	// split the expense among.
	ErrInsufficientParticipants = errors.New("insufficient participants")

	// ErrDuplicateDebtor is returned when a debtor appears twice.
	ErrDuplicateDebtor = errors.New("duplicate debtor")
)

// shareScale is the number of decimal places of the ledger's minor
// currency unit (cents).
const shareScale = 2

// Shares is the result of splitting an expense.
type Shares struct {
	// Base is the rounded per-debtor share (amount / n, round-half-up to
	// the minor unit). This is the value frozen on the transaction.
	Base decimal.Decimal

	// PerDebtor maps each debtor to their exact share. All but one entry
	// equal Base; the debtor with the lowest ID carries the rounding
	// residual so the values sum to the amount exactly.
	PerDebtor map[int64]decimal.Decimal
}

// Split divides amount equally among the given debtors.
//
// The base share is amount/n rounded half-up to the minor currency unit.
// Division rarely lands on an exact cent boundary, so the residual
// (amount - base*n, possibly negative) is added onto the share of the
// debtor with the lowest ID. The shares therefore always sum to amount
// exactly, with no leaked or invented cents.
func Split(amount decimal.Decimal, debtorIDs []int64) (*Shares, error) {
	if len(debtorIDs) < 1 {
		return nil, ErrInsufficientParticipants
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, amount)
	}

	seen := make(map[int64]bool, len(debtorIDs))
	lowest := debtorIDs[0]
	for _, id := range debtorIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateDebtor, id)
		}
		seen[id] = true
		if id < lowest {
			lowest = id
		}
	}

	n := decimal.NewFromInt(int64(len(debtorIDs)))
	base := amount.DivRound(n, shareScale)
	residual := amount.Sub(base.Mul(n))

	perDebtor := make(map[int64]decimal.Decimal, len(debtorIDs))
	for _, id := range debtorIDs {
		share := base
		if id == lowest {
			share = share.Add(residual)
		}
		if !share.IsPositive() {
			return nil, fmt.Errorf("%w: %s is too small to split %d ways", ErrInvalidAmount, amount, len(debtorIDs))
		}
		perDebtor[id] = share
	}

	return &Shares{Base: base, PerDebtor: perDebtor}, nil
}
