package ledger

import "errors"

// Authorization errors: reported to the caller, no state change.
var (
	// ErrNotDebtor means the caller tried to mark a debt on a
	// transaction they are not a debtor of.
	ErrNotDebtor = errors.New("not a debtor on this transaction")

	// ErrNotSpender means someone other than the transaction's spender
	// tried to confirm a payment.
	ErrNotSpender = errors.New("not the spender of this transaction")
)

// State conflicts: expected under concurrent use, reported, no state change.
var (
	// ErrAlreadyProcessed means the debt was not pending when a mark was
	// attempted, for example because a concurrent mark won the race.
	ErrAlreadyProcessed = errors.New("debt already processed")

	// ErrNotMarked means the debt was not in the marked state when a
	// confirmation was attempted.
	ErrNotMarked = errors.New("debt not marked as paid")

	// ErrAmbiguousDebtor means a confirmation without an explicit debtor
	// matched more than one marked debt; the caller must pick one.
	ErrAmbiguousDebtor = errors.New("multiple debtors marked, specify one")
)

// Validation errors.
var (
	// ErrInvalidName is returned when registering with an empty display name.
	ErrInvalidName = errors.New("display name must not be empty")
)
