package bot

import (
	"errors"
	"fmt"
	"strings"

	"splittab/internal/calculator"
	"splittab/internal/ledger"
	"splittab/internal/models"
	"splittab/internal/session"
	"splittab/internal/storage"
)

// renderSummary formats a user's full position as chat text.
func renderSummary(s *models.Summary) string {
	if len(s.OwedToUser) == 0 && len(s.OwedByUser) == 0 {
		return "No expenses recorded yet."
	}

	var b strings.Builder
	if len(s.OwedToUser) > 0 {
		b.WriteString("Owed to you:\n")
		for _, d := range s.OwedToUser {
			fmt.Fprintf(&b, "  %s — %s for %q (%s)\n",
				nameOrID(d.DebtorName, d.Debtor), d.Share.StringFixed(2), d.Description, d.Status)
		}
	}
	if len(s.OwedByUser) > 0 {
		b.WriteString("You owe:\n")
		for _, d := range s.OwedByUser {
			fmt.Fprintf(&b, "  %s — %s for %q (%s)\n",
				nameOrID(d.SpenderName, d.Spender), d.Share.StringFixed(2), d.Description, d.Status)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func nameOrID(name string, id int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("user %d", id)
}

// renderError maps a failure to the text shown to the user. Internal
// detail stays in the logs.
func renderError(err error) string {
	switch {
	case errors.Is(err, errNotRegistered):
		return "I don't know you yet. Send /start first."
	case errors.Is(err, ledger.ErrNotDebtor):
		return "You're not a debtor on that expense."
	case errors.Is(err, ledger.ErrNotSpender):
		return "Only the person who paid can confirm a payment."
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		return "That debt was already handled, nothing to do."
	case errors.Is(err, ledger.ErrNotMarked):
		return "That debt isn't marked as paid yet."
	case errors.Is(err, ledger.ErrAmbiguousDebtor):
		return "Several people marked this expense. Pick whose payment you're confirming."
	case errors.Is(err, ledger.ErrInvalidName):
		return "I need a non-empty name."
	case errors.Is(err, session.ErrNoCandidates):
		return "Nobody else is registered yet, so there's no one to split with."
	case errors.Is(err, calculator.ErrInsufficientParticipants):
		return "An expense needs at least one other participant."
	case errors.Is(err, calculator.ErrInvalidAmount):
		return "That amount can't be split that many ways."
	case errors.Is(err, storage.ErrInvalidSplit):
		return "That split isn't valid. The spender can't owe themselves."
	case errors.Is(err, storage.ErrNotFound):
		return "I couldn't find that. It may have been someone else's."
	default:
		return "Something went wrong on my end. Please try again."
	}
}

// outcomeOf classifies an error for metrics and log severity.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ledger.ErrAlreadyProcessed),
		errors.Is(err, ledger.ErrNotMarked),
		errors.Is(err, ledger.ErrAmbiguousDebtor),
		errors.Is(err, storage.ErrStatusConflict):
		return "conflict"
	case errors.Is(err, ledger.ErrNotDebtor),
		errors.Is(err, ledger.ErrNotSpender):
		return "denied"
	case errors.Is(err, errNotRegistered),
		errors.Is(err, ledger.ErrInvalidName),
		errors.Is(err, session.ErrNoCandidates),
		errors.Is(err, session.ErrBadAmount),
		errors.Is(err, calculator.ErrInsufficientParticipants),
		errors.Is(err, calculator.ErrInvalidAmount),
		errors.Is(err, calculator.ErrDuplicateDebtor),
		errors.Is(err, storage.ErrInvalidSplit):
		return "validation"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
