// Package ledger implements the expense ledger: user registry, expense
// creation, and the per-debt settlement state machine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"splittab/internal/calculator"
	"splittab/internal/chat"
	"splittab/internal/models"
	"splittab/internal/storage"
)

var notifyFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "splittab_notification_failures_total",
	Help: "Outbound debtor/spender notifications that failed to send.",
})

// notifyTimeout bounds each fire-and-forget notification send.
const notifyTimeout = 10 * time.Second

// Service coordinates the split engine, the store and outbound
// notifications. It is safe for concurrent use: all shared state lives
// in the store, which serializes conflicting updates.
type Service struct {
	store  storage.Store
	sender chat.Sender
}

// NewService creates a Service over the given store and sender.
func NewService(store storage.Store, sender chat.Sender) *Service {
	return &Service{store: store, sender: sender}
}

// RegisterOrUpdate upserts a user. Registration is idempotent; a repeat
// call only refreshes the display name.
func (s *Service) RegisterOrUpdate(ctx context.Context, id int64, displayName string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return ErrInvalidName
	}
	if err := s.store.UpsertUser(ctx, models.User{ID: id, DisplayName: displayName}); err != nil {
		return fmt.Errorf("register user %d: %w", id, err)
	}
	return nil
}

// Lookup returns a user's display name. storage.ErrNotFound if unknown.
func (s *Service) Lookup(ctx context.Context, id int64) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// ListUsers returns all registered users, the candidate pool for
// participant selection.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.store.ListUsers(ctx)
}

// AddExpense splits the amount among the debtors, persists the
// transaction atomically, and notifies each debtor. Notification is
// fire-and-forget: a failed send is counted and logged, never surfaced
// to the spender and never a reason to roll anything back.
func (s *Service) AddExpense(ctx context.Context, spenderID int64, amount decimal.Decimal, description string, debtorIDs []int64) (*models.Transaction, error) {
	shares, err := calculator.Split(amount, debtorIDs)
	if err != nil {
		return nil, err
	}

	txn := &models.Transaction{
		Spender:     spenderID,
		Amount:      amount,
		Description: description,
		Share:       shares.Base,
	}
	for _, id := range debtorIDs {
		txn.Debts = append(txn.Debts, models.Debt{
			DebtorID: id,
			Share:    shares.PerDebtor[id],
			Status:   models.DebtPending,
		})
	}

	txID, err := s.store.CreateTransaction(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	slog.Info("expense recorded",
		"transaction_id", txID,
		"spender", spenderID,
		"amount", amount.StringFixed(2),
		"debtors", len(debtorIDs),
	)

	spenderName := s.displayName(ctx, spenderID)
	for _, d := range txn.Debts {
		text := fmt.Sprintf("You owe %s for %s's expense: %s",
			d.Share.StringFixed(2), spenderName, description)
		s.notify(d.DebtorID, text)
	}

	return txn, nil
}

// GetTransaction retrieves a transaction with its debts.
func (s *Service) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

// PendingDebtsFor lists the caller's unpaid debts.
func (s *Service) PendingDebtsFor(ctx context.Context, userID int64) ([]models.DebtDetail, error) {
	return s.store.PendingDebtsFor(ctx, userID)
}

// MarkedConfirmationsFor lists the caller's transactions awaiting a
// confirmation.
func (s *Service) MarkedConfirmationsFor(ctx context.Context, spenderID int64) ([]*models.Transaction, error) {
	return s.store.MarkedConfirmationsFor(ctx, spenderID)
}

// MarkedDebtorsOf lists the marked debtors on one transaction.
func (s *Service) MarkedDebtorsOf(ctx context.Context, txID int64) ([]int64, error) {
	return s.store.MarkedDebtorsOf(ctx, txID)
}

// SummaryFor returns the user's full position.
func (s *Service) SummaryFor(ctx context.Context, userID int64) (*models.Summary, error) {
	return s.store.SummaryFor(ctx, userID)
}

// MarkPaid transitions the caller's own debt from pending to marked.
// Only the debtor may mark; a debt that is no longer pending fails with
// ErrAlreadyProcessed, which of two concurrent marks exactly one caller
// receives.
func (s *Service) MarkPaid(ctx context.Context, txID, callerID int64) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if txn.DebtOf(callerID) == nil {
		return nil, fmt.Errorf("user %d on transaction %d: %w", callerID, txID, ErrNotDebtor)
	}

	err = s.store.UpdateDebtStatus(ctx, txID, callerID, models.DebtPending, models.DebtMarked)
	if errors.Is(err, storage.ErrStatusConflict) {
		return nil, fmt.Errorf("mark debt (%d, %d): %w", txID, callerID, ErrAlreadyProcessed)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("debt marked", "transaction_id", txID, "debtor", callerID)

	debtorName := s.displayName(ctx, callerID)
	s.notify(txn.Spender, fmt.Sprintf("%s marked their share of %q as paid. Use /confirm to acknowledge.",
		debtorName, txn.Description))

	return txn, nil
}

// ConfirmPayment transitions a debt from marked to confirmed. Only the
// transaction's spender may confirm. debtorID 0 asks for auto-selection,
// which succeeds only when exactly one debtor is marked; with several
// marked debtors ErrAmbiguousDebtor is returned and the caller must name
// one.
func (s *Service) ConfirmPayment(ctx context.Context, txID, callerID, debtorID int64) (*models.Transaction, error) {
	txn, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if txn.Spender != callerID {
		return nil, fmt.Errorf("user %d on transaction %d: %w", callerID, txID, ErrNotSpender)
	}

	if debtorID == 0 {
		marked, err := s.store.MarkedDebtorsOf(ctx, txID)
		if err != nil {
			return nil, err
		}
		switch len(marked) {
		case 0:
			return nil, fmt.Errorf("transaction %d: %w", txID, ErrNotMarked)
		case 1:
			debtorID = marked[0]
		default:
			return nil, fmt.Errorf("transaction %d has %d marked debtors: %w", txID, len(marked), ErrAmbiguousDebtor)
		}
	}

	err = s.store.UpdateDebtStatus(ctx, txID, debtorID, models.DebtMarked, models.DebtConfirmed)
	if errors.Is(err, storage.ErrStatusConflict) {
		return nil, fmt.Errorf("confirm debt (%d, %d): %w", txID, debtorID, ErrNotMarked)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("debt confirmed", "transaction_id", txID, "debtor", debtorID)

	spenderName := s.displayName(ctx, callerID)
	s.notify(debtorID, fmt.Sprintf("%s confirmed your payment for %q. You're settled up on this one.",
		spenderName, txn.Description))

	return txn, nil
}

// notify sends one best-effort message in its own goroutine. The send is
// detached from the caller's context so a finished handler does not
// cancel it.
func (s *Service) notify(userID int64, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.sender.Send(ctx, userID, text, nil); err != nil {
			notifyFailures.Inc()
			slog.Warn("notification failed", "user_id", userID, "error", err)
		}
	}()
}

// displayName resolves a user's name for message text, falling back to
// the raw ID when the user is unknown.
func (s *Service) displayName(ctx context.Context, id int64) string {
	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		return fmt.Sprintf("user %d", id)
	}
	return user.DisplayName
}
