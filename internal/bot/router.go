// Package bot routes inbound chat events to ledger operations and
// drives the per-user interaction sessions.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"splittab/internal/chat"
	"splittab/internal/ledger"
	"splittab/internal/session"
	"splittab/internal/storage"
)

// errNotRegistered gates commands that need a registered caller.
var errNotRegistered = errors.New("user not registered")

const helpText = `I'm your bill splitting bot.
/addexpense - record an expense and split it
/markpaid - mark one of your debts as paid
/confirm - confirm a payment you received
/summary - see who owes what
/cancel - abandon what we were doing`

// Router dispatches inbound events to commands and sessions.
type Router struct {
	svc      *ledger.Service
	sessions *session.Manager
	sender   chat.Sender
	strategy session.ParticipantStrategy
}

// New creates a Router.
func New(svc *ledger.Service, sessions *session.Manager, sender chat.Sender, strategy session.ParticipantStrategy) *Router {
	return &Router{svc: svc, sessions: sessions, sender: sender, strategy: strategy}
}

// Handle processes one inbound event. Every failure is reported back to
// the originating user as text; nothing is silently dropped.
func (r *Router) Handle(ctx context.Context, ev chat.Event) {
	cmd, args := splitCommand(ev.Text)
	if ev.CallbackToken != "" {
		cmd = ""
	}

	label := cmd
	var err error
	switch cmd {
	case "/start", "/register":
		err = r.handleStart(ctx, ev, args)
	case "/addexpense":
		err = r.handleAddExpense(ctx, ev)
	case "/markpaid":
		err = r.handleMarkPaid(ctx, ev)
	case "/confirm":
		err = r.handleConfirm(ctx, ev)
	case "/summary":
		err = r.handleSummary(ctx, ev)
	case "/cancel":
		err = r.handleCancel(ctx, ev)
	case "/help":
		err = r.send(ctx, ev.UserID, helpText, nil)
	default:
		label = "session"
		err = r.continueSession(ctx, ev)
	}

	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		r.reportError(ctx, ev, err, outcome)
	}
	commandsTotal.WithLabelValues(label, outcome).Inc()
}

// handleStart registers the user, asking for a name when the transport
// gives no hint.
func (r *Router) handleStart(ctx context.Context, ev chat.Event, args string) error {
	name := strings.TrimSpace(args)
	if name == "" {
		name = strings.TrimSpace(ev.DisplayName)
	}
	if name == "" {
		r.sessions.Begin(ev.UserID, session.KindRegistration, session.StepAwaitName)
		return r.send(ctx, ev.UserID, "What should I call you?", nil)
	}
	if err := r.svc.RegisterOrUpdate(ctx, ev.UserID, name); err != nil {
		return err
	}
	return r.send(ctx, ev.UserID, fmt.Sprintf("Hi %s! %s", name, helpText), nil)
}

func (r *Router) handleAddExpense(ctx context.Context, ev chat.Event) error {
	if err := r.ensureRegistered(ctx, ev.UserID); err != nil {
		return err
	}
	r.sessions.Begin(ev.UserID, session.KindAddExpense, session.StepAwaitAmount)
	return r.send(ctx, ev.UserID, "How much was it?", nil)
}

func (r *Router) handleMarkPaid(ctx context.Context, ev chat.Event) error {
	if err := r.ensureRegistered(ctx, ev.UserID); err != nil {
		return err
	}
	debts, err := r.svc.PendingDebtsFor(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if len(debts) == 0 {
		return r.send(ctx, ev.UserID, "You have no pending debts. Nice.", nil)
	}

	s := r.sessions.Begin(ev.UserID, session.KindMarkPaid, session.StepAwaitSelection)
	for _, d := range debts {
		s.Options = append(s.Options, session.Option{
			Label: fmt.Sprintf("#%d %s — %s to %s", d.TransactionID, d.Description, d.Share.StringFixed(2), d.SpenderName),
			Token: uuid.New().String(),
			TxID:  d.TransactionID,
		})
	}
	return r.send(ctx, ev.UserID, "Which debt did you pay?", optionControls(s.Options))
}

func (r *Router) handleConfirm(ctx context.Context, ev chat.Event) error {
	if err := r.ensureRegistered(ctx, ev.UserID); err != nil {
		return err
	}
	txns, err := r.svc.MarkedConfirmationsFor(ctx, ev.UserID)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		return r.send(ctx, ev.UserID, "Nothing is waiting for your confirmation.", nil)
	}

	s := r.sessions.Begin(ev.UserID, session.KindConfirmPayment, session.StepAwaitSelection)
	for _, t := range txns {
		s.Options = append(s.Options, session.Option{
			Label: fmt.Sprintf("#%d %s — %s", t.ID, t.Description, t.Amount.StringFixed(2)),
			Token: uuid.New().String(),
			TxID:  t.ID,
		})
	}
	return r.send(ctx, ev.UserID, "Which expense is the payment for?", optionControls(s.Options))
}

func (r *Router) handleSummary(ctx context.Context, ev chat.Event) error {
	if err := r.ensureRegistered(ctx, ev.UserID); err != nil {
		return err
	}
	summary, err := r.svc.SummaryFor(ctx, ev.UserID)
	if err != nil {
		return err
	}
	return r.send(ctx, ev.UserID, renderSummary(summary), nil)
}

func (r *Router) handleCancel(ctx context.Context, ev chat.Event) error {
	if r.sessions.Get(ev.UserID) == nil {
		return r.send(ctx, ev.UserID, "Nothing to cancel.", nil)
	}
	r.sessions.End(ev.UserID)
	return r.send(ctx, ev.UserID, "Cancelled.", nil)
}

// continueSession feeds a non-command event into the user's active
// session. Without one, the event gets a gentle nudge instead.
func (r *Router) continueSession(ctx context.Context, ev chat.Event) error {
	s := r.sessions.Get(ev.UserID)
	if s == nil {
		return r.send(ctx, ev.UserID, "I wasn't expecting that. Try /help.", nil)
	}

	switch s.Kind {
	case session.KindRegistration:
		return r.continueRegistration(ctx, ev)
	case session.KindAddExpense:
		return r.continueAddExpense(ctx, ev, s)
	case session.KindMarkPaid:
		return r.continueMarkPaid(ctx, ev, s)
	case session.KindConfirmPayment:
		return r.continueConfirm(ctx, ev, s)
	}
	// Unreachable unless a new kind is added without a handler.
	r.sessions.End(ev.UserID)
	return fmt.Errorf("unhandled session kind %q", s.Kind)
}

func (r *Router) continueRegistration(ctx context.Context, ev chat.Event) error {
	if err := r.svc.RegisterOrUpdate(ctx, ev.UserID, ev.Text); err != nil {
		if errors.Is(err, ledger.ErrInvalidName) {
			return r.send(ctx, ev.UserID, "I need a non-empty name. What should I call you?", nil)
		}
		return err
	}
	r.sessions.End(ev.UserID)
	return r.send(ctx, ev.UserID, fmt.Sprintf("Hi %s! %s", strings.TrimSpace(ev.Text), helpText), nil)
}

func (r *Router) continueAddExpense(ctx context.Context, ev chat.Event, s *session.Session) error {
	switch s.Step {
	case session.StepAwaitAmount:
		if err := s.SetAmount(ev.Text); err != nil {
			// Retry loop: stay on the amount step and re-prompt.
			return r.send(ctx, ev.UserID, "That doesn't look like a positive amount. How much was it?", nil)
		}
		return r.send(ctx, ev.UserID, "What was it for?", nil)

	case session.StepAwaitDescription:
		if err := s.SetDescription(ev.Text); err != nil {
			return r.send(ctx, ev.UserID, "Give it a short description.", nil)
		}
		done, prompt, err := r.strategy.Begin(ctx, s, r.svc)
		if err != nil {
			r.sessions.End(ev.UserID)
			return err
		}
		if done {
			return r.commitExpense(ctx, ev, s)
		}
		return r.send(ctx, ev.UserID, prompt.Text, prompt.Controls)

	case session.StepAwaitParticipants:
		done, prompt, err := r.strategy.Apply(ctx, s, ev, r.svc)
		if err != nil {
			r.sessions.End(ev.UserID)
			return err
		}
		if done {
			return r.commitExpense(ctx, ev, s)
		}
		return r.send(ctx, ev.UserID, prompt.Text, prompt.Controls)
	}

	// Step/kind mismatch means events arrived out of order; reject.
	return r.send(ctx, ev.UserID, "I lost track of where we were. /cancel and start over.", nil)
}

func (r *Router) commitExpense(ctx context.Context, ev chat.Event, s *session.Session) error {
	// The session is done either way; only a successful commit touches
	// the ledger.
	amount, description, debtors := s.Amount, s.Description, s.SelectedIDs()
	r.sessions.End(ev.UserID)

	txn, err := r.svc.AddExpense(ctx, ev.UserID, amount, description, debtors)
	if err != nil {
		return err
	}
	return r.send(ctx, ev.UserID, fmt.Sprintf(
		"Recorded #%d: %s\nAmount: %s\nEach person's share: %s\nEveryone involved has been notified.",
		txn.ID, txn.Description, txn.Amount.StringFixed(2), txn.Share.StringFixed(2)), nil)
}

func (r *Router) continueMarkPaid(ctx context.Context, ev chat.Event, s *session.Session) error {
	opt := resolveOption(s, ev)
	if opt == nil {
		return r.send(ctx, ev.UserID, "Pick one of the listed debts.", optionControls(s.Options))
	}

	txn, err := r.svc.MarkPaid(ctx, opt.TxID, ev.UserID)
	r.sessions.End(ev.UserID)
	if err != nil {
		return err
	}
	return r.send(ctx, ev.UserID, fmt.Sprintf(
		"Marked your share of %q as paid. Waiting for the spender to confirm.", txn.Description), nil)
}

func (r *Router) continueConfirm(ctx context.Context, ev chat.Event, s *session.Session) error {
	opt := resolveOption(s, ev)
	if opt == nil {
		return r.send(ctx, ev.UserID, "Pick one of the listed expenses.", optionControls(s.Options))
	}

	switch s.Step {
	case session.StepAwaitSelection:
		txn, err := r.svc.ConfirmPayment(ctx, opt.TxID, ev.UserID, 0)
		if errors.Is(err, ledger.ErrAmbiguousDebtor) {
			return r.promptDebtorChoice(ctx, ev, s, opt.TxID)
		}
		r.sessions.End(ev.UserID)
		if err != nil {
			return err
		}
		return r.send(ctx, ev.UserID, fmt.Sprintf("Payment for %q confirmed.", txn.Description), nil)

	case session.StepAwaitDebtorSelection:
		txn, err := r.svc.ConfirmPayment(ctx, s.TxID, ev.UserID, opt.DebtorID)
		r.sessions.End(ev.UserID)
		if err != nil {
			return err
		}
		return r.send(ctx, ev.UserID, fmt.Sprintf("Payment for %q confirmed.", txn.Description), nil)
	}

	return r.send(ctx, ev.UserID, "I lost track of where we were. /cancel and start over.", nil)
}

// promptDebtorChoice asks the spender which of several marked debtors
// they are confirming.
func (r *Router) promptDebtorChoice(ctx context.Context, ev chat.Event, s *session.Session, txID int64) error {
	marked, err := r.svc.MarkedDebtorsOf(ctx, txID)
	if err != nil {
		r.sessions.End(ev.UserID)
		return err
	}

	s.TxID = txID
	s.Step = session.StepAwaitDebtorSelection
	s.Options = s.Options[:0]
	for _, debtorID := range marked {
		label := fmt.Sprintf("user %d", debtorID)
		if u, err := r.svc.Lookup(ctx, debtorID); err == nil {
			label = u.DisplayName
		}
		s.Options = append(s.Options, session.Option{
			Label:    label,
			Token:    uuid.New().String(),
			TxID:     txID,
			DebtorID: debtorID,
		})
	}
	s.Touch()
	return r.send(ctx, ev.UserID, "Several people marked this one. Whose payment are you confirming?",
		optionControls(s.Options))
}

func (r *Router) ensureRegistered(ctx context.Context, userID int64) error {
	_, err := r.svc.Lookup(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return errNotRegistered
	}
	return err
}

// send delivers a reply to the originating user. A failed reply is a
// transport problem; it is logged, not propagated into the command flow.
func (r *Router) send(ctx context.Context, userID int64, text string, controls *chat.Controls) error {
	if err := r.sender.Send(ctx, userID, text, controls); err != nil {
		slog.Warn("reply failed", "user_id", userID, "error", err)
	}
	return nil
}

// reportError turns a failure into a user-facing message and a log line
// at a severity matching its class.
func (r *Router) reportError(ctx context.Context, ev chat.Event, err error, outcome string) {
	switch outcome {
	case "conflict":
		// Normal under concurrent use.
		slog.Debug("command conflict", "user_id", ev.UserID, "error", err)
	case "validation", "denied", "not_found":
		slog.Debug("command rejected", "user_id", ev.UserID, "error", err)
	default:
		slog.Error("command failed", "user_id", ev.UserID, "error", err)
	}
	r.send(ctx, ev.UserID, renderError(err), nil)
}

// resolveOption matches an event to one of the session's options: by
// callback token, by a typed transaction number, or by a typed label
// (the debtor's name during confirm disambiguation).
func resolveOption(s *session.Session, ev chat.Event) *session.Option {
	if ev.CallbackToken != "" {
		return s.OptionByToken(ev.CallbackToken)
	}
	text := strings.TrimSpace(ev.Text)
	for i := range s.Options {
		if strings.EqualFold(s.Options[i].Label, text) {
			return &s.Options[i]
		}
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(text, "#"), 10, 64)
	if err != nil {
		return nil
	}
	for i := range s.Options {
		if s.Options[i].TxID == n && s.Options[i].DebtorID == 0 {
			return &s.Options[i]
		}
	}
	return nil
}

func optionControls(options []session.Option) *chat.Controls {
	controls := &chat.Controls{}
	for _, o := range options {
		controls.Row(chat.Button{Label: o.Label, Token: o.Token})
	}
	return controls
}

// splitCommand separates a leading /command from its arguments.
func splitCommand(text string) (cmd, args string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	if i := strings.IndexByte(text, ' '); i > 0 {
		return text[:i], strings.TrimSpace(text[i+1:])
	}
	return text, ""
}
