// Package session holds transient per-user interaction state for
// multi-step input collection. Sessions live in process memory only and
// are destroyed on completion, cancellation, replacement or expiry.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"splittab/internal/models"
)

var (
	// ErrWrongStep is returned when input arrives that does not match
	// the session's current step. Events may arrive out of order; the
	// machine rejects them instead of guessing.
	ErrWrongStep = errors.New("input does not match current session step")

	// ErrBadAmount is returned when amount input does not parse as a
	// positive decimal. The session stays on the amount step.
	ErrBadAmount = errors.New("invalid amount")

	// ErrEmptyDescription is returned for blank description input.
	ErrEmptyDescription = errors.New("description must not be empty")
)

// Kind identifies which interaction a session is driving.
type Kind string

const (
	KindRegistration   Kind = "registration"
	KindAddExpense     Kind = "add_expense"
	KindMarkPaid       Kind = "mark_paid"
	KindConfirmPayment Kind = "confirm_payment"
)

// Step is the session's position within its interaction.
type Step int

const (
	// StepAwaitName collects a display name during registration.
	StepAwaitName Step = iota

	// StepAwaitAmount, StepAwaitDescription and StepAwaitParticipants
	// are the add-expense sequence, in order.
	StepAwaitAmount
	StepAwaitDescription
	StepAwaitParticipants

	// StepAwaitSelection picks a transaction for mark/confirm flows.
	StepAwaitSelection

	// StepAwaitDebtorSelection disambiguates which marked debtor a
	// confirmation applies to.
	StepAwaitDebtorSelection
)

func (s Step) String() string {
	switch s {
	case StepAwaitName:
		return "await_name"
	case StepAwaitAmount:
		return "await_amount"
	case StepAwaitDescription:
		return "await_description"
	case StepAwaitParticipants:
		return "await_participants"
	case StepAwaitSelection:
		return "await_selection"
	case StepAwaitDebtorSelection:
		return "await_debtor_selection"
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// Candidate is one selectable participant in an add-expense session.
type Candidate struct {
	User     models.User
	Token    string
	Selected bool
}

// Option is one selectable item in a mark/confirm session: a
// transaction, or a debtor during confirm disambiguation.
type Option struct {
	Label    string
	Token    string
	TxID     int64
	DebtorID int64
}

// Session is the transient state of one user's in-progress interaction.
// A Session is owned by its Manager and must only be mutated by the
// goroutine currently handling that user's event. The idle clock is the
// exception: the manager's sweeper reads it concurrently, so it is
// stored atomically.
type Session struct {
	UserID int64
	Kind   Kind
	Step   Step

	// Add-expense fields, filled step by step.
	Amount      decimal.Decimal
	Description string
	Candidates  []Candidate
	DoneToken   string

	// Mark/confirm fields.
	Options []Option
	TxID    int64

	// updatedAt is the idle-expiry clock in unix nanoseconds. Written
	// by the handling goroutine, read by the sweeper.
	updatedAt atomic.Int64
}

// Touch refreshes the idle-expiry clock.
func (s *Session) Touch() {
	s.touchAt(time.Now())
}

func (s *Session) touchAt(t time.Time) {
	s.updatedAt.Store(t.UnixNano())
}

// LastActive returns when the session last saw input.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.updatedAt.Load())
}

// SetAmount parses amount input and advances to the description step.
// On a parse failure the step does not change, so the user can retry.
func (s *Session) SetAmount(input string) error {
	if s.Kind != KindAddExpense || s.Step != StepAwaitAmount {
		return ErrWrongStep
	}
	amount, err := ParseAmount(input)
	if err != nil {
		return err
	}
	s.Amount = amount
	s.Step = StepAwaitDescription
	s.Touch()
	return nil
}

// SetDescription stores the description and advances to participant
// selection.
func (s *Session) SetDescription(input string) error {
	if s.Kind != KindAddExpense || s.Step != StepAwaitDescription {
		return ErrWrongStep
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyDescription
	}
	s.Description = input
	s.Step = StepAwaitParticipants
	s.Touch()
	return nil
}

// SelectedIDs returns the IDs of the currently selected candidates.
func (s *Session) SelectedIDs() []int64 {
	var ids []int64
	for _, c := range s.Candidates {
		if c.Selected {
			ids = append(ids, c.User.ID)
		}
	}
	return ids
}

// CandidateByToken finds the candidate owning the given callback token.
func (s *Session) CandidateByToken(token string) *Candidate {
	for i := range s.Candidates {
		if s.Candidates[i].Token == token {
			return &s.Candidates[i]
		}
	}
	return nil
}

// OptionByToken finds the option owning the given callback token.
func (s *Session) OptionByToken(token string) *Option {
	for i := range s.Options {
		if s.Options[i].Token == token {
			return &s.Options[i]
		}
	}
	return nil
}

// ParseAmount parses user-entered money text as a positive decimal.
// Thousands separators (commas, underscores, spaces) are stripped first,
// so "1,234.56" and "1 234.56" both parse.
func ParseAmount(input string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', '_', ' ':
			return -1
		}
		return r
	}, strings.TrimSpace(input))

	if cleaned == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty input", ErrBadAmount)
	}
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrBadAmount, input)
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: must be positive, got %s", ErrBadAmount, amount)
	}
	return amount, nil
}
