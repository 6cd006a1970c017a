package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"splittab/internal/chat"
	"splittab/internal/models"
)

// ErrNoCandidates is returned when no one but the spender is registered,
// so there is nobody to split with.
var ErrNoCandidates = errors.New("no other registered users to split with")

// UserDirectory is the slice of the ledger the strategies need: the
// candidate pool for participant selection.
type UserDirectory interface {
	ListUsers(ctx context.Context) ([]models.User, error)
}

// Prompt is what a strategy asks the transport to show next.
type Prompt struct {
	Text     string
	Controls *chat.Controls
}

// ParticipantStrategy decides how an add-expense session picks its
// debtors. All strategies operate over the same session fields; only
// the interaction differs, so the transport-facing skin can vary
// without touching ledger logic.
type ParticipantStrategy interface {
	// Name identifies the strategy in config and logs.
	Name() string

	// Begin initializes selection on the session. When done is true the
	// selection is final and no prompting is needed.
	Begin(ctx context.Context, s *Session, dir UserDirectory) (done bool, prompt *Prompt, err error)

	// Apply feeds one event into the selection. When done is false the
	// returned prompt re-engages the user; the step does not advance.
	Apply(ctx context.Context, s *Session, ev chat.Event, dir UserDirectory) (done bool, prompt *Prompt, err error)
}

// loadCandidates fills the session's candidate list with every
// registered user except the spender.
func loadCandidates(ctx context.Context, s *Session, dir UserDirectory) error {
	users, err := dir.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	s.Candidates = s.Candidates[:0]
	for _, u := range users {
		if u.ID == s.UserID {
			continue
		}
		s.Candidates = append(s.Candidates, Candidate{User: u, Token: uuid.New().String()})
	}
	if len(s.Candidates) == 0 {
		return ErrNoCandidates
	}
	return nil
}

// AllOthers splits with every registered user except the spender,
// without asking. The original bot's behavior.
type AllOthers struct{}

func (AllOthers) Name() string { return "all" }

func (AllOthers) Begin(ctx context.Context, s *Session, dir UserDirectory) (bool, *Prompt, error) {
	if err := loadCandidates(ctx, s, dir); err != nil {
		return false, nil, err
	}
	for i := range s.Candidates {
		s.Candidates[i].Selected = true
	}
	return true, nil, nil
}

func (AllOthers) Apply(context.Context, *Session, chat.Event, UserDirectory) (bool, *Prompt, error) {
	// Begin always completes, so there is nothing to apply.
	return false, nil, ErrWrongStep
}

// Interactive presents a toggle button per candidate plus a Done button.
// Tokens are per-session uuids, so taps from a stale or foreign prompt
// do not match and are rejected.
type Interactive struct{}

func (Interactive) Name() string { return "buttons" }

func (Interactive) Begin(ctx context.Context, s *Session, dir UserDirectory) (bool, *Prompt, error) {
	if err := loadCandidates(ctx, s, dir); err != nil {
		return false, nil, err
	}
	s.DoneToken = uuid.New().String()
	return false, selectionPrompt(s, "Who shares this expense? Tap to toggle, then Done."), nil
}

func (Interactive) Apply(_ context.Context, s *Session, ev chat.Event, _ UserDirectory) (bool, *Prompt, error) {
	if ev.CallbackToken == "" {
		return false, selectionPrompt(s, "Use the buttons to pick participants."), nil
	}
	if ev.CallbackToken == s.DoneToken {
		if len(s.SelectedIDs()) == 0 {
			return false, selectionPrompt(s, "Pick at least one participant first."), nil
		}
		return true, nil, nil
	}
	c := s.CandidateByToken(ev.CallbackToken)
	if c == nil {
		// Stale or foreign token; ignore rather than trust it.
		return false, selectionPrompt(s, "That button belongs to an old prompt. Pick again."), nil
	}
	c.Selected = !c.Selected
	s.Touch()
	return false, selectionPrompt(s, "Who shares this expense? Tap to toggle, then Done."), nil
}

func selectionPrompt(s *Session, text string) *Prompt {
	controls := &chat.Controls{}
	for _, c := range s.Candidates {
		label := c.User.DisplayName
		if c.Selected {
			label = "[x] " + label
		}
		controls.Row(chat.Button{Label: label, Token: c.Token})
	}
	controls.Row(chat.Button{Label: "Done", Token: s.DoneToken})
	return &Prompt{Text: text, Controls: controls}
}

// NameList accepts a free-text list of names, matched case-insensitively
// against the registry by exact name.
type NameList struct{}

func (NameList) Name() string { return "names" }

func (NameList) Begin(ctx context.Context, s *Session, dir UserDirectory) (bool, *Prompt, error) {
	if err := loadCandidates(ctx, s, dir); err != nil {
		return false, nil, err
	}
	var names []string
	for _, c := range s.Candidates {
		names = append(names, c.User.DisplayName)
	}
	return false, &Prompt{
		Text: fmt.Sprintf("Who shares this expense? Reply with names separated by commas.\nRegistered: %s",
			strings.Join(names, ", ")),
	}, nil
}

func (NameList) Apply(_ context.Context, s *Session, ev chat.Event, _ UserDirectory) (bool, *Prompt, error) {
	if strings.TrimSpace(ev.Text) == "" {
		return false, &Prompt{Text: "Reply with at least one name."}, nil
	}

	byName := make(map[string]*Candidate, len(s.Candidates))
	for i := range s.Candidates {
		byName[strings.ToLower(s.Candidates[i].User.DisplayName)] = &s.Candidates[i]
		s.Candidates[i].Selected = false
	}

	for _, raw := range strings.FieldsFunc(ev.Text, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		c, ok := byName[name]
		if !ok {
			return false, &Prompt{Text: fmt.Sprintf("I don't know %q. Try again with registered names.", raw)}, nil
		}
		c.Selected = true
	}

	if len(s.SelectedIDs()) == 0 {
		return false, &Prompt{Text: "Reply with at least one name."}, nil
	}
	s.Touch()
	return true, nil, nil
}

// StrategyByName maps a config value to a strategy, defaulting to
// AllOthers for unknown names.
func StrategyByName(name string) ParticipantStrategy {
	switch name {
	case "buttons":
		return Interactive{}
	case "names":
		return NameList{}
	default:
		return AllOthers{}
	}
}
