package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"splittab/internal/chat"
	"splittab/internal/models"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "100", want: "100"},
		{input: "49.99", want: "49.99"},
		{input: "1,234.56", want: "1234.56"},
		{input: "1 234", want: "1234"},
		{input: "12_000", want: "12000"},
		{input: "  42  ", want: "42"},
		{input: "0", wantErr: true},
		{input: "-5", wantErr: true},
		{input: "dinner", wantErr: true},
		{input: "", wantErr: true},
		{input: ", ,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrBadAmount) {
					t.Errorf("ParseAmount(%q) error = %v, want ErrBadAmount", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) failed: %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestSessionSteps(t *testing.T) {
	t.Run("amount retry keeps step", func(t *testing.T) {
		s := &Session{UserID: 1, Kind: KindAddExpense, Step: StepAwaitAmount}

		if err := s.SetAmount("lots"); !errors.Is(err, ErrBadAmount) {
			t.Fatalf("error = %v, want ErrBadAmount", err)
		}
		if s.Step != StepAwaitAmount {
			t.Errorf("step after bad amount = %s, want await_amount", s.Step)
		}

		if err := s.SetAmount("100"); err != nil {
			t.Fatalf("SetAmount failed: %v", err)
		}
		if s.Step != StepAwaitDescription {
			t.Errorf("step = %s, want await_description", s.Step)
		}
	})

	t.Run("out-of-order input rejected", func(t *testing.T) {
		s := &Session{UserID: 1, Kind: KindAddExpense, Step: StepAwaitAmount}

		if err := s.SetDescription("dinner"); !errors.Is(err, ErrWrongStep) {
			t.Errorf("SetDescription on amount step error = %v, want ErrWrongStep", err)
		}

		if err := s.SetAmount("100"); err != nil {
			t.Fatalf("SetAmount failed: %v", err)
		}
		if err := s.SetAmount("200"); !errors.Is(err, ErrWrongStep) {
			t.Errorf("repeated SetAmount error = %v, want ErrWrongStep", err)
		}
	})

	t.Run("empty description rejected", func(t *testing.T) {
		s := &Session{UserID: 1, Kind: KindAddExpense, Step: StepAwaitDescription}
		if err := s.SetDescription("   "); !errors.Is(err, ErrEmptyDescription) {
			t.Errorf("error = %v, want ErrEmptyDescription", err)
		}
		if s.Step != StepAwaitDescription {
			t.Errorf("step = %s, want await_description", s.Step)
		}
	})
}

func TestManager(t *testing.T) {
	t.Run("begin replaces in-flight session", func(t *testing.T) {
		m := NewManager(0)
		first := m.Begin(1, KindAddExpense, StepAwaitAmount)
		first.Description = "half-typed"

		second := m.Begin(1, KindMarkPaid, StepAwaitSelection)
		got := m.Get(1)
		if got != second {
			t.Error("Get returned the abandoned session")
		}
		if got.Kind != KindMarkPaid || got.Description != "" {
			t.Errorf("replacement leaked state: %+v", got)
		}
	})

	t.Run("end discards immediately", func(t *testing.T) {
		m := NewManager(0)
		m.Begin(1, KindAddExpense, StepAwaitAmount)
		m.End(1)
		if m.Get(1) != nil {
			t.Error("session survived End")
		}
	})

	t.Run("sessions are per user", func(t *testing.T) {
		m := NewManager(0)
		m.Begin(1, KindAddExpense, StepAwaitAmount)
		m.Begin(2, KindMarkPaid, StepAwaitSelection)
		if m.Get(1).Kind != KindAddExpense || m.Get(2).Kind != KindMarkPaid {
			t.Error("sessions leaked across users")
		}
	})

	t.Run("expired session dropped on access", func(t *testing.T) {
		m := NewManager(10 * time.Millisecond)
		s := m.Begin(1, KindAddExpense, StepAwaitAmount)
		s.touchAt(time.Now().Add(-time.Second))
		if m.Get(1) != nil {
			t.Error("expired session returned")
		}
	})

	t.Run("sweep drops only expired", func(t *testing.T) {
		m := NewManager(time.Minute)
		stale := m.Begin(1, KindAddExpense, StepAwaitAmount)
		stale.touchAt(time.Now().Add(-2 * time.Minute))
		m.Begin(2, KindAddExpense, StepAwaitAmount)

		if n := m.Sweep(); n != 1 {
			t.Errorf("Sweep() = %d, want 1", n)
		}
		if m.Get(2) == nil {
			t.Error("fresh session swept")
		}
	})

	t.Run("zero ttl disables expiry", func(t *testing.T) {
		m := NewManager(0)
		s := m.Begin(1, KindAddExpense, StepAwaitAmount)
		s.touchAt(time.Now().Add(-24 * time.Hour))
		if m.Get(1) == nil {
			t.Error("session expired with ttl disabled")
		}
	})

	// Handlers refresh the idle clock while the sweeper reads it from
	// its own goroutine. Run under -race.
	t.Run("concurrent touch and sweep", func(t *testing.T) {
		m := NewManager(time.Minute)
		s := m.Begin(1, KindAddExpense, StepAwaitAmount)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 1000; i++ {
				s.Touch()
			}
		}()
		for i := 0; i < 1000; i++ {
			m.Sweep()
		}
		<-done

		if m.Get(1) == nil {
			t.Error("active session swept")
		}
	})
}

type fakeDirectory struct {
	users []models.User
}

func (f fakeDirectory) ListUsers(context.Context) ([]models.User, error) {
	return f.users, nil
}

var abcDirectory = fakeDirectory{users: []models.User{
	{ID: 1, DisplayName: "alice"},
	{ID: 2, DisplayName: "bob"},
	{ID: 3, DisplayName: "carol"},
}}

func TestAllOthersStrategy(t *testing.T) {
	ctx := context.Background()
	s := &Session{UserID: 1, Kind: KindAddExpense, Step: StepAwaitParticipants}

	done, _, err := AllOthers{}.Begin(ctx, s, abcDirectory)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !done {
		t.Fatal("AllOthers should complete immediately")
	}

	ids := s.SelectedIDs()
	if len(ids) != 2 {
		t.Fatalf("selected %v, want bob and carol", ids)
	}
	for _, id := range ids {
		if id == 1 {
			t.Error("spender selected as participant")
		}
	}

	t.Run("nobody else registered", func(t *testing.T) {
		solo := &Session{UserID: 1}
		only := fakeDirectory{users: []models.User{{ID: 1, DisplayName: "alice"}}}
		if _, _, err := (AllOthers{}).Begin(ctx, solo, only); !errors.Is(err, ErrNoCandidates) {
			t.Errorf("error = %v, want ErrNoCandidates", err)
		}
	})
}

func TestInteractiveStrategy(t *testing.T) {
	ctx := context.Background()
	s := &Session{UserID: 1, Kind: KindAddExpense, Step: StepAwaitParticipants}

	done, prompt, err := Interactive{}.Begin(ctx, s, abcDirectory)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if done {
		t.Fatal("Interactive should prompt, not complete")
	}
	// One row per candidate plus the Done row.
	if len(prompt.Controls.Buttons) != 3 {
		t.Fatalf("rows = %d, want 3", len(prompt.Controls.Buttons))
	}

	// Toggle bob on.
	bobToken := s.Candidates[0].Token
	done, _, err = Interactive{}.Apply(ctx, s, chat.Event{UserID: 1, CallbackToken: bobToken}, abcDirectory)
	if err != nil || done {
		t.Fatalf("toggle: done=%v err=%v", done, err)
	}
	if ids := s.SelectedIDs(); len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("selected = %v, want [2]", ids)
	}

	t.Run("alien token rejected", func(t *testing.T) {
		done, prompt, err := Interactive{}.Apply(ctx, s, chat.Event{UserID: 1, CallbackToken: "stale-token"}, abcDirectory)
		if err != nil || done {
			t.Fatalf("done=%v err=%v", done, err)
		}
		if prompt == nil {
			t.Fatal("expected re-prompt")
		}
		if ids := s.SelectedIDs(); len(ids) != 1 {
			t.Errorf("selection changed by alien token: %v", ids)
		}
	})

	t.Run("done with empty selection re-prompts", func(t *testing.T) {
		empty := &Session{UserID: 1, Kind: KindAddExpense, Step: StepAwaitParticipants}
		if _, _, err := (Interactive{}).Begin(ctx, empty, abcDirectory); err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		done, prompt, err := Interactive{}.Apply(ctx, empty, chat.Event{UserID: 1, CallbackToken: empty.DoneToken}, abcDirectory)
		if err != nil || done {
			t.Fatalf("done=%v err=%v", done, err)
		}
		if prompt == nil {
			t.Fatal("expected re-prompt")
		}
	})

	t.Run("done completes", func(t *testing.T) {
		done, _, err := Interactive{}.Apply(ctx, s, chat.Event{UserID: 1, CallbackToken: s.DoneToken}, abcDirectory)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if !done {
			t.Error("Done tap should complete the selection")
		}
	})
}

func TestNameListStrategy(t *testing.T) {
	ctx := context.Background()
	s := &Session{UserID: 1, Kind: KindAddExpense, Step: StepAwaitParticipants}

	done, prompt, err := NameList{}.Begin(ctx, s, abcDirectory)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if done || prompt == nil {
		t.Fatal("NameList should prompt for names")
	}

	t.Run("unknown name re-prompts", func(t *testing.T) {
		done, prompt, err := NameList{}.Apply(ctx, s, chat.Event{UserID: 1, Text: "bob, mallory"}, abcDirectory)
		if err != nil || done {
			t.Fatalf("done=%v err=%v", done, err)
		}
		if prompt == nil {
			t.Fatal("expected re-prompt")
		}
	})

	t.Run("case-insensitive match completes", func(t *testing.T) {
		done, _, err := NameList{}.Apply(ctx, s, chat.Event{UserID: 1, Text: "BOB, Carol"}, abcDirectory)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if !done {
			t.Fatal("expected selection to complete")
		}
		ids := s.SelectedIDs()
		if len(ids) != 2 {
			t.Errorf("selected = %v, want bob and carol", ids)
		}
	})
}
