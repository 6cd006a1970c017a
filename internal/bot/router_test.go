package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"splittab/internal/chat"
	"splittab/internal/ledger"
	"splittab/internal/session"
	"splittab/internal/storage/sqlite"
)

func newTestRouter(t *testing.T, strategy session.ParticipantStrategy) (*Router, *chat.Recorder) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "splittab-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	recorder := &chat.Recorder{}
	svc := ledger.NewService(store, recorder)
	sessions := session.NewManager(session.DefaultTTL)
	return New(svc, sessions, recorder, strategy), recorder
}

// lastReply returns the most recent message sent to the user, waiting
// briefly because notifications share the recorder.
func lastReply(t *testing.T, rec *chat.Recorder, userID int64) chat.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := rec.MessagesFor(userID)
		if len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no messages for user %d", userID)
	return chat.Message{}
}

// waitFor blocks until a user has at least n messages. Used to drain
// in-flight notifications before resetting the recorder.
func waitFor(t *testing.T, rec *chat.Recorder, userID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.MessagesFor(userID)) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %d has %d messages, want at least %d", userID, len(rec.MessagesFor(userID)), n)
}

func say(r *Router, userID int64, text string) {
	r.Handle(context.Background(), chat.Event{UserID: userID, Text: text})
}

func tap(r *Router, userID int64, token string) {
	r.Handle(context.Background(), chat.Event{UserID: userID, CallbackToken: token})
}

func register(t *testing.T, r *Router, rec *chat.Recorder) {
	t.Helper()
	say(r, 1, "/start alice")
	say(r, 2, "/start bob")
	say(r, 3, "/start carol")
	rec.Reset()
}

func TestStart(t *testing.T) {
	t.Run("with name argument", func(t *testing.T) {
		r, rec := newTestRouter(t, session.AllOthers{})
		say(r, 1, "/start alice")
		if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Hi alice!") {
			t.Errorf("greeting = %q, want it to address alice", got)
		}
	})

	t.Run("with transport hint", func(t *testing.T) {
		r, rec := newTestRouter(t, session.AllOthers{})
		r.Handle(context.Background(), chat.Event{UserID: 1, DisplayName: "alice", Text: "/start"})
		if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Hi alice!") {
			t.Errorf("greeting = %q, want it to address alice", got)
		}
	})

	t.Run("no name starts a registration session", func(t *testing.T) {
		r, rec := newTestRouter(t, session.AllOthers{})
		say(r, 1, "/start")
		if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "call you") {
			t.Fatalf("prompt = %q, want a name prompt", got)
		}
		say(r, 1, "alice")
		if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Hi alice!") {
			t.Errorf("greeting = %q, want it to address alice", got)
		}
	})
}

func TestCommandsRequireRegistration(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	say(r, 99, "/addexpense")
	if got := lastReply(t, rec, 99).Text; !strings.Contains(got, "/start") {
		t.Errorf("reply = %q, want a pointer to /start", got)
	}
}

func TestAddExpenseFlow(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 1, "/addexpense")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "How much") {
		t.Fatalf("prompt = %q, want amount prompt", got)
	}

	// Bad amount keeps the session on the amount step.
	say(r, 1, "a lot")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "positive amount") {
		t.Fatalf("reply = %q, want amount re-prompt", got)
	}

	say(r, 1, "100")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "What was it for") {
		t.Fatalf("prompt = %q, want description prompt", got)
	}

	// AllOthers commits right after the description.
	say(r, 1, "dinner")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Recorded #1") || !strings.Contains(got, "50.00") {
		t.Fatalf("recap = %q, want transaction recap with share", got)
	}

	// Both debtors get notified.
	for _, debtor := range []int64{2, 3} {
		if got := lastReply(t, rec, debtor).Text; !strings.Contains(got, "You owe 50.00") {
			t.Errorf("notification to %d = %q", debtor, got)
		}
	}
}

func TestAddExpenseInteractive(t *testing.T) {
	r, rec := newTestRouter(t, session.Interactive{})
	register(t, r, rec)

	say(r, 1, "/addexpense")
	say(r, 1, "30")
	say(r, 1, "cab")

	prompt := lastReply(t, rec, 1)
	if prompt.Controls == nil || len(prompt.Controls.Buttons) != 3 {
		t.Fatalf("want 2 candidate rows + done row, got %+v", prompt.Controls)
	}

	// Toggle the first candidate (bob), then Done.
	tap(r, 1, prompt.Controls.Buttons[0][0].Token)
	updated := lastReply(t, rec, 1)
	if !strings.Contains(updated.Controls.Buttons[0][0].Label, "[x]") {
		t.Errorf("toggled label = %q, want selected marker", updated.Controls.Buttons[0][0].Label)
	}
	done := updated.Controls.Buttons[len(updated.Controls.Buttons)-1][0]
	tap(r, 1, done.Token)

	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Recorded #1") || !strings.Contains(got, "30.00") {
		t.Fatalf("recap = %q", got)
	}

	// Only bob owes.
	if got := lastReply(t, rec, 2).Text; !strings.Contains(got, "You owe 30.00") {
		t.Errorf("notification = %q", got)
	}
	if msgs := rec.MessagesFor(3); len(msgs) != 0 {
		t.Errorf("carol got %d messages, want none", len(msgs))
	}
}

func TestAddExpenseNameList(t *testing.T) {
	r, rec := newTestRouter(t, session.NameList{})
	register(t, r, rec)

	say(r, 1, "/addexpense")
	say(r, 1, "10")
	say(r, 1, "coffee")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "bob") {
		t.Fatalf("prompt = %q, want candidate names", got)
	}

	say(r, 1, "mallory")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "mallory") {
		t.Fatalf("reply = %q, want unknown-name re-prompt", got)
	}

	say(r, 1, "Bob")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Recorded #1") {
		t.Fatalf("recap = %q", got)
	}
}

func TestMarkAndConfirmFlow(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 1, "/addexpense")
	say(r, 1, "100")
	say(r, 1, "dinner")
	waitFor(t, rec, 2, 1)
	waitFor(t, rec, 3, 1)
	rec.Reset()

	// Bob marks by typing the transaction number.
	say(r, 2, "/markpaid")
	if got := lastReply(t, rec, 2); got.Controls == nil || len(got.Controls.Buttons) != 1 {
		t.Fatalf("want one debt option, got %+v", got.Controls)
	}
	say(r, 2, "1")
	if got := lastReply(t, rec, 2).Text; !strings.Contains(got, "Marked your share") {
		t.Fatalf("reply = %q", got)
	}

	// Alice is told and confirms; bob is the only marked debtor so
	// auto-selection applies.
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "marked their share") {
		t.Fatalf("spender notification = %q", got)
	}
	rec.Reset()

	say(r, 1, "/confirm")
	confirmPrompt := lastReply(t, rec, 1)
	if confirmPrompt.Controls == nil || len(confirmPrompt.Controls.Buttons) != 1 {
		t.Fatalf("want one confirmation option, got %+v", confirmPrompt.Controls)
	}
	tap(r, 1, confirmPrompt.Controls.Buttons[0][0].Token)
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "confirmed") {
		t.Fatalf("reply = %q", got)
	}

	// Bob learns the payment was acknowledged.
	if got := lastReply(t, rec, 2).Text; !strings.Contains(got, "settled up") {
		t.Errorf("debtor notification = %q", got)
	}
}

func TestConfirmDisambiguation(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 1, "/addexpense")
	say(r, 1, "100")
	say(r, 1, "dinner")
	waitFor(t, rec, 2, 1)
	waitFor(t, rec, 3, 1)

	say(r, 2, "/markpaid")
	say(r, 2, "1")
	say(r, 3, "/markpaid")
	say(r, 3, "1")
	// Three sync replies plus two mark notifications for the spender.
	waitFor(t, rec, 1, 5)
	rec.Reset()

	say(r, 1, "/confirm")
	tap(r, 1, lastReply(t, rec, 1).Controls.Buttons[0][0].Token)

	// Two marked debtors: the router asks whose payment this is.
	choice := lastReply(t, rec, 1)
	if !strings.Contains(choice.Text, "Whose payment") || len(choice.Controls.Buttons) != 2 {
		t.Fatalf("disambiguation prompt = %+v", choice)
	}

	// Pick carol.
	var carolToken string
	for _, row := range choice.Controls.Buttons {
		if row[0].Label == "carol" {
			carolToken = row[0].Token
		}
	}
	if carolToken == "" {
		t.Fatalf("no carol button in %+v", choice.Controls.Buttons)
	}
	tap(r, 1, carolToken)
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "confirmed") {
		t.Fatalf("reply = %q", got)
	}

	if got := lastReply(t, rec, 3).Text; !strings.Contains(got, "settled up") {
		t.Errorf("carol notification = %q", got)
	}
}

func TestConfirmDisambiguationTypedName(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 1, "/addexpense")
	say(r, 1, "100")
	say(r, 1, "dinner")
	waitFor(t, rec, 2, 1)
	waitFor(t, rec, 3, 1)

	say(r, 2, "/markpaid")
	say(r, 2, "1")
	say(r, 3, "/markpaid")
	say(r, 3, "1")
	waitFor(t, rec, 1, 5)
	rec.Reset()

	say(r, 1, "/confirm")
	tap(r, 1, lastReply(t, rec, 1).Controls.Buttons[0][0].Token)
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Whose payment") {
		t.Fatalf("prompt = %q", got)
	}

	// Typing the debtor's name works without the buttons.
	say(r, 1, "Carol")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "confirmed") {
		t.Fatalf("reply = %q", got)
	}
	if got := lastReply(t, rec, 3).Text; !strings.Contains(got, "settled up") {
		t.Errorf("carol notification = %q", got)
	}
}

func TestMarkPaidErrors(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 2, "/markpaid")
	if got := lastReply(t, rec, 2).Text; !strings.Contains(got, "no pending debts") {
		t.Errorf("reply = %q", got)
	}

	say(r, 1, "/addexpense")
	say(r, 1, "100")
	say(r, 1, "dinner")
	waitFor(t, rec, 2, 1)
	waitFor(t, rec, 3, 1)
	rec.Reset()

	// The spender has nothing to confirm before anyone marks.
	say(r, 1, "/confirm")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Nothing is waiting") {
		t.Errorf("reply = %q", got)
	}
}

func TestSummary(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 1, "/summary")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "No expenses") {
		t.Fatalf("empty summary = %q", got)
	}

	say(r, 1, "/addexpense")
	say(r, 1, "100")
	say(r, 1, "dinner")
	waitFor(t, rec, 2, 1)
	waitFor(t, rec, 3, 1)
	rec.Reset()

	say(r, 1, "/summary")
	got := lastReply(t, rec, 1).Text
	if !strings.Contains(got, "Owed to you:") || !strings.Contains(got, "bob") || !strings.Contains(got, "50.00") {
		t.Errorf("spender summary = %q", got)
	}

	say(r, 2, "/summary")
	got = lastReply(t, rec, 2).Text
	if !strings.Contains(got, "You owe:") || !strings.Contains(got, "alice") {
		t.Errorf("debtor summary = %q", got)
	}
}

func TestCancel(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 1, "/cancel")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Nothing to cancel") {
		t.Errorf("reply = %q", got)
	}

	say(r, 1, "/addexpense")
	say(r, 1, "100")
	say(r, 1, "/cancel")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "Cancelled") {
		t.Fatalf("reply = %q", got)
	}

	// The abandoned session left no trace: plain text is not expense input.
	say(r, 1, "dinner")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "/help") {
		t.Errorf("reply = %q, want the no-session nudge", got)
	}

	say(r, 1, "/summary")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "No expenses") {
		t.Errorf("summary = %q, want nothing recorded", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	r, rec := newTestRouter(t, session.AllOthers{})
	register(t, r, rec)

	say(r, 1, "/frobnicate")
	if got := lastReply(t, rec, 1).Text; !strings.Contains(got, "/help") {
		t.Errorf("reply = %q", got)
	}
}
