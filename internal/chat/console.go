package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Console is a line-oriented transport for local runs. Inbound lines are
//
//	<user-id> <name>: <text>
//	<user-id> <name>: cb:<token>
//
// where the "cb:" prefix turns the payload into a callback token, as if
// the user tapped a button. Outbound messages are printed with their
// button tokens so taps can be replayed by hand.
type Console struct {
	out io.Writer
}

// NewConsole creates a Console writing outbound messages to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

var _ Sender = (*Console)(nil)

// Send prints the message and, when present, its buttons with tokens.
func (c *Console) Send(_ context.Context, userID int64, text string, controls *Controls) error {
	if _, err := fmt.Fprintf(c.out, ">> [to %d] %s\n", userID, text); err != nil {
		return fmt.Errorf("console write: %w", err)
	}
	if controls == nil {
		return nil
	}
	for _, row := range controls.Buttons {
		for _, b := range row {
			if _, err := fmt.Fprintf(c.out, ">>   (%s) cb:%s\n", b.Label, b.Token); err != nil {
				return fmt.Errorf("console write: %w", err)
			}
		}
	}
	return nil
}

// Listen reads inbound lines until the reader ends or ctx is cancelled,
// passing each parsed event to handle. Malformed lines are reported on
// the output and skipped.
func (c *Console) Listen(ctx context.Context, in io.Reader, handle func(context.Context, Event)) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		ev, err := parseLine(line)
		if err != nil {
			fmt.Fprintf(c.out, ">> %v\n", err)
			continue
		}
		handle(ctx, ev)
	}
	return scanner.Err()
}

func parseLine(line string) (Event, error) {
	head, text, ok := strings.Cut(line, ":")
	if !ok {
		return Event{}, fmt.Errorf("want \"<id> <name>: <text>\", got %q", line)
	}
	idStr, name, _ := strings.Cut(strings.TrimSpace(head), " ")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("bad user id %q", idStr)
	}

	ev := Event{UserID: id, DisplayName: strings.TrimSpace(name), Text: strings.TrimSpace(text)}
	if token, ok := strings.CutPrefix(ev.Text, "cb:"); ok {
		ev.Text = ""
		ev.CallbackToken = token
	}
	return ev, nil
}
