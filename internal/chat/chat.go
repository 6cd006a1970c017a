// Package chat defines the narrow interfaces between the ledger core and
// the chat transport. The transport itself (protocol, delivery retries,
// ordering) lives outside this repository; the core only consumes an
// inbound event stream and an outbound send primitive.
package chat

import "context"

// Event is one inbound chat update.
type Event struct {
	// UserID identifies the sender, as assigned by the transport.
	UserID int64

	// DisplayName is the transport's name hint for the sender.
	DisplayName string

	// Text is the message body, including any leading /command.
	Text string

	// CallbackToken is set when the event is a tap on an interactive
	// control rather than a typed message.
	CallbackToken string
}

// Button is one tappable interactive control.
type Button struct {
	Label string
	Token string
}

// Controls is an optional block of interactive buttons attached to an
// outbound message, laid out in rows.
type Controls struct {
	Buttons [][]Button
}

// Row appends one row of buttons and returns the controls for chaining.
func (c *Controls) Row(buttons ...Button) *Controls {
	c.Buttons = append(c.Buttons, buttons)
	return c
}

// Sender delivers outbound messages to users. Implementations own
// delivery; the core never retries a failed send.
type Sender interface {
	Send(ctx context.Context, userID int64, text string, controls *Controls) error
}
