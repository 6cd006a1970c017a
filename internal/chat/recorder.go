package chat

import (
	"context"
	"sync"
)

// Message is one recorded outbound message.
type Message struct {
	UserID   int64
	Text     string
	Controls *Controls
}

// Recorder is a Sender that captures outbound messages in memory.
// Used by tests and by the local console transport.
type Recorder struct {
	mu       sync.Mutex
	messages []Message

	// FailFor makes Send return an error for the listed user IDs,
	// simulating transport delivery failures.
	FailFor map[int64]error
}

var _ Sender = (*Recorder)(nil)

// Send records the message, or fails if the user is listed in FailFor.
func (r *Recorder) Send(_ context.Context, userID int64, text string, controls *Controls) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.FailFor[userID]; ok {
		return err
	}
	r.messages = append(r.messages, Message{UserID: userID, Text: text, Controls: controls})
	return nil
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// MessagesFor returns the recorded messages sent to one user.
func (r *Recorder) MessagesFor(userID int64) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Message
	for _, m := range r.messages {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out
}

// Reset discards all recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
