package models

// User represents a registered chat user.
//
// The ID is the identifier assigned by the chat transport (Telegram-style
// int64 user IDs). It is trusted as given; the bot performs no identity
// verification of its own.
type User struct {
	// ID is the transport-assigned user identifier, stable for the
	// user's lifetime.
	ID int64

	// DisplayName is the name shown in messages and participant lists.
	// Updated idempotently on every registration.
	DisplayName string
}
