package chathub

import "parley/backend/internal/presence"

// Client is one realtime connection as the hub sees it. The user id is fixed
// when the connection is authenticated at upgrade time.
type Client interface {
	presence.Session
	// UserID returns the user the connection's credential belongs to.
	UserID() string
	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down. It is safe to call more than once.
	Close()
}
