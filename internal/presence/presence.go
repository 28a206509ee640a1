// Package presence tracks live sessions, the user each one speaks for, and the rooms it joined.
//
// It is never a source of truth for membership; room joins only target delivery.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"parley/backend/internal/models"
)

var (
	ErrUnknownSession = errors.New("session is not connected")
	ErrNotIdentified  = errors.New("session has not identified")
)

type State int

const (
	StateClosed State = iota
	StateUnauthenticated
	StateIdentified
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateIdentified:
		return "identified"
	default:
		return "closed"
	}
}

// Session is one live connection.
type Session interface {
	ID() string
	// Deliver queues an event for the connection. Delivering to a closed
	// session returns nil without doing anything.
	Deliver(ctx context.Context, ev models.Event) error
}

type entry struct {
	session Session
	userID  string
	rooms   map[string]struct{}
}

// Router is safe for concurrent use. Every mutation holds the write lock and
// every lookup returns a snapshot taken under the read lock.
type Router struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	users    map[string]map[string]Session
	rooms    map[string]map[string]Session
	log      *slog.Logger
}

func NewRouter(log *slog.Logger) *Router {
	return &Router{
		sessions: make(map[string]*entry),
		users:    make(map[string]map[string]Session),
		rooms:    make(map[string]map[string]Session),
		log:      log,
	}
}

// Connect registers a new, unauthenticated session.
func (r *Router) Connect(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID()]; ok {
		return
	}
	r.sessions[s.ID()] = &entry{session: s, rooms: make(map[string]struct{})}
	r.log.Debug("Session connected", "session_id", s.ID())
}

// Identify binds the session to userID. A user may hold many sessions at once.
// Identifying again as another user moves the session and keeps its rooms.
func (r *Router) Identify(sessionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if e.userID == userID {
		return nil
	}
	if e.userID != "" {
		removeFrom(r.users, e.userID, sessionID)
	}
	e.userID = userID
	addTo(r.users, userID, e.session)
	r.log.Debug("Session identified", "session_id", sessionID, "user_id", userID)
	return nil
}

// JoinRoom adds the session to chatID's room. Joining twice is a no-op.
func (r *Router) JoinRoom(sessionID, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	if e.userID == "" {
		return ErrNotIdentified
	}
	if _, joined := e.rooms[chatID]; joined {
		return nil
	}
	e.rooms[chatID] = struct{}{}
	addTo(r.rooms, chatID, e.session)
	return nil
}

// Disconnect forgets the session everywhere. It is safe to call more than once.
func (r *Router) Disconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	for chatID := range e.rooms {
		removeFrom(r.rooms, chatID, sessionID)
	}
	if e.userID != "" {
		removeFrom(r.users, e.userID, sessionID)
	}
	delete(r.sessions, sessionID)
	r.log.Debug("Session disconnected", "session_id", sessionID, "user_id", e.userID)
}

// State reports where the session is in its lifecycle. Unknown sessions are closed.
func (r *Router) State(sessionID string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	switch {
	case !ok:
		return StateClosed
	case e.userID == "":
		return StateUnauthenticated
	default:
		return StateIdentified
	}
}

// UserOf returns the user an identified session speaks for.
func (r *Router) UserOf(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.sessions[sessionID]
	if !ok || e.userID == "" {
		return "", false
	}
	return e.userID, true
}

// SessionsForUser returns every live session of userID.
func (r *Router) SessionsForUser(userID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.users[userID])
}

// RoomSessions returns every session joined to chatID's room.
func (r *Router) RoomSessions(chatID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.rooms[chatID])
}

// Counts returns the number of live sessions, identified users and non-empty rooms.
func (r *Router) Counts() (sessions, users, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.users), len(r.rooms)
}

func addTo(index map[string]map[string]Session, key string, s Session) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]Session)
		index[key] = set
	}
	set[s.ID()] = s
}

func removeFrom(index map[string]map[string]Session, key, sessionID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(index, key)
	}
}

func snapshot(set map[string]Session) []Session {
	out := make([]Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}
