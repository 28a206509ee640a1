// Package fanout delivers persisted messages and typing signals to live sessions.
//
// Delivery is best-effort and at most once. There is no queueing and no retry;
// the ledger is the durable record. Failures are logged and never reach the sender.
//
// Each announcement is dispatched on its own goroutine, so two messages sent
// close together may reach a session in either order. Clients order by
// created_at and re-sort their chat list, so arrival order carries no meaning.
//
// Engine is safe for concurrent use by multiple goroutines.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"parley/backend/internal/models"
	"parley/backend/internal/presence"

	"github.com/samber/lo"
)

// Sessions resolves delivery targets.
type Sessions interface {
	SessionsForUser(userID string) []presence.Session
	RoomSessions(chatID string) []presence.Session
}

// Relay carries envelopes to every server instance, this one included.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

type Kind string

const (
	KindMessage Kind = "message"
	KindTyping  Kind = "typing"
)

// Envelope is one fanout request, in a form that can cross process boundaries.
type Envelope struct {
	Kind Kind `json:"kind"`

	// KindMessage
	Message *models.MessageView `json:"message,omitempty"`
	Members []string            `json:"members,omitempty"`

	// KindTyping
	ChatID         string           `json:"chat_id,omitempty"`
	Signal         models.EventType `json:"signal,omitempty"`
	UserID         string           `json:"user_id,omitempty"`
	ActorSessionID string           `json:"actor_session_id,omitempty"`
}

// MessageEnvelope targets every member of the message's chat except the sender.
func MessageEnvelope(msg models.MessageView, memberIDs []string) Envelope {
	return Envelope{Kind: KindMessage, Message: &msg, Members: memberIDs}
}

// TypingEnvelope targets every other session in the chat's room.
func TypingEnvelope(chatID string, signal models.EventType, userID, actorSessionID string) Envelope {
	return Envelope{Kind: KindTyping, ChatID: chatID, Signal: signal, UserID: userID, ActorSessionID: actorSessionID}
}

// Report summarizes one local delivery.
type Report struct {
	Sessions  int
	Delivered int
	Dropped   int
}

type Engine struct {
	sessions Sessions
	timeout  time.Duration
	relay    Relay
	log      *slog.Logger
	inflight sync.WaitGroup
}

// NewEngine delivers through sessions, giving each session at most sendTimeout.
func NewEngine(sessions Sessions, sendTimeout time.Duration, log *slog.Logger) *Engine {
	return &Engine{sessions: sessions, timeout: sendTimeout, log: log}
}

// SetRelay routes Dispatch through relay. A nil relay delivers locally.
func (e *Engine) SetRelay(relay Relay) {
	e.relay = relay
}

// Announce fans out a freshly persisted message without blocking the caller.
func (e *Engine) Announce(ctx context.Context, msg models.MessageView) {
	if msg.Chat == nil {
		e.log.Warn("Message announced without chat members, skipping fanout", "message_id", msg.ID)
		return
	}
	members := msg.Chat.MemberIDs()
	msg.Chat = lo.ToPtr(*msg.Chat)

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.Dispatch(ctx, MessageEnvelope(msg, members))
	}()
}

// Wait blocks until announcements started so far have been dispatched.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Dispatch publishes env on the relay, or delivers it locally when there is
// no relay or publishing fails.
func (e *Engine) Dispatch(ctx context.Context, env Envelope) {
	if e.relay != nil {
		err := e.relay.Publish(ctx, env)
		if err == nil {
			return
		}
		e.log.Warn("Relay publish failed, delivering locally", "kind", env.Kind, "error", err)
	}
	e.DeliverLocal(ctx, env)
}

// DeliverLocal delivers env to the sessions connected to this instance.
func (e *Engine) DeliverLocal(ctx context.Context, env Envelope) Report {
	switch env.Kind {
	case KindMessage:
		if env.Message == nil {
			e.log.Warn("Message envelope without message")
			return Report{}
		}
		return e.DeliverMessage(ctx, *env.Message, env.Members)
	case KindTyping:
		return e.DeliverTyping(ctx, env.ChatID, env.Signal, env.UserID, env.ActorSessionID)
	default:
		e.log.Warn("Unknown fanout envelope", "kind", env.Kind)
		return Report{}
	}
}

// DeliverMessage sends messageReceived to every live session of every member
// except the sender. The sender's other sessions are not included.
func (e *Engine) DeliverMessage(ctx context.Context, msg models.MessageView, memberIDs []string) Report {
	recipients := lo.Without(lo.Uniq(memberIDs), msg.SenderID)

	var targets []presence.Session
	for _, userID := range recipients {
		targets = append(targets, e.sessions.SessionsForUser(userID)...)
	}

	ev, err := models.NewEvent(models.EventMessageReceived, models.MessagePayload{Message: msg})
	if err != nil {
		e.log.Error("Failed to encode message event", "message_id", msg.ID, "error", err)
		return Report{}
	}

	report := e.deliver(ctx, targets, ev)
	e.log.Debug("Message fanned out",
		"chat_id", msg.ChatID, "message_id", msg.ID,
		"recipients", len(recipients), "sessions", report.Sessions, "dropped", report.Dropped)
	return report
}

// DeliverTyping sends a typing signal to every session in the chat's room
// except the one that produced it.
func (e *Engine) DeliverTyping(ctx context.Context, chatID string, signal models.EventType, userID, actorSessionID string) Report {
	if signal != models.EventTypingStarted && signal != models.EventTypingStopped {
		e.log.Warn("Not a typing signal", "signal", signal)
		return Report{}
	}

	targets := lo.Filter(e.sessions.RoomSessions(chatID), func(s presence.Session, _ int) bool {
		return s.ID() != actorSessionID
	})

	ev, err := models.NewEvent(signal, models.TypingPayload{ChatID: chatID, UserID: userID})
	if err != nil {
		e.log.Error("Failed to encode typing event", "chat_id", chatID, "error", err)
		return Report{}
	}
	return e.deliver(ctx, targets, ev)
}

// deliver pushes ev to every target in parallel. A slow session only costs
// its own timeout.
func (e *Engine) deliver(ctx context.Context, targets []presence.Session, ev models.Event) Report {
	var delivered, dropped atomic.Int32
	var wg sync.WaitGroup

	for _, s := range targets {
		wg.Add(1)
		go func(s presence.Session) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()

			if err := s.Deliver(sendCtx, ev); err != nil {
				dropped.Add(1)
				level := slog.LevelDebug
				if !errors.Is(err, context.DeadlineExceeded) {
					level = slog.LevelWarn
				}
				e.log.Log(ctx, level, "Dropped event for session", "session_id", s.ID(), "type", ev.Type, "error", err)
				return
			}
			delivered.Add(1)
		}(s)
	}
	wg.Wait()

	return Report{Sessions: len(targets), Delivered: int(delivered.Load()), Dropped: int(dropped.Load())}
}

// Encode serializes an envelope for a relay.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses an envelope produced by Encode.
func Decode(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode fanout envelope: %w", err)
	}
	return env, nil
}
