package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"parley/backend/internal/apperr"
	"parley/backend/internal/config"
	"parley/backend/internal/fanout"
	"parley/backend/internal/models"
	"parley/backend/internal/presence"

	"github.com/go-playground/validator/v10"
)

// MessageReader re-reads persisted messages for client-triggered fanout.
type MessageReader interface {
	Message(ctx context.Context, actorID string, id uint) (models.MessageView, error)
}

// Dispatcher hands fanout requests to the engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, env fanout.Envelope)
}

// ManagerService routes inbound realtime events from every connected client.
type ManagerService struct {
	Presence *presence.Router
	Fanout   Dispatcher
	Messages MessageReader

	// ServerSideFanout means the ledger already announced every message, so
	// client messageSent notifications are acknowledged and dropped.
	ServerSideFanout bool

	relay    *RedisRelay
	validate *validator.Validate
	log      *slog.Logger
}

func NewManagerService(router *presence.Router, dispatcher Dispatcher, messages MessageReader, serverSideFanout bool, log *slog.Logger) *ManagerService {
	return &ManagerService{
		Presence:         router,
		Fanout:           dispatcher,
		Messages:         messages,
		ServerSideFanout: serverSideFanout,
		validate:         validator.New(),
		log:              log,
	}
}

// SetRelay attaches the cross-instance listener started by Run.
func (m *ManagerService) SetRelay(relay *RedisRelay) {
	m.relay = relay
}

// Run listens on the relay until ctx is cancelled. Without a relay it just waits.
func (m *ManagerService) Run(ctx context.Context) error {
	if m.relay == nil {
		<-ctx.Done()
		return nil
	}
	return m.relay.Listen(ctx)
}

// Register adds a connected client to presence and starts it.
func (m *ManagerService) Register(c Client) {
	m.Presence.Connect(c)
	c.Run()
}

// Unregister removes a client from presence. It is safe to call more than once.
func (m *ManagerService) Unregister(c Client) {
	m.Presence.Disconnect(c.ID())
}

// HandleEvent applies one inbound event for client c.
func (m *ManagerService) HandleEvent(ctx context.Context, c Client, ev models.Event) {
	switch ev.Type {
	case models.EventIdentify:
		m.handleIdentify(ctx, c, ev.Data)
	case models.EventJoinRoom:
		m.handleJoinRoom(ctx, c, ev.Data)
	case models.EventTypingStarted, models.EventTypingStopped:
		m.handleTyping(ctx, c, ev.Type, ev.Data)
	case models.EventMessageSent:
		m.handleMessageSent(ctx, c, ev.Data)
	default:
		m.replyError(ctx, c, models.ErrCodeInvalid, "unknown event type "+string(ev.Type))
	}
}

func (m *ManagerService) handleIdentify(ctx context.Context, c Client, data json.RawMessage) {
	var p models.IdentifyPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			m.replyError(ctx, c, models.ErrCodeInvalid, "malformed identify payload")
			return
		}
	}
	if p.UserID != "" && p.UserID != c.UserID() {
		m.log.Warn("Identify for another user refused", "session_id", c.ID(), "user_id", c.UserID(), "claimed", p.UserID)
		m.replyError(ctx, c, models.ErrCodeUnauthorized, "cannot identify as another user")
		return
	}

	if err := m.Presence.Identify(c.ID(), c.UserID()); err != nil {
		m.replyError(ctx, c, models.ErrCodeInternal, err.Error())
		return
	}
	m.reply(ctx, c, models.EventIdentified, models.IdentifiedPayload{UserID: c.UserID(), SessionID: c.ID()})
}

func (m *ManagerService) handleJoinRoom(ctx context.Context, c Client, data json.RawMessage) {
	var p models.RoomPayload
	if err := m.decode(data, &p); err != nil {
		m.replyError(ctx, c, models.ErrCodeInvalid, "joinRoom requires chat_id")
		return
	}

	err := m.Presence.JoinRoom(c.ID(), p.ChatID)
	if errors.Is(err, presence.ErrNotIdentified) {
		m.replyError(ctx, c, models.ErrCodeNotIdentified, "identify before joining rooms")
		return
	}
	if err != nil {
		m.replyError(ctx, c, models.ErrCodeInternal, err.Error())
		return
	}
	m.log.Debug("Joined room", "session_id", c.ID(), "chat_id", p.ChatID)
}

func (m *ManagerService) handleTyping(ctx context.Context, c Client, signal models.EventType, data json.RawMessage) {
	userID, ok := m.Presence.UserOf(c.ID())
	if !ok {
		m.replyError(ctx, c, models.ErrCodeNotIdentified, "identify before sending typing signals")
		return
	}

	var p models.RoomPayload
	if err := m.decode(data, &p); err != nil {
		m.replyError(ctx, c, models.ErrCodeInvalid, "typing signal requires chat_id")
		return
	}
	m.Fanout.Dispatch(ctx, fanout.TypingEnvelope(p.ChatID, signal, userID, c.ID()))
}

type messageSentPayload struct {
	Message struct {
		ID uint `json:"id" validate:"required"`
	} `json:"message"`
}

func (m *ManagerService) handleMessageSent(ctx context.Context, c Client, data json.RawMessage) {
	if m.ServerSideFanout {
		m.log.Debug("messageSent ignored, fanout runs on persist", "session_id", c.ID())
		return
	}

	userID, ok := m.Presence.UserOf(c.ID())
	if !ok {
		m.replyError(ctx, c, models.ErrCodeNotIdentified, "identify before sending messages")
		return
	}

	var p messageSentPayload
	if err := m.decode(data, &p); err != nil {
		m.replyError(ctx, c, models.ErrCodeInvalid, "messageSent requires message.id")
		return
	}

	msg, err := m.Messages.Message(ctx, userID, p.Message.ID)
	if err != nil {
		code := models.ErrCodeInternal
		if apperr.IsClientError(err) {
			code = models.ErrCodeInvalid
		}
		m.replyError(ctx, c, code, "message cannot be fanned out")
		return
	}
	if msg.SenderID != userID {
		m.replyError(ctx, c, models.ErrCodeUnauthorized, "only the sender can announce a message")
		return
	}
	if msg.Chat == nil {
		m.replyError(ctx, c, models.ErrCodeInternal, "message has no chat")
		return
	}

	m.Fanout.Dispatch(ctx, fanout.MessageEnvelope(msg, msg.Chat.MemberIDs()))
}

func (m *ManagerService) decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return m.validate.Struct(v)
}

func (m *ManagerService) reply(ctx context.Context, c Client, t models.EventType, payload any) {
	ev, err := models.NewEvent(t, payload)
	if err != nil {
		m.log.Error("Failed to encode reply", "type", t, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, config.WriteWait)
	defer cancel()
	if err := c.Deliver(ctx, ev); err != nil {
		m.log.Debug("Reply dropped", "session_id", c.ID(), "type", t, "error", err)
	}
}

func (m *ManagerService) replyError(ctx context.Context, c Client, code, msg string) {
	m.reply(ctx, c, models.EventError, models.ErrorPayload{Code: code, Message: msg})
}
