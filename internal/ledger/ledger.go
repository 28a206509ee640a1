// Package ledger appends chat messages and serves ordered history.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/backend/internal/apperr"
	"parley/backend/internal/models"

	"github.com/samber/lo"
)

// Store is the message side of storage.
type Store interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	MessagesForChat(ctx context.Context, chatID string) ([]models.Message, error)
}

// Describer enriches a chat with its members.
type Describer interface {
	Describe(ctx context.Context, chat models.Chat) (models.ChatView, error)
}

type Profiles interface {
	LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

// Announcer is told about every persisted message. It must not block.
type Announcer interface {
	Announce(ctx context.Context, msg models.MessageView)
}

type Service struct {
	store     Store
	chats     Describer
	profiles  Profiles
	announcer Announcer
	log       *slog.Logger
}

func NewService(store Store, chats Describer, profiles Profiles, log *slog.Logger) *Service {
	return &Service{store: store, chats: chats, profiles: profiles, log: log}
}

// SetAnnouncer registers the receiver of persisted messages. A nil announcer disables it.
func (s *Service) SetAnnouncer(a Announcer) {
	s.announcer = a
}

// SendMessage appends a message and moves the chat's updatedAt to its timestamp.
// The returned message carries the sender profile and the chat with its members.
func (s *Service) SendMessage(ctx context.Context, actorID, chatID, content string) (models.MessageView, error) {
	if strings.TrimSpace(content) == "" {
		return models.MessageView{}, apperr.InvalidInput("message content is required")
	}
	if chatID == "" {
		return models.MessageView{}, apperr.InvalidInput("chat id is required")
	}

	chat, err := s.memberChat(ctx, actorID, chatID)
	if err != nil {
		return models.MessageView{}, err
	}

	msg := models.Message{
		ChatID:    chat.ID,
		SenderID:  actorID,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.store.AppendMessage(ctx, &msg); err != nil {
		return models.MessageView{}, fmt.Errorf("failed to append message to chat %s: %w", chat.ID, err)
	}
	// AppendMessage never moves updated_at backwards; mirror that here.
	if msg.CreatedAt.After(chat.UpdatedAt) {
		chat.UpdatedAt = msg.CreatedAt
	}

	view, err := s.chats.Describe(ctx, *chat)
	if err != nil {
		return models.MessageView{}, err
	}
	out := models.MessageView{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Sender:    senderProfile(view, actorID),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
		Chat:      &view,
	}

	s.log.Debug("Message stored", "chat_id", chat.ID, "message_id", msg.ID, "user_id", actorID)
	if s.announcer != nil {
		s.announcer.Announce(context.WithoutCancel(ctx), out)
	}
	return out, nil
}

// ListMessages returns the chat history, oldest first.
func (s *Service) ListMessages(ctx context.Context, actorID, chatID string) ([]models.MessageView, error) {
	if chatID == "" {
		return nil, apperr.InvalidInput("chat id is required")
	}
	chat, err := s.memberChat(ctx, actorID, chatID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.MessagesForChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages of chat %s: %w", chat.ID, err)
	}

	senders := lo.Uniq(lo.Map(history, func(m models.Message, _ int) string { return m.SenderID }))
	profiles, err := s.profiles.LookupProfiles(ctx, senders)
	if err != nil {
		return nil, err
	}

	return lo.Map(history, func(m models.Message, _ int) models.MessageView {
		return toView(m, profiles)
	}), nil
}

// Message returns one stored message, enriched like SendMessage's result.
// The actor must be a member of the message's chat.
func (s *Service) Message(ctx context.Context, actorID string, id uint) (models.MessageView, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return models.MessageView{}, fmt.Errorf("failed to load message %d: %w", id, err)
	}
	if msg == nil {
		return models.MessageView{}, apperr.NotFound("message not found")
	}

	chat, err := s.memberChat(ctx, actorID, msg.ChatID)
	if err != nil {
		return models.MessageView{}, err
	}
	view, err := s.chats.Describe(ctx, *chat)
	if err != nil {
		return models.MessageView{}, err
	}

	out := toView(*msg, lo.SliceToMap(view.Members, func(p models.Profile) (string, models.Profile) { return p.ID, p }))
	out.Chat = &view
	return out, nil
}

func (s *Service) memberChat(ctx context.Context, actorID, chatID string) (*models.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	if chat == nil {
		return nil, apperr.NotFound("chat not found")
	}

	member, err := s.store.IsMember(ctx, chat.ID, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return nil, apperr.Forbidden("not a member of this chat")
	}
	return chat, nil
}

func toView(m models.Message, profiles map[string]models.Profile) models.MessageView {
	sender, ok := profiles[m.SenderID]
	if !ok {
		sender = models.Profile{ID: m.SenderID}
	}
	return models.MessageView{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.SenderID,
		Sender:    sender,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func senderProfile(chat models.ChatView, senderID string) models.Profile {
	p, ok := lo.Find(chat.Members, func(p models.Profile) bool { return p.ID == senderID })
	if !ok {
		return models.Profile{ID: senderID}
	}
	return p
}
