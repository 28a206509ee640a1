// Package directory creates and finds chats and governs group membership.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"parley/backend/internal/apperr"
	"parley/backend/internal/config"
	"parley/backend/internal/models"
	"parley/backend/internal/ordering"
	"parley/backend/internal/storage"

	"github.com/samber/lo"
)

// Store is the membership side of storage.
type Store interface {
	FindDirectChat(ctx context.Context, userA, userB string) (*models.Chat, error)
	CreateDirectChat(ctx context.Context, chat *models.Chat, userA, userB string) error
	CreateGroupChat(ctx context.Context, chat *models.Chat, memberIDs []string) error
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	RenameChat(ctx context.Context, chatID, title string, at time.Time) error
	ChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)
	AddMember(ctx context.Context, chatID, userID string) error
	RemoveMember(ctx context.Context, chatID, userID string) error
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	MemberIDsByChat(ctx context.Context, chatIDs []string) (map[string][]string, error)
	LatestMessages(ctx context.Context, chatIDs []string) (map[string]models.Message, error)
}

// Profiles resolves user ids to public profiles.
type Profiles interface {
	LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
}

type Service struct {
	store    Store
	profiles Profiles
	pairs    *keyedMutex
	log      *slog.Logger
}

func NewService(store Store, profiles Profiles, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		profiles: profiles,
		pairs:    newKeyedMutex(),
		log:      log,
	}
}

// AccessChat returns the one-on-one chat between actor and peer, creating it on first use.
// Concurrent calls for the same pair are serialized in-process; across processes the
// unique pair key decides the winner and the loser returns the winner's chat.
func (s *Service) AccessChat(ctx context.Context, actorID, peerID string) (models.ChatView, error) {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return models.ChatView{}, apperr.InvalidInput("peer user id is required")
	}
	if peerID == actorID {
		return models.ChatView{}, apperr.InvalidInput("cannot open a chat with yourself")
	}
	if err := s.requireUsers(ctx, peerID); err != nil {
		return models.ChatView{}, err
	}

	unlock := s.pairs.Lock(models.PairKey(actorID, peerID))
	defer unlock()

	existing, err := s.store.FindDirectChat(ctx, actorID, peerID)
	if err != nil {
		return models.ChatView{}, fmt.Errorf("failed to find direct chat: %w", err)
	}
	if existing != nil {
		return s.Describe(ctx, *existing)
	}

	chat := models.Chat{Title: models.DirectChatTitle}
	err = s.store.CreateDirectChat(ctx, &chat, actorID, peerID)
	if errors.Is(err, storage.ErrDuplicateChat) {
		s.log.Debug("Direct chat created concurrently, re-reading", "user_id", actorID, "peer_id", peerID)
		winner, findErr := s.store.FindDirectChat(ctx, actorID, peerID)
		if findErr != nil {
			return models.ChatView{}, fmt.Errorf("failed to re-read direct chat: %w", findErr)
		}
		if winner == nil {
			return models.ChatView{}, fmt.Errorf("direct chat for %s vanished after conflict", models.PairKey(actorID, peerID))
		}
		return s.Describe(ctx, *winner)
	}
	if err != nil {
		return models.ChatView{}, fmt.Errorf("failed to create direct chat: %w", err)
	}

	s.log.Info("Direct chat created", "chat_id", chat.ID, "user_id", actorID, "peer_id", peerID)
	return s.Describe(ctx, chat)
}

// CreateGroupChat creates a named group administered by the actor.
// memberIDs may repeat or include the actor; at least two other members are required.
func (s *Service) CreateGroupChat(ctx context.Context, actorID, name string, memberIDs []string) (models.ChatView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ChatView{}, apperr.InvalidInput("group name is required")
	}

	peers := lo.Without(lo.Uniq(lo.Compact(memberIDs)), actorID)
	if len(peers) < config.MinGroupPeers {
		return models.ChatView{}, apperr.InvalidInput("more than 2 users are required to form a group chat")
	}
	if err := s.requireUsers(ctx, peers...); err != nil {
		return models.ChatView{}, err
	}

	chat := models.Chat{Title: name, AdminID: lo.ToPtr(actorID)}
	members := append([]string{actorID}, peers...)
	if err := s.store.CreateGroupChat(ctx, &chat, members); err != nil {
		return models.ChatView{}, fmt.Errorf("failed to create group chat: %w", err)
	}

	s.log.Info("Group chat created", "chat_id", chat.ID, "user_id", actorID, "members", len(members))
	return s.Describe(ctx, chat)
}

// RenameGroupChat changes the group title. Only the admin may rename.
func (s *Service) RenameGroupChat(ctx context.Context, actorID, chatID, name string) (models.ChatView, error) {
	name = strings.TrimSpace(name)
	if chatID == "" || name == "" {
		return models.ChatView{}, apperr.InvalidInput("chat id and name are required")
	}

	chat, err := s.adminGroup(ctx, actorID, chatID)
	if err != nil {
		return models.ChatView{}, err
	}

	now := time.Now().UTC()
	if err := s.store.RenameChat(ctx, chat.ID, name, now); err != nil {
		return models.ChatView{}, fmt.Errorf("failed to rename chat %s: %w", chat.ID, err)
	}
	chat.Title = name
	chat.UpdatedAt = now

	s.log.Info("Group chat renamed", "chat_id", chat.ID, "user_id", actorID)
	return s.Describe(ctx, *chat)
}

// AddMember adds userID to the group. Only the admin may add.
func (s *Service) AddMember(ctx context.Context, actorID, chatID, userID string) (models.ChatView, error) {
	if chatID == "" || userID == "" {
		return models.ChatView{}, apperr.InvalidInput("chat id and user id are required")
	}

	chat, err := s.adminGroup(ctx, actorID, chatID)
	if err != nil {
		return models.ChatView{}, err
	}
	if err := s.requireUsers(ctx, userID); err != nil {
		return models.ChatView{}, err
	}

	member, err := s.store.IsMember(ctx, chat.ID, userID)
	if err != nil {
		return models.ChatView{}, fmt.Errorf("failed to check membership: %w", err)
	}
	if member {
		return models.ChatView{}, apperr.Conflict("user is already in the group")
	}

	if err := s.store.AddMember(ctx, chat.ID, userID); err != nil {
		if errors.Is(err, storage.ErrAlreadyMember) {
			return models.ChatView{}, apperr.Conflict("user is already in the group")
		}
		return models.ChatView{}, fmt.Errorf("failed to add member: %w", err)
	}

	s.log.Info("Member added", "chat_id", chat.ID, "user_id", userID, "by", actorID)
	return s.Describe(ctx, *chat)
}

// RemoveMember removes userID from the group. The admin may remove anyone and any
// member may remove themself. Removing the admin leaves AdminID unchanged.
func (s *Service) RemoveMember(ctx context.Context, actorID, chatID, userID string) (models.ChatView, error) {
	if chatID == "" || userID == "" {
		return models.ChatView{}, apperr.InvalidInput("chat id and user id are required")
	}

	chat, err := s.group(ctx, chatID)
	if err != nil {
		return models.ChatView{}, err
	}
	if userID != actorID && !chat.IsAdmin(actorID) {
		return models.ChatView{}, apperr.Forbidden("only the admin can remove other members")
	}

	if err := s.store.RemoveMember(ctx, chat.ID, userID); err != nil {
		if errors.Is(err, storage.ErrNotMember) {
			return models.ChatView{}, apperr.Conflict("user is not in the group")
		}
		return models.ChatView{}, fmt.Errorf("failed to remove member: %w", err)
	}

	s.log.Info("Member removed", "chat_id", chat.ID, "user_id", userID, "by", actorID)
	return s.Describe(ctx, *chat)
}

// ListChats returns every chat the actor belongs to, most recent first.
func (s *Service) ListChats(ctx context.Context, actorID string) ([]models.ChatView, error) {
	chats, err := s.store.ChatsForUser(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	views, err := s.describeAll(ctx, chats)
	if err != nil {
		return nil, err
	}
	return ordering.SortByRecency(views), nil
}

// Describe enriches a chat with member profiles, the admin profile and the latest message.
func (s *Service) Describe(ctx context.Context, chat models.Chat) (models.ChatView, error) {
	views, err := s.describeAll(ctx, []models.Chat{chat})
	if err != nil {
		return models.ChatView{}, err
	}
	return views[0], nil
}

func (s *Service) describeAll(ctx context.Context, chats []models.Chat) ([]models.ChatView, error) {
	chatIDs := lo.Map(chats, func(c models.Chat, _ int) string { return c.ID })

	members, err := s.store.MemberIDsByChat(ctx, chatIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	latest, err := s.store.LatestMessages(ctx, chatIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest messages: %w", err)
	}

	userIDs := lo.Flatten(lo.Values(members))
	for _, c := range chats {
		if c.AdminID != nil {
			userIDs = append(userIDs, *c.AdminID)
		}
	}
	for _, m := range latest {
		userIDs = append(userIDs, m.SenderID)
	}
	profiles, err := s.profiles.LookupProfiles(ctx, lo.Uniq(userIDs))
	if err != nil {
		return nil, err
	}

	return lo.Map(chats, func(c models.Chat, _ int) models.ChatView {
		view := models.ChatView{
			ID:        c.ID,
			Title:     c.Title,
			IsGroup:   c.IsGroup,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
			Members: lo.Map(members[c.ID], func(id string, _ int) models.Profile {
				return profileOf(profiles, id)
			}),
		}
		if c.IsGroup && c.AdminID != nil {
			view.AdminID = c.AdminID
			view.Admin = lo.ToPtr(profileOf(profiles, *c.AdminID))
		}
		if m, ok := latest[c.ID]; ok {
			view.LatestMessage = &models.MessageView{
				ID:        m.ID,
				ChatID:    m.ChatID,
				SenderID:  m.SenderID,
				Sender:    profileOf(profiles, m.SenderID),
				Content:   m.Content,
				CreatedAt: m.CreatedAt,
			}
		}
		return view
	}), nil
}

func profileOf(profiles map[string]models.Profile, id string) models.Profile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return models.Profile{ID: id}
}

func (s *Service) group(ctx context.Context, chatID string) (*models.Chat, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", chatID, err)
	}
	if chat == nil || !chat.IsGroup {
		return nil, apperr.NotFound("chat not found")
	}
	return chat, nil
}

func (s *Service) adminGroup(ctx context.Context, actorID, chatID string) (*models.Chat, error) {
	chat, err := s.group(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsAdmin(actorID) {
		return nil, apperr.Forbidden("only the admin can change the group")
	}
	return chat, nil
}

func (s *Service) requireUsers(ctx context.Context, ids ...string) error {
	profiles, err := s.profiles.LookupProfiles(ctx, ids)
	if err != nil {
		return err
	}
	if missing, ok := lo.Find(ids, func(id string) bool { _, found := profiles[id]; return !found }); ok {
		return apperr.NotFound(fmt.Sprintf("user %s not found", missing))
	}
	return nil
}
