package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"parley/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrDuplicateChat is returned when a one-on-one chat for the pair already exists.
	ErrDuplicateChat = errors.New("direct chat already exists for pair")
	// ErrAlreadyMember is returned when a membership row already exists.
	ErrAlreadyMember = errors.New("user is already a member")
	// ErrNotMember is returned when removing a membership that does not exist.
	ErrNotMember = errors.New("user is not a member")
	// ErrDuplicateEmail is returned when registering an email twice.
	ErrDuplicateEmail = errors.New("email already registered")
)

type Storage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	SearchUsers(ctx context.Context, term, excludeID string, limit int) ([]models.User, error)

	FindDirectChat(ctx context.Context, userA, userB string) (*models.Chat, error)
	CreateDirectChat(ctx context.Context, chat *models.Chat, userA, userB string) error
	CreateGroupChat(ctx context.Context, chat *models.Chat, memberIDs []string) error
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	RenameChat(ctx context.Context, chatID, title string, at time.Time) error
	ChatsForUser(ctx context.Context, userID string) ([]models.Chat, error)

	AddMember(ctx context.Context, chatID, userID string) error
	RemoveMember(ctx context.Context, chatID, userID string) error
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	MemberIDs(ctx context.Context, chatID string) ([]string, error)
	MemberIDsByChat(ctx context.Context, chatIDs []string) (map[string][]string, error)

	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	MessagesForChat(ctx context.Context, chatID string) ([]models.Message, error)
	LatestMessages(ctx context.Context, chatIDs []string) (map[string]models.Message, error)
}

type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Open connects with duplicate-key errors translated to gorm.ErrDuplicatedKey,
// which the pair and membership uniqueness checks rely on.
func Open(dialector gorm.Dialector, level logger.LogLevel) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(level),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
}

// AutoMigrate creates or updates the tables for every persisted model.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Chat{},
		&models.Membership{},
		&models.Message{},
	)
}

// CreateUser inserts a new user.
func (s *Service) CreateUser(ctx context.Context, user *models.User) error {
	err := s.DB.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	return err
}

// GetUserByEmail returns nil without error when no user has that email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUsersByIDs returns the users that exist among ids, in no particular order.
func (s *Service) GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

// SearchUsers matches term as a case-insensitive substring of name or email.
func (s *Service) SearchUsers(ctx context.Context, term, excludeID string, limit int) ([]models.User, error) {
	var users []models.User
	pattern := "%" + strings.ToLower(term) + "%"
	err := s.DB.WithContext(ctx).
		Where("(LOWER(name) LIKE ? OR LOWER(email) LIKE ?)", pattern, pattern).
		Where("id <> ?", excludeID).
		Order("name ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// FindDirectChat returns the one-on-one chat whose member set is exactly {userA, userB},
// or nil when there is none. Membership is compared as a full set, not just containment.
func (s *Service) FindDirectChat(ctx context.Context, userA, userB string) (*models.Chat, error) {
	memberOf := func(userID string) *gorm.DB {
		return s.DB.Model(&models.Membership{}).Select("chat_id").Where("user_id = ?", userID)
	}

	var chat models.Chat
	err := s.DB.WithContext(ctx).
		Where("is_group = ?", false).
		Where("id IN (?)", memberOf(userA)).
		Where("id IN (?)", memberOf(userB)).
		Where("(SELECT COUNT(*) FROM memberships WHERE memberships.chat_id = chats.id) = ?", 2).
		Order("created_at ASC").
		First(&chat).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// CreateDirectChat inserts the chat and both membership rows atomically.
// It returns ErrDuplicateChat if another chat already holds the pair key.
func (s *Service) CreateDirectChat(ctx context.Context, chat *models.Chat, userA, userB string) error {
	key := models.PairKey(userA, userB)
	chat.IsGroup = false
	chat.AdminID = nil
	chat.PairKey = &key

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		return tx.Create(newMemberships(chat.ID, chat.CreatedAt, []string{userA, userB})).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateChat
	}
	return err
}

// CreateGroupChat inserts the chat and one membership row per member, or nothing at all.
func (s *Service) CreateGroupChat(ctx context.Context, chat *models.Chat, memberIDs []string) error {
	chat.IsGroup = true
	chat.PairKey = nil

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(chat).Error; err != nil {
			return err
		}
		if err := tx.Create(newMemberships(chat.ID, chat.CreatedAt, memberIDs)).Error; err != nil {
			return fmt.Errorf("failed to insert members of chat %s: %w", chat.ID, err)
		}
		return nil
	})
}

func newMemberships(chatID string, at time.Time, userIDs []string) []models.Membership {
	rows := make([]models.Membership, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, models.Membership{ChatID: chatID, UserID: id, JoinedAt: at})
	}
	return rows
}

// GetChat returns nil without error when the chat does not exist.
func (s *Service) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	var chat models.Chat
	err := s.DB.WithContext(ctx).Where("id = ?", chatID).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// RenameChat sets the title and refreshes updated_at to at.
func (s *Service) RenameChat(ctx context.Context, chatID, title string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.Chat{}).
		Where("id = ?", chatID).
		UpdateColumns(map[string]interface{}{
			"title":      title,
			"updated_at": at,
		}).Error
}

// ChatsForUser returns every chat userID belongs to, most recently updated first.
func (s *Service) ChatsForUser(ctx context.Context, userID string) ([]models.Chat, error) {
	var chats []models.Chat
	err := s.DB.WithContext(ctx).
		Joins("JOIN memberships ON memberships.chat_id = chats.id AND memberships.user_id = ?", userID).
		Order("chats.updated_at DESC").
		Find(&chats).Error
	return chats, err
}

// AddMember inserts a membership row. It returns ErrAlreadyMember on a duplicate pair.
func (s *Service) AddMember(ctx context.Context, chatID, userID string) error {
	row := models.Membership{ChatID: chatID, UserID: userID, JoinedAt: time.Now().UTC()}
	err := s.DB.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyMember
	}
	return err
}

// RemoveMember deletes a membership row. It returns ErrNotMember if there was none.
func (s *Service) RemoveMember(ctx context.Context, chatID, userID string) error {
	result := s.DB.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Delete(&models.Membership{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotMember
	}
	return nil
}

func (s *Service) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Membership{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count).Error
	return count > 0, err
}

// MemberIDs returns the members of a chat in join order.
func (s *Service) MemberIDs(ctx context.Context, chatID string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.Membership{}).
		Where("chat_id = ?", chatID).
		Order("joined_at ASC, user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// MemberIDsByChat loads the members of several chats in one query.
func (s *Service) MemberIDsByChat(ctx context.Context, chatIDs []string) (map[string][]string, error) {
	result := make(map[string][]string, len(chatIDs))
	if len(chatIDs) == 0 {
		return result, nil
	}

	var rows []models.Membership
	err := s.DB.WithContext(ctx).
		Where("chat_id IN ?", chatIDs).
		Order("joined_at ASC, user_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.ChatID] = append(result[row.ChatID], row.UserID)
	}
	return result, nil
}

// AppendMessage inserts the message and moves the chat's updated_at forward to the
// message timestamp in the same transaction. updated_at never moves backwards.
func (s *Service) AppendMessage(ctx context.Context, msg *models.Message) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Chat{}).
			Where("id = ? AND updated_at <= ?", msg.ChatID, msg.CreatedAt).
			UpdateColumn("updated_at", msg.CreatedAt).Error
	})
}

// GetMessage returns nil without error when the message does not exist.
func (s *Service) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := s.DB.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MessagesForChat returns the history oldest first; ties on created_at fall back to insertion order.
func (s *Service) MessagesForChat(ctx context.Context, chatID string) ([]models.Message, error) {
	var history []models.Message
	err := s.DB.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC, id ASC").
		Find(&history).Error
	return history, err
}

// LatestMessages returns the most recent message of each chat that has one.
func (s *Service) LatestMessages(ctx context.Context, chatIDs []string) (map[string]models.Message, error) {
	result := make(map[string]models.Message, len(chatIDs))
	if len(chatIDs) == 0 {
		return result, nil
	}

	// Same order as MessagesForChat: created_at first, id only breaks ties.
	var msgs []models.Message
	err := s.DB.WithContext(ctx).
		Where("chat_id IN ?", chatIDs).
		Where("id = (SELECT m2.id FROM messages m2 WHERE m2.chat_id = messages.chat_id ORDER BY m2.created_at DESC, m2.id DESC LIMIT 1)").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		result[m.ChatID] = m
	}
	return result, nil
}
