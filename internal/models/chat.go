package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DirectChatTitle is the title given to every one-on-one chat.
const DirectChatTitle = "One on One Chat"

// Chat is a conversation, either one-on-one (exactly two fixed members) or a named group.
type Chat struct {
	// ID is an opaque UUID; it doubles as the realtime room name.
	ID string `gorm:"primaryKey;type:varchar(36)"`
	// Title is the group name, or DirectChatTitle for one-on-one chats.
	Title   string `gorm:"type:text;not null"`
	IsGroup bool   `gorm:"not null;default:false;index"`
	// AdminID is set for group chats only. It is not reassigned when the admin leaves.
	AdminID *string `gorm:"type:varchar(36)"`
	// PairKey is the normalized member pair of a one-on-one chat and NULL for groups.
	// The unique index is what stops two concurrent accessChat calls creating duplicates.
	PairKey   *string   `gorm:"type:varchar(80);uniqueIndex"`
	CreatedAt time.Time `gorm:"not null"`
	// UpdatedAt follows the latest message and drives list ordering.
	UpdatedAt time.Time `gorm:"not null;index"`
}

// BeforeCreate assigns a UUID if the ID has not been set.
func (c *Chat) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}

// IsAdmin reports whether userID administers this group chat.
func (c Chat) IsAdmin(userID string) bool {
	return c.IsGroup && c.AdminID != nil && *c.AdminID == userID
}

// Membership links a user to a chat. The composite primary key keeps pairs unique.
type Membership struct {
	ChatID   string    `gorm:"primaryKey;type:varchar(36)"`
	UserID   string    `gorm:"primaryKey;type:varchar(36);index"`
	JoinedAt time.Time `gorm:"not null"`
}

// PairKey normalizes an unordered pair of user IDs.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
