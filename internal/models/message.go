package models

import "time"

// Message is a persisted chat message. Messages are append-only.
type Message struct {
	// ID is assigned by the database in insertion order and breaks CreatedAt ties.
	ID uint `gorm:"primaryKey;autoIncrement"`
	// ChatID is the chat the message belongs to.
	ChatID string `gorm:"type:varchar(36);not null;index:idx_chat_created,priority:1"`
	// SenderID is the user who sent the message.
	SenderID string `gorm:"type:varchar(36);not null;index"`
	// Content is the non-empty message text.
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_chat_created,priority:2"`
}
