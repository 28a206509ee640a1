package models

import "time"

// Profile is the public part of a user, as returned by the identity service.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// ChatView is a chat enriched with member profiles, the admin profile and the latest message.
type ChatView struct {
	ID            string       `json:"id"`
	Title         string       `json:"chat_name"`
	IsGroup       bool         `json:"is_group_chat"`
	AdminID       *string      `json:"group_admin_id,omitempty"`
	Admin         *Profile     `json:"group_admin,omitempty"`
	Members       []Profile    `json:"users"`
	LatestMessage *MessageView `json:"latest_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// MemberIDs returns the IDs of the chat members.
func (c ChatView) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// HasMember reports whether userID is among the chat members.
func (c ChatView) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// MessageView is a message enriched with its sender profile and, after a send,
// the full chat so realtime fanout can compute recipients without another lookup.
type MessageView struct {
	ID        uint      `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Sender    Profile   `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Chat      *ChatView `json:"chat,omitempty"`
}
