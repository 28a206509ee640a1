// Package ordering keeps chat lists sorted by recency.
//
// The sort is always applied to the whole list. Splicing a single chat to the
// front drifts out of order when responses arrive out of request order.
package ordering

import (
	"slices"

	"parley/backend/internal/models"
)

// SortByRecency returns a copy of chats ordered by UpdatedAt, newest first.
// Chats with a zero UpdatedAt sort as oldest. Equal timestamps keep their input order.
func SortByRecency(chats []models.ChatView) []models.ChatView {
	out := slices.Clone(chats)
	slices.SortStableFunc(out, func(a, b models.ChatView) int {
		switch {
		case a.UpdatedAt.IsZero() && b.UpdatedAt.IsZero():
			return 0
		case a.UpdatedAt.IsZero():
			return 1
		case b.UpdatedAt.IsZero():
			return -1
		}
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out
}

// ChatList is a client-side chat list. It is not safe for concurrent use.
type ChatList struct {
	chats []models.ChatView
}

func NewChatList() *ChatList {
	return &ChatList{}
}

// Replace swaps in a freshly fetched list.
func (l *ChatList) Replace(chats []models.ChatView) {
	l.chats = SortByRecency(chats)
}

// Upsert records a chat returned by access or create. A chat already in the list
// is refreshed in place and keeps the position its UpdatedAt warrants.
func (l *ChatList) Upsert(chat models.ChatView) {
	if i := l.index(chat.ID); i >= 0 {
		l.chats[i] = chat
	} else {
		l.chats = append(l.chats, chat)
	}
	l.chats = SortByRecency(l.chats)
}

// Remove drops a chat, for example after leaving a group.
func (l *ChatList) Remove(chatID string) {
	if i := l.index(chatID); i >= 0 {
		l.chats = slices.Delete(l.chats, i, i+1)
	}
}

// ApplyMessage records a sent or received message as the chat's latest one.
// It reports false when the chat is not in the list. Older messages never
// move a chat backwards.
func (l *ChatList) ApplyMessage(msg models.MessageView) bool {
	i := l.index(msg.ChatID)
	if i < 0 {
		return false
	}

	chat := l.chats[i]
	if chat.LatestMessage == nil || !msg.CreatedAt.Before(chat.LatestMessage.CreatedAt) {
		latest := msg
		latest.Chat = nil
		chat.LatestMessage = &latest
	}
	if msg.CreatedAt.After(chat.UpdatedAt) {
		chat.UpdatedAt = msg.CreatedAt
	}
	l.chats[i] = chat
	l.chats = SortByRecency(l.chats)
	return true
}

// Chats returns a copy of the list in display order.
func (l *ChatList) Chats() []models.ChatView {
	return slices.Clone(l.chats)
}

func (l *ChatList) index(chatID string) int {
	return slices.IndexFunc(l.chats, func(c models.ChatView) bool { return c.ID == chatID })
}
