package storage_test

import (
	"context"
	"testing"
	"time"

	"parley/backend/internal/models"
	"parley/backend/internal/storage"
	"parley/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	storagetest.CreateUser(t, s, "ada")

	dup := models.User{Name: "Other", Email: "ada@example.com", PasswordHash: "x"}
	err := s.CreateUser(ctx, &dup)

	assert.ErrorIs(t, err, storage.ErrDuplicateEmail)
}

func TestGetUserByEmail(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	ada := storagetest.CreateUser(t, s, "ada")

	got, err := s.GetUserByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ada.ID, got.ID)

	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSearchUsers_ExcludesCaller(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	ada := storagetest.CreateUser(t, s, "ada")
	adam := storagetest.CreateUser(t, s, "adam")
	storagetest.CreateUser(t, s, "bob")

	found, err := s.SearchUsers(ctx, "AD", ada.ID, 10)

	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, adam.ID, found[0].ID)
}

func TestDirectChat_CreateAndFind(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	none, err := s.FindDirectChat(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	chat := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &chat, a.ID, b.ID))

	found, err := s.FindDirectChat(ctx, b.ID, a.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, chat.ID, found.ID)
	assert.False(t, found.IsGroup)

	members, err := s.MemberIDs(ctx, chat.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, members)
}

func TestCreateDirectChat_RejectsSecondChatForPair(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	first := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &first, a.ID, b.ID))

	second := models.Chat{Title: models.DirectChatTitle}
	err := s.CreateDirectChat(ctx, &second, b.ID, a.ID)

	assert.ErrorIs(t, err, storage.ErrDuplicateChat)
	chats, err := s.ChatsForUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1, "the failed insert must not leave a chat behind")
}

func TestFindDirectChat_IgnoresGroups(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	group := models.Chat{Title: "pair group", AdminID: &a.ID}
	require.NoError(t, s.CreateGroupChat(ctx, &group, []string{a.ID, b.ID}))

	found, err := s.FindDirectChat(ctx, a.ID, b.ID)

	require.NoError(t, err)
	assert.Nil(t, found, "a two-member group is not a one-on-one chat")
}

func TestMembership_AddRemove(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")
	c := storagetest.CreateUser(t, s, "c")

	group := models.Chat{Title: "team", AdminID: &a.ID}
	require.NoError(t, s.CreateGroupChat(ctx, &group, []string{a.ID, b.ID, c.ID}))

	assert.ErrorIs(t, s.AddMember(ctx, group.ID, b.ID), storage.ErrAlreadyMember)

	require.NoError(t, s.RemoveMember(ctx, group.ID, c.ID))
	assert.ErrorIs(t, s.RemoveMember(ctx, group.ID, c.ID), storage.ErrNotMember)

	ok, err := s.IsMember(ctx, group.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddMember(ctx, group.ID, c.ID))
	byChat, err := s.MemberIDsByChat(ctx, []string{group.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, byChat[group.ID])
}

func TestAppendMessage_TouchesChat(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	chat := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &chat, a.ID, b.ID))

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	msg := models.Message{ChatID: chat.ID, SenderID: a.ID, Content: "hi", CreatedAt: at}
	require.NoError(t, s.AppendMessage(ctx, &msg))
	assert.NotZero(t, msg.ID)

	reloaded, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.UpdatedAt.Equal(at), "updated_at should follow the message")

	// An older timestamp must not move updated_at backwards.
	older := models.Message{ChatID: chat.ID, SenderID: b.ID, Content: "late", CreatedAt: at.Add(-time.Second)}
	require.NoError(t, s.AppendMessage(ctx, &older))
	reloaded, err = s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.UpdatedAt.Equal(at))
}

func TestMessagesForChat_OrderedAndLatest(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	chat := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &chat, a.ID, b.ID))

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, content := range []string{"one", "two", "three"} {
		m := models.Message{ChatID: chat.ID, SenderID: a.ID, Content: content, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.AppendMessage(ctx, &m))
	}

	history, err := s.MessagesForChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "one", history[0].Content)
	assert.Equal(t, "three", history[2].Content)

	latest, err := s.LatestMessages(ctx, []string{chat.ID, "no-such-chat"})
	require.NoError(t, err)
	assert.Len(t, latest, 1)
	assert.Equal(t, "three", latest[chat.ID].Content)

	got, err := s.GetMessage(ctx, history[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "two", got.Content)

	missing, err := s.GetMessage(ctx, 9999)
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLatestMessages_FollowsCreatedAtNotCommitOrder(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	chat := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &chat, a.ID, b.ID))

	// The newer message commits first, the older one second.
	base := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	newer := models.Message{ChatID: chat.ID, SenderID: a.ID, Content: "newer", CreatedAt: base.Add(time.Second)}
	require.NoError(t, s.AppendMessage(ctx, &newer))
	older := models.Message{ChatID: chat.ID, SenderID: b.ID, Content: "older", CreatedAt: base}
	require.NoError(t, s.AppendMessage(ctx, &older))

	history, err := s.MessagesForChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "newer", history[1].Content)

	latest, err := s.LatestMessages(ctx, []string{chat.ID})
	require.NoError(t, err)
	assert.Equal(t, "newer", latest[chat.ID].Content)

	reloaded, err := s.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.UpdatedAt.Equal(newer.CreatedAt))
}

func TestLatestMessages_SameCreatedAtFallsBackToID(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	chat := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &chat, a.ID, b.ID))

	at := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	first := models.Message{ChatID: chat.ID, SenderID: a.ID, Content: "first", CreatedAt: at}
	require.NoError(t, s.AppendMessage(ctx, &first))
	second := models.Message{ChatID: chat.ID, SenderID: b.ID, Content: "second", CreatedAt: at}
	require.NoError(t, s.AppendMessage(ctx, &second))

	latest, err := s.LatestMessages(ctx, []string{chat.ID})
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest[chat.ID].ID)
}

func TestCreateGroupChat_AllOrNothing(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")

	// Listing b twice breaks the membership primary key half way through.
	group := models.Chat{Title: "broken", AdminID: &a.ID}
	err := s.CreateGroupChat(ctx, &group, []string{a.ID, b.ID, b.ID})
	require.Error(t, err)
	require.NotEmpty(t, group.ID)

	got, err := s.GetChat(ctx, group.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	members, err := s.MemberIDs(ctx, group.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestRenameChat_UpdatesTitleAndTimestamp(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")

	group := models.Chat{Title: "old", AdminID: &a.ID}
	require.NoError(t, s.CreateGroupChat(ctx, &group, []string{a.ID}))

	at := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	require.NoError(t, s.RenameChat(ctx, group.ID, "new", at))

	got, err := s.GetChat(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.True(t, got.UpdatedAt.Equal(at))
}

func TestChatsForUser_MostRecentFirst(t *testing.T) {
	s := storagetest.New(t)
	ctx := context.Background()
	a := storagetest.CreateUser(t, s, "a")
	b := storagetest.CreateUser(t, s, "b")
	c := storagetest.CreateUser(t, s, "c")

	ab := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &ab, a.ID, b.ID))
	ac := models.Chat{Title: models.DirectChatTitle}
	require.NoError(t, s.CreateDirectChat(ctx, &ac, a.ID, c.ID))

	m := models.Message{ChatID: ab.ID, SenderID: a.ID, Content: "bump", CreatedAt: time.Now().UTC().Add(time.Hour)}
	require.NoError(t, s.AppendMessage(ctx, &m))

	chats, err := s.ChatsForUser(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, ab.ID, chats[0].ID)

	none, err := s.GetChat(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, none)
}
