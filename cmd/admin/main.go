package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"parley/backend/internal/models"
	"parley/backend/internal/storage"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

Commands:
  chats <user_id>      chats the user belongs to, most recent first
  members <chat_id>    members of a chat
  messages <chat_id>   message history of a chat, oldest first`

// adminConfig is the subset of the server configuration the CLI needs.
type adminConfig struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	if len(os.Args) != 3 {
		fmt.Println(usage)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command, arg string) error {
	_ = godotenv.Load()
	var cfg adminConfig
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	db, err := storage.Open(postgres.Open(cfg.DatabaseDSN), logger.Silent)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	s := storage.NewStorageService(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log.Debug("Running admin command", "command", command, "arg", arg)
	switch command {
	case "chats":
		return printChats(ctx, os.Stdout, s, arg)
	case "members":
		return printMembers(ctx, os.Stdout, s, arg)
	case "messages":
		return printMessages(ctx, os.Stdout, s, arg)
	default:
		return fmt.Errorf("unknown command %q\n%s", command, usage)
	}
}

func printChats(ctx context.Context, w io.Writer, s storage.Storage, userID string) error {
	chats, err := s.ChatsForUser(ctx, userID)
	if err != nil {
		return err
	}
	members, err := s.MemberIDsByChat(ctx, lo.Map(chats, func(c models.Chat, _ int) string { return c.ID }))
	if err != nil {
		return err
	}

	table := newTable(w, "Chat ID", "Title", "Group", "Admin", "Members", "Updated")
	for _, c := range chats {
		table.Append([]string{
			c.ID,
			c.Title,
			strconv.FormatBool(c.IsGroup),
			lo.FromPtr(c.AdminID),
			strconv.Itoa(len(members[c.ID])),
			c.UpdatedAt.Format(time.RFC3339),
		})
	}
	table.Render()
	return nil
}

func printMembers(ctx context.Context, w io.Writer, s storage.Storage, chatID string) error {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return fmt.Errorf("chat %s not found", chatID)
	}
	ids, err := s.MemberIDs(ctx, chatID)
	if err != nil {
		return err
	}
	users, err := s.GetUsersByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := lo.KeyBy(users, func(u models.User) string { return u.ID })

	table := newTable(w, "User ID", "Name", "Email", "Admin")
	for _, id := range ids {
		u := byID[id]
		table.Append([]string{id, u.Name, u.Email, strconv.FormatBool(chat.IsAdmin(id))})
	}
	table.Render()

	if chat.IsGroup && chat.AdminID != nil && !lo.Contains(ids, *chat.AdminID) {
		fmt.Fprintf(w, "Admin %s is no longer a member of this group.\n", *chat.AdminID)
	}
	return nil
}

func printMessages(ctx context.Context, w io.Writer, s storage.Storage, chatID string) error {
	history, err := s.MessagesForChat(ctx, chatID)
	if err != nil {
		return err
	}

	table := newTable(w, "ID", "Sent", "Sender", "Content")
	for _, m := range history {
		table.Append([]string{
			strconv.FormatUint(uint64(m.ID), 10),
			m.CreatedAt.Format(time.RFC3339),
			m.SenderID,
			m.Content,
		})
	}
	table.Render()
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}
