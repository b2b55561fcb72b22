package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	chatkit "github.com/chatkit-im/chatkit-go"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	chatsJSON bool

	messagesPage int
	messagesJSON bool

	createParticipants string
	createJSON         bool

	searchLimit int
	searchJSON  bool
)

// ============================================================================
// chats
// ============================================================================

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats, most recent activity first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		chats, err := client.Chats(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if chatsJSON {
			b, _ := json.MarshalIndent(chats, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(chats) == 0 {
			fmt.Println("No chats found.")
			return nil
		}

		var selfID int64
		if claims, err := chatkit.TokenClaims(getConfig().Auth.Token); err == nil {
			selfID = claims.UserID
		}

		for _, c := range chats {
			unread := ""
			if c.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			last := ""
			if c.LastMessage != nil {
				last = " - " + truncate(c.LastMessage.Content, 40)
			}
			fmt.Printf("  %d: %s%s%s\n", c.ID, c.DisplayName(selfID), unread, last)
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show a page of a chat's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q", args[0])
		}
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msgs, err := client.ChatMessages(ctx, chatID, messagesPage)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if messagesJSON {
			b, _ := json.MarshalIndent(msgs, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}

		for _, m := range msgs {
			fmt.Printf("[%s] %d: %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Content)
		}
		return nil
	},
}

// ============================================================================
// send
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <content>",
	Short: "Send a message to a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chat id %q", args[0])
		}
		content := strings.TrimSpace(args[1])
		if content == "" {
			return fmt.Errorf("message content is empty")
		}

		cfg := getConfig()
		baseURL := valueOrDefault(cfg.Default.BaseURL, chatkit.DefaultBaseURL)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		conn := chatkit.NewConn(&chatkit.ConnConfig{
			BaseURL: baseURL,
			Token:   cfg.Auth.Token,
		})
		defer conn.Close()

		if err := conn.Connect(ctx); err != nil {
			return fmt.Errorf("connect failed: %w", err)
		}
		if err := conn.Send(ctx, &chatkit.ClientCommand{
			Type:    chatkit.CommandMessage,
			ChatID:  chatID,
			Content: content,
		}); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}

		fmt.Printf("Message sent to chat %d.\n", chatID)
		return nil
	},
}

// ============================================================================
// create
// ============================================================================

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a chat with the given participants",
	Long:  "Create a chat. Two or more participants make a group chat; a name is only meaningful for groups.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		var ids []int64
		for _, part := range strings.Split(createParticipants, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid participant id %q", part)
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return fmt.Errorf("at least one participant is required (--participants)")
		}

		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		chat, err := client.CreateChat(ctx, name, len(ids) > 1, ids)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if createJSON {
			b, _ := json.MarshalIndent(chat, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		fmt.Printf("Chat created: %d\n", chat.ID)
		if chat.Name != "" {
			fmt.Printf("  Name:         %s\n", chat.Name)
		}
		fmt.Printf("  Group:        %v\n", chat.IsGroup)
		fmt.Printf("  Participants: %d\n", len(chat.Participants))
		return nil
	},
}

// ============================================================================
// search
// ============================================================================

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search users by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.SearchUsers(ctx, args[0], searchLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if searchJSON {
			b, _ := json.MarshalIndent(users, "", "  ")
			fmt.Println(string(b))
			return nil
		}

		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			fmt.Printf("  %d: %s (%s)\n", u.ID, u.Username, u.Email)
		}
		return nil
	},
}

// ============================================================================
// Helpers and registration
// ============================================================================

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	chatsCmd.Flags().BoolVar(&chatsJSON, "json", false, "Output raw JSON")

	messagesCmd.Flags().IntVarP(&messagesPage, "page", "p", 1, "History page to fetch (1 is newest)")
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	createCmd.Flags().StringVar(&createParticipants, "participants", "", "Comma-separated list of participant user IDs")
	createCmd.Flags().BoolVar(&createJSON, "json", false, "Output raw JSON")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", chatkit.DefaultSearchLimit, "Maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(searchCmd)
}
