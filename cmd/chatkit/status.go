package main

import (
	"context"
	"fmt"
	"time"

	chatkit "github.com/chatkit-im/chatkit-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and account status",
	Long:  "Display the current configuration, check whether the token is expired, and fetch live chat counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, chatkit.DefaultBaseURL))
		if cfg.Auth.Username != "" {
			fmt.Printf("  Username: %s\n", cfg.Auth.Username)
		}

		tokenStatus := "none"
		if cfg.Auth.Token != "" {
			tokenStatus = "present"
			if claims, err := chatkit.TokenClaims(cfg.Auth.Token); err == nil {
				switch {
				case claims.ExpiresAt.IsZero():
					tokenStatus = "present (no expiry)"
				case claims.Expired(time.Now()):
					tokenStatus = fmt.Sprintf("EXPIRED (%s)", claims.ExpiresAt.Format(time.RFC3339))
				default:
					tokenStatus = fmt.Sprintf("valid (expires %s)", claims.ExpiresAt.Format(time.RFC3339))
				}
				if claims.Username != "" {
					fmt.Printf("  Token user: %s\n", claims.Username)
				}
			}
		}
		fmt.Printf("  Token:    %s\n", tokenStatus)

		if cfg.Auth.Token == "" {
			return nil
		}

		// Live check.
		var opts []chatkit.ClientOption
		if cfg.Default.BaseURL != "" {
			opts = append(opts, chatkit.WithBaseURL(cfg.Default.BaseURL))
		}
		client := chatkit.NewClient(cfg.Auth.Token, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		chats, err := client.Chats(ctx)
		if err != nil {
			fmt.Printf("\nLive status: unreachable (%v)\n", err)
			return nil
		}

		unread := 0
		for _, c := range chats {
			unread += c.UnreadCount
		}
		fmt.Println()
		fmt.Println("Live status:")
		fmt.Printf("  Chats:  %d\n", len(chats))
		fmt.Printf("  Unread: %d\n", unread)
		return nil
	},
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
