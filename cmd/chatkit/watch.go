package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	chatkit "github.com/chatkit-im/chatkit-go"
	"github.com/spf13/cobra"
)

var watchVerbose bool

func init() {
	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Log connection events to stderr")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream incoming messages live",
	Long:  "Connect to the realtime channel and print messages from all chats as they arrive. Reconnects automatically until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := &chatkit.SessionOptions{
			OnMessage: func(m chatkit.Message) {
				fmt.Printf("[%s] chat %d, user %d: %s\n",
					m.CreatedAt.Format(time.RFC3339), m.ChatID, m.SenderID, m.Content)
			},
			OnReconnecting: func(attempt int, delay time.Duration) {
				fmt.Fprintf(os.Stderr, "connection lost, retrying in %s (attempt %d)\n", delay, attempt)
			},
		}
		if watchVerbose {
			opts.Logger = log.New(os.Stderr, "chatkit: ", log.LstdFlags)
		}

		sess := getSession(opts)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := sess.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "initial connect failed: %v (retrying)\n", err)
		}
		defer sess.Stop()

		notices, cancelNotices := sess.Notifier().Subscribe()
		defer cancelNotices()

		fmt.Println("Watching for messages. Ctrl-C to stop.")
		for {
			select {
			case <-ctx.Done():
				fmt.Println("\nStopped.")
				return nil
			case n, ok := <-notices:
				if !ok {
					return nil
				}
				fmt.Fprintf(os.Stderr, "notice: %s\n", n.Text)
			}
		}
	},
}
