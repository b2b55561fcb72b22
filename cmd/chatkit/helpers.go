package main

import (
	"fmt"
	"os"

	chatkit "github.com/chatkit-im/chatkit-go"
)

// getConfig loads the config and requires a token to be present.
func getConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'chatkit config set auth.token <token>' or set CHATKIT_TOKEN.")
		os.Exit(1)
	}
	return cfg
}

// getClient creates a Chatkit client from the stored configuration.
func getClient() *chatkit.Client {
	cfg := getConfig()

	var opts []chatkit.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, chatkit.WithBaseURL(cfg.Default.BaseURL))
	}
	return chatkit.NewClient(cfg.Auth.Token, opts...)
}

// getSession builds an unstarted session from the stored configuration.
func getSession(opts *chatkit.SessionOptions) *chatkit.Session {
	cfg := getConfig()

	if opts == nil {
		opts = &chatkit.SessionOptions{}
	}
	opts.Token = cfg.Auth.Token
	opts.BaseURL = cfg.Default.BaseURL

	sess, err := chatkit.NewSession(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create session: %v\n", err)
		os.Exit(1)
	}
	return sess
}
