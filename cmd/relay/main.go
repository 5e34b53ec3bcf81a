package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultRelayURL = "http://localhost:8080"

var (
	relayURL string

	rootCmd = &cobra.Command{
		Use:           "relay",
		Short:         "Terminal client for the streaming LLM relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&relayURL, "url", envOr("RELAY_URL", defaultRelayURL), "relay base URL")
	rootCmd.AddCommand(newChatCmd(), newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relay:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
