package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-relay/internal/relayclient"
)

func newChatCmd() *cobra.Command {
	var (
		sessionPath string
		fresh       bool
	)
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send a prompt and stream the reply, continuing the saved conversation",
		Long: "Send a prompt and stream the reply to stdout. The context handle returned by " +
			"the relay is saved to the session file and sent with the next prompt. " +
			"Without arguments the prompt is read from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if sessionPath == "" {
				if sessionPath, err = defaultSessionPath(); err != nil {
					return err
				}
			}

			sess := &session{}
			if !fresh {
				if sess, err = loadSession(sessionPath); err != nil {
					return err
				}
			}
			if sess.URL != "" && sess.URL != relayURL {
				// a handle is only meaningful to the backend that issued it
				sess = &session{}
			}

			client, err := relayclient.New(relayURL, nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			res, err := client.Chat(ctx, prompt, sess.Context, out)
			if res.Bytes > 0 {
				fmt.Fprintln(out)
			}
			if err != nil {
				return err
			}

			sess.URL = relayURL
			sess.Turns++
			if res.Context != nil {
				sess.Context = res.Context
			}
			return saveSession(sessionPath, sess)
		},
	}
	cmd.Flags().StringVar(&sessionPath, "session", "", "session file holding the conversation context (default ~/.tokligence-relay/session.json)")
	cmd.Flags().BoolVar(&fresh, "new", false, "start a new conversation")
	return cmd
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", errors.New("prompt required")
	}
	return prompt, nil
}
