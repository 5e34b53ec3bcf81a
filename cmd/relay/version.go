package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokligence/tokligence-relay/internal/relayclient"
	"github.com/tokligence/tokligence-relay/internal/version"
)

func newVersionCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client version, and the server's with --remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "client", version.FullInfo())
			if !remote {
				return nil
			}
			client, err := relayclient.New(relayURL, nil)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			info, err := client.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "server version=%s commit=%s built_at=%s go=%s\n", info.Version, info.Commit, info.BuiltAt, info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "also query the relay server")
	return cmd
}
