package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/session"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the session with the server and refresh its expiration",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			out := cmd.OutOrStdout()
			res, err := e.manager.Ping(cmd.Context())
			if errors.Is(err, session.ErrUnauthenticated) {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			if err != nil {
				return fmt.Errorf("ping failed: %w", err)
			}
			if !res.ValidAPIKey {
				fmt.Fprintln(out, "Session is no longer valid; logged out")
				return nil
			}
			exp, _ := e.manager.Expiration()
			fmt.Fprintf(out, "Session valid, expires %s\n", exp.Format(timeLayout))
			return nil
		},
	}
}
