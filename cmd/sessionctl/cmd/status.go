package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const timeLayout = time.RFC3339

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			out := cmd.OutOrStdout()
			if !e.manager.LoggedIn() {
				fmt.Fprintln(out, "Not logged in")
				return nil
			}
			cred, _ := e.manager.Current()
			fmt.Fprintf(out, "Logged in as %s on %s\n", cred.Username, cred.Host)
			fmt.Fprintf(out, "Expires %s (in %s)\n",
				cred.Expiration.Format(timeLayout), time.Until(cred.Expiration).Round(time.Second))
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.manager.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}
