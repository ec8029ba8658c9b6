package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"refsession/internal/cli"
)

func newLogoutCmd(flags *cli.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the stored session",
		Long: `Revokes the session on the portal and removes it from this machine.
The local session is removed even when the portal cannot be reached.
Other processes sharing the session are signed out too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Signed out"))
			return nil
		},
	}
}
