package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"refsession/internal/cli"
	"refsession/internal/scheduler"
)

func newRefreshCmd(flags *cli.GlobalFlags) *cobra.Command {
	var ifNeeded bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Renew the session now",
		Long: `Exchanges the stored refresh token for a new access token.

With --if-needed the session is only renewed when the access token is
inside the refresh threshold, the same check the watch command runs.
If the portal rejects the refresh the session is removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			if ifNeeded {
				var result scheduler.TickResult
				err := cli.WithSpinner(cmd.ErrOrStderr(), flags.Quiet, "Checking session...", "", func() error {
					var err error
					result, err = s.RefreshIfNeeded(cmd.Context())
					return err
				})
				if err != nil {
					return cli.ExplainSessionError(err, cfg.API.BaseURL)
				}
				if result.Action == scheduler.ActionNone {
					fmt.Fprintf(out, "Session valid, expires %s; nothing to do\n", cli.FormatRemaining(result.Remaining))
					return nil
				}
				fmt.Fprintln(out, cli.FormatSuccess("Session renewed"))
				return nil
			}

			err = cli.WithSpinner(cmd.ErrOrStderr(), flags.Quiet, "Renewing session...", "Renewal failed", func() error {
				_, err := s.Refresh(cmd.Context())
				return err
			})
			if err != nil {
				return cli.ExplainSessionError(err, cfg.API.BaseURL)
			}
			fmt.Fprintln(out, cli.FormatSuccess("Session renewed"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&ifNeeded, "if-needed", false, "Only renew when the access token is about to expire")
	return cmd
}
