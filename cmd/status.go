package cmd

import (
	"github.com/spf13/cobra"

	"refsession/internal/cli"
)

func newStatusCmd(flags *cli.GlobalFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Long: `Decodes the stored access token and shows who is signed in, when the
token expires and any structural problems found. No request is sent to
the portal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			status, err := s.Diagnose(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return cli.WriteStatusJSON(cmd.OutOrStdout(), status)
			}
			cli.RenderStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
