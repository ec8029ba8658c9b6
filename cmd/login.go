package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"refsession/internal/cli"
)

func newLoginCmd(flags *cli.GlobalFlags) *cobra.Command {
	var (
		username      string
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the portal",
		Long: `Signs in with username and password and stores the session.

The password is prompted for on the terminal. For scripts, pass it on
standard input with --password-stdin:

  echo "$PORTAL_PASSWORD" | refsession login --username alice --password-stdin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			var err error
			if passwordStdin {
				if username == "" {
					return fmt.Errorf("--username is required with --password-stdin")
				}
				password, err = cli.ReadPasswordFrom(cmd.InOrStdin())
			} else {
				username, password, err = cli.PromptCredentials(username)
			}
			if err != nil {
				return err
			}

			s, cfg, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			err = cli.WithSpinner(cmd.ErrOrStderr(), flags.Quiet, "Signing in...", "Sign-in failed", func() error {
				cred, err := s.Login(cmd.Context(), username, password)
				if err == nil && cred.User != nil && cred.User.Username != "" {
					username = cred.User.Username
				}
				return err
			})
			if err != nil {
				return cli.ExplainLoginError(err, cfg.API.BaseURL)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Signed in as %s", username)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "Username (prompted for when omitted)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from standard input")
	return cmd
}
