package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"refsession/internal/cli"
	"refsession/internal/config"
	"refsession/internal/guard"
	"refsession/internal/session"
	"refsession/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates there is no usable session: never signed
	// in, signed out, or the session ended after a failed refresh.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the portal rejected a sign-in.
	ExitCodeAuthFailed = 3
)

var version = "dev"

// rootCmd represents the base command for the refsession application.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	flags := &cli.GlobalFlags{}

	cmd := &cobra.Command{
		Use:   "refsession",
		Short: "Keep a referee portal session signed in",
		Long: `refsession signs in to the referee portal, stores the session
credentials on this machine and keeps them fresh: the access token is
renewed before it expires, and every process sharing the session learns
when it ends.`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
		Version:      version,
	}
	cmd.SetVersionTemplate(`{{printf "refsession version %s\n" .Version}}`)

	cli.RegisterGlobalFlags(cmd, flags)

	cmd.AddCommand(newLoginCmd(flags))
	cmd.AddCommand(newLogoutCmd(flags))
	cmd.AddCommand(newStatusCmd(flags))
	cmd.AddCommand(newRefreshCmd(flags))
	cmd.AddCommand(newWatchCmd(flags))
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSelfUpdateCmd())
	return cmd
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var authRequired *cli.AuthRequiredError
	if errors.As(err, &authRequired) {
		return ExitCodeAuthRequired
	}

	var authExpired *cli.AuthExpiredError
	if errors.As(err, &authExpired) {
		return ExitCodeAuthRequired
	}

	var authFailed *cli.AuthFailedError
	if errors.As(err, &authFailed) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

// openSession loads configuration, initializes logging and builds the
// session. Notices and the login hint go to the command's stderr.
func openSession(cmd *cobra.Command, flags *cli.GlobalFlags) (*session.Session, config.Config, error) {
	cfg, err := flags.LoadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}

	level, err := logging.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, config.Config{}, err
	}
	logging.Init(level, cmd.ErrOrStderr())

	s, err := session.New(cmd.Context(), cfg, session.Options{
		Navigator: cli.LoginHint{W: cmd.ErrOrStderr()},
		Notifier:  guard.WriterNotifier{W: cmd.ErrOrStderr()},
	})
	if err != nil {
		return nil, config.Config{}, err
	}
	return s, cfg, nil
}
