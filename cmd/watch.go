package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"refsession/internal/cli"
	"refsession/internal/events"
	"refsession/pkg/logging"
)

func newWatchCmd(flags *cli.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep the session fresh until interrupted",
		Long: `Runs the refresh scheduler in the foreground and prints every session
event. The access token is renewed before it expires.

When the session ends, because a refresh was rejected or another process
signed out, watch keeps running and picks up the next sign-in made
elsewhere. Stop it with Ctrl-C or SIGTERM.

Under systemd (Type=notify) readiness and shutdown are reported to the
service manager.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, cfg, err := openSession(cmd, flags)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			printer := cli.EventPrinter{W: cmd.OutOrStdout(), Templates: events.NewMessageTemplateEngine()}
			unsubscribe := s.Bus().Subscribe(printer.Handle)
			defer unsubscribe()

			s.Start(ctx)

			if !flags.Quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "Watching session (%s mode, threshold %s). Press Ctrl-C to stop.\n",
					cfg.Scheduler.Mode, cfg.Scheduler.Threshold)
			}
			notifySystemd(daemon.SdNotifyReady)

			<-ctx.Done()

			notifySystemd(daemon.SdNotifyStopping)
			s.Stop()
			return s.Close()
		},
	}
}

// notifySystemd reports state to systemd. Outside systemd it does nothing.
func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Warn("Watch", "Failed to notify systemd (%s): %v", state, err)
		return
	}
	if sent {
		logging.Debug("Watch", "Notified systemd: %s", state)
	}
}

