package cli

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
)

// WithSpinner runs fn while a spinner with suffix is shown on w. In quiet
// mode fn runs without one.
func WithSpinner(w io.Writer, quiet bool, suffix, failure string, fn func() error) error {
	if quiet {
		return fn()
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()

	err := fn()
	if err != nil && failure != "" {
		s.FinalMSG = text.FgRed.Sprint(failure) + "\n"
	}
	return err
}

// FormatSuccess formats a success message for CLI output
func FormatSuccess(msg string) string {
	return text.FgGreen.Sprint("✓") + " " + msg
}

// FormatWarning formats a warning message for CLI output
func FormatWarning(msg string) string {
	return text.FgYellow.Sprint("⚠") + " " + msg
}
