package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/text"

	"refsession/internal/events"
)

// LoginHint is the CLI's navigation to the login page: it tells the user to
// sign in again.
type LoginHint struct {
	W io.Writer
}

// RedirectToLogin implements guard.Navigator.
func (h LoginHint) RedirectToLogin(e events.Event) {
	fmt.Fprintf(h.W, "%s Run %s to sign in again.\n", text.FgYellow.Sprint("→"), text.Bold.Sprint("refsession login"))
}

// EventPrinter prints every session event as one line.
type EventPrinter struct {
	W         io.Writer
	Templates *events.MessageTemplateEngine
}

// Handle implements events.Handler.
func (p EventPrinter) Handle(e events.Event) {
	templates := p.Templates
	if templates == nil {
		templates = events.NewMessageTemplateEngine()
	}
	username := e.Credential.Subject()
	fmt.Fprintf(p.W, "%s %s %s\n",
		text.FgHiBlack.Sprint(e.Time.Local().Format("15:04:05")),
		kindLabel(e.Kind),
		templates.Render(e.Kind, events.DataFor(e, username)))
}

func kindLabel(k events.Kind) string {
	label := fmt.Sprintf("%-20s", k)
	switch {
	case k.IsTerminal():
		return text.FgRed.Sprint(label)
	case k == events.KindExpiringSoon:
		return text.FgYellow.Sprint(label)
	default:
		return text.FgGreen.Sprint(label)
	}
}
