package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"refsession/internal/session"
	pkgstrings "refsession/pkg/strings"
)

// StatusView is the JSON form of a session.Status.
type StatusView struct {
	Authenticated    bool      `json:"authenticated"`
	Username         string    `json:"username,omitempty"`
	Subject          string    `json:"subject,omitempty"`
	Algorithm        string    `json:"algorithm,omitempty"`
	ExpiresAt        time.Time `json:"expiresAt,omitzero"`
	IssuedAt         time.Time `json:"issuedAt,omitzero"`
	RemainingSeconds int64     `json:"remainingSeconds"`
	Expired          bool      `json:"expired"`
	Valid            bool      `json:"valid"`
	Issues           []string  `json:"issues,omitempty"`
	RefreshState     string    `json:"refreshState"`
	LastError        string    `json:"lastError,omitempty"`
	Origin           string    `json:"origin"`
}

// NewStatusView flattens status for output.
func NewStatusView(status session.Status) StatusView {
	v := StatusView{
		Authenticated:    status.Authenticated,
		Subject:          status.Access.Subject,
		Algorithm:        status.Access.Algorithm,
		ExpiresAt:        status.Access.ExpiresAt(),
		RemainingSeconds: status.Access.RemainingSeconds,
		Expired:          status.Authenticated && status.Access.IsExpired,
		Valid:            status.Access.Valid,
		Issues:           status.Access.StructuralIssues,
		RefreshState:     status.Refresh.String(),
		Origin:           status.Origin,
	}
	if status.User != nil {
		v.Username = status.User.Username
	}
	if status.Access.IssuedAtEpochSeconds != 0 {
		v.IssuedAt = time.Unix(status.Access.IssuedAtEpochSeconds, 0)
	}
	if status.LastError != nil {
		v.LastError = status.LastError.Error()
	}
	return v
}

// WriteStatusJSON writes the status as indented JSON.
func WriteStatusJSON(w io.Writer, status session.Status) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewStatusView(status))
}

// RenderStatus writes the status as a key/value table.
func RenderStatus(w io.Writer, status session.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Options.SeparateRows = false
	t.AppendHeader(table.Row{"Property", "Value"})

	if !status.Authenticated {
		t.AppendRow(table.Row{"Status", text.FgYellow.Sprint("Not signed in")})
		t.AppendRow(table.Row{"Store", status.Origin})
		t.Render()
		return
	}

	v := NewStatusView(status)
	t.AppendRow(table.Row{"Status", sessionState(v)})
	if v.Username != "" {
		t.AppendRow(table.Row{"User", v.Username})
	}
	if v.Subject != "" {
		t.AppendRow(table.Row{"Subject", v.Subject})
	}
	if v.Algorithm != "" {
		t.AppendRow(table.Row{"Algorithm", v.Algorithm})
	}
	if !v.IssuedAt.IsZero() {
		t.AppendRow(table.Row{"Issued", v.IssuedAt.Local().Format(time.RFC3339)})
	}
	if !v.ExpiresAt.IsZero() {
		t.AppendRow(table.Row{"Expires", fmt.Sprintf("%s (%s)", v.ExpiresAt.Local().Format(time.RFC3339), FormatRemaining(status.Access.Remaining()))})
	}
	t.AppendRow(table.Row{"Refresh", v.RefreshState})
	if v.LastError != "" {
		t.AppendRow(table.Row{"Last error", text.FgRed.Sprint(pkgstrings.TruncateLine(v.LastError, pkgstrings.DefaultCellMaxLen))})
	}
	if len(v.Issues) > 0 {
		t.AppendRow(table.Row{"Issues", strings.Join(pkgstrings.TruncateLines(v.Issues, pkgstrings.DefaultCellMaxLen), "\n")})
	}
	t.AppendRow(table.Row{"Store", v.Origin})
	t.Render()
}

func sessionState(v StatusView) string {
	switch {
	case !v.Valid:
		return text.FgRed.Sprint("Malformed token")
	case v.Expired:
		return text.FgYellow.Sprint("Access token expired (refresh pending)")
	default:
		return text.FgGreen.Sprint("Signed in")
	}
}

// FormatRemaining renders a remaining lifetime as "in 4m" or "expired 2m ago".
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired " + formatDuration(-d) + " ago"
	}
	return "in " + formatDuration(d)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
