package events

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// MessageData is the data available to message templates.
type MessageData struct {
	Kind      Kind
	Reason    string
	Username  string
	Remaining string
	Origin    string
}

// DataFor builds template data for e. username may be empty.
func DataFor(e Event, username string) MessageData {
	d := MessageData{
		Kind:     e.Kind,
		Reason:   e.Reason,
		Username: username,
		Origin:   e.Origin,
	}
	if e.Kind == KindExpiringSoon {
		d.Remaining = e.Remaining().String()
	}
	if d.Username == "" && e.Credential != nil {
		d.Username = e.Credential.Subject()
	}
	return d
}

// MessageTemplateEngine renders user-facing messages for session events.
// Templates are text/template with the sprig function map.
type MessageTemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]*template.Template
	sources   map[Kind]string
}

// NewMessageTemplateEngine creates an engine loaded with the default
// templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	e := &MessageTemplateEngine{
		templates: make(map[Kind]*template.Template),
		sources:   make(map[Kind]string),
	}
	e.loadDefaultTemplates()
	return e
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	defaults := map[Kind]string{
		KindRefreshed:          `Session renewed{{ with .Username }} for {{ . }}{{ end }}.`,
		KindExpiringSoon:       `Your session expires in {{ .Remaining }}.`,
		KindExpired:            `Your session has expired ({{ .Reason | default "token unusable" }}). Please sign in again.`,
		KindRefreshFailed:      `Your session has ended ({{ .Reason | default "refresh failed" | trunc 120 }}). Please sign in again.`,
		KindSignedOutElsewhere: `{{ with .Username }}{{ . }} was{{ else }}You were{{ end }} signed out in another session. Please sign in again.`,
	}
	for kind, text := range defaults {
		// Defaults are constants; a parse failure is a programming error.
		if err := e.SetTemplate(kind, text); err != nil {
			panic(err)
		}
	}
}

// SetTemplate replaces the template for kind.
func (e *MessageTemplateEngine) SetTemplate(kind Kind, text string) error {
	tmpl, err := template.New(string(kind)).Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse %s template: %w", kind, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[kind] = tmpl
	e.sources[kind] = text
	return nil
}

// GetTemplate returns the template source for kind.
func (e *MessageTemplateEngine) GetTemplate(kind Kind) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	text, ok := e.sources[kind]
	return text, ok
}

// Render generates the message for kind. Unknown kinds and template
// execution errors fall back to a plain description.
func (e *MessageTemplateEngine) Render(kind Kind, data MessageData) string {
	e.mu.RLock()
	tmpl, ok := e.templates[kind]
	e.mu.RUnlock()

	if !ok {
		return fallbackMessage(kind, data)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fallbackMessage(kind, data)
	}
	return buf.String()
}

func fallbackMessage(kind Kind, data MessageData) string {
	if data.Reason != "" {
		return fmt.Sprintf("Session event: %s (%s)", kind, data.Reason)
	}
	return fmt.Sprintf("Session event: %s", kind)
}
