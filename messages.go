package postwhite

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	yaml "gopkg.in/yaml.v2"
)

// messageDef is one named template plus its subject line, as stored in
// messages.yml.
type messageDef struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type messagesFile struct {
	Footer   string                `yaml:"footer"`
	Messages map[string]messageDef `yaml:"messages"`
}

// Templates holds the rendered-on-demand advisory mail bodies named in
// §4.F: "info", "learn-allow-advisory", "learn-deny-advisory".
type Templates struct {
	footer    string
	templates map[string]*template.Template
	subjects  map[string]string
}

// LoadTemplates reads <configDir>/messages.yml and compiles each body as a
// text/template (not html/template: advisory mail bodies must not have
// "&", "<" or quotes in sender addresses HTML-escaped).
func LoadTemplates(configDir string) (*Templates, error) {
	path := filepath.Join(configDir, "messages.yml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading messages.yml: %w", err)
	}

	var f messagesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing messages.yml: %w", err)
	}

	t := &Templates{
		footer:    f.Footer,
		templates: make(map[string]*template.Template, len(f.Messages)),
		subjects:  make(map[string]string, len(f.Messages)),
	}
	for name, def := range f.Messages {
		tpl, err := template.New(name).Parse(def.Body)
		if err != nil {
			return nil, fmt.Errorf("parsing template %q: %w", name, err)
		}
		t.templates[name] = tpl
		t.subjects[name] = def.Subject
	}
	return t, nil
}

// Render fills the named template with data and appends the static
// footer.
func (t *Templates) Render(name string, data map[string]string) (subject, body string, err error) {
	tpl, ok := t.templates[name]
	if !ok {
		return "", "", fmt.Errorf("no such message template %q", name)
	}

	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("rendering template %q: %w", name, err)
	}

	body = buf.String()
	if t.footer != "" {
		body += "\n" + t.footer
	}
	return t.subjects[name], body, nil
}
