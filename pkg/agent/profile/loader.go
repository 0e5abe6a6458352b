package profile

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

// DefaultPersona is used when no persona is configured.
const DefaultPersona = "friend"

//go:embed templates/*.md
var templatesFS embed.FS

// Vars are substituted into a persona template.
type Vars struct {
	User string
	Now  string
}

// ResolveSystemProfile renders the system prompt for a persona.
func ResolveSystemProfile(persona string, user string, now time.Time) (string, error) {
	persona = strings.ToLower(strings.TrimSpace(persona))
	if persona == "" {
		persona = DefaultPersona
	}

	content, err := templatesFS.ReadFile(templatePath(persona))
	if err != nil {
		return "", fmt.Errorf("load %s profile template: %w", persona, err)
	}

	tmpl, err := template.New(persona).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("parse %s profile template: %w", persona, err)
	}

	user = strings.TrimSpace(user)
	if user == "" {
		user = "the user"
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, Vars{User: user, Now: now.Format("2006-01-02 15:04")}); err != nil {
		return "", fmt.Errorf("render %s profile template: %w", persona, err)
	}

	profile := strings.TrimSpace(out.String())
	if profile == "" {
		return "", fmt.Errorf("profile template %q is empty", persona)
	}

	return profile, nil
}

// Personas lists the embedded persona names.
func Personas() []string {
	entries, err := templatesFS.ReadDir("templates")
	if err != nil {
		return nil
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, strings.TrimSuffix(entry.Name(), ".md"))
	}

	return out
}

func templatePath(persona string) string {
	return "templates/" + strings.TrimSpace(persona) + ".md"
}
