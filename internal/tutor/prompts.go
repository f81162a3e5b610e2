// ABOUTME: Prompt templates for the pipeline agents, embedded from prompts/
// ABOUTME: Each agent has a system and a user template rendered with text/template

package tutor

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").ParseFS(promptFS, "prompts/*.tmpl"))

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", name, err)
	}
	return b.String(), nil
}

// renderPair renders "<agent>.system" and "<agent>.user".
func renderPair(agent string, data any) (system, user string, err error) {
	if system, err = render(agent+".system", data); err != nil {
		return "", "", err
	}
	if user, err = render(agent+".user", data); err != nil {
		return "", "", err
	}
	return system, user, nil
}
