// Package prompts loads prompt templates and performs variable
// substitution. Default templates are embedded in the binary; a template
// directory can override any of them by name.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed templates/*.md
var defaultTemplates embed.FS

// Loader resolves prompt templates by name.
type Loader struct {
	overrideDir string
}

// NewLoader creates a loader. If overrideDir is non-empty, templates found
// there (as <name>.md) take precedence over the embedded defaults.
func NewLoader(overrideDir string) *Loader {
	return &Loader{overrideDir: overrideDir}
}

// Render loads the named template and substitutes {{key}} placeholders
// with the given variables. Unknown placeholders are left intact so a
// malformed template is visible in the output rather than silently blank.
func (l *Loader) Render(name string, vars map[string]string) (string, error) {
	text, err := l.load(name)
	if err != nil {
		return "", err
	}
	for key, value := range vars {
		text = strings.ReplaceAll(text, "{{"+key+"}}", value)
	}
	return text, nil
}

func (l *Loader) load(name string) (string, error) {
	if l.overrideDir != "" {
		path := filepath.Join(l.overrideDir, name+".md")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read prompt override %s: %w", path, err)
		}
	}

	data, err := defaultTemplates.ReadFile("templates/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("unknown prompt template %q: %w", name, err)
	}
	return string(data), nil
}
