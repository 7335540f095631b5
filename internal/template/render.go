// Package template renders prompt templates with text/template and the
// sprig function set.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// Prompt is a parsed prompt template.
type Prompt struct {
	name string
	tmpl *template.Template
}

// Parse compiles text as a prompt template. Missing map keys are errors
// so a renamed variable cannot silently render as "<no value>".
func Parse(name, text string) (*Prompt, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template %s: %w", name, err)
	}
	return &Prompt{name: name, tmpl: tmpl}, nil
}

// Render executes the template and trims surrounding whitespace.
func (p *Prompt) Render(data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt template %s: %w", p.name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Render parses and executes text in one step.
func Render(name, text string, data interface{}) (string, error) {
	p, err := Parse(name, text)
	if err != nil {
		return "", err
	}
	return p.Render(data)
}
