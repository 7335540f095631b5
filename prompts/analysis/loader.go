// Package analysis embeds the prompt used to triage GitHub issues.
package analysis

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/andywolf/issue-assistant/internal/template"
)

//go:embed manifest.yaml
var embeddedManifest string

//go:embed analyze.tmpl
var embeddedTemplate string

// Field is one key of the JSON object the model must return.
type Field struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	List        bool   `yaml:"list"`
}

// Example is the worked input/output pair included in the prompt.
type Example struct {
	Input  string    `yaml:"input"`
	Output yaml.Node `yaml:"output"`
}

// Manifest holds the prompt assets.
type Manifest struct {
	System  string  `yaml:"system"`
	Schema  []Field `yaml:"schema"`
	Example Example `yaml:"example"`
}

// Prompt renders user prompts for issue text.
type Prompt struct {
	manifest *Manifest
	example  interface{}
	tmpl     *template.Prompt
}

// Load parses the embedded manifest and template.
func Load() (*Prompt, error) {
	return parse(embeddedManifest, embeddedTemplate)
}

// LoadDir is Load with overrides read from dir: manifest.yaml and
// analyze.tmpl each replace the embedded copy when present. An empty dir
// is the same as Load.
func LoadDir(dir string) (*Prompt, error) {
	if dir == "" {
		return Load()
	}

	manifest, err := readOptional(filepath.Join(dir, "manifest.yaml"), embeddedManifest)
	if err != nil {
		return nil, err
	}
	tmpl, err := readOptional(filepath.Join(dir, "analyze.tmpl"), embeddedTemplate)
	if err != nil {
		return nil, err
	}
	return parse(manifest, tmpl)
}

// readOptional returns the file's content, or fallback if it does not exist.
func readOptional(path, fallback string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fallback, nil
		}
		return "", fmt.Errorf("failed to read prompt override %s: %w", path, err)
	}
	return string(data), nil
}

func parse(rawManifest, rawTemplate string) (*Prompt, error) {
	var manifest Manifest
	if err := yaml.Unmarshal([]byte(rawManifest), &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse analysis manifest: %w", err)
	}
	if len(manifest.Schema) == 0 {
		return nil, fmt.Errorf("analysis manifest has no schema fields")
	}

	// Decoding through yaml.Node keeps key order for the example output.
	example, err := orderedValue(&manifest.Example.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode example output: %w", err)
	}

	tmpl, err := template.Parse("analyze.tmpl", rawTemplate)
	if err != nil {
		return nil, err
	}

	return &Prompt{manifest: &manifest, example: example, tmpl: tmpl}, nil
}

// System returns the system message.
func (p *Prompt) System() string {
	return p.manifest.System
}

// Fields returns the schema keys in prompt order.
func (p *Prompt) Fields() []Field {
	return p.manifest.Schema
}

// Render builds the user message for issueText.
func (p *Prompt) Render(issueText string) (string, error) {
	return p.tmpl.Render(map[string]interface{}{
		"Schema": p.manifest.Schema,
		"Example": map[string]interface{}{
			"Input":  p.manifest.Example.Input,
			"Output": p.example,
		},
		"IssueText": issueText,
	})
}
