package classify

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

const textPlaceholder = "{{text}}"

type promptTemplate struct {
	Language string `yaml:"language"`
	Text     string `yaml:"text"`
}

type promptSet struct {
	Default   string                    `yaml:"default"`
	Templates map[string]promptTemplate `yaml:"templates"`
}

var loadPrompts = sync.OnceValues(func() (*promptSet, error) {
	var set promptSet
	if err := yaml.Unmarshal(promptsYAML, &set); err != nil {
		return nil, fmt.Errorf("parsing prompt templates: %w", err)
	}
	if _, ok := set.Templates[set.Default]; !ok {
		return nil, fmt.Errorf("default prompt template %q not defined", set.Default)
	}
	for version, tmpl := range set.Templates {
		if !strings.Contains(tmpl.Text, textPlaceholder) {
			return nil, fmt.Errorf("prompt template %q has no %s placeholder", version, textPlaceholder)
		}
	}
	return &set, nil
})

// DefaultPromptVersion returns the template version used when none is configured
func DefaultPromptVersion() string {
	set, err := loadPrompts()
	if err != nil {
		return ""
	}
	return set.Default
}

// PromptVersions lists the known template versions
func PromptVersions() []string {
	set, err := loadPrompts()
	if err != nil {
		return nil
	}
	versions := make([]string, 0, len(set.Templates))
	for v := range set.Templates {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Request is an immutable classification request
type Request struct {
	version   string
	inputText string
	prompt    string
}

// NewRequest renders the template version around the ingredient text.
// An empty version selects the default template.
func NewRequest(version, inputText string) (Request, error) {
	set, err := loadPrompts()
	if err != nil {
		return Request{}, err
	}
	if version == "" {
		version = set.Default
	}
	tmpl, ok := set.Templates[version]
	if !ok {
		return Request{}, fmt.Errorf("unknown prompt template %q", version)
	}

	return Request{
		version:   version,
		inputText: inputText,
		prompt:    strings.Replace(tmpl.Text, textPlaceholder, inputText, 1),
	}, nil
}

// Version is the prompt template version
func (r Request) Version() string { return r.version }

// InputText is the normalized ingredient text
func (r Request) InputText() string { return r.inputText }

// Prompt is the full message sent to the model
func (r Request) Prompt() string { return r.prompt }
