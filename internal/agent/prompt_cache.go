package agent

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

//go:embed prompts/*.tmpl
var embeddedPrompts embed.FS

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

// PromptCache caches parsed prompt templates to avoid repeated file reads.
// Templates are looked up in the override directory first, then in the
// prompts compiled into the binary.
type PromptCache struct {
	mu          sync.RWMutex
	overrideDir string
	templates   map[string]*template.Template
	raw         map[string]string
}

// NewPromptCache creates a new prompt cache. overrideDir may be empty.
func NewPromptCache(overrideDir string) *PromptCache {
	return &PromptCache{
		overrideDir: overrideDir,
		templates:   make(map[string]*template.Template),
		raw:         make(map[string]string),
	}
}

// LoadPrompt loads the raw text of a named prompt from cache, the override
// directory, or the embedded set.
func (pc *PromptCache) LoadPrompt(name string) (string, error) {
	pc.mu.RLock()
	if content, ok := pc.raw[name]; ok {
		pc.mu.RUnlock()
		return content, nil
	}
	pc.mu.RUnlock()

	content, err := pc.read(name)
	if err != nil {
		return "", err
	}

	pc.mu.Lock()
	pc.raw[name] = content
	pc.mu.Unlock()

	return content, nil
}

func (pc *PromptCache) read(name string) (string, error) {
	file := name + ".tmpl"
	if pc.overrideDir != "" {
		content, err := os.ReadFile(filepath.Join(pc.overrideDir, file))
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("reading prompt file: %w", err)
		}
	}

	content, err := embeddedPrompts.ReadFile("prompts/" + file)
	if err != nil {
		return "", fmt.Errorf("prompt %q not found: %w", name, err)
	}
	return string(content), nil
}

// LoadTemplate loads and parses a named template from cache
func (pc *PromptCache) LoadTemplate(name string) (*template.Template, error) {
	pc.mu.RLock()
	if tmpl, ok := pc.templates[name]; ok {
		pc.mu.RUnlock()
		return tmpl, nil
	}
	pc.mu.RUnlock()

	content, err := pc.LoadPrompt(name)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Funcs(promptFuncs).Option("missingkey=zero").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", name, err)
	}

	pc.mu.Lock()
	pc.templates[name] = tmpl
	pc.mu.Unlock()

	return tmpl, nil
}

// Render executes the "system" and "user" sections of a prompt template.
func (pc *PromptCache) Render(name string, data any) (system, user string, err error) {
	tmpl, err := pc.LoadTemplate(name)
	if err != nil {
		return "", "", err
	}

	system, err = execute(tmpl, "system", data)
	if err != nil {
		return "", "", fmt.Errorf("rendering %s system section: %w", name, err)
	}
	user, err = execute(tmpl, "user", data)
	if err != nil {
		return "", "", fmt.Errorf("rendering %s user section: %w", name, err)
	}
	return system, user, nil
}

func execute(tmpl *template.Template, section string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, section, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// Clear removes all cached prompts and templates
func (pc *PromptCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.templates = make(map[string]*template.Template)
	pc.raw = make(map[string]string)
}

// Preload parses multiple prompts into cache
func (pc *PromptCache) Preload(names []string) error {
	for _, name := range names {
		if _, err := pc.LoadTemplate(name); err != nil {
			return fmt.Errorf("preloading %s: %w", name, err)
		}
	}
	return nil
}

// Stats returns cache statistics
func (pc *PromptCache) Stats() (templates int, raw int) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	return len(pc.templates), len(pc.raw)
}
