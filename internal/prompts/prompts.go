// Package prompts loads the LLM prompt templates. Built-in defaults are
// embedded; a configured prompts directory overrides them file by file so
// users can tune the voice of their recaps without rebuilding.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed templates/*.md
var defaults embed.FS

// SplitMarker separates the static system part of a template from the
// dynamic user part. The static part stays byte-identical across calls so
// provider prompt caches can hit.
const SplitMarker = "<!-- SPLIT -->"

// Library resolves template names to text.
type Library struct {
	dir string
}

// NewLibrary creates a library. dir may be empty to use only the embedded
// defaults.
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Load returns the raw template text for name (e.g. "daily.md"). A file in
// the override directory wins over the embedded default.
func (l *Library) Load(name string) (string, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt %s: %w", name, err)
		}
	}
	data, err := defaults.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("prompt template not found: %s", name)
	}
	return string(data), nil
}

// Render loads and executes a template with data.
func (l *Library) Render(name string, data any) (string, error) {
	text, err := l.Load(name)
	if err != nil {
		return "", err
	}
	return render(name, text, data)
}

// RenderSplit loads a template, splits it at the marker, and renders only
// the dynamic part. Templates without a marker render entirely into the
// user part, with a generic system prompt.
func (l *Library) RenderSplit(name string, data any) (system, user string, err error) {
	text, err := l.Load(name)
	if err != nil {
		return "", "", err
	}
	static, dynamic, found := strings.Cut(text, SplitMarker)
	if !found {
		user, err = render(name, text, data)
		return "You are a code change classifier.", strings.TrimSpace(user), err
	}
	user, err = render(name, dynamic, data)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(static), strings.TrimSpace(user), nil
}

// ExportDefaults writes every embedded template into dir, skipping files
// that already exist so user edits survive re-running init.
func ExportDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	entries, err := defaults.ReadDir("templates")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		dst := filepath.Join(dir, entry.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		data, err := defaults.ReadFile("templates/" + entry.Name())
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("write prompt %s: %w", dst, err)
		}
	}
	return nil
}

func render(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse prompt %s: %w", name, err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return b.String(), nil
}
