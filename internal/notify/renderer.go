package notify

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

// Renderer renders short notification texts. Templates are parsed once per name and
// executed with strict missing-key semantics.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*template.Template)}
}

// Render executes tmpl under name. data is usually a map[string]any.
func (r *Renderer) Render(name, tmpl string, data any) (string, error) {
	if tmpl == "" {
		return "", fmt.Errorf("notify: template %s: text required", name)
	}
	t, err := r.lookup(name, tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("notify: execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func (r *Renderer) lookup(name, tmpl string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = make(map[string]*template.Template)
	}
	key := name + "\x00" + tmpl
	if t, ok := r.cache[key]; ok {
		return t, nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("notify: parse template %s: %w", name, err)
	}
	r.cache[key] = t
	return t, nil
}
