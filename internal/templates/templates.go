// Package templates renders the HTML pages the proxy answers with on its
// own: the challenge page and the gateway error page.
//
// Pages use the "{{ name }}" placeholder form. A page is read from the
// configured static directory first and falls back to the built-in copy
// when the directory does not have it.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	Challenge = "challenge.html"
	Intercept = "intercept.html"
)

//go:embed embedded/*.html
var builtin embed.FS

// Renderer loads pages from Dir.
type Renderer struct {
	Dir string
}

// New returns a Renderer reading from dir. An empty dir means built-in
// pages only.
func New(dir string) *Renderer {
	return &Renderer{Dir: strings.TrimSpace(dir)}
}

// Render loads name and substitutes every "{{ key }}" with vars[key].
// Placeholders without a value are left as is.
func (r *Renderer) Render(name string, vars map[string]string) ([]byte, error) {
	page, err := r.load(name)
	if err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return page, nil
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{ "+k+" }}", v)
	}
	return []byte(strings.NewReplacer(pairs...).Replace(string(page))), nil
}

func (r *Renderer) load(name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("template %q: invalid name", name)
	}
	if r != nil && r.Dir != "" {
		b, err := os.ReadFile(filepath.Join(r.Dir, name))
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("template %q: %w", name, err)
		}
	}
	b, err := builtin.ReadFile("embedded/" + name)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}
	return b, nil
}
