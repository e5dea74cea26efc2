package tui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

var (
	renderersMu sync.Mutex
	renderers   = map[int]*glamour.TermRenderer{}
)

// renderer returns a cached renderer wrapping at width.
func renderer(width int) (*glamour.TermRenderer, error) {
	renderersMu.Lock()
	defer renderersMu.Unlock()
	if r, ok := renderers[width]; ok {
		return r, nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
	if err != nil {
		return nil, err
	}
	renderers[width] = r
	return r, nil
}

// RenderMarkdown styles md for the terminal, wrapped at width (0 disables
// wrapping). Blank input and render errors return md unchanged.
func RenderMarkdown(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	r, err := renderer(width)
	if err != nil {
		return md
	}
	renderersMu.Lock()
	out, err := r.Render(md)
	renderersMu.Unlock()
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
