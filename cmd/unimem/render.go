package main

import (
	"github.com/charmbracelet/glamour"
)

// renderMarkdown renders md for the terminal, falling back to the raw text
// when no renderer can be built.
func renderMarkdown(md string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
