// Package render converts Markdown output text into sanitized HTML.
package render

import (
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.UGCPolicy()

// HTML renders Markdown to HTML and strips anything unsafe for display in a
// chat widget, such as scripts, event handlers and javascript: links.
func HTML(md string) string {
	// Parsers keep state, so one is created per call.
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return string(policy.SanitizeBytes(markdown.Render(doc, renderer)))
}
