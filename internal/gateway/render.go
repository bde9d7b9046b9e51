package gateway

import (
	"bytes"
	"fmt"
	"html"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

var (
	markdownMu sync.Mutex
	markdown   = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps(), goldmarkhtml.WithXHTML()),
	)
)

// renderMarkdownHTML converts an assistant reply to an HTML email body.
// Falls back to escaped preformatted text if conversion fails.
func renderMarkdownHTML(text string) string {
	markdownMu.Lock()
	defer markdownMu.Unlock()
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return fmt.Sprintf("<pre>%s</pre>", html.EscapeString(text))
	}
	return fmt.Sprintf(`<div style="font-family: sans-serif; line-height: 1.5;">%s</div>`, buf.String())
}
