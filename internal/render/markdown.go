// ABOUTME: Markdown to HTML conversion for explanations with LaTeX math
// ABOUTME: Math spans are shielded from the markdown parser and restored verbatim for MathJax

package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// mathPattern matches display math first so $$..$$ is never read as two
// inline spans.
var mathPattern = regexp.MustCompile(`(?s)\$\$.+?\$\$|\\\[.+?\\\]|\\\(.+?\\\)|\$[^$\n]+?\$`)

const placeholderPrefix = "MATHSPANX"

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
)

// Markdown renders src to HTML. Raw HTML in src is dropped; math spans pass
// through untouched for client-side typesetting.
func Markdown(src string) (template.HTML, error) {
	shielded, spans := shieldMath(src)

	var buf bytes.Buffer
	if err := md.Convert([]byte(shielded), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}

	return template.HTML(restoreMath(buf.String(), spans)), nil
}

func shieldMath(src string) (string, []string) {
	var spans []string
	out := mathPattern.ReplaceAllStringFunc(src, func(m string) string {
		spans = append(spans, m)
		return placeholder(len(spans) - 1)
	})
	return out, spans
}

func restoreMath(rendered string, spans []string) string {
	if len(spans) == 0 {
		return rendered
	}
	pairs := make([]string, 0, 2*len(spans))
	for i, span := range spans {
		pairs = append(pairs, placeholder(i), html.EscapeString(span))
	}
	return strings.NewReplacer(pairs...).Replace(rendered)
}

func placeholder(i int) string {
	return placeholderPrefix + strconv.Itoa(i) + "X"
}
