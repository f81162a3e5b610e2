// ABOUTME: HTML page rendering for finished runs
// ABOUTME: Loads the embedded run template and fills it with converted Markdown

package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultMathJaxURL is the MathJax bundle loaded by rendered pages.
const DefaultMathJaxURL = "https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js"

// Step is one pipeline node shown on a run page.
type Step struct {
	Node    string
	Message string
}

// RunPage is the data for a single run's page.
type RunPage struct {
	ID      string
	Student string
	Status  string
	Outcome string
	Problem string
	Notice  string
	// NoticeKind is "warning", "info", or "error".
	NoticeKind string
	// Markdown is the solution body, typically tutor.Result.Display.
	Markdown  string
	Critique  string
	Steps     []Step
	CreatedAt time.Time
}

type runPageView struct {
	RunPage
	Title       string
	MathJaxURL  string
	NoticeClass string
	Body        template.HTML
}

// Pages renders HTML pages from embedded templates.
type Pages struct {
	run        *template.Template
	mathJaxURL string
}

// NewPages parses the embedded templates. An empty mathJaxURL selects
// DefaultMathJaxURL.
func NewPages(mathJaxURL string) (*Pages, error) {
	run, err := template.ParseFS(templateFS, "templates/run.html")
	if err != nil {
		return nil, fmt.Errorf("parsing run template: %w", err)
	}
	if mathJaxURL == "" {
		mathJaxURL = DefaultMathJaxURL
	}
	return &Pages{run: run, mathJaxURL: mathJaxURL}, nil
}

// Run writes the page for a run.
func (p *Pages) Run(w io.Writer, data RunPage) error {
	body, err := Markdown(data.Markdown)
	if err != nil {
		return err
	}

	noticeClass := data.NoticeKind
	if noticeClass == "" {
		noticeClass = "info"
	}

	view := runPageView{
		RunPage:     data,
		Title:       "Solution",
		MathJaxURL:  p.mathJaxURL,
		NoticeClass: noticeClass,
		Body:        body,
	}
	if err := p.run.Execute(w, view); err != nil {
		return fmt.Errorf("rendering run page: %w", err)
	}
	return nil
}
