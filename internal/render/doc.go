// Package render turns tutor output into HTML.
//
// Explanations are Markdown with LaTeX math. Markdown converts them with
// goldmark (GitHub flavored) after replacing every math span with an inert
// placeholder, then puts the original TeX back so MathJax can typeset it in
// the browser. Pages renders the per-run page served at /runs/{id}.
package render
