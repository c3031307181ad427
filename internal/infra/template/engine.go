package template

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"regexp"
	"strings"

	"notifgate/internal/domain/notification"
)

var _ notification.TemplateRenderer = (*Engine)(nil)

const defaultTemplate = "default.html"

//go:embed templates/*.html
var builtin embed.FS

var (
	tagRe        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Engine renders notification emails using Go's html/template package.
// A type named X renders with X.html when the templates directory has one
// and with the built-in default.html otherwise.
type Engine struct {
	templates *template.Template
}

// NewEngine loads the built-in templates and then, when templatesDir is not
// empty, every *.html in it. Directory templates override built-in ones.
func NewEngine(templatesDir string) (*Engine, error) {
	tmpl, err := template.ParseFS(builtin, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing built-in templates: %w", err)
	}

	if templatesDir != "" {
		matches, err := filepath.Glob(filepath.Join(templatesDir, "*.html"))
		if err != nil {
			return nil, fmt.Errorf("listing templates in %s: %w", templatesDir, err)
		}
		if len(matches) > 0 {
			if tmpl, err = tmpl.ParseFiles(matches...); err != nil {
				return nil, fmt.Errorf("parsing templates from %s: %w", templatesDir, err)
			}
		}
	}

	return &Engine{templates: tmpl}, nil
}

// Render produces a subject line, HTML body, and plain-text fallback for the given notification type.
func (e *Engine) Render(typeName string, data map[string]any) (subject, html, text string, err error) {
	subject = fmt.Sprintf("New %s notification", typeName)
	if customSubject, ok := data["Subject"].(string); ok && customSubject != "" {
		subject = customSubject
	}

	name := typeName + ".html"
	if e.templates.Lookup(name) == nil {
		name = defaultTemplate
	}

	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", "", "", fmt.Errorf("executing template %s: %w", name, err)
	}
	html = buf.String()

	text = stripHTML(html)

	return subject, html, text, nil
}

// stripHTML removes HTML tags and collapses whitespace to produce a plain-text version.
func stripHTML(s string) string {
	text := tagRe.ReplaceAllString(s, "")

	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&#39;", "'")
	text = strings.ReplaceAll(text, "&#34;", `"`)
	text = strings.ReplaceAll(text, "&nbsp;", " ")

	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
