package render

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"strings"
)

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Helvetica Neue", Arial, sans-serif; font-size: 11pt; margin: 36px 48px; color: #222; }
h1 { font-size: 18pt; margin-bottom: 4px; }
h2 { font-size: 12pt; border-bottom: 1px solid #999; margin-top: 18px; }
p { margin: 4px 0; line-height: 1.35; }
</style>
</head>
<body>
{{range .Blocks}}{{if .Heading}}<h2>{{.Text}}</h2>{{else}}<p>{{.Text}}</p>{{end}}
{{end}}</body>
</html>`

// Document is the data rendered into the HTML template.
type Document struct {
	Title  string
	Blocks []Block
}

// Block is one heading or paragraph.
type Block struct {
	Heading bool
	Text    string
}

// Template turns plain-text documents into HTML.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses the template at path, or the built-in one when path is empty.
func NewTemplate(path string) (*Template, error) {
	src := defaultTemplate
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read template: %w", err)
		}
		src = string(data)
	}

	tpl, err := template.New("document").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Template{tpl: tpl}, nil
}

// Render produces HTML for text. Lines in ALL CAPS or ending with ':'
// become headings; blank lines are dropped.
func (t *Template) Render(title, text string) (string, error) {
	doc := Document{Title: title}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{Heading: isHeading(line), Text: strings.TrimSuffix(line, ":")})
	}

	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func isHeading(line string) bool {
	if strings.HasSuffix(line, ":") && len(line) < 60 {
		return true
	}
	return len(line) < 40 && strings.ToUpper(line) == line && strings.ToLower(line) != line
}
