package template

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed templates/*.txt
var embeddedTemplates embed.FS

const subjectPrefix = "Subject: "

// Email represents a rendered email ready to send
type Email struct {
	Subject string
	Body    string
}

// Render replaces every {name} placeholder in tmpl with values[name].
// Unknown names render as the empty string, so Render never fails. "{{" and
// "}}" produce literal braces; an unterminated "{" is copied as is.
func Render(tmpl string, values map[string]string) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				b.WriteString(tmpl[i:])
				return b.String()
			}
			b.WriteString(values[fieldName(tmpl[i+1 : i+1+end])])
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// fieldName drops a conversion or format spec: "name!r" and "name:>10"
// both refer to "name".
func fieldName(field string) string {
	if idx := strings.IndexAny(field, "!:"); idx >= 0 {
		field = field[:idx]
	}
	return strings.TrimSpace(field)
}

// Loader finds email templates by name, first in dir and then among the
// templates built into the binary.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// ErrNotFound is returned when neither dir nor the built-in set has the template.
var ErrNotFound = errors.New("template not found")

func (l *Loader) read(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid template name %q", name)
	}
	file := name + ".txt"

	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, file))
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read template %s: %w", file, err)
		}
	}

	data, err := embeddedTemplates.ReadFile("templates/" + file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, file)
	}
	return data, nil
}

// Load reads a template. The first line is the subject, with an optional
// "Subject: " prefix; the rest is the body.
func (l *Loader) Load(name string) (*Email, error) {
	data, err := l.read(name)
	if err != nil {
		return nil, err
	}
	return Parse(string(data))
}

// Parse splits template text into subject and body without rendering it.
func Parse(content string) (*Email, error) {
	content = strings.TrimSpace(strings.ReplaceAll(content, "\r\n", "\n"))
	subject, body, ok := strings.Cut(content, "\n")
	if !ok {
		return nil, fmt.Errorf("template has a subject line but no body")
	}
	subject = strings.TrimSpace(strings.TrimPrefix(subject, subjectPrefix))
	return &Email{Subject: subject, Body: strings.TrimSpace(body)}, nil
}

// RenderEmail loads a template and fills the body with values. The subject
// is used verbatim.
func (l *Loader) RenderEmail(name string, values map[string]string) (*Email, error) {
	tmpl, err := l.Load(name)
	if err != nil {
		return nil, err
	}
	return &Email{
		Subject: tmpl.Subject,
		Body:    Render(tmpl.Body, values),
	}, nil
}

// AvailableTemplates returns the names of the built-in templates
func AvailableTemplates() []string {
	entries, err := embeddedTemplates.ReadDir("templates")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	sort.Strings(names)
	return names
}
