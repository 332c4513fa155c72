// Package target loads the list of organizations to contact and narrows it
// down by country, type and name.
package target

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Type string

const (
	TypeEmail     Type = "email"
	TypeWebForm   Type = "webform"
	TypeManualEID Type = "manual_eid"
	TypeMrKoll    Type = "mrkoll_flow"
	TypeRatsit    Type = "ratsit_flow"
)

// Types lists every type the dispatcher has a strategy for.
func Types() []Type {
	return []Type{TypeEmail, TypeWebForm, TypeManualEID, TypeMrKoll, TypeRatsit}
}

func (t Type) Known() bool {
	for _, k := range Types() {
		if t == k {
			return true
		}
	}
	return false
}

// UsesBrowser reports whether the strategy drives a browser session.
func (t Type) UsesBrowser() bool {
	return t == TypeWebForm || t == TypeMrKoll || t == TypeRatsit
}

// Kind is the type-specific part of a target. The set of implementations is
// closed: Email, WebForm, ManualEID, MrKollFlow and RatsitFlow.
type Kind interface {
	Type() Type
	kind()
}

type Email struct {
	Contact  string
	Template string
}

// Field binds a value name (full_name, email, or an identifier key) to the
// CSS selector of the input it goes into.
type Field struct {
	Name     string
	Selector string
}

type WebForm struct {
	URL    string
	Fields []Field
}

type ManualEID struct {
	URL string
}

type MrKollFlow struct {
	URL string
}

type RatsitFlow struct {
	URL string
}

func (Email) Type() Type      { return TypeEmail }
func (WebForm) Type() Type    { return TypeWebForm }
func (ManualEID) Type() Type  { return TypeManualEID }
func (MrKollFlow) Type() Type { return TypeMrKoll }
func (RatsitFlow) Type() Type { return TypeRatsit }

func (Email) kind()      {}
func (WebForm) kind()    {}
func (ManualEID) kind()  {}
func (MrKollFlow) kind() {}
func (RatsitFlow) kind() {}

// Target is one organization to send a removal request to. Kind is nil when
// the declared type is not one we know how to handle.
type Target struct {
	Name    string
	Country string
	Type    Type
	Notes   string
	Kind    Kind
}

// URL returns the page a target points at, or "" for email targets.
func (t Target) URL() string {
	switch k := t.Kind.(type) {
	case WebForm:
		return k.URL
	case ManualEID:
		return k.URL
	case MrKollFlow:
		return k.URL
	case RatsitFlow:
		return k.URL
	}
	return ""
}

type record struct {
	Name     string    `yaml:"name"`
	Country  string    `yaml:"country"`
	Type     string    `yaml:"type"`
	Contact  string    `yaml:"contact"`
	URL      string    `yaml:"url"`
	Template string    `yaml:"template"`
	FieldMap yaml.Node `yaml:"field_map"`
	Notes    string    `yaml:"notes"`
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// fieldsFrom reads a field_map mapping in declaration order.
func fieldsFrom(n *yaml.Node) ([]Field, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("field_map must be an object")
	}
	fields := make([]Field, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("field_map.%s must be a selector string", k.Value)
		}
		fields = append(fields, Field{Name: k.Value, Selector: v.Value})
	}
	return fields, nil
}

func (r *record) toTarget() (Target, error) {
	t := Target{
		Name:    r.Name,
		Country: strings.ToUpper(strings.TrimSpace(r.Country)),
		Type:    Type(r.Type),
		Notes:   r.Notes,
	}
	if r.Name == "" {
		return t, fmt.Errorf("name is required")
	}

	needURL := func() error {
		if !isValidURL(r.URL) {
			return fmt.Errorf("%s: type %s requires an http(s) url, got %q", r.Name, r.Type, r.URL)
		}
		return nil
	}

	switch t.Type {
	case TypeEmail:
		if r.Contact == "" {
			return t, fmt.Errorf("%s: type email requires contact", r.Name)
		}
		// A missing template fails at send time for this target only.
		t.Kind = Email{Contact: r.Contact, Template: r.Template}
	case TypeWebForm:
		if err := needURL(); err != nil {
			return t, err
		}
		fields, err := fieldsFrom(&r.FieldMap)
		if err != nil {
			return t, fmt.Errorf("%s: %w", r.Name, err)
		}
		t.Kind = WebForm{URL: r.URL, Fields: fields}
	case TypeManualEID:
		// Only shown to the user, never opened.
		t.Kind = ManualEID{URL: r.URL}
	case TypeMrKoll:
		if err := needURL(); err != nil {
			return t, err
		}
		t.Kind = MrKollFlow{URL: r.URL}
	case TypeRatsit:
		if err := needURL(); err != nil {
			return t, err
		}
		t.Kind = RatsitFlow{URL: r.URL}
	}
	return t, nil
}

// List is the ordered target list as loaded from disk.
type List struct {
	Targets []Target
}

// LoadFile reads a target list. JSON is the usual format; YAML is accepted
// too. Record order and field_map order are preserved.
func LoadFile(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read target file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*List, error) {
	var records []record
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse target file: %w", err)
	}

	list := &List{Targets: make([]Target, 0, len(records))}
	for i := range records {
		t, err := records[i].toTarget()
		if err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
		list.Targets = append(list.Targets, t)
	}
	return list, nil
}

// Filter narrows a target list. Empty fields match everything; set fields
// are combined with AND and compared case-insensitively.
type Filter struct {
	Country string
	Type    string
	Name    string // substring
}

func (f Filter) Match(t Target) bool {
	if f.Country != "" && !strings.EqualFold(t.Country, f.Country) {
		return false
	}
	if f.Type != "" && !strings.EqualFold(string(t.Type), f.Type) {
		return false
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(f.Name)) {
		return false
	}
	return true
}

func (l *List) Filter(f Filter) []Target {
	var result []Target
	for _, t := range l.Targets {
		if f.Match(t) {
			result = append(result, t)
		}
	}
	return result
}

// Countries returns the distinct country codes among targets, sorted.
func Countries(targets []Target) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, t := range targets {
		if t.Country == "" || seen[t.Country] {
			continue
		}
		seen[t.Country] = true
		codes = append(codes, t.Country)
	}
	sort.Strings(codes)
	return codes
}

func RestrictToCountries(targets []Target, codes []string) []Target {
	keep := make(map[string]bool, len(codes))
	for _, c := range codes {
		keep[strings.ToUpper(c)] = true
	}
	var result []Target
	for _, t := range targets {
		if keep[t.Country] {
			result = append(result, t)
		}
	}
	return result
}

func NeedsEmail(targets []Target) bool {
	for _, t := range targets {
		if t.Type == TypeEmail {
			return true
		}
	}
	return false
}

func NeedsBrowser(targets []Target) bool {
	for _, t := range targets {
		if t.Type.UsesBrowser() {
			return true
		}
	}
	return false
}

// NeedsEmailAddress reports whether any target needs the user's address,
// either to send from or to type into a form.
func NeedsEmailAddress(targets []Target) bool {
	if NeedsEmail(targets) {
		return true
	}
	for _, t := range targets {
		if wf, ok := t.Kind.(WebForm); ok {
			for _, f := range wf.Fields {
				if f.Name == "email" {
					return true
				}
			}
		}
	}
	return false
}
