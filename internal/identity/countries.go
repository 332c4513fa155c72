// Package identity knows which personal identifiers each country's removal
// process needs and collects them from the user.
package identity

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"
)

const matchTimeout = time.Second

// IdentifierSpec describes one piece of personal data a country asks for.
type IdentifierSpec struct {
	Key             string `yaml:"-"`
	Prompt          string `yaml:"prompt"`
	Optional        bool   `yaml:"optional"`
	ValidationRegex string `yaml:"validation_regex"`

	re *regexp2.Regexp
}

// Valid reports whether value is acceptable. Patterns are anchored at the
// start only, so "\d{4}" accepts "1234abc".
func (s *IdentifierSpec) Valid(value string) bool {
	if s.re == nil {
		return true
	}
	ok, err := s.re.MatchString(value)
	return err == nil && ok
}

func (s *IdentifierSpec) compile() error {
	if s.ValidationRegex == "" {
		return nil
	}
	re, err := regexp2.Compile(`\A(?:`+s.ValidationRegex+`)`, regexp2.None)
	if err != nil {
		return fmt.Errorf("identifier %s: invalid validation_regex: %w", s.Key, err)
	}
	re.MatchTimeout = matchTimeout
	s.re = re
	return nil
}

type CountryConfig struct {
	Name        string
	Identifiers []IdentifierSpec
}

// Countries maps an upper-case country code to its configuration.
type Countries map[string]CountryConfig

// DisplayName returns "Sweden" for "SE", or the code itself when unknown.
func (c Countries) DisplayName(code string) string {
	if cfg, ok := c[strings.ToUpper(code)]; ok && cfg.Name != "" {
		return cfg.Name
	}
	return code
}

func (c Countries) Codes() []string {
	codes := make([]string, 0, len(c))
	for code := range c {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type countryRecord struct {
	Name        string    `yaml:"name"`
	Identifiers yaml.Node `yaml:"identifiers"`
}

func LoadCountries(path string) (Countries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read country file: %w", err)
	}
	return ParseCountries(data)
}

// ParseCountries decodes a country file. Identifier order follows the file,
// which is also the order the user is asked in.
func ParseCountries(data []byte) (Countries, error) {
	var records map[string]countryRecord
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse country file: %w", err)
	}

	countries := make(Countries, len(records))
	for code, rec := range records {
		specs, err := identifiersFrom(&rec.Identifiers)
		if err != nil {
			return nil, fmt.Errorf("country %s: %w", code, err)
		}
		countries[strings.ToUpper(code)] = CountryConfig{Name: rec.Name, Identifiers: specs}
	}
	return countries, nil
}

func identifiersFrom(n *yaml.Node) ([]IdentifierSpec, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("identifiers must be an object")
	}

	specs := make([]IdentifierSpec, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		spec := IdentifierSpec{Key: n.Content[i].Value}
		if err := n.Content[i+1].Decode(&spec); err != nil {
			return nil, fmt.Errorf("identifier %s: %w", spec.Key, err)
		}
		if spec.Prompt == "" {
			spec.Prompt = spec.Key + ": "
		}
		if err := spec.compile(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
