package identity

import (
	"sort"
	"strconv"
	"strings"
)

// Identifiers holds collected values: country code -> identifier key -> value.
type Identifiers map[string]map[string]string

// Asker is the part of the console the collector talks to.
type Asker interface {
	Ask(msg string) (string, error)
	Prompt(msg string) (string, error)
	Info(format string, args ...any)
	Fail(format string, args ...any)
	Section(title string)
}

type Collector struct {
	countries Countries
	ui        Asker
}

func NewCollector(countries Countries, ui Asker) *Collector {
	return &Collector{countries: countries, ui: ui}
}

// Collect asks for every identifier of every given country that has a
// configuration. Invalid answers are asked again, without limit; an empty
// answer is accepted only for optional identifiers.
func (c *Collector) Collect(codes []string) (Identifiers, error) {
	sorted := make([]string, 0, len(codes))
	for _, code := range codes {
		sorted = append(sorted, strings.ToUpper(code))
	}
	sort.Strings(sorted)

	result := make(Identifiers)
	for _, code := range sorted {
		if _, done := result[code]; done {
			continue
		}
		cfg, ok := c.countries[code]
		if !ok {
			continue
		}

		c.ui.Info("\n--- Collecting information for %s (%s) ---", cfg.Name, code)
		values := make(map[string]string)
		for i := range cfg.Identifiers {
			value, err := c.ask(&cfg.Identifiers[i])
			if err != nil {
				return nil, err
			}
			if value != "" {
				values[cfg.Identifiers[i].Key] = value
			}
		}
		result[code] = values
	}
	return result, nil
}

func (c *Collector) ask(spec *IdentifierSpec) (string, error) {
	for {
		value, err := c.ui.Ask(spec.Prompt)
		if err != nil {
			return "", err
		}
		if value == "" && spec.Optional {
			return "", nil
		}
		if !spec.Valid(value) {
			c.ui.Fail("Invalid format. Try again.")
			continue
		}
		return value, nil
	}
}

// SelectCountries lets the user pick which of the available countries to
// process. It accepts "all" or a comma separated list of menu numbers and
// asks again until the answer is valid.
func (c *Collector) SelectCountries(available []string) ([]string, error) {
	if len(available) <= 1 {
		return available, nil
	}

	c.ui.Section("Step 1: Select Countries to Process")
	for i, code := range available {
		c.ui.Info("  [%d] %s (%s)", i+1, c.countries.DisplayName(code), code)
	}

	for {
		answer, err := c.ui.Ask("Enter numbers for countries (e.g., 1,3 or all): ")
		if err != nil {
			return nil, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer == "all" {
			return available, nil
		}

		selected, bad := parseSelection(answer, len(available))
		if bad != "" || (answer != "" && selected == nil) {
			c.ui.Fail("Invalid selection: '%s'.", bad)
			continue
		}
		if len(selected) == 0 {
			c.ui.Fail("Please make a selection.")
			continue
		}

		codes := make([]string, 0, len(selected))
		for _, n := range selected {
			codes = append(codes, available[n-1])
		}
		return codes, nil
	}
}

// parseSelection turns "1, 3" into the distinct menu numbers 1 and 3, in
// menu order. bad is the first part that is not a menu number.
func parseSelection(answer string, max int) (nums []int, bad string) {
	if answer == "" {
		return nil, ""
	}
	seen := make(map[int]bool)
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > max {
			return nil, part
		}
		seen[n] = true
	}
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, ""
}
