package conflicts

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed cross_reactivity.yaml
var defaultTable []byte

// Table maps an allergen class to the medication name fragments that
// cross-react with it. Keys and terms are stored lower-cased.
type Table struct {
	entries map[string][]string
	keys    []string
}

// DefaultTable returns the built-in table
func DefaultTable() *Table {
	t, err := ParseTable(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded cross-reactivity table is invalid: %v", err))
	}
	return t
}

// LoadTable reads a YAML table from path
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cross-reactivity table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes a YAML mapping of allergen class to term list
func ParseTable(data []byte) (*Table, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse cross-reactivity table: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("cross-reactivity table is empty")
	}

	t := &Table{entries: make(map[string][]string, len(raw))}
	for key, terms := range raw {
		k := normalize(key)
		if k == "" {
			continue
		}
		for _, term := range terms {
			if term = normalize(term); term != "" {
				t.entries[k] = append(t.entries[k], term)
			}
		}
		t.keys = append(t.keys, k)
	}
	// longest key first so "ace inhibitor" beats a shorter overlapping key
	sort.Slice(t.keys, func(i, j int) bool {
		if len(t.keys[i]) != len(t.keys[j]) {
			return len(t.keys[i]) > len(t.keys[j])
		}
		return t.keys[i] < t.keys[j]
	})
	return t, nil
}

// Len is the number of allergen classes
func (t *Table) Len() int {
	return len(t.entries)
}

// Related returns the terms for allergen classes that equal, or are
// contained in, the given allergen
func (t *Table) Related(allergen string) map[string][]string {
	a := normalize(allergen)
	if a == "" {
		return nil
	}
	out := make(map[string][]string)
	for _, k := range t.keys {
		if k == a || strings.Contains(a, k) {
			out[k] = t.entries[k]
		}
	}
	return out
}

// Match returns the first class and term that relate allergen to candidate
func (t *Table) Match(allergen, candidate string) (class, term string, ok bool) {
	c := normalize(candidate)
	related := t.Related(allergen)
	for _, k := range t.keys {
		for _, term := range related[k] {
			if strings.Contains(c, term) {
				return k, term, true
			}
		}
	}
	return "", "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
