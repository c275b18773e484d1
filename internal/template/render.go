// Package template materializes the gateway's config.yml from a text template
// with ${{ path.to.value }} placeholders.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\$\{\{(.+?)\}\}`)

// Render substitutes every placeholder in tmpl with the value found at its
// dotted path in values. Missing paths render as the empty string. Maps and
// slices are JSON-encoded, everything else is formatted verbatim.
func Render(tmpl string, values map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(ph string) string {
		path := strings.TrimSpace(placeholderPattern.FindStringSubmatch(ph)[1])
		v, ok := Lookup(values, path)
		if !ok {
			return ""
		}
		return format(v)
	})
}

// Placeholders returns the trimmed paths referenced by tmpl, in order of
// appearance, without duplicates.
func Placeholders(tmpl string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		p := strings.TrimSpace(m[1])
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// Lookup resolves a dotted path against nested maps.
func Lookup(values map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = values
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
