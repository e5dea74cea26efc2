// Package variables generates variable values and substitutes ${name}
// placeholders in message text.
//
// Substitution is plain text replacement. A value produced by one pass is
// itself visible to later passes; callers fix the pass order.
package variables

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([^${}]+)\}`)

// Placeholder returns the placeholder text for a variable name.
// Example: Placeholder("cust.id") → "${cust.id}"
func Placeholder(name string) string {
	return "${" + name + "}"
}

// ReplaceName replaces every occurrence of ${name} in text with value.
func ReplaceName(text, name, value string) string {
	if !strings.Contains(text, "${") {
		return text // fast path for literals
	}
	return strings.ReplaceAll(text, Placeholder(name), value)
}

// ReplaceAll applies ReplaceName for every entry of values. Names are
// applied in sorted order so the result does not depend on map iteration.
func ReplaceAll(text string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(text, "${") {
		return text
	}
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		text = strings.ReplaceAll(text, Placeholder(n), values[n])
	}
	return text
}

// ReplaceMap applies ReplaceAll to every value of m in place.
func ReplaceMap(m map[string]string, values map[string]string) {
	for k, v := range m {
		m[k] = ReplaceAll(v, values)
	}
}

// Names returns the distinct placeholder names referenced in text, in order
// of first appearance.
func Names(text string) []string {
	matches := placeholderRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		n := m[1]
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// DataFileValues maps one delimited line to the given field names.
// Missing trailing fields become "", extra fields are ignored.
func DataFileValues(line, delimiter string, fields []string) map[string]string {
	parts := strings.Split(line, delimiter)
	values := make(map[string]string, len(fields))
	for i, f := range fields {
		if i < len(parts) {
			values[f] = parts[i]
		} else {
			values[f] = ""
		}
	}
	return values
}
