package render

import "regexp"

var placeholder = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

// Render replaces every {{identifier}} in tpl with bindings[identifier].
// Missing bindings render as "". It has no side effects and never fails.
func Render(tpl string, bindings map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		name := m[2 : len(m)-2]
		return bindings[name]
	})
}

// ExtractVariables returns the placeholder names in tpl, deduplicated and
// ordered by first appearance.
func ExtractVariables(tpl string) []string {
	matches := placeholder.FindAllStringSubmatch(tpl, -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		out = append(out, m[1])
	}
	return out
}
